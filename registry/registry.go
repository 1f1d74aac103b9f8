// Package registry resolves configured asset symbols to on-chain addresses.
package registry

import (
	"errors"
	"fmt"
	"strings"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"github.com/TEENet-io/banknote-go/agreement"
	"github.com/TEENet-io/banknote-go/common"
	"github.com/TEENet-io/banknote-go/contracts"
)

const (
	// NativeKeyword may be used instead of the sentinel address in config.
	NativeKeyword = "NATIVE"

	DefaultNativeDecimals = 18
)

var (
	ErrUnknownAsset     = errors.New("asset is not configured")
	ErrDuplicateAsset   = errors.New("asset configured twice")
	ErrInvalidAssetAddr = errors.New("invalid asset address")
	ErrInvalidAssetSpec = errors.New("invalid asset spec")
	ErrNoAssets         = errors.New("no assets configured")
)

type AssetConfig struct {
	Symbol  string
	Address string // hex address, NativeKeyword, or the sentinel address
}

type Config struct {
	Assets []AssetConfig

	// NativeDecimals of the chain's own coin. Zero means DefaultNativeDecimals.
	NativeDecimals uint8
}

// TokenAddressRegistry is immutable after New.
type TokenAddressRegistry struct {
	bySymbol  map[string]agreement.Asset
	byAddress map[ethcommon.Address]agreement.Asset
	order     []string
}

func New(cfg *Config) (*TokenAddressRegistry, error) {
	if len(cfg.Assets) == 0 {
		return nil, configError(ErrNoAssets)
	}

	nativeDecimals := cfg.NativeDecimals
	if nativeDecimals == 0 {
		nativeDecimals = DefaultNativeDecimals
	}

	r := &TokenAddressRegistry{
		bySymbol:  map[string]agreement.Asset{},
		byAddress: map[ethcommon.Address]agreement.Asset{},
	}
	for _, ac := range cfg.Assets {
		symbol := normalize(ac.Symbol)
		if symbol == "" {
			return nil, configError(fmt.Errorf("%w: empty symbol", ErrInvalidAssetSpec))
		}

		asset := agreement.Asset{Symbol: symbol}
		switch {
		case strings.EqualFold(ac.Address, NativeKeyword),
			common.IsEthAddress(ac.Address) && ethcommon.HexToAddress(ac.Address) == contracts.NativeAssetAddress:
			asset.Address = contracts.NativeAssetAddress
			asset.Native = true
			asset.Decimals = nativeDecimals
		case common.IsEthAddress(ac.Address):
			asset.Address = ethcommon.HexToAddress(ac.Address)
			if asset.Address == (ethcommon.Address{}) {
				return nil, configError(fmt.Errorf("%w: %s", ErrInvalidAssetAddr, ac.Address))
			}
		default:
			return nil, configError(fmt.Errorf("%w: %s=%s", ErrInvalidAssetAddr, symbol, ac.Address))
		}

		if _, ok := r.bySymbol[symbol]; ok {
			return nil, configError(fmt.Errorf("%w: %s", ErrDuplicateAsset, symbol))
		}
		if _, ok := r.byAddress[asset.Address]; ok {
			return nil, configError(fmt.Errorf("%w: %s", ErrDuplicateAsset, asset.Address.Hex()))
		}

		r.bySymbol[symbol] = asset
		r.byAddress[asset.Address] = asset
		r.order = append(r.order, symbol)
	}

	return r, nil
}

// ParseAssets reads "USDC=0x...,ETH=NATIVE" style lists.
func ParseAssets(spec string) ([]AssetConfig, error) {
	var out []AssetConfig
	for _, item := range strings.Split(spec, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		symbol, addr, ok := strings.Cut(item, "=")
		if !ok {
			return nil, configError(fmt.Errorf("%w: %q", ErrInvalidAssetSpec, item))
		}
		out = append(out, AssetConfig{Symbol: strings.TrimSpace(symbol), Address: strings.TrimSpace(addr)})
	}
	return out, nil
}

func (r *TokenAddressRegistry) Lookup(symbol string) (agreement.Asset, error) {
	asset, ok := r.bySymbol[normalize(symbol)]
	if !ok {
		return agreement.Asset{}, configError(fmt.Errorf("%w: %s", ErrUnknownAsset, symbol))
	}
	return asset, nil
}

func (r *TokenAddressRegistry) ByAddress(addr ethcommon.Address) (agreement.Asset, error) {
	asset, ok := r.byAddress[addr]
	if !ok {
		return agreement.Asset{}, configError(fmt.Errorf("%w: %s", ErrUnknownAsset, addr.Hex()))
	}
	return asset, nil
}

// Assets in configuration order.
func (r *TokenAddressRegistry) Assets() []agreement.Asset {
	assets := make([]agreement.Asset, 0, len(r.order))
	for _, symbol := range r.order {
		assets = append(assets, r.bySymbol[symbol])
	}
	return assets
}

func (r *TokenAddressRegistry) Symbols() []string {
	return append([]string(nil), r.order...)
}

func normalize(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

func configError(err error) *agreement.Error {
	return agreement.NewError(agreement.KindConfiguration, "registry", err)
}
