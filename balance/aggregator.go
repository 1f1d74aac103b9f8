package balance

import (
	"context"
	"math/big"

	ethcommon "github.com/ethereum/go-ethereum/common"
	logger "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/TEENet-io/banknote-go/agreement"
	"github.com/TEENet-io/banknote-go/common"
	"github.com/TEENet-io/banknote-go/etherman"
	"github.com/TEENet-io/banknote-go/registry"
)

// Aggregator reads an account's balance of every configured asset.
type Aggregator struct {
	cfg      *Config
	etherman *etherman.Etherman
	registry *registry.TokenAddressRegistry
	decimals *registry.DecimalsCache
}

func New(
	cfg *Config,
	etherman *etherman.Etherman,
	registry *registry.TokenAddressRegistry,
	decimals *registry.DecimalsCache,
) *Aggregator {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Aggregator{
		cfg:      cfg,
		etherman: etherman,
		registry: registry,
		decimals: decimals,
	}
}

// GetAllBalances returns exactly one entry per configured asset, keyed by
// symbol. An asset whose reads fail shows a zero balance with Err set; the
// other assets are unaffected.
func (a *Aggregator) GetAllBalances(ctx context.Context, owner ethcommon.Address) map[string]*agreement.Balance {
	assets := a.registry.Assets()
	results := make([]*agreement.Balance, len(assets))

	g := new(errgroup.Group)
	if a.cfg.MaxConcurrentReads > 0 {
		g.SetLimit(a.cfg.MaxConcurrentReads)
	}
	for i, asset := range assets {
		g.Go(func() error {
			results[i] = a.readAsset(ctx, asset, owner)
			return nil
		})
	}
	_ = g.Wait()

	balances := make(map[string]*agreement.Balance, len(assets))
	for _, b := range results {
		balances[b.Symbol] = b
	}
	return balances
}

func (a *Aggregator) readAsset(ctx context.Context, asset agreement.Asset, owner ethcommon.Address) *agreement.Balance {
	newLogger := logger.WithFields(logger.Fields{
		"asset": asset.Symbol,
		"owner": owner.Hex(),
	})

	b := &agreement.Balance{
		Symbol:    asset.Symbol,
		Raw:       new(big.Int),
		Formatted: common.FormatUnits(nil, 0),
	}

	if a.cfg.ReadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.ReadTimeout)
		defer cancel()
	}

	var (
		raw *big.Int
		err error
	)
	if asset.Native {
		raw, err = a.etherman.NativeBalance(ctx, owner)
	} else {
		raw, err = a.etherman.TokenBalanceOf(ctx, asset.Address, owner)
	}
	if err != nil {
		newLogger.Warnf("failed to read balance, reporting zero: err=%v", err)
		b.Err = etherman.ClassifyError("balance", err)
		return b
	}

	decimals, err := a.decimals.Decimals(ctx, asset)
	if err != nil {
		newLogger.Warnf("failed to read decimals, reporting zero: err=%v", err)
		b.Err = etherman.ClassifyError("decimals", err)
		return b
	}

	b.Raw = raw
	b.Decimals = decimals
	b.Formatted = common.FormatUnits(raw, decimals)
	newLogger.WithField("balance", b.Formatted).Debug("read balance")
	return b
}
