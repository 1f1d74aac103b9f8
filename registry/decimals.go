package registry

import (
	"context"
	"sync"

	ethcommon "github.com/ethereum/go-ethereum/common"
	logger "github.com/sirupsen/logrus"

	"github.com/TEENet-io/banknote-go/agreement"
	"github.com/TEENet-io/banknote-go/etherman"
)

// FallbackDecimals is assumed for tokens that do not implement decimals().
const FallbackDecimals = 18

type DecimalsReader interface {
	TokenDecimals(ctx context.Context, token ethcommon.Address) (uint8, error)
}

// DecimalsCache remembers each token's decimals after the first successful
// read. Failed RPC reads are not cached.
type DecimalsCache struct {
	reader DecimalsReader
	cache  sync.Map // ethcommon.Address -> uint8
}

func NewDecimalsCache(reader DecimalsReader) *DecimalsCache {
	return &DecimalsCache{reader: reader}
}

func (c *DecimalsCache) Decimals(ctx context.Context, asset agreement.Asset) (uint8, error) {
	if asset.Native {
		return asset.Decimals, nil
	}
	if v, ok := c.cache.Load(asset.Address); ok {
		return v.(uint8), nil
	}

	decimals, err := c.reader.TokenDecimals(ctx, asset.Address)
	if err != nil {
		if _, reverted := etherman.RevertReason(err); !reverted {
			return 0, err
		}
		logger.WithField("asset", asset.String()).Warnf("decimals() reverted, assuming %d", FallbackDecimals)
		decimals = FallbackDecimals
	}

	c.cache.Store(asset.Address, decimals)
	return decimals, nil
}
