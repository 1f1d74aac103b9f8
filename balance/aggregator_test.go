package balance

import (
	"context"
	"errors"
	"math/big"
	"testing"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TEENet-io/banknote-go/agreement"
	"github.com/TEENet-io/banknote-go/etherman"
	"github.com/TEENet-io/banknote-go/registry"
)

type testEnv struct {
	sim        *etherman.SimulatedChain
	aggregator *Aggregator
	owner      ethcommon.Address
	usdc       ethcommon.Address
	eurc       ethcommon.Address
	nzdt       ethcommon.Address
}

func newTestEnv(t *testing.T) *testEnv {
	sim := etherman.NewSimulatedChain(etherman.GenPrivateKeys(1), nil)
	usdc := sim.DeployToken("USDC", 6)
	eurc := sim.DeployToken("EURC", 6)
	nzdt := sim.DeployToken("NZDT", 6)

	owner := sim.Accounts[0].From
	sim.MintToken(usdc, owner, big.NewInt(1_000_000))
	sim.MintToken(eurc, owner, big.NewInt(2_500_000))

	reg, err := registry.New(&registry.Config{Assets: []registry.AssetConfig{
		{Symbol: "USDC", Address: usdc.Hex()},
		{Symbol: "EURC", Address: eurc.Hex()},
		{Symbol: "NZDT", Address: nzdt.Hex()},
		{Symbol: "ETH", Address: registry.NativeKeyword},
	}})
	require.NoError(t, err)

	em := etherman.NewEthermanWithClient(&etherman.Config{VaultContractAddress: sim.VaultAddress}, sim)
	agg := New(DefaultConfig(), em, reg, registry.NewDecimalsCache(em))

	return &testEnv{sim: sim, aggregator: agg, owner: owner, usdc: usdc, eurc: eurc, nzdt: nzdt}
}

func TestGetAllBalances(t *testing.T) {
	env := newTestEnv(t)

	balances := env.aggregator.GetAllBalances(context.Background(), env.owner)
	require.Len(t, balances, 4)

	assert.Equal(t, "1.0", balances["USDC"].Formatted)
	assert.Equal(t, "2.5", balances["EURC"].Formatted)
	assert.Equal(t, "0.0", balances["NZDT"].Formatted)
	assert.Equal(t, "100.0", balances["ETH"].Formatted)
	assert.Equal(t, uint8(18), balances["ETH"].Decimals)
	for _, b := range balances {
		assert.NoError(t, b.Err)
	}
}

func TestOneFailingAssetDoesNotFailOthers(t *testing.T) {
	env := newTestEnv(t)
	env.sim.FailCalls(env.eurc, errors.New("connection reset by peer"))

	balances := env.aggregator.GetAllBalances(context.Background(), env.owner)
	require.Len(t, balances, 4)

	eurc := balances["EURC"]
	assert.Equal(t, "0.0", eurc.Formatted)
	assert.Equal(t, int64(0), eurc.Raw.Int64())
	assert.True(t, agreement.IsKind(eurc.Err, agreement.KindRPCUnavailable))

	assert.Equal(t, "1.0", balances["USDC"].Formatted)
	assert.NoError(t, balances["USDC"].Err)
}

func TestMalformedTokenReportsZero(t *testing.T) {
	sim := etherman.NewSimulatedChain(etherman.GenPrivateKeys(1), nil)
	usdc := sim.DeployToken("USDC", 6)
	sim.MintToken(usdc, sim.Accounts[0].From, big.NewInt(3_000_000))

	// BAD points at an address without code
	reg, err := registry.New(&registry.Config{Assets: []registry.AssetConfig{
		{Symbol: "USDC", Address: usdc.Hex()},
		{Symbol: "BAD", Address: "0x000000000000000000000000000000000000dEaD"},
	}})
	require.NoError(t, err)
	em := etherman.NewEthermanWithClient(&etherman.Config{VaultContractAddress: sim.VaultAddress}, sim)
	agg := New(&Config{MaxConcurrentReads: 1}, em, reg, registry.NewDecimalsCache(em))

	balances := agg.GetAllBalances(context.Background(), sim.Accounts[0].From)
	require.Len(t, balances, 2)
	assert.Equal(t, "3.0", balances["USDC"].Formatted)
	assert.Equal(t, "0.0", balances["BAD"].Formatted)
	assert.Error(t, balances["BAD"].Err)
}

func TestTokenWithoutDecimalsFallsBack(t *testing.T) {
	sim := etherman.NewSimulatedChain(etherman.GenPrivateKeys(1), nil)
	odd := sim.DeployTokenWithoutDecimals("ODD")
	sim.MintToken(odd, sim.Accounts[0].From, big.NewInt(1_000_000_000_000))

	reg, err := registry.New(&registry.Config{Assets: []registry.AssetConfig{{Symbol: "ODD", Address: odd.Hex()}}})
	require.NoError(t, err)
	em := etherman.NewEthermanWithClient(&etherman.Config{VaultContractAddress: sim.VaultAddress}, sim)
	agg := New(nil, em, reg, registry.NewDecimalsCache(em))

	balances := agg.GetAllBalances(context.Background(), sim.Accounts[0].From)
	assert.Equal(t, "0.000001", balances["ODD"].Formatted)
	assert.NoError(t, balances["ODD"].Err)
}
