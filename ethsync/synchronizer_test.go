package ethsync

import (
	"context"
	"database/sql"
	"math/big"
	"testing"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TEENet-io/banknote-go/agreement"
	"github.com/TEENet-io/banknote-go/approval"
	"github.com/TEENet-io/banknote-go/banknote"
	"github.com/TEENet-io/banknote-go/etherman"
	"github.com/TEENet-io/banknote-go/ledger"
	"github.com/TEENet-io/banknote-go/registry"

	_ "github.com/mattn/go-sqlite3"
)

type testEnv struct {
	sim      *etherman.SimulatedChain
	etherman *etherman.Etherman
	registry *registry.TokenAddressRegistry
	ledger   *ledger.Ledger
	minter   *banknote.Minter
	outsider *banknote.Redeemer // redeems without telling the ledger
}

func newTestEnv(t *testing.T) *testEnv {
	sim := etherman.NewSimulatedChain(etherman.GenPrivateKeys(2), nil)
	usdc := sim.DeployToken("USDC", 6)
	sim.MintToken(usdc, sim.Accounts[0].From, big.NewInt(100_000_000))

	reg, err := registry.New(&registry.Config{
		Assets: []registry.AssetConfig{
			{Symbol: "USDC", Address: usdc.Hex()},
			{Symbol: "ETH", Address: registry.NativeKeyword},
		},
	})
	require.NoError(t, err)

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	l, err := ledger.New(db, "")
	require.NoError(t, err)
	t.Cleanup(func() {
		l.Close()
		db.Close()
	})

	em := etherman.NewEthermanWithClient(&etherman.Config{VaultContractAddress: sim.VaultAddress}, sim)
	decimals := registry.NewDecimalsCache(em)
	cfg := &banknote.Config{
		ConfirmationTimeout: 20 * time.Millisecond,
		ReceiptPollInterval: time.Millisecond,
	}
	approvalMgr := approval.New(&approval.Config{
		MaxAttempts:         1,
		ConfirmationTimeout: time.Second,
		ReceiptPollInterval: time.Millisecond,
	}, em, sim.Accounts[0], l)

	return &testEnv{
		sim:      sim,
		etherman: em,
		registry: reg,
		ledger:   l,
		minter:   banknote.NewMinter(cfg, em, reg, decimals, approvalMgr, sim.Accounts[0], l, nil),
		outsider: banknote.NewRedeemer(cfg, em, reg, decimals, sim.Accounts[1], nil, nil),
	}
}

func testConfig() *Config {
	return &Config{
		FrequencyToScanVaultLogs: MinTickerDuration,
		Confirmations:            0,
		MaxBlockRange:            2,
	}
}

func TestScanRecordsOutsideRedemption(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	minted, err := env.minter.Mint(ctx, "USDC", big.NewInt(3))
	require.NoError(t, err)

	_, err = env.outsider.RedeemWithDescription(ctx, minted.BanknoteID, minted.BearerSecret.Hex(),
		big.NewInt(3_000_000), env.sim.Accounts[1].From, "elsewhere")
	require.NoError(t, err)

	// the ledger has not heard of the redemption
	note, _, err := env.ledger.GetBanknoteByID(minted.BanknoteID)
	require.NoError(t, err)
	assert.Equal(t, agreement.BanknoteMinted, note.Status)

	s, err := New(env.etherman, env.ledger, env.registry, testConfig(), env.sim.ChainId)
	require.NoError(t, err)
	require.NoError(t, s.Scan(ctx))

	latest, err := env.etherman.BlockNumber(ctx)
	require.NoError(t, err)
	assert.Equal(t, latest, s.LastScanned())

	note, _, err = env.ledger.GetBanknoteByID(minted.BanknoteID)
	require.NoError(t, err)
	assert.Equal(t, agreement.BanknoteRedeemed, note.Status)

	redemptions, err := env.ledger.GetRedemptionsByBanknoteID(minted.BanknoteID)
	require.NoError(t, err)
	require.Len(t, redemptions, 1)
	assert.Equal(t, env.sim.Accounts[1].From, redemptions[0].Redeemer)
	assert.Equal(t, "USDC", redemptions[0].AssetSymbol)
	assert.Equal(t, int64(3_000_000), redemptions[0].Amount.Int64())

	// resumes from the stored block and finds nothing new
	s, err = New(env.etherman, env.ledger, env.registry, testConfig(), nil)
	require.NoError(t, err)
	assert.Equal(t, latest, s.LastScanned())
	require.NoError(t, s.Scan(ctx))

	redemptions, err = env.ledger.GetRedemptionsByBanknoteID(minted.BanknoteID)
	require.NoError(t, err)
	assert.Len(t, redemptions, 1)
}

func TestScanResolvesPendingMint(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.sim.SetAutoMine(false)
	res, err := env.minter.Mint(ctx, "ETH", big.NewInt(1))
	require.ErrorIs(t, err, agreement.ErrTransactionTimeout)
	env.sim.Commit()

	s, err := New(env.etherman, env.ledger, env.registry, testConfig(), nil)
	require.NoError(t, err)
	require.NoError(t, s.Scan(ctx))

	note, ok, err := env.ledger.GetBanknoteByMintTxHash(res.TxHash)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, agreement.BanknoteMinted, note.Status)
	assert.Equal(t, int64(0), note.ID.Int64())
}

func TestScanWaitsForConfirmations(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.minter.Mint(ctx, "USDC", big.NewInt(1))
	require.NoError(t, err)
	latest, err := env.etherman.BlockNumber(ctx)
	require.NoError(t, err)

	cfg := testConfig()
	cfg.Confirmations = latest + 1
	s, err := New(env.etherman, env.ledger, env.registry, cfg, nil)
	require.NoError(t, err)
	require.NoError(t, s.Scan(ctx))
	assert.Equal(t, uint64(0), s.LastScanned())

	_, ok, err := env.ledger.GetLastScannedBlock()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestScanSkipsMalformedLog(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	minted, err := env.minter.Mint(ctx, "USDC", big.NewInt(2))
	require.NoError(t, err)
	// right signature, indexed fields missing
	env.sim.InjectLog(&types.Log{
		Address: env.sim.VaultAddress,
		Topics:  []ethcommon.Hash{etherman.BanknoteRedeemedSignatureHash},
		Data:    []byte{0x01},
	})
	_, err = env.outsider.Redeem(ctx, minted.BanknoteID, minted.BearerSecret.Hex(),
		big.NewInt(2_000_000), env.sim.Accounts[1].From)
	require.NoError(t, err)

	s, err := New(env.etherman, env.ledger, env.registry, testConfig(), nil)
	require.NoError(t, err)
	require.NoError(t, s.Scan(ctx))

	latest, err := env.etherman.BlockNumber(ctx)
	require.NoError(t, err)
	assert.Equal(t, latest, s.LastScanned())
	stored, ok, err := env.ledger.GetLastScannedBlock()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, latest, stored)

	note, _, err := env.ledger.GetBanknoteByID(minted.BanknoteID)
	require.NoError(t, err)
	assert.Equal(t, agreement.BanknoteRedeemed, note.Status)
}

func TestScanRedeemedBeforeMintResolved(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.sim.SetAutoMine(false)
	res, err := env.minter.Mint(ctx, "USDC", big.NewInt(4))
	require.ErrorIs(t, err, agreement.ErrTransactionTimeout)
	env.sim.Commit()
	env.sim.SetAutoMine(true)

	// the note is spent through the ledger while its row is still pending
	redeemer := banknote.NewRedeemer(&banknote.Config{
		ConfirmationTimeout: time.Second,
		ReceiptPollInterval: time.Millisecond,
	}, env.etherman, env.registry, registry.NewDecimalsCache(env.etherman), env.sim.Accounts[1], env.ledger, nil)
	redeemed, err := redeemer.Redeem(ctx, big.NewInt(0), res.BearerSecret.Hex(),
		big.NewInt(4_000_000), env.sim.Accounts[1].From)
	require.NoError(t, err)
	note, _, err := env.ledger.GetBanknoteByMintTxHash(res.TxHash)
	require.NoError(t, err)
	require.Equal(t, agreement.BanknotePending, note.Status)
	redemptions, err := env.ledger.GetRedemptionsByBanknoteID(big.NewInt(0))
	require.NoError(t, err)
	require.Len(t, redemptions, 1)

	s, err := New(env.etherman, env.ledger, env.registry, testConfig(), nil)
	require.NoError(t, err)
	require.NoError(t, s.Scan(ctx))

	note, _, err = env.ledger.GetBanknoteByMintTxHash(res.TxHash)
	require.NoError(t, err)
	assert.Equal(t, agreement.BanknoteRedeemed, note.Status)
	assert.Equal(t, int64(0), note.ID.Int64())
	assert.Equal(t, redeemed.TxHash, note.RedeemTxHash)
}

func TestNewChecksChainID(t *testing.T) {
	env := newTestEnv(t)

	_, err := New(env.etherman, env.ledger, env.registry, testConfig(), big.NewInt(1))
	assert.Error(t, err)

	cfg := testConfig()
	cfg.StartBlock = 5
	s, err := New(env.etherman, env.ledger, env.registry, cfg, env.sim.ChainId)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), s.LastScanned())
}

func TestSyncStopsOnCancel(t *testing.T) {
	env := newTestEnv(t)
	s, err := New(env.etherman, env.ledger, env.registry, testConfig(), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Sync(ctx), context.DeadlineExceeded)
}
