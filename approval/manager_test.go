package approval

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TEENet-io/banknote-go/agreement"
	"github.com/TEENet-io/banknote-go/contracts"
	"github.com/TEENet-io/banknote-go/etherman"
)

var errFlaky = errors.New("connection reset by peer")

type recordingLedger struct {
	mu       sync.Mutex
	statuses map[ethcommon.Hash]agreement.TxStatus
}

func (l *recordingLedger) InsertBanknote(*agreement.Banknote, []byte) error { return nil }
func (l *recordingLedger) ResolveBanknote(ethcommon.Hash, *big.Int, agreement.BanknoteStatus) error {
	return nil
}
func (l *recordingLedger) InsertRedemption(*agreement.Redemption) error { return nil }

func (l *recordingLedger) InsertMonitoredTx(mtx *agreement.MonitoredTx) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.statuses[mtx.TxHash] = mtx.Status
	return nil
}

func (l *recordingLedger) UpdateTxStatus(txHash ethcommon.Hash, status agreement.TxStatus) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.statuses[txHash] = status
	return nil
}

type testEnv struct {
	sim      *etherman.SimulatedChain
	etherman *etherman.Etherman
	manager  *ApprovalManager
	ledger   *recordingLedger
	usdc     agreement.Asset
}

func testConfig() *Config {
	return &Config{
		MaxAttempts:         3,
		RetryDelay:          time.Millisecond,
		ConfirmationTimeout: time.Second,
		ReceiptPollInterval: time.Millisecond,
	}
}

func newTestEnv(t *testing.T, cfg *Config) *testEnv {
	sim := etherman.NewSimulatedChain(etherman.GenPrivateKeys(1), nil)
	usdc := sim.DeployToken("USDC", 6)
	em := etherman.NewEthermanWithClient(&etherman.Config{VaultContractAddress: sim.VaultAddress}, sim)
	ledger := &recordingLedger{statuses: map[ethcommon.Hash]agreement.TxStatus{}}

	return &testEnv{
		sim:      sim,
		etherman: em,
		manager:  New(cfg, em, sim.Accounts[0], ledger),
		ledger:   ledger,
		usdc:     agreement.Asset{Symbol: "USDC", Address: usdc},
	}
}

func TestApproveHealthyNetwork(t *testing.T) {
	env := newTestEnv(t, testConfig())

	txHash, err := env.manager.Approve(context.Background(), env.usdc, big.NewInt(5_000_000))
	require.NoError(t, err)
	assert.NotEqual(t, ethcommon.Hash{}, txHash)
	assert.Equal(t, 1, env.sim.SendCount(contracts.MethodApprove))

	allowance, err := env.etherman.TokenAllowance(context.Background(), env.usdc.Address, env.manager.Owner())
	assert.NoError(t, err)
	assert.Equal(t, int64(5_000_000), allowance.Int64())
	assert.Equal(t, agreement.TxSuccess, env.ledger.statuses[txHash])
}

func TestApproveAlwaysResubmits(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()

	_, err := env.manager.Approve(ctx, env.usdc, big.NewInt(5_000_000))
	require.NoError(t, err)
	_, err = env.manager.Approve(ctx, env.usdc, big.NewInt(5_000_000))
	require.NoError(t, err)
	assert.Equal(t, 2, env.sim.SendCount(contracts.MethodApprove))
}

func TestApproveExhausted(t *testing.T) {
	env := newTestEnv(t, testConfig())
	env.sim.FailSends(10, errFlaky)

	_, err := env.manager.Approve(context.Background(), env.usdc, big.NewInt(1))
	require.Error(t, err)
	assert.True(t, errors.Is(err, agreement.ErrApprovalExhausted))
	assert.ErrorIs(t, err, errFlaky)
	assert.Equal(t, 3, env.sim.SendCount(contracts.MethodApprove))
}

func TestApproveRecoversWithinBound(t *testing.T) {
	env := newTestEnv(t, testConfig())
	env.sim.FailSends(2, errFlaky)

	_, err := env.manager.Approve(context.Background(), env.usdc, big.NewInt(1))
	assert.NoError(t, err)
	assert.Equal(t, 3, env.sim.SendCount(contracts.MethodApprove))
}

func TestApproveRetriesOnReceiptFailure(t *testing.T) {
	env := newTestEnv(t, testConfig())
	env.sim.FailReceipts(3)

	_, err := env.manager.Approve(context.Background(), env.usdc, big.NewInt(1))
	assert.NoError(t, err)
	assert.Equal(t, 2, env.sim.SendCount(contracts.MethodApprove))
}

func TestApproveTimeoutIsNotRetried(t *testing.T) {
	cfg := testConfig()
	cfg.ConfirmationTimeout = 30 * time.Millisecond
	env := newTestEnv(t, cfg)
	env.sim.SetAutoMine(false)

	txHash, err := env.manager.Approve(context.Background(), env.usdc, big.NewInt(1))
	require.Error(t, err)
	assert.True(t, agreement.IsKind(err, agreement.KindTransactionTimeout))
	assert.Equal(t, 1, env.sim.SendCount(contracts.MethodApprove))

	var e *agreement.Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, txHash, e.TxHash)
	assert.Equal(t, agreement.TxTimeout, env.ledger.statuses[txHash])
}

func TestApproveNativeAsset(t *testing.T) {
	env := newTestEnv(t, testConfig())
	native := agreement.Asset{Symbol: "ETH", Address: contracts.NativeAssetAddress, Native: true, Decimals: 18}

	txHash, err := env.manager.Approve(context.Background(), native, big.NewInt(1))
	assert.NoError(t, err)
	assert.Equal(t, ethcommon.Hash{}, txHash)
	assert.Equal(t, 0, env.sim.TotalSends())
}

func TestApproveCancelledBetweenAttempts(t *testing.T) {
	cfg := testConfig()
	cfg.RetryDelay = time.Hour
	env := newTestEnv(t, cfg)
	env.sim.FailSends(10, errFlaky)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := env.manager.Approve(ctx, env.usdc, big.NewInt(1))
	assert.True(t, agreement.IsKind(err, agreement.KindApprovalExhausted))
	assert.Equal(t, 1, env.sim.SendCount(contracts.MethodApprove))
}
