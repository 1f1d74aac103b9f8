package etherman

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TEENet-io/banknote-go/agreement"
	mycommon "github.com/TEENet-io/banknote-go/common"
	"github.com/TEENet-io/banknote-go/contracts"
)

type testEnv struct {
	sim      *SimulatedChain
	etherman *Etherman
	usdc     common.Address
	auth     *bind.TransactOpts
}

func newTestEnv(t *testing.T) *testEnv {
	sim := NewSimulatedChain(GenPrivateKeys(3), nil)
	usdc := sim.DeployToken("USDC", 6)
	sim.MintToken(usdc, sim.Accounts[0].From, big.NewInt(100_000_000))

	etherman := NewEthermanWithClient(&Config{VaultContractAddress: sim.VaultAddress}, sim)
	return &testEnv{sim: sim, etherman: etherman, usdc: usdc, auth: sim.Accounts[0]}
}

func (env *testEnv) mustMine(t *testing.T, tx *types.Transaction) *types.Receipt {
	receipt, err := env.etherman.WaitForReceipt(context.Background(), tx.Hash(), time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, types.ReceiptStatusSuccessful, receipt.Status)
	return receipt
}

func TestTokenReads(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	bal, err := env.etherman.TokenBalanceOf(ctx, env.usdc, env.auth.From)
	assert.NoError(t, err)
	assert.Equal(t, int64(100_000_000), bal.Int64())

	dec, err := env.etherman.TokenDecimals(ctx, env.usdc)
	assert.NoError(t, err)
	assert.Equal(t, uint8(6), dec)

	allowance, err := env.etherman.TokenAllowance(ctx, env.usdc, env.auth.From)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), allowance.Int64())

	native, err := env.etherman.NativeBalance(ctx, env.auth.From)
	assert.NoError(t, err)
	assert.Equal(t, "100000000000000000000", native.String())

	// no code at the address
	_, err = env.etherman.TokenBalanceOf(ctx, mycommon.RandEthAddress(), env.auth.From)
	assert.ErrorIs(t, err, bind.ErrNoCode)
}

func TestMintRedeemSkimRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	decoder := NewVaultEventDecoder(env.sim.VaultAddress)

	tx, err := env.etherman.TokenApprove(ctx, env.auth, env.usdc, big.NewInt(5_000_000))
	require.NoError(t, err)
	env.mustMine(t, tx)

	allowance, err := env.etherman.TokenAllowance(ctx, env.usdc, env.auth.From)
	assert.NoError(t, err)
	assert.Equal(t, int64(5_000_000), allowance.Int64())

	claimKey, _ := crypto.GenerateKey()
	claim := crypto.PubkeyToAddress(claimKey.PublicKey)
	tx, err = env.etherman.MintBanknote(ctx, env.auth, &MintParams{
		Asset:        env.usdc,
		ClaimAddress: claim,
		Denomination: big.NewInt(5),
	})
	require.NoError(t, err)
	minted, err := decoder.DecodeBanknoteMinted(env.mustMine(t, tx))
	require.NoError(t, err)
	assert.Equal(t, int64(0), minted.Id.Int64())
	assert.Equal(t, env.auth.From, minted.Minter)

	info, err := env.etherman.GetBanknoteInfo(ctx, minted.Id)
	require.NoError(t, err)
	assert.Equal(t, claim, info.ClaimAddress)
	assert.Equal(t, env.auth.From, info.Minter)
	assert.Equal(t, int64(5), info.Denomination.Int64())

	next, err := env.etherman.GetNextId(ctx)
	assert.NoError(t, err)
	assert.Equal(t, int64(1), next.Int64())

	// partial redemption by another account, signed over its address
	merchant := env.sim.Accounts[1]
	digest := crypto.Keccak256(EncodeStatic(merchant.From))
	sig, err := crypto.Sign(accounts.TextHash(digest), claimKey)
	require.NoError(t, err)
	sig[64] += 27

	tx, err = env.etherman.RedeemBanknote(ctx, merchant, &RedeemParams{
		Id:        minted.Id,
		Amount:    big.NewInt(4_000_000),
		Signature: sig,
	})
	require.NoError(t, err)
	redeemed, err := decoder.DecodeBanknoteRedeemed(env.mustMine(t, tx))
	require.NoError(t, err)
	assert.Equal(t, int64(4_000_000), redeemed.Amount.Int64())
	assert.Equal(t, int64(4_000_000), env.sim.TokenBalance(env.usdc, merchant.From).Int64())

	surplus, err := env.etherman.GetSurplus(ctx, env.auth.From, env.usdc)
	assert.NoError(t, err)
	assert.Equal(t, int64(1_000_000), surplus.Int64())

	tx, err = env.etherman.SkimSurplus(ctx, env.auth, env.usdc, big.NewInt(0))
	require.NoError(t, err)
	skimmed, err := decoder.DecodeSurplusSkimmed(env.mustMine(t, tx))
	require.NoError(t, err)
	assert.Equal(t, int64(1_000_000), skimmed.Amount.Int64())
	assert.Equal(t, int64(96_000_000), env.sim.TokenBalance(env.usdc, env.auth.From).Int64())
}

func TestRevertReasonFromEstimate(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.etherman.MintBanknote(context.Background(), env.auth, &MintParams{
		Asset:        env.usdc,
		ClaimAddress: mycommon.RandEthAddress(),
		Denomination: big.NewInt(5),
	})
	require.Error(t, err)

	reason, ok := RevertReason(err)
	assert.True(t, ok)
	assert.Equal(t, "ERC20: insufficient allowance", reason)

	classified := ClassifyError("mint", err)
	assert.Equal(t, agreement.KindContractRevert, classified.Kind)
	assert.Equal(t, "ERC20: insufficient allowance", classified.Reason)
	assert.Equal(t, 0, env.sim.SendCount(contracts.MethodMintBanknote))
}

func TestRevertReasonForms(t *testing.T) {
	reason, ok := RevertReason(errors.New("execution reverted: Banknote already redeemed"))
	assert.True(t, ok)
	assert.Equal(t, contracts.ReasonAlreadyRedeemed, reason)

	reason, ok = RevertReason(newRevertError(""))
	assert.True(t, ok)
	assert.Equal(t, "", reason)

	_, ok = RevertReason(errors.New("connection refused"))
	assert.False(t, ok)
	_, ok = RevertReason(nil)
	assert.False(t, ok)
}

func TestClassifyError(t *testing.T) {
	canceled := ClassifyError("balance", fmt.Errorf("post failed: %w", context.Canceled))
	assert.Equal(t, agreement.KindCanceled, canceled.Kind)
	assert.ErrorIs(t, canceled, context.Canceled)

	timeout := ClassifyError("mint", fmt.Errorf("%w: %v", ErrReceiptTimeout, context.DeadlineExceeded))
	assert.Equal(t, agreement.KindTransactionTimeout, timeout.Kind)

	assert.Equal(t, agreement.KindRPCUnavailable, ClassifyError("balance", errors.New("connection refused")).Kind)
	assert.Nil(t, ClassifyError("balance", nil))
}

func TestReplayRevertReasonOfMinedFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// a fixed gas limit skips estimation, so the revert happens on chain
	auth := *env.auth
	auth.GasLimit = 200_000
	tx, err := env.etherman.MintBanknote(ctx, &auth, &MintParams{
		Asset:        env.usdc,
		ClaimAddress: mycommon.RandEthAddress(),
		Denomination: big.NewInt(5),
	})
	require.NoError(t, err)

	receipt, err := env.etherman.WaitForReceipt(ctx, tx.Hash(), time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, types.ReceiptStatusFailed, receipt.Status)

	reason := env.etherman.ReplayRevertReason(ctx, env.auth.From, tx, receipt.BlockNumber)
	assert.Equal(t, "ERC20: insufficient allowance", reason)
}

func TestWaitForReceiptTimeout(t *testing.T) {
	env := newTestEnv(t)
	env.sim.SetAutoMine(false)

	tx, err := env.etherman.TokenApprove(context.Background(), env.auth, env.usdc, big.NewInt(1))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = env.etherman.WaitForReceipt(ctx, tx.Hash(), 5*time.Millisecond)
	assert.ErrorIs(t, err, ErrReceiptTimeout)
	assert.Equal(t, agreement.KindTransactionTimeout, ClassifyError("approve", err).Kind)

	// the transaction can still land later
	env.sim.Commit()
	receipt, err := env.etherman.TransactionReceipt(context.Background(), tx.Hash())
	assert.NoError(t, err)
	assert.NotNil(t, receipt)
}

func TestWaitForReceiptRPCFailures(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	tx, err := env.etherman.TokenApprove(ctx, env.auth, env.usdc, big.NewInt(1))
	require.NoError(t, err)

	env.sim.FailReceipts(maxReceiptErrors - 1)
	receipt, err := env.etherman.WaitForReceipt(ctx, tx.Hash(), time.Millisecond)
	assert.NoError(t, err)
	assert.NotNil(t, receipt)

	env.sim.FailReceipts(maxReceiptErrors)
	_, err = env.etherman.WaitForReceipt(ctx, tx.Hash(), time.Millisecond)
	assert.ErrorIs(t, err, ErrReceiptUnavailable)
	assert.Equal(t, agreement.KindRPCUnavailable, ClassifyError("approve", err).Kind)
}

func TestTransactionReceiptUnknown(t *testing.T) {
	env := newTestEnv(t)
	receipt, err := env.etherman.TransactionReceipt(context.Background(), crypto.Keccak256Hash([]byte("nope")))
	assert.NoError(t, err)
	assert.Nil(t, receipt)
}

func TestDecimalsMissing(t *testing.T) {
	env := newTestEnv(t)
	token := env.sim.DeployTokenWithoutDecimals("ODD")

	_, err := env.etherman.TokenDecimals(context.Background(), token)
	require.Error(t, err)
	_, isRevert := RevertReason(err)
	assert.True(t, isRevert)
}

func TestRateLimit(t *testing.T) {
	sim := NewSimulatedChain(GenPrivateKeys(1), nil)
	etherman := NewEthermanWithClient(&Config{
		VaultContractAddress: sim.VaultAddress,
		RateLimit:            0.001,
		Burst:                1,
	}, sim)

	_, err := etherman.NativeBalance(context.Background(), sim.Accounts[0].From)
	assert.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = etherman.NativeBalance(ctx, sim.Accounts[0].From)
	assert.Error(t, err)
}
