package banknote

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	ethcommon "github.com/ethereum/go-ethereum/common"
	logger "github.com/sirupsen/logrus"

	"github.com/TEENet-io/banknote-go/agreement"
	"github.com/TEENet-io/banknote-go/common"
	"github.com/TEENet-io/banknote-go/etherman"
	"github.com/TEENet-io/banknote-go/registry"
)

// Redeemer claims banknotes into a merchant account.
type Redeemer struct {
	*vaultClient
}

func NewRedeemer(
	cfg *Config,
	etherman *etherman.Etherman,
	registry *registry.TokenAddressRegistry,
	decimals *registry.DecimalsCache,
	auth *bind.TransactOpts,
	ledger agreement.BanknoteLedger,
	emitter agreement.Emitter,
) *Redeemer {
	return &Redeemer{
		vaultClient: newVaultClient(cfg, etherman, registry, decimals, auth, ledger, emitter),
	}
}

// Redeem claims amount base units of banknote id using the printed bearer
// secret (hex, mnemonic or exported token). redeemer must be the account the
// Redeemer sends from since the vault pays msg.sender.
//
// Whether the signature is valid and the funds are still there is decided
// by the vault. Losing a race for the same note yields AlreadyRedeemed or
// PartialAmountUnavailable, never an error worth retrying. The returned
// amount and asset are the ones the vault paid out.
func (r *Redeemer) Redeem(
	ctx context.Context,
	id *big.Int,
	secret string,
	amount *big.Int,
	redeemer ethcommon.Address,
) (*agreement.TransactionResult, error) {
	return r.RedeemWithDescription(ctx, id, secret, amount, redeemer, "")
}

// RedeemWithDescription is Redeem with a free-form note of at most 31 bytes
// recorded in the redemption event.
func (r *Redeemer) RedeemWithDescription(
	ctx context.Context,
	id *big.Int,
	secret string,
	amount *big.Int,
	redeemer ethcommon.Address,
	description string,
) (*agreement.TransactionResult, error) {
	if id == nil || id.Sign() < 0 {
		return nil, invalidInput(ErrInvalidBanknoteID)
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, invalidInput(ErrInvalidAmount)
	}
	if redeemer != r.auth.From {
		return nil, invalidInput(ErrRedeemerMismatch)
	}
	desc, err := common.FormatBytes32String(description)
	if err != nil {
		return nil, invalidInput(err)
	}
	bearer, err := ParseBearerSecret(secret)
	if err != nil {
		return nil, invalidInput(err)
	}

	sig, err := SignRedemption(bearer, redeemer)
	if err == nil {
		// ecrecover in the vault must land on the note's claim address
		err = VerifyRedemption(sig, redeemer, bearer.ClaimAddress())
	}
	if err != nil {
		return nil, agreement.NewError(agreement.KindUnknown, opRedeem, err)
	}
	// last point at which the redemption can be abandoned
	if err := ctx.Err(); err != nil {
		return nil, agreement.ContextError(opRedeem, err)
	}

	newLogger := logger.WithFields(logger.Fields{
		"banknoteId": id,
		"amount":     amount,
		"redeemer":   redeemer.String(),
	})

	tx, err := r.etherman.RedeemBanknote(ctx, r.auth, &etherman.RedeemParams{
		Id:          id,
		Amount:      amount,
		Signature:   sig,
		Description: desc,
	})
	if err != nil {
		classified := classifyRedeemError(etherman.ClassifyError(opRedeem, err))
		newLogger.Warnf("redemption rejected: err=%v", classified)
		return nil, classified
	}
	txHash := tx.Hash()
	newLogger = newLogger.WithField("txHash", txHash.String())
	newLogger.Debug("redeem tx sent")
	r.recordTx(txHash, agreement.TxKindRedeem, id.String())

	receipt, err := r.confirm(ctx, opRedeem, tx)
	if err != nil {
		classified := classifyRedeemError(err)
		newLogger.Errorf("redemption not confirmed: err=%v", classified)
		return nil, classified
	}

	ev, err := r.decoder.DecodeBanknoteRedeemed(receipt)
	if err != nil {
		newLogger.Errorf("redemption confirmed but its event is missing: err=%v", err)
		return nil, agreement.NewError(agreement.KindEventNotFound, opRedeem, err).WithTxHash(txHash)
	}

	asset := r.resolveAsset(ev.Erc20)
	res := r.transactionResult(ctx, txHash, ev.Id, asset, ev.Amount)

	if r.ledger != nil {
		err := r.ledger.InsertRedemption(&agreement.Redemption{
			TxHash:      txHash,
			BanknoteID:  ev.Id,
			Redeemer:    ev.Redeemer,
			Asset:       ev.Erc20,
			AssetSymbol: asset.Symbol,
			Amount:      ev.Amount,
			Description: ev.Description,
		})
		if err != nil {
			newLogger.Errorf("failed to record redemption: err=%v", err)
		}
	}
	r.emit(ctx, &agreement.LifecycleEvent{
		Kind:        agreement.LifecycleRedeemed,
		TxHash:      txHash.String(),
		BanknoteID:  ev.Id.String(),
		AssetSymbol: res.AssetSymbol,
		Amount:      res.Amount,
		Account:     ev.Redeemer.String(),
		Timestamp:   time.Now(),
	})

	newLogger.WithField("paid", res.Amount).Info("banknote redeemed")
	return res, nil
}

func invalidInput(err error) *agreement.Error {
	return agreement.NewError(agreement.KindInvalidInput, opRedeem, err)
}

// classifyRedeemError turns the reverts expected when racing for the same
// note into their own kinds.
func classifyRedeemError(err error) error {
	var e *agreement.Error
	if !errors.As(err, &e) || e.Kind != agreement.KindContractRevert {
		return err
	}

	reason := strings.ToLower(e.Reason)
	switch {
	case strings.Contains(reason, "already redeemed"):
		e.Kind = agreement.KindAlreadyRedeemed
	case strings.Contains(reason, "exceeds"),
		strings.Contains(reason, "insufficient"),
		strings.Contains(reason, "not available"):
		e.Kind = agreement.KindPartialAmountUnavailable
	}
	return e
}
