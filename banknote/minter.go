package banknote

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	ethcommon "github.com/ethereum/go-ethereum/common"
	logger "github.com/sirupsen/logrus"

	"github.com/TEENet-io/banknote-go/agreement"
	"github.com/TEENet-io/banknote-go/approval"
	"github.com/TEENet-io/banknote-go/common"
	"github.com/TEENet-io/banknote-go/etherman"
	"github.com/TEENet-io/banknote-go/registry"
)

var (
	ErrInvalidDenomination = errors.New("denomination must be positive")
	ErrInvalidBanknoteID   = errors.New("invalid banknote id")
	ErrUnknownBanknote     = errors.New("banknote does not exist")
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrRedeemerMismatch    = errors.New("redeemer must be the sending account")
)

// MintResult is returned by Mint, also alongside errors raised after the
// mint was broadcast. The bearer secret must reach the holder in every case.
type MintResult struct {
	TxHash         ethcommon.Hash
	ApprovalTxHash ethcommon.Hash // zero for the native asset
	BanknoteID     *big.Int       // nil if the id could not be recovered
	Asset          agreement.Asset
	Denomination   *big.Int
	BearerSecret   *BearerSecret

	// NeedsLookup is set when the mint confirmed but its event could not be
	// decoded. The id has to be found on chain by hand.
	NeedsLookup bool
}

// Banknote is the display form of the result.
func (r *MintResult) Banknote() *agreement.Banknote {
	status := agreement.BanknoteMinted
	if r.BanknoteID == nil {
		status = agreement.BanknoteUnresolved
	}
	return &agreement.Banknote{
		ID:           r.BanknoteID,
		ClaimAddress: r.BearerSecret.ClaimAddress(),
		Asset:        r.Asset.Address,
		AssetSymbol:  r.Asset.Symbol,
		Denomination: r.Denomination,
		Status:       status,
		MintTxHash:   r.TxHash,
	}
}

// Minter issues banknotes from a single operator account.
type Minter struct {
	*vaultClient
	approval *approval.ApprovalManager
}

func NewMinter(
	cfg *Config,
	etherman *etherman.Etherman,
	registry *registry.TokenAddressRegistry,
	decimals *registry.DecimalsCache,
	approval *approval.ApprovalManager,
	auth *bind.TransactOpts,
	ledger agreement.BanknoteLedger,
	emitter agreement.Emitter,
) *Minter {
	return &Minter{
		vaultClient: newVaultClient(cfg, etherman, registry, decimals, auth, ledger, emitter),
		approval:    approval,
	}
}

// Mint escrows denomination whole units of the asset named symbol behind a
// freshly generated claim key.
//
// Nothing is broadcast unless the operator holds enough of the asset. Tokens
// are approved first, and the mint is only submitted once that approval is
// mined. Errors raised after the mint was broadcast come with a non-nil
// MintResult holding the bearer secret: TransactionTimeout and RPCUnavailable
// mean the outcome is unknown and must be re-queried by TxHash, EventNotFound
// means value moved but the id is unknown (NeedsLookup).
func (m *Minter) Mint(ctx context.Context, symbol string, denomination *big.Int) (*MintResult, error) {
	newLogger := logger.WithFields(logger.Fields{
		"asset":        symbol,
		"denomination": denomination,
	})

	asset, err := m.registry.Lookup(symbol)
	if err != nil {
		return nil, err
	}
	if denomination == nil || denomination.Sign() <= 0 {
		return nil, agreement.NewError(agreement.KindInvalidInput, opMint, ErrInvalidDenomination)
	}

	secret, err := GenerateBearerSecret()
	if err != nil {
		return nil, agreement.NewError(agreement.KindUnknown, opMint, err)
	}
	// last point at which the mint can be abandoned
	if err := ctx.Err(); err != nil {
		return nil, agreement.ContextError(opMint, err)
	}

	decimals, err := m.decimals.Decimals(ctx, asset)
	if err != nil {
		return nil, etherman.ClassifyError(opMint, err)
	}
	amount := common.ScaleDenomination(denomination, decimals)

	if err := m.checkFunds(ctx, asset, amount); err != nil {
		newLogger.Warnf("mint rejected before broadcast: err=%v", err)
		return nil, err
	}

	params := &etherman.MintParams{
		Asset:        asset.Address,
		ClaimAddress: secret.ClaimAddress(),
		Denomination: denomination,
	}
	result := &MintResult{
		Asset:        asset,
		Denomination: new(big.Int).Set(denomination),
		BearerSecret: secret,
	}

	if asset.Native {
		params.Value = amount
	} else {
		approvalTxHash, err := m.approval.Approve(ctx, asset, amount)
		if err != nil {
			return nil, err
		}
		result.ApprovalTxHash = approvalTxHash

		// allowance is shared by every sender of the account
		allowance, err := m.etherman.TokenAllowance(ctx, asset.Address, m.auth.From)
		if err != nil {
			return nil, etherman.ClassifyError(opMint, err)
		}
		if allowance.Cmp(amount) < 0 {
			return nil, agreement.NewError(agreement.KindInsufficientAllowance, opMint,
				fmt.Errorf("allowance %s < %s", allowance, amount)).WithTxHash(approvalTxHash)
		}
	}

	tx, err := m.etherman.MintBanknote(ctx, m.auth, params)
	if err != nil {
		newLogger.Errorf("failed to send mint tx: err=%v", err)
		return nil, etherman.ClassifyError(opMint, err)
	}
	result.TxHash = tx.Hash()
	newLogger = newLogger.WithField("txHash", result.TxHash.String())
	newLogger.Debug("mint tx sent")

	m.recordTx(result.TxHash, agreement.TxKindMint, asset.Symbol)
	m.insertBanknote(result)

	receipt, err := m.confirm(ctx, opMint, tx)
	if err != nil {
		if receipt != nil {
			m.resolveBanknote(result.TxHash, nil, agreement.BanknoteFailed)
		}
		newLogger.Errorf("mint not confirmed: err=%v", err)
		return result, err
	}

	ev, err := m.decoder.DecodeBanknoteMinted(receipt)
	if err != nil {
		result.NeedsLookup = true
		m.resolveBanknote(result.TxHash, nil, agreement.BanknoteUnresolved)
		newLogger.Errorf("mint confirmed but banknote id is unknown: err=%v", err)
		return result, agreement.NewError(agreement.KindEventNotFound, opMint, err).WithTxHash(result.TxHash)
	}

	result.BanknoteID = ev.Id
	m.resolveBanknote(result.TxHash, ev.Id, agreement.BanknoteMinted)
	m.emit(ctx, &agreement.LifecycleEvent{
		Kind:        agreement.LifecycleMinted,
		TxHash:      result.TxHash.String(),
		BanknoteID:  ev.Id.String(),
		AssetSymbol: asset.Symbol,
		Amount:      common.FormatUnits(amount, decimals),
		Account:     m.auth.From.String(),
		Timestamp:   time.Now(),
	})

	newLogger.WithField("banknoteId", ev.Id).Info("banknote minted")
	return result, nil
}

// checkFunds fails with InsufficientFunds if the operator cannot cover
// amount base units. Gas is not accounted for.
func (m *Minter) checkFunds(ctx context.Context, asset agreement.Asset, amount *big.Int) error {
	var (
		balance *big.Int
		err     error
	)
	if asset.Native {
		balance, err = m.etherman.NativeBalance(ctx, m.auth.From)
	} else {
		balance, err = m.etherman.TokenBalanceOf(ctx, asset.Address, m.auth.From)
	}
	if err != nil {
		return etherman.ClassifyError(opMint, err)
	}

	if balance.Cmp(amount) < 0 {
		return agreement.NewError(agreement.KindInsufficientFunds, opMint,
			fmt.Errorf("balance %s < %s", balance, amount))
	}
	return nil
}

func (m *Minter) insertBanknote(result *MintResult) {
	if m.ledger == nil {
		return
	}
	note := result.Banknote()
	note.ID = nil
	note.Issuer = m.auth.From
	note.Status = agreement.BanknotePending
	if err := m.ledger.InsertBanknote(note, result.BearerSecret.Bytes()); err != nil {
		logger.WithField("txHash", result.TxHash.String()).Errorf("failed to record banknote: err=%v", err)
	}
}

func (m *Minter) resolveBanknote(txHash ethcommon.Hash, id *big.Int, status agreement.BanknoteStatus) {
	if m.ledger == nil {
		return
	}
	if err := m.ledger.ResolveBanknote(txHash, id, status); err != nil {
		logger.WithField("txHash", txHash.String()).Errorf("failed to resolve banknote: err=%v", err)
	}
}

// Surplus returns owner's reclaimable leftover of the asset named symbol.
func (m *Minter) Surplus(ctx context.Context, owner ethcommon.Address, symbol string) (*agreement.Balance, error) {
	asset, err := m.registry.Lookup(symbol)
	if err != nil {
		return nil, err
	}

	raw, err := m.etherman.GetSurplus(ctx, owner, asset.Address)
	if err != nil {
		return nil, etherman.ClassifyError(opQuery, err)
	}
	decimals, err := m.decimals.Decimals(ctx, asset)
	if err != nil {
		return nil, etherman.ClassifyError(opQuery, err)
	}

	return &agreement.Balance{
		Symbol:    asset.Symbol,
		Raw:       raw,
		Decimals:  decimals,
		Formatted: common.FormatUnits(raw, decimals),
	}, nil
}

// SkimSurplus withdraws amount base units of the operator's surplus in the
// asset named symbol. A zero amount withdraws all of it.
func (m *Minter) SkimSurplus(ctx context.Context, symbol string, amount *big.Int) (*agreement.TransactionResult, error) {
	asset, err := m.registry.Lookup(symbol)
	if err != nil {
		return nil, err
	}
	if amount == nil {
		amount = new(big.Int)
	}
	if amount.Sign() < 0 {
		return nil, agreement.NewError(agreement.KindInvalidInput, opSkim, ErrInvalidAmount)
	}

	newLogger := logger.WithFields(logger.Fields{
		"asset":  asset.Symbol,
		"amount": amount,
	})

	tx, err := m.etherman.SkimSurplus(ctx, m.auth, asset.Address, amount)
	if err != nil {
		newLogger.Errorf("failed to send skim tx: err=%v", err)
		return nil, etherman.ClassifyError(opSkim, err)
	}
	txHash := tx.Hash()
	m.recordTx(txHash, agreement.TxKindSkim, asset.Symbol)

	receipt, err := m.confirm(ctx, opSkim, tx)
	if err != nil {
		newLogger.Errorf("skim not confirmed: err=%v", err)
		return nil, err
	}

	ev, err := m.decoder.DecodeSurplusSkimmed(receipt)
	if err != nil {
		return nil, agreement.NewError(agreement.KindEventNotFound, opSkim, err).WithTxHash(txHash)
	}

	res := m.transactionResult(ctx, txHash, nil, m.resolveAsset(ev.Erc20), ev.Amount)
	m.emit(ctx, &agreement.LifecycleEvent{
		Kind:        agreement.LifecycleSkimmed,
		TxHash:      txHash.String(),
		AssetSymbol: res.AssetSymbol,
		Amount:      res.Amount,
		Account:     ev.Owner.String(),
		Timestamp:   time.Now(),
	})
	return res, nil
}
