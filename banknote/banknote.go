// Package banknote mints bearer banknotes into the vault and redeems them.
package banknote

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	logger "github.com/sirupsen/logrus"

	"github.com/TEENet-io/banknote-go/agreement"
	"github.com/TEENet-io/banknote-go/common"
	"github.com/TEENet-io/banknote-go/contracts"
	"github.com/TEENet-io/banknote-go/etherman"
	"github.com/TEENet-io/banknote-go/registry"
)

const (
	opMint   = "mint"
	opRedeem = "redeem"
	opSkim   = "skim"
	opQuery  = "query"
)

// vaultClient holds what the minter and the redeemer share: one account
// sending to the vault, and the places outcomes get recorded.
type vaultClient struct {
	cfg      *Config
	etherman *etherman.Etherman
	registry *registry.TokenAddressRegistry
	decimals *registry.DecimalsCache
	decoder  *etherman.EventDecoder
	auth     *bind.TransactOpts

	ledger  agreement.BanknoteLedger // optional
	emitter agreement.Emitter        // optional
}

func newVaultClient(
	cfg *Config,
	em *etherman.Etherman,
	reg *registry.TokenAddressRegistry,
	decimals *registry.DecimalsCache,
	auth *bind.TransactOpts,
	ledger agreement.BanknoteLedger,
	emitter agreement.Emitter,
) *vaultClient {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if decimals == nil {
		decimals = registry.NewDecimalsCache(em)
	}
	return &vaultClient{
		cfg:      cfg,
		etherman: em,
		registry: reg,
		decimals: decimals,
		decoder:  etherman.NewVaultEventDecoder(em.VaultAddress()),
		auth:     auth,
		ledger:   ledger,
		emitter:  emitter,
	}
}

// Account that signs and pays for the transactions.
func (c *vaultClient) Account() ethcommon.Address {
	return c.auth.From
}

// confirm waits for tx to be mined within ConfirmationTimeout. A failed
// receipt comes back with a ContractRevert carrying the replayed reason.
func (c *vaultClient) confirm(ctx context.Context, op string, tx *types.Transaction) (*types.Receipt, error) {
	txHash := tx.Hash()

	waitCtx, cancel := context.WithTimeout(ctx, c.cfg.ConfirmationTimeout)
	defer cancel()

	receipt, err := c.etherman.WaitForReceipt(waitCtx, txHash, c.cfg.ReceiptPollInterval)
	if err != nil {
		classified := etherman.ClassifyError(op, err).WithTxHash(txHash)
		if classified.Kind == agreement.KindTransactionTimeout {
			c.updateTx(txHash, agreement.TxTimeout)
		}
		return nil, classified
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		c.updateTx(txHash, agreement.TxReverted)
		reason := c.etherman.ReplayRevertReason(ctx, c.auth.From, tx, receipt.BlockNumber)
		return receipt, agreement.NewError(agreement.KindContractRevert, op, nil).
			WithTxHash(txHash).WithReason(reason)
	}

	c.updateTx(txHash, agreement.TxSuccess)
	return receipt, nil
}

// resolveAsset maps an address emitted by the vault back to a configured
// asset. Unconfigured addresses still resolve so that the amount can be
// displayed; their symbol is the address.
func (c *vaultClient) resolveAsset(addr ethcommon.Address) agreement.Asset {
	if asset, err := c.registry.ByAddress(addr); err == nil {
		return asset
	}
	if addr == contracts.NativeAssetAddress {
		return agreement.Asset{
			Symbol:   registry.NativeKeyword,
			Address:  addr,
			Decimals: registry.DefaultNativeDecimals,
			Native:   true,
		}
	}
	return agreement.Asset{Symbol: addr.Hex(), Address: addr}
}

// transactionResult formats amount with the decimals of asset. If decimals
// cannot be read the result is still returned with Amount left empty.
func (c *vaultClient) transactionResult(
	ctx context.Context,
	txHash ethcommon.Hash,
	id *big.Int,
	asset agreement.Asset,
	amount *big.Int,
) *agreement.TransactionResult {
	res := &agreement.TransactionResult{
		TxHash:      txHash,
		BanknoteID:  id,
		AssetSymbol: asset.Symbol,
		RawAmount:   amount,
	}

	decimals, err := c.decimals.Decimals(ctx, asset)
	if err != nil {
		logger.WithFields(logger.Fields{
			"txHash": txHash.String(),
			"asset":  asset.String(),
		}).Warnf("failed to read decimals, amount left unformatted: err=%v", err)
		return res
	}
	res.Amount = common.FormatUnits(amount, decimals)
	return res
}

func (c *vaultClient) recordTx(txHash ethcommon.Hash, kind agreement.TxKind, ref string) {
	if c.ledger == nil {
		return
	}
	err := c.ledger.InsertMonitoredTx(&agreement.MonitoredTx{
		TxHash: txHash,
		Kind:   kind,
		Status: agreement.TxPending,
		Ref:    ref,
		SentAt: time.Now(),
	})
	if err != nil {
		logger.WithField("txHash", txHash.String()).Errorf("failed to record tx: err=%v", err)
	}
}

func (c *vaultClient) updateTx(txHash ethcommon.Hash, status agreement.TxStatus) {
	if c.ledger == nil {
		return
	}
	if err := c.ledger.UpdateTxStatus(txHash, status); err != nil {
		logger.WithField("txHash", txHash.String()).Errorf("failed to update tx status: err=%v", err)
	}
}

// emit never fails the caller. The outcome is already on chain.
func (c *vaultClient) emit(ctx context.Context, ev *agreement.LifecycleEvent) {
	if c.emitter == nil {
		return
	}
	if err := c.emitter.Emit(ctx, ev); err != nil {
		logger.WithFields(logger.Fields{
			"kind":   ev.Kind,
			"txHash": ev.TxHash,
		}).Warnf("failed to emit lifecycle event: err=%v", err)
	}
}

// BanknoteInfo reads a banknote from the vault. The vault does not report
// whether the note was redeemed, so Status is left empty.
func (c *vaultClient) BanknoteInfo(ctx context.Context, id *big.Int) (*agreement.Banknote, error) {
	if id == nil || id.Sign() < 0 {
		return nil, agreement.NewError(agreement.KindInvalidInput, opQuery, ErrInvalidBanknoteID)
	}

	info, err := c.etherman.GetBanknoteInfo(ctx, id)
	if err != nil {
		return nil, etherman.ClassifyError(opQuery, err)
	}
	if info.Minter == (ethcommon.Address{}) {
		return nil, agreement.NewError(agreement.KindInvalidInput, opQuery, ErrUnknownBanknote)
	}

	asset := c.resolveAsset(info.Erc20)
	return &agreement.Banknote{
		ID:           new(big.Int).Set(id),
		Issuer:       info.Minter,
		ClaimAddress: info.ClaimAddress,
		Asset:        info.Erc20,
		AssetSymbol:  asset.Symbol,
		Denomination: info.Denomination,
	}, nil
}

// NextID is the id the vault will assign to the next minted banknote.
func (c *vaultClient) NextID(ctx context.Context) (*big.Int, error) {
	id, err := c.etherman.GetNextId(ctx)
	if err != nil {
		return nil, etherman.ClassifyError(opQuery, err)
	}
	return id, nil
}
