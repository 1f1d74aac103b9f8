// Package txmonitor resolves the outcome of broadcast transactions by
// re-querying their receipts. It never resubmits anything.
package txmonitor

import (
	"context"
	"errors"
	"math/big"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	logger "github.com/sirupsen/logrus"

	"github.com/TEENet-io/banknote-go/agreement"
	"github.com/TEENet-io/banknote-go/etherman"
	"github.com/TEENet-io/banknote-go/ledger"
	"github.com/TEENet-io/banknote-go/registry"
)

const opStatus = "status"

var (
	ErrDBOpGetMonitoredTxs = errors.New("failed to get monitored txs")
	ErrDBOpGetUnresolved   = errors.New("failed to get unresolved banknotes")
)

// TxReport is what is known about a tx after re-querying it.
type TxReport struct {
	TxHash      ethcommon.Hash
	Kind        agreement.TxKind // empty if the ledger does not know the tx
	Status      agreement.TxStatus
	BlockNumber *big.Int // nil until mined

	// Banknote minted by the tx, if it is a mint known to the ledger
	Banknote *agreement.Banknote
}

type TxMonitor struct {
	cfg      *Config
	etherman *etherman.Etherman
	ledger   *ledger.Ledger
	registry *registry.TokenAddressRegistry
	decoder  *etherman.EventDecoder
}

func New(
	cfg *Config,
	em *etherman.Etherman,
	ledger *ledger.Ledger,
	registry *registry.TokenAddressRegistry,
) *TxMonitor {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &TxMonitor{
		cfg:      cfg,
		etherman: em,
		ledger:   ledger,
		registry: registry,
		decoder:  etherman.NewVaultEventDecoder(em.VaultAddress()),
	}
}

func (m *TxMonitor) Start(ctx context.Context) error {
	logger.Info("starting tx monitor")
	defer logger.Info("stopping tx monitor")

	ticker := time.NewTicker(m.cfg.FrequencyToMonitorPendingTxs)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := m.Loop(ctx); err != nil {
				logger.Errorf("tx monitor loop failed: err=%v", err)
			}
		}
	}
}

// Loop checks every pending or timed out tx once, then retries decoding
// the mints whose banknote id is still unknown.
func (m *TxMonitor) Loop(ctx context.Context) error {
	mtxs, err := m.ledger.GetMonitoredTxsByStatus(agreement.TxPending, agreement.TxTimeout)
	if err != nil {
		logger.Errorf("failed to get monitored txs: err=%v", err)
		return ErrDBOpGetMonitoredTxs
	}
	for _, mtx := range mtxs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := m.Check(ctx, mtx.TxHash); err != nil {
			logger.WithField("txHash", mtx.TxHash.String()).Warnf("failed to check tx: err=%v", err)
		}
	}

	unresolved, err := m.ledger.GetBanknotesByStatus(agreement.BanknoteUnresolved)
	if err != nil {
		logger.Errorf("failed to get unresolved banknotes: err=%v", err)
		return ErrDBOpGetUnresolved
	}
	for _, note := range unresolved {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := m.Check(ctx, note.MintTxHash); err != nil {
			logger.WithField("txHash", note.MintTxHash.String()).Warnf("failed to check mint: err=%v", err)
		}
	}

	return nil
}

// Check re-queries the receipt of txHash and records what it finds. It is
// safe to call any number of times for the same hash.
func (m *TxMonitor) Check(ctx context.Context, txHash ethcommon.Hash) (*TxReport, error) {
	newLogger := logger.WithField("txHash", txHash.String())

	mtx, known, err := m.ledger.GetMonitoredTx(txHash)
	if err != nil {
		return nil, agreement.NewError(agreement.KindStorage, opStatus, err)
	}

	report := &TxReport{TxHash: txHash, Status: agreement.TxPending}
	if known {
		report.Kind = mtx.Kind
		report.Status = mtx.Status
	}

	receipt, err := m.etherman.TransactionReceipt(ctx, txHash)
	if err != nil {
		return nil, etherman.ClassifyError(opStatus, err).WithTxHash(txHash)
	}

	if receipt == nil {
		if known && mtx.Status == agreement.TxPending && time.Since(mtx.SentAt) > m.cfg.TimeoutOnMonitoringPendingTxs {
			newLogger.Warnf("tx not mined after %v", m.cfg.TimeoutOnMonitoringPendingTxs)
			report.Status = agreement.TxTimeout
			m.updateTx(txHash, agreement.TxTimeout)
		}
		return m.withBanknote(report, known)
	}

	report.BlockNumber = receipt.BlockNumber
	report.Status = agreement.TxSuccess
	if receipt.Status != types.ReceiptStatusSuccessful {
		report.Status = agreement.TxReverted
	}
	if !known {
		return report, nil
	}

	if mtx.Status != report.Status {
		newLogger.Debugf("tx %s: %s -> %s", mtx.Kind, mtx.Status, report.Status)
		m.updateTx(txHash, report.Status)
	}

	switch mtx.Kind {
	case agreement.TxKindMint:
		m.resolveMint(receipt)
	case agreement.TxKindRedeem:
		m.recordRedemption(receipt)
	}

	return m.withBanknote(report, known)
}

func (m *TxMonitor) withBanknote(report *TxReport, known bool) (*TxReport, error) {
	if !known || report.Kind != agreement.TxKindMint {
		return report, nil
	}
	note, ok, err := m.ledger.GetBanknoteByMintTxHash(report.TxHash)
	if err != nil {
		return nil, agreement.NewError(agreement.KindStorage, opStatus, err)
	}
	if ok {
		report.Banknote = note
	}
	return report, nil
}

// resolveMint moves the banknote minted by receipt out of pending or
// unresolved if the outcome is now known.
func (m *TxMonitor) resolveMint(receipt *types.Receipt) {
	newLogger := logger.WithField("txHash", receipt.TxHash.String())

	note, ok, err := m.ledger.GetBanknoteByMintTxHash(receipt.TxHash)
	if err != nil || !ok {
		return
	}
	if note.Status != agreement.BanknotePending && note.Status != agreement.BanknoteUnresolved {
		return
	}

	var (
		id     *big.Int
		status = agreement.BanknoteFailed
	)
	if receipt.Status == types.ReceiptStatusSuccessful {
		ev, err := m.decoder.DecodeBanknoteMinted(receipt)
		if err != nil {
			newLogger.Warnf("banknote id still unknown: err=%v", err)
			status = agreement.BanknoteUnresolved
		} else {
			id, status = ev.Id, agreement.BanknoteMinted
		}
	}
	if status == note.Status {
		return
	}

	if err := m.ledger.ResolveBanknote(receipt.TxHash, id, status); err != nil {
		newLogger.Errorf("failed to resolve banknote: err=%v", err)
		return
	}
	newLogger.WithField("banknoteId", id).Infof("banknote %s", status)
}

func (m *TxMonitor) recordRedemption(receipt *types.Receipt) {
	if receipt.Status != types.ReceiptStatusSuccessful {
		return
	}
	newLogger := logger.WithField("txHash", receipt.TxHash.String())

	ev, err := m.decoder.DecodeBanknoteRedeemed(receipt)
	if err != nil {
		newLogger.Warnf("redemption event not found: err=%v", err)
		return
	}

	symbol := ev.Erc20.Hex()
	if asset, err := m.registry.ByAddress(ev.Erc20); err == nil {
		symbol = asset.Symbol
	}
	err = m.ledger.InsertRedemption(&agreement.Redemption{
		TxHash:      receipt.TxHash,
		BanknoteID:  ev.Id,
		Redeemer:    ev.Redeemer,
		Asset:       ev.Erc20,
		AssetSymbol: symbol,
		Amount:      ev.Amount,
		Description: ev.Description,
	})
	if err != nil {
		newLogger.Errorf("failed to record redemption: err=%v", err)
	}
}

func (m *TxMonitor) updateTx(txHash ethcommon.Hash, status agreement.TxStatus) {
	if err := m.ledger.UpdateTxStatus(txHash, status); err != nil {
		logger.WithField("txHash", txHash.String()).Errorf("failed to update tx status: err=%v", err)
	}
}
