package approval

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	logger "github.com/sirupsen/logrus"

	"github.com/TEENet-io/banknote-go/agreement"
	"github.com/TEENet-io/banknote-go/etherman"
)

const opApprove = "approve"

// ApprovalManager grants the vault an allowance over the operator's tokens.
type ApprovalManager struct {
	cfg      *Config
	etherman *etherman.Etherman
	auth     *bind.TransactOpts
	ledger   agreement.BanknoteLedger // optional
}

func New(
	cfg *Config,
	etherman *etherman.Etherman,
	auth *bind.TransactOpts,
	ledger agreement.BanknoteLedger,
) *ApprovalManager {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &ApprovalManager{
		cfg:      cfg,
		etherman: etherman,
		auth:     auth,
		ledger:   ledger,
	}
}

func (m *ApprovalManager) Owner() ethcommon.Address {
	return m.auth.From
}

// Approve always submits a fresh approval of amount and waits for it to be
// mined. Submission and receipt failures are retried up to MaxAttempts
// cycles, then reported as ApprovalExhausted. A revert is returned as is,
// and so is a confirmation timeout since that approval may still be mined.
// The native asset needs no approval and returns a zero hash.
func (m *ApprovalManager) Approve(ctx context.Context, asset agreement.Asset, amount *big.Int) (ethcommon.Hash, error) {
	newLogger := logger.WithFields(logger.Fields{
		"asset":  asset.Symbol,
		"amount": amount.String(),
	})

	if asset.Native {
		newLogger.Debug("native asset requires no approval")
		return ethcommon.Hash{}, nil
	}

	var lastErr error
	for attempt := 1; attempt <= m.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return ethcommon.Hash{}, agreement.NewError(agreement.KindApprovalExhausted, opApprove, lastErr)
			case <-time.After(m.cfg.RetryDelay):
			}
		}

		txHash, err := m.approveOnce(ctx, asset, amount)
		if err == nil {
			newLogger.WithField("txHash", txHash.String()).Debugf("approval mined after %d attempt(s)", attempt)
			return txHash, nil
		}

		switch agreement.KindOf(err) {
		case agreement.KindTransactionTimeout, agreement.KindContractRevert, agreement.KindCanceled:
			newLogger.Errorf("approval failed: err=%v", err)
			return txHash, err
		}

		lastErr = err
		newLogger.Warnf("approval attempt %d/%d failed: err=%v", attempt, m.cfg.MaxAttempts, err)
	}

	newLogger.Errorf("approval exhausted after %d attempts", m.cfg.MaxAttempts)
	return ethcommon.Hash{}, agreement.NewError(agreement.KindApprovalExhausted, opApprove, lastErr)
}

func (m *ApprovalManager) approveOnce(ctx context.Context, asset agreement.Asset, amount *big.Int) (ethcommon.Hash, error) {
	tx, err := m.etherman.TokenApprove(ctx, m.auth, asset.Address, amount)
	if err != nil {
		return ethcommon.Hash{}, etherman.ClassifyError(opApprove, err)
	}
	txHash := tx.Hash()
	m.recordTx(txHash, asset.Symbol, agreement.TxPending)

	waitCtx, cancel := context.WithTimeout(ctx, m.cfg.ConfirmationTimeout)
	defer cancel()

	receipt, err := m.etherman.WaitForReceipt(waitCtx, txHash, m.cfg.ReceiptPollInterval)
	if err != nil {
		classified := etherman.ClassifyError(opApprove, err).WithTxHash(txHash)
		if classified.Kind == agreement.KindTransactionTimeout {
			m.updateTx(txHash, agreement.TxTimeout)
		}
		return txHash, classified
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		m.updateTx(txHash, agreement.TxReverted)
		reason := m.etherman.ReplayRevertReason(ctx, m.auth.From, tx, receipt.BlockNumber)
		return txHash, agreement.NewError(agreement.KindContractRevert, opApprove, nil).
			WithTxHash(txHash).WithReason(reason)
	}

	m.updateTx(txHash, agreement.TxSuccess)
	return txHash, nil
}

func (m *ApprovalManager) recordTx(txHash ethcommon.Hash, ref string, status agreement.TxStatus) {
	if m.ledger == nil {
		return
	}
	err := m.ledger.InsertMonitoredTx(&agreement.MonitoredTx{
		TxHash: txHash,
		Kind:   agreement.TxKindApprove,
		Status: status,
		Ref:    ref,
		SentAt: time.Now(),
	})
	if err != nil {
		logger.WithField("txHash", txHash.String()).Errorf("failed to record approval tx: err=%v", err)
	}
}

func (m *ApprovalManager) updateTx(txHash ethcommon.Hash, status agreement.TxStatus) {
	if m.ledger == nil {
		return
	}
	if err := m.ledger.UpdateTxStatus(txHash, status); err != nil {
		logger.WithField("txHash", txHash.String()).Errorf("failed to update approval tx: err=%v", err)
	}
}
