package etherman

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	logger "github.com/sirupsen/logrus"
)

const (
	DefaultReceiptPollInterval = time.Second

	// consecutive receipt RPC failures tolerated before giving up
	maxReceiptErrors = 3
)

// TransactionReceipt returns (nil, nil) if the node does not know the
// receipt yet.
func (etherman *Etherman) TransactionReceipt(ctx context.Context, txHash ethcommon.Hash) (*types.Receipt, error) {
	if err := etherman.wait(ctx); err != nil {
		return nil, err
	}

	receipt, err := etherman.ethClient.TransactionReceipt(ctx, txHash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) || err.Error() == ethereum.NotFound.Error() {
			return nil, nil
		}
		return nil, err
	}
	if receipt == nil || receipt.BlockNumber == nil {
		return nil, nil
	}
	return receipt, nil
}

// WaitForReceipt polls until the transaction is mined. The deadline of ctx
// bounds the wait and yields ErrReceiptTimeout. A timeout says nothing about
// whether the transaction will still be mined.
func (etherman *Etherman) WaitForReceipt(
	ctx context.Context,
	txHash ethcommon.Hash,
	pollInterval time.Duration,
) (*types.Receipt, error) {
	if pollInterval <= 0 {
		pollInterval = DefaultReceiptPollInterval
	}
	newLogger := logger.WithField("txHash", txHash.String())

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	failures := 0
	for {
		receipt, err := etherman.TransactionReceipt(ctx, txHash)
		switch {
		case err == nil && receipt != nil:
			newLogger.WithField("block", receipt.BlockNumber).Debug("tx mined")
			return receipt, nil
		case err != nil && ctx.Err() == nil:
			failures++
			newLogger.Warnf("failed to get transaction receipt (%d/%d): err=%v", failures, maxReceiptErrors, err)
			if failures >= maxReceiptErrors {
				return nil, fmt.Errorf("%w: %v", ErrReceiptUnavailable, err)
			}
		case err == nil:
			failures = 0
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrReceiptTimeout, ctx.Err())
		case <-ticker.C:
		}
	}
}

// ReplayRevertReason re-executes a mined, failed transaction as a call
// against the block it was mined in to recover the revert reason. It
// returns "" if the node gives no reason.
func (etherman *Etherman) ReplayRevertReason(
	ctx context.Context,
	from ethcommon.Address,
	tx *types.Transaction,
	blockNumber *big.Int,
) string {
	msg := ethereum.CallMsg{
		From:  from,
		To:    tx.To(),
		Gas:   tx.Gas(),
		Value: tx.Value(),
		Data:  tx.Data(),
	}
	if err := etherman.wait(ctx); err != nil {
		return ""
	}
	_, err := etherman.ethClient.CallContract(ctx, msg, blockNumber)
	reason, _ := RevertReason(err)
	return reason
}
