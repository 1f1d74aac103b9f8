package etherman

import (
	"context"
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/TEENet-io/banknote-go/agreement"
)

var (
	ErrReceiptTimeout     = errors.New("timed out waiting for transaction receipt")
	ErrReceiptUnavailable = errors.New("failed to get transaction receipt")
	ErrEventNotFound      = errors.New("event not found in receipt")
	ErrUnknownEvent       = errors.New("unknown event")
)

const msgExecutionReverted = "execution reverted"

// RevertReason extracts the revert reason from an error returned by
// eth_call or eth_estimateGas. ok is false if err is not a revert.
func RevertReason(err error) (reason string, ok bool) {
	if err == nil {
		return "", false
	}

	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		if hexData, isStr := dataErr.ErrorData().(string); isStr {
			if r, uerr := abi.UnpackRevert(ethcommon.FromHex(hexData)); uerr == nil {
				return r, true
			}
		}
	}

	msg := err.Error()
	i := strings.Index(msg, msgExecutionReverted)
	if i < 0 {
		return "", false
	}
	rest := strings.TrimPrefix(msg[i+len(msgExecutionReverted):], ":")
	return strings.TrimSpace(rest), true
}

// ClassifyError turns any error coming out of this package into the error
// kinds callers are allowed to see.
func ClassifyError(op string, err error) *agreement.Error {
	if err == nil {
		return nil
	}

	var e *agreement.Error
	if errors.As(err, &e) {
		return e
	}

	if reason, ok := RevertReason(err); ok {
		return agreement.NewError(agreement.KindContractRevert, op, err).WithReason(reason)
	}

	switch {
	case errors.Is(err, ErrReceiptTimeout):
		return agreement.NewError(agreement.KindTransactionTimeout, op, err)
	case errors.Is(err, ErrEventNotFound):
		return agreement.NewError(agreement.KindEventNotFound, op, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return agreement.ContextError(op, err)
	}

	return agreement.NewError(agreement.KindRPCUnavailable, op, err)
}
