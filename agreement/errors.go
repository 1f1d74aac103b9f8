package agreement

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Kind classifies every error that leaves a banknote component.
type Kind int

const (
	KindUnknown Kind = iota
	KindConfiguration
	KindInvalidInput
	KindInsufficientFunds
	KindInsufficientAllowance
	KindApprovalExhausted
	KindTransactionTimeout
	KindContractRevert
	KindEventNotFound
	KindAlreadyRedeemed
	KindPartialAmountUnavailable
	KindRPCUnavailable
	KindCanceled
	KindStorage
)

var kindNames = map[Kind]string{
	KindUnknown:                  "Unknown",
	KindConfiguration:            "ConfigurationError",
	KindInvalidInput:             "InvalidInput",
	KindInsufficientFunds:        "InsufficientFunds",
	KindInsufficientAllowance:    "InsufficientAllowance",
	KindApprovalExhausted:        "ApprovalExhausted",
	KindTransactionTimeout:       "TransactionTimeout",
	KindContractRevert:           "ContractRevert",
	KindEventNotFound:            "EventNotFound",
	KindAlreadyRedeemed:          "AlreadyRedeemed",
	KindPartialAmountUnavailable: "PartialAmountUnavailable",
	KindRPCUnavailable:           "RPCUnavailable",
	KindCanceled:                 "Canceled",
	KindStorage:                  "StorageError",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Terminal reports whether retrying the same request can change the outcome.
// TransactionTimeout is not terminal but must be resolved by re-querying the
// hash, not by resubmitting.
func (k Kind) Terminal() bool {
	switch k {
	case KindTransactionTimeout, KindRPCUnavailable, KindEventNotFound, KindCanceled, KindStorage:
		return false
	}
	return true
}

// Targets for errors.Is.
var (
	ErrConfiguration            = &Error{Kind: KindConfiguration}
	ErrInvalidInput             = &Error{Kind: KindInvalidInput}
	ErrInsufficientFunds        = &Error{Kind: KindInsufficientFunds}
	ErrInsufficientAllowance    = &Error{Kind: KindInsufficientAllowance}
	ErrApprovalExhausted        = &Error{Kind: KindApprovalExhausted}
	ErrTransactionTimeout       = &Error{Kind: KindTransactionTimeout}
	ErrContractRevert           = &Error{Kind: KindContractRevert}
	ErrEventNotFound            = &Error{Kind: KindEventNotFound}
	ErrAlreadyRedeemed          = &Error{Kind: KindAlreadyRedeemed}
	ErrPartialAmountUnavailable = &Error{Kind: KindPartialAmountUnavailable}
	ErrRPCUnavailable           = &Error{Kind: KindRPCUnavailable}
	ErrCanceled                 = &Error{Kind: KindCanceled}
	ErrStorage                  = &Error{Kind: KindStorage}
)

// Error is the only error type the components hand back to their callers.
type Error struct {
	Kind   Kind
	Op     string      // operation that failed, e.g. "mint"
	TxHash common.Hash // zero if nothing was broadcast
	Reason string      // revert reason supplied by the chain, if any
	Err    error       // underlying cause
}

func NewError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) WithTxHash(txHash common.Hash) *Error {
	e.TxHash = txHash
	return e
}

func (e *Error) WithReason(reason string) *Error {
	e.Reason = reason
	return e
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.TxHash != (common.Hash{}) {
		msg += " (tx " + e.TxHash.Hex() + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches on Kind so that errors.Is(err, ErrAlreadyRedeemed) works. The
// cause is reached through Unwrap, so errors.Is(err, context.Canceled)
// works as well.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// ContextError wraps the error of a done ctx. Callers can test for either
// ErrCanceled or the context error itself.
func ContextError(op string, err error) *Error {
	return NewError(KindCanceled, op, err)
}

func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
