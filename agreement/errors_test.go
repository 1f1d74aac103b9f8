package agreement

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
)

func TestErrorKinds(t *testing.T) {
	cause := errors.New("connection reset")
	err := NewError(KindApprovalExhausted, "approve", cause).WithTxHash(common.HexToHash("0x01"))

	wrapped := fmt.Errorf("mint failed: %w", err)
	assert.Equal(t, KindApprovalExhausted, KindOf(wrapped))
	assert.True(t, IsKind(wrapped, KindApprovalExhausted))
	assert.True(t, errors.Is(wrapped, ErrApprovalExhausted))
	assert.False(t, errors.Is(wrapped, ErrContractRevert))
	assert.True(t, errors.Is(wrapped, cause))

	assert.Contains(t, err.Error(), "approve: ApprovalExhausted")
	assert.Contains(t, err.Error(), "connection reset")
	assert.Contains(t, err.Error(), common.HexToHash("0x01").Hex())
}

func TestKindOfForeignError(t *testing.T) {
	assert.Equal(t, KindUnknown, KindOf(errors.New("boom")))
	assert.Equal(t, KindUnknown, KindOf(nil))
}

func TestRevertReason(t *testing.T) {
	err := NewError(KindContractRevert, "redeem", nil).WithReason("Invalid signature")
	assert.Equal(t, "redeem: ContractRevert: Invalid signature", err.Error())
}

func TestTerminal(t *testing.T) {
	assert.False(t, KindTransactionTimeout.Terminal())
	assert.False(t, KindRPCUnavailable.Terminal())
	assert.True(t, KindAlreadyRedeemed.Terminal())
	assert.True(t, KindConfiguration.Terminal())
	assert.Equal(t, "PartialAmountUnavailable", KindPartialAmountUnavailable.String())
	assert.Equal(t, "Kind(99)", Kind(99).String())
}

func TestContextAndStorageKinds(t *testing.T) {
	err := fmt.Errorf("redeem: %w", ContextError("redeem", context.Canceled))
	assert.True(t, errors.Is(err, ErrCanceled))
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, "Canceled", KindOf(err).String())
	assert.False(t, KindCanceled.Terminal())

	cause := errors.New("database is locked")
	err = NewError(KindStorage, "status", cause)
	assert.True(t, errors.Is(err, ErrStorage))
	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, "status: StorageError: database is locked", err.Error())
}
