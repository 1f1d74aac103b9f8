package ethsync

import (
	"errors"
	"fmt"
	"math/big"
)

var (
	ErrDBOpGetLastScannedBlock = errors.New("failed to get last scanned block")
	ErrDBOpSetLastScannedBlock = errors.New("failed to set last scanned block")
)

func ErrChainIDUnmatched(expected, actual *big.Int) error {
	msg := fmt.Sprintf("chain ID mismatch: expected=%v, actual=%v", expected, actual)
	return errors.New(msg)
}
