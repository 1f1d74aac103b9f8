package common

import (
	"crypto/rand"
	"errors"

	ethcommon "github.com/ethereum/go-ethereum/common"
)

var ErrBytes32TooLong = errors.New("string does not fit in bytes32")

func RandEthAddress() ethcommon.Address {
	b := make([]byte, 20)
	if _, err := rand.Read(b); err != nil {
		return ethcommon.Address{}
	}
	return ethcommon.BytesToAddress(b[:])
}

// IsEthAddress accepts 0x-prefixed, 40 hex character addresses only.
func IsEthAddress(s string) bool {
	if len(s) != 42 || (s[:2] != "0x" && s[:2] != "0X") {
		return false
	}
	return IsHexString(s)
}

// FormatBytes32String right pads s with zeros. One byte is kept for the
// terminator, so at most 31 bytes fit.
func FormatBytes32String(s string) ([32]byte, error) {
	var b [32]byte
	if len(s) > 31 {
		return b, ErrBytes32TooLong
	}
	copy(b[:], s)
	return b, nil
}

// ParseBytes32String is the inverse of FormatBytes32String.
func ParseBytes32String(b [32]byte) string {
	n := 0
	for n < len(b) && b[n] != 0 {
		n++
	}
	return string(b[:n])
}
