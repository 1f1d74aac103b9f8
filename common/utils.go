package common

import (
	"crypto/rand"
	"strings"

	ethcommon "github.com/ethereum/go-ethereum/common"
)

// Hashes, addresses and raw bytes are stored in sqlite as lower case hex
// without 0x.

func HashToDBHex(h ethcommon.Hash) string {
	return h.String()[2:]
}

func BytesToDBHex(b []byte) string {
	return ethcommon.Bytes2Hex(b)
}

// DBHexToBytes32 left pads short input and keeps the last 32 bytes of long
// input, like ethcommon.HexToHash.
func DBHexToBytes32(s string) [32]byte {
	return ethcommon.HexToHash(s)
}

func Trim0xPrefix(str string) string {
	s := strings.TrimPrefix(str, "0x")
	return strings.TrimPrefix(s, "0X")
}

func Prepend0xPrefix(str string) string {
	if strings.HasPrefix(str, "0x") || strings.HasPrefix(str, "0X") {
		return str
	}
	return "0x" + str
}

// IsHexString reports whether s (with or without 0x) is non-empty and only
// holds hex characters.
func IsHexString(s string) bool {
	s = Trim0xPrefix(s)
	if len(s) == 0 {
		return false
	}
	for _, c := range s {
		if !strings.ContainsRune("0123456789abcdefABCDEF", c) {
			return false
		}
	}
	return true
}

// RandBytes returns nil if the system source fails.
func RandBytes(n int) []byte {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil
	}
	return b
}
