package etherman

import (
	"bytes"
	"crypto/ecdsa"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"

	mycommon "github.com/TEENet-io/banknote-go/common"
)

var ErrInvalidPrivateKey = errors.New("invalid private key")

// StringToPrivateKey parses a hex private key with or without 0x.
func StringToPrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	sk, err := crypto.HexToECDSA(mycommon.Trim0xPrefix(hexKey))
	if err != nil {
		return nil, ErrInvalidPrivateKey
	}
	return sk, nil
}

func NewAuth(sk *ecdsa.PrivateKey, chainID *big.Int) (*bind.TransactOpts, error) {
	return bind.NewKeyedTransactorWithChainID(sk, chainID)
}

// GenPrivateKeys generates n random keys.
func GenPrivateKeys(n int) []*ecdsa.PrivateKey {
	sks := make([]*ecdsa.PrivateKey, n)
	for i := 0; i < n; i++ {
		sks[i], _ = crypto.GenerateKey()
	}
	return sks
}

// EncodeStatic is abi.encode restricted to static 32 byte words: every value
// takes exactly one left padded word.
func EncodeStatic(values ...interface{}) []byte {
	var res [][]byte
	for _, value := range values {
		switch v := value.(type) {
		case common.Address:
			res = append(res, common.LeftPadBytes(v.Bytes(), 32))
		case *big.Int:
			res = append(res, math.U256Bytes(new(big.Int).Set(v)))
		case [32]byte:
			res = append(res, v[:])
		case common.Hash:
			res = append(res, v.Bytes())
		case bool:
			word := make([]byte, 32)
			if v {
				word[31] = 1
			}
			res = append(res, word)
		default:
			panic("EncodeStatic: unsupported type")
		}
	}
	return bytes.Join(res, nil)
}
