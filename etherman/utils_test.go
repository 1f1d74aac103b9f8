package etherman

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
)

func TestEncodeStaticMatchesAbiEncode(t *testing.T) {
	addrTy, _ := abi.NewType("address", "", nil)
	uintTy, _ := abi.NewType("uint256", "", nil)
	args := abi.Arguments{{Type: addrTy}, {Type: uintTy}}

	addr := common.HexToAddress("0x00000000000000000000000000000000deadbeef")
	amount := big.NewInt(5_000_000)

	expected, err := args.Pack(addr, amount)
	assert.NoError(t, err)
	assert.Equal(t, expected, EncodeStatic(addr, amount))
}

func TestStringToPrivateKey(t *testing.T) {
	sk := GenPrivateKeys(1)[0]
	hexKey := common.Bytes2Hex(sk.D.FillBytes(make([]byte, 32)))

	parsed, err := StringToPrivateKey("0x" + hexKey)
	assert.NoError(t, err)
	assert.Equal(t, sk.D, parsed.D)

	_, err = StringToPrivateKey("not a key")
	assert.ErrorIs(t, err, ErrInvalidPrivateKey)
}
