package banknote

import (
	"crypto/ecdsa"
	"errors"
	"strings"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/tyler-smith/go-bip39"

	"github.com/TEENet-io/banknote-go/common"
)

var (
	ErrInvalidSecret   = errors.New("invalid bearer secret")
	ErrInvalidMnemonic = errors.New("invalid bearer secret mnemonic")
)

// BearerSecret is the private key printed on a banknote. Whoever holds it
// can redeem the note. Its String form is redacted so it never ends up in
// logs by accident.
type BearerSecret struct {
	sk *ecdsa.PrivateKey
}

// GenerateBearerSecret creates a fresh secp256k1 key.
func GenerateBearerSecret() (*BearerSecret, error) {
	sk, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	return &BearerSecret{sk: sk}, nil
}

func NewBearerSecret(sk *ecdsa.PrivateKey) *BearerSecret {
	return &BearerSecret{sk: sk}
}

// ParseBearerSecret accepts a 64 char hex key (0x optional), the 24 word
// mnemonic produced by Mnemonic, or an exported note token.
func ParseBearerSecret(s string) (*BearerSecret, error) {
	s = strings.TrimSpace(s)

	switch {
	case strings.HasPrefix(s, ExportPrefix):
		note, err := ParseExportedNote(s)
		if err != nil {
			return nil, err
		}
		return note.Secret, nil
	case strings.Contains(s, " "):
		return secretFromMnemonic(s)
	}

	hexKey := common.Trim0xPrefix(s)
	if len(hexKey) != 64 || !common.IsHexString(hexKey) {
		return nil, ErrInvalidSecret
	}
	sk, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, ErrInvalidSecret
	}
	return &BearerSecret{sk: sk}, nil
}

func secretFromMnemonic(mnemonic string) (*BearerSecret, error) {
	mnemonic = strings.Join(strings.Fields(strings.ToLower(mnemonic)), " ")
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, ErrInvalidMnemonic
	}
	entropy, err := bip39.EntropyFromMnemonic(mnemonic)
	if err != nil {
		return nil, ErrInvalidMnemonic
	}
	return BearerSecretFromBytes(entropy)
}

// BearerSecretFromBytes rebuilds a secret from the 32 bytes of Bytes.
func BearerSecretFromBytes(b []byte) (*BearerSecret, error) {
	sk, err := crypto.ToECDSA(b)
	if err != nil {
		return nil, ErrInvalidSecret
	}
	return &BearerSecret{sk: sk}, nil
}

func (s *BearerSecret) PrivateKey() *ecdsa.PrivateKey {
	return s.sk
}

// Bytes returns the 32 byte private key.
func (s *BearerSecret) Bytes() []byte {
	return crypto.FromECDSA(s.sk)
}

// Hex returns the private key as 0x prefixed hex.
func (s *BearerSecret) Hex() string {
	return hexutil.Encode(s.Bytes())
}

// ClaimAddress is registered on chain as the note's claim key.
func (s *BearerSecret) ClaimAddress() ethcommon.Address {
	return crypto.PubkeyToAddress(s.sk.PublicKey)
}

// Mnemonic encodes the key as 24 BIP-39 words. The words are the key
// itself, not a seed it is derived from.
func (s *BearerSecret) Mnemonic() (string, error) {
	return bip39.NewMnemonic(s.Bytes())
}

func (s *BearerSecret) String() string {
	return "BearerSecret(" + s.ClaimAddress().Hex() + ", redacted)"
}
