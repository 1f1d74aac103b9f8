package ledger

import (
	"crypto/rand"
	"errors"
	"io"

	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/scrypt"
)

const (
	saltLen  = 16
	nonceLen = 24

	// scrypt cost parameters, the interactive preset of the scrypt paper
	scryptN = 1 << 15
	scryptR = 8
	scryptP = 1
)

var ErrUnsealSecret = errors.New("failed to unseal bearer secret")

// sealer encrypts bearer secrets at rest with a key derived from the ledger
// passphrase. A sealed box is nonce || secretbox(secret).
type sealer struct {
	key [32]byte
}

func newSealer(passphrase string, salt []byte) (*sealer, error) {
	derived, err := scrypt.Key([]byte(passphrase), salt, scryptN, scryptR, scryptP, 32)
	if err != nil {
		return nil, err
	}
	s := &sealer{}
	copy(s.key[:], derived)
	return s, nil
}

func (s *sealer) seal(secret []byte) ([]byte, error) {
	var nonce [nonceLen]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, err
	}
	return secretbox.Seal(nonce[:], secret, &nonce, &s.key), nil
}

func (s *sealer) open(box []byte) ([]byte, error) {
	if len(box) < nonceLen+secretbox.Overhead {
		return nil, ErrUnsealSecret
	}
	var nonce [nonceLen]byte
	copy(nonce[:], box[:nonceLen])

	secret, ok := secretbox.Open(nil, box[nonceLen:], &nonce, &s.key)
	if !ok {
		return nil, ErrUnsealSecret
	}
	return secret, nil
}
