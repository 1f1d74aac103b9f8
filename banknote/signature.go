package banknote

import (
	"errors"

	"github.com/ethereum/go-ethereum/accounts"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/TEENet-io/banknote-go/etherman"
)

var ErrInvalidSignature = errors.New("invalid redemption signature")

// RedemptionDigest is the hash the bearer secret signs to let redeemer claim
// a note: EIP-191 personal message of keccak256(abi.encode(redeemer)). The
// deployed vault binds the redeemer only, not the amount.
func RedemptionDigest(redeemer ethcommon.Address) []byte {
	return accounts.TextHash(crypto.Keccak256(etherman.EncodeStatic(redeemer)))
}

// SignRedemption returns a 65 byte [R || S || V] signature with V in {27, 28}
// as ecrecover expects.
func SignRedemption(secret *BearerSecret, redeemer ethcommon.Address) ([]byte, error) {
	sig, err := crypto.Sign(RedemptionDigest(redeemer), secret.PrivateKey())
	if err != nil {
		return nil, err
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

// VerifyRedemption recovers the signer of sig and compares it with claim.
func VerifyRedemption(sig []byte, redeemer, claim ethcommon.Address) error {
	if len(sig) != crypto.SignatureLength {
		return ErrInvalidSignature
	}
	cpy := make([]byte, len(sig))
	copy(cpy, sig)
	if cpy[crypto.RecoveryIDOffset] >= 27 {
		cpy[crypto.RecoveryIDOffset] -= 27
	}

	pub, err := crypto.SigToPub(RedemptionDigest(redeemer), cpy)
	if err != nil {
		return ErrInvalidSignature
	}
	if crypto.PubkeyToAddress(*pub) != claim {
		return ErrInvalidSignature
	}
	return nil
}
