package banknote

import (
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"strings"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/fxamacker/cbor/v2"
)

// ExportPrefix marks version A of the exported note token.
const ExportPrefix = "bnkA"

var ErrInvalidExport = errors.New("invalid exported banknote")

// ExportedNote is everything a printed banknote needs to be redeemed
// elsewhere.
type ExportedNote struct {
	ChainID      *big.Int
	Vault        ethcommon.Address
	ID           *big.Int
	AssetSymbol  string
	Denomination *big.Int
	Secret       *BearerSecret
}

type exportedNoteCBOR struct {
	ChainID      []byte `cbor:"c"`
	Vault        []byte `cbor:"v"`
	ID           []byte `cbor:"i"`
	AssetSymbol  string `cbor:"a"`
	Denomination []byte `cbor:"d"`
	Secret       []byte `cbor:"s"`
}

// ExportNote serializes note for the QR/PDF generator. The token contains the
// bearer secret in the clear.
func ExportNote(note *ExportedNote) (string, error) {
	if note.Secret == nil || note.ID == nil || note.Denomination == nil {
		return "", ErrInvalidExport
	}
	chainID := note.ChainID
	if chainID == nil {
		chainID = new(big.Int)
	}

	cborData, err := cbor.Marshal(exportedNoteCBOR{
		ChainID:      chainID.Bytes(),
		Vault:        note.Vault.Bytes(),
		ID:           note.ID.Bytes(),
		AssetSymbol:  note.AssetSymbol,
		Denomination: note.Denomination.Bytes(),
		Secret:       note.Secret.Bytes(),
	})
	if err != nil {
		return "", fmt.Errorf("cbor.Marshal: %v", err)
	}

	return ExportPrefix + base64.RawURLEncoding.EncodeToString(cborData), nil
}

func ParseExportedNote(token string) (*ExportedNote, error) {
	token = strings.TrimSpace(token)
	if !strings.HasPrefix(token, ExportPrefix) {
		return nil, ErrInvalidExport
	}

	data, err := base64.RawURLEncoding.DecodeString(token[len(ExportPrefix):])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidExport, err)
	}

	var raw exportedNoteCBOR
	if err := cbor.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: cbor.Unmarshal: %v", ErrInvalidExport, err)
	}
	if len(raw.Vault) != ethcommon.AddressLength {
		return nil, ErrInvalidExport
	}

	secret, err := BearerSecretFromBytes(raw.Secret)
	if err != nil {
		return nil, err
	}

	return &ExportedNote{
		ChainID:      new(big.Int).SetBytes(raw.ChainID),
		Vault:        ethcommon.BytesToAddress(raw.Vault),
		ID:           new(big.Int).SetBytes(raw.ID),
		AssetSymbol:  raw.AssetSymbol,
		Denomination: new(big.Int).SetBytes(raw.Denomination),
		Secret:       secret,
	}, nil
}
