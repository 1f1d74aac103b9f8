package ledger

import (
	"database/sql"
	"errors"
	"math/big"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"github.com/TEENet-io/banknote-go/agreement"
	"github.com/TEENet-io/banknote-go/common"
)

var ErrCorruptedRow = errors.New("corrupted ledger row")

// Addresses and hashes are stored as lower case hex without 0x, numbers as
// decimal strings since uint256 does not fit any sql integer type.
type sqlBanknote struct {
	MintTxHash   string
	Id           sql.NullString
	Issuer       string
	ClaimAddress string
	Asset        string
	AssetSymbol  string
	Denomination string
	Status       string
	RedeemTxHash sql.NullString
}

func (s *sqlBanknote) encode(b *agreement.Banknote) *sqlBanknote {
	s.MintTxHash = common.HashToDBHex(b.MintTxHash)
	s.Id = nullBigInt(b.ID)
	s.Issuer = addressToDBHex(b.Issuer)
	s.ClaimAddress = addressToDBHex(b.ClaimAddress)
	s.Asset = addressToDBHex(b.Asset)
	s.AssetSymbol = b.AssetSymbol
	s.Denomination = b.Denomination.String()
	s.Status = string(b.Status)
	s.RedeemTxHash = nullHash(b.RedeemTxHash)
	return s
}

func (s *sqlBanknote) decode() (*agreement.Banknote, error) {
	denomination, ok := new(big.Int).SetString(s.Denomination, 10)
	if !ok {
		return nil, ErrCorruptedRow
	}

	b := &agreement.Banknote{
		MintTxHash:   common.DBHexToBytes32(s.MintTxHash),
		Issuer:       ethcommon.HexToAddress(s.Issuer),
		ClaimAddress: ethcommon.HexToAddress(s.ClaimAddress),
		Asset:        ethcommon.HexToAddress(s.Asset),
		AssetSymbol:  s.AssetSymbol,
		Denomination: denomination,
		Status:       agreement.BanknoteStatus(s.Status),
	}
	if s.Id.Valid {
		if b.ID, ok = new(big.Int).SetString(s.Id.String, 10); !ok {
			return nil, ErrCorruptedRow
		}
	}
	if s.RedeemTxHash.Valid {
		b.RedeemTxHash = common.DBHexToBytes32(s.RedeemTxHash.String)
	}
	return b, nil
}

func (s *sqlBanknote) fields() []interface{} {
	return []interface{}{
		&s.MintTxHash, &s.Id, &s.Issuer, &s.ClaimAddress, &s.Asset,
		&s.AssetSymbol, &s.Denomination, &s.Status, &s.RedeemTxHash,
	}
}

type sqlRedemption struct {
	TxHash      string
	BanknoteId  string
	Redeemer    string
	Asset       string
	AssetSymbol string
	Amount      string
	Description string
}

func (s *sqlRedemption) encode(r *agreement.Redemption) *sqlRedemption {
	s.TxHash = common.HashToDBHex(r.TxHash)
	s.BanknoteId = r.BanknoteID.String()
	s.Redeemer = addressToDBHex(r.Redeemer)
	s.Asset = addressToDBHex(r.Asset)
	s.AssetSymbol = r.AssetSymbol
	s.Amount = r.Amount.String()
	s.Description = common.BytesToDBHex(r.Description[:])
	return s
}

func (s *sqlRedemption) decode() (*agreement.Redemption, error) {
	id, ok := new(big.Int).SetString(s.BanknoteId, 10)
	if !ok {
		return nil, ErrCorruptedRow
	}
	amount, ok := new(big.Int).SetString(s.Amount, 10)
	if !ok {
		return nil, ErrCorruptedRow
	}
	return &agreement.Redemption{
		TxHash:      common.DBHexToBytes32(s.TxHash),
		BanknoteID:  id,
		Redeemer:    ethcommon.HexToAddress(s.Redeemer),
		Asset:       ethcommon.HexToAddress(s.Asset),
		AssetSymbol: s.AssetSymbol,
		Amount:      amount,
		Description: common.DBHexToBytes32(s.Description),
	}, nil
}

func (s *sqlRedemption) fields() []interface{} {
	return []interface{}{
		&s.TxHash, &s.BanknoteId, &s.Redeemer, &s.Asset, &s.AssetSymbol, &s.Amount, &s.Description,
	}
}

type sqlMonitoredTx struct {
	TxHash string
	Kind   string
	Status string
	Ref    string
	SentAt int64
}

func (s *sqlMonitoredTx) encode(mtx *agreement.MonitoredTx) *sqlMonitoredTx {
	s.TxHash = common.HashToDBHex(mtx.TxHash)
	s.Kind = string(mtx.Kind)
	s.Status = string(mtx.Status)
	s.Ref = mtx.Ref
	s.SentAt = mtx.SentAt.Unix()
	return s
}

func (s *sqlMonitoredTx) decode() *agreement.MonitoredTx {
	return &agreement.MonitoredTx{
		TxHash: common.DBHexToBytes32(s.TxHash),
		Kind:   agreement.TxKind(s.Kind),
		Status: agreement.TxStatus(s.Status),
		Ref:    s.Ref,
		SentAt: time.Unix(s.SentAt, 0),
	}
}

func (s *sqlMonitoredTx) fields() []interface{} {
	return []interface{}{&s.TxHash, &s.Kind, &s.Status, &s.Ref, &s.SentAt}
}

func addressToDBHex(a ethcommon.Address) string {
	return common.BytesToDBHex(a.Bytes())
}

func nullBigInt(x *big.Int) sql.NullString {
	if x == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: x.String(), Valid: true}
}

func nullHash(h ethcommon.Hash) sql.NullString {
	if h == (ethcommon.Hash{}) {
		return sql.NullString{}
	}
	return sql.NullString{String: common.HashToDBHex(h), Valid: true}
}
