// Package ledger is the append-only off-chain record of banknotes,
// redemptions and the transactions sent for them, backed by sqlite.
package ledger

import (
	"bytes"
	"database/sql"
	"encoding/binary"
	"errors"
	"math/big"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"github.com/TEENet-io/banknote-go/agreement"
	"github.com/TEENet-io/banknote-go/common"
	"github.com/TEENet-io/banknote-go/database"
)

var (
	ErrBanknoteNotFound  = errors.New("banknote not found")
	ErrTxNotFound        = errors.New("monitored tx not found")
	ErrInvalidStatus     = errors.New("invalid status")
	ErrInvalidBanknote   = errors.New("invalid banknote")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrNoPassphrase      = errors.New("ledger has no passphrase, secrets are not stored")
)

const (
	keySealSalt         = "sealSalt"
	keySealCheck        = "sealCheck"
	keyLastScannedBlock = "lastScannedBlock"
)

// sealed under the passphrase on first use, unsealed on every later start
var sealCheck = []byte("banknote ledger")

type Ledger struct {
	db        *sql.DB
	stmtCache *database.StmtCache
	sealer    *sealer // nil without passphrase
}

// New creates the tables if needed. Bearer secrets are only persisted if
// passphrase is not empty; the salt is generated on first use and kept in
// the db, so the same passphrase must be supplied on every start. A
// different passphrase fails with ErrUnsealSecret.
func New(db *sql.DB, passphrase string) (*Ledger, error) {
	if _, err := db.Exec(banknoteTable + redemptionTable + monitoredTxTable + kvTable); err != nil {
		return nil, err
	}

	l := &Ledger{
		db:        db,
		stmtCache: database.NewStmtCache(db),
	}

	if passphrase != "" {
		salt, ok, err := l.getKeyedValue(keySealSalt)
		if err != nil {
			return nil, err
		}
		if !ok {
			salt = common.RandBytes(saltLen)
			if err := l.setKeyedValue(keySealSalt, salt); err != nil {
				return nil, err
			}
		}
		if l.sealer, err = newSealer(passphrase, salt); err != nil {
			return nil, err
		}
		if err := l.checkSealer(); err != nil {
			return nil, err
		}
	}

	return l, nil
}

func (l *Ledger) checkSealer() error {
	box, ok, err := l.getKeyedValue(keySealCheck)
	if err != nil {
		return err
	}
	if !ok {
		if box, err = l.sealer.seal(sealCheck); err != nil {
			return err
		}
		return l.setKeyedValue(keySealCheck, box)
	}

	opened, err := l.sealer.open(box)
	if err != nil || !bytes.Equal(opened, sealCheck) {
		return ErrUnsealSecret
	}
	return nil
}

func (l *Ledger) Close() {
	l.stmtCache.Clear()
}

func (l *Ledger) getKeyedValue(key string) ([]byte, bool, error) {
	stmt, err := l.stmtCache.Prepare(`SELECT value FROM kv WHERE key = ?`)
	if err != nil {
		return nil, false, err
	}

	var value []byte
	if err := stmt.QueryRow(key).Scan(&value); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, err
	}
	return value, true, nil
}

// kv entries are written once
func (l *Ledger) setKeyedValue(key string, value []byte) error {
	_, err := l.stmtCache.Exec(`INSERT OR IGNORE INTO kv (key, value) VALUES (?, ?)`, key, value)
	return err
}

// GetLastScannedBlock returns the last block whose vault logs were applied
// to the ledger.
func (l *Ledger) GetLastScannedBlock() (uint64, bool, error) {
	value, ok, err := l.getKeyedValue(keyLastScannedBlock)
	if err != nil || !ok {
		return 0, false, err
	}
	if len(value) != 8 {
		return 0, false, ErrCorruptedRow
	}
	return binary.BigEndian.Uint64(value), true, nil
}

func (l *Ledger) SetLastScannedBlock(num uint64) error {
	value := make([]byte, 8)
	binary.BigEndian.PutUint64(value, num)
	_, err := l.stmtCache.Exec(`INSERT INTO kv (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		keyLastScannedBlock, value)
	return err
}

//////////////////////////////////////////////////////////////////////
// banknotes
//////////////////////////////////////////////////////////////////////

// InsertBanknote stores a banknote whose mint was just broadcast. Inserting
// the same mint tx twice is a no-op.
func (l *Ledger) InsertBanknote(note *agreement.Banknote, secret []byte) error {
	if note.MintTxHash == (ethcommon.Hash{}) || note.Denomination == nil {
		return ErrInvalidBanknote
	}
	if note.Status == "" {
		note.Status = agreement.BanknotePending
	}

	var sealed []byte
	if l.sealer != nil && len(secret) > 0 {
		var err error
		if sealed, err = l.sealer.seal(secret); err != nil {
			return err
		}
	}

	sqlNote := (&sqlBanknote{}).encode(note)
	_, err := l.stmtCache.Exec(
		`INSERT OR IGNORE INTO banknote (`+banknoteColumns+`, sealedSecret) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		append(valuesOf(sqlNote.fields()), sealed)...,
	)
	return err
}

// ResolveBanknote records the outcome of a mint. A pending banknote can
// become minted, unresolved or failed; an unresolved one can still become
// minted once its id is found. A note whose redemption was recorded before
// its mint was resolved goes straight to redeemed. Repeating a transition
// is a no-op.
func (l *Ledger) ResolveBanknote(mintTxHash ethcommon.Hash, id *big.Int, status agreement.BanknoteStatus) error {
	var redeemTxHash sql.NullString
	switch status {
	case agreement.BanknoteMinted:
		if id == nil {
			return ErrInvalidBanknote
		}
		redemptions, err := l.GetRedemptionsByBanknoteID(id)
		if err != nil {
			return err
		}
		if len(redemptions) > 0 {
			status = agreement.BanknoteRedeemed
			redeemTxHash = nullHash(redemptions[0].TxHash)
		}
	case agreement.BanknoteUnresolved, agreement.BanknoteFailed:
	default:
		return ErrInvalidStatus
	}

	res, err := l.stmtCache.Exec(
		`UPDATE banknote SET id = ?, status = ?, redeemTxHash = ? WHERE mintTxHash = ? AND status IN ('pending', 'unresolved')`,
		nullBigInt(id), string(status), redeemTxHash, common.HashToDBHex(mintTxHash),
	)
	if err != nil {
		return err
	}
	return l.checkBanknoteTransition(res, mintTxHash, status)
}

func (l *Ledger) checkBanknoteTransition(res sql.Result, mintTxHash ethcommon.Hash, status agreement.BanknoteStatus) error {
	n, err := res.RowsAffected()
	if err != nil || n > 0 {
		return err
	}

	note, ok, err := l.GetBanknoteByMintTxHash(mintTxHash)
	if err != nil {
		return err
	}
	if !ok {
		return ErrBanknoteNotFound
	}
	if note.Status != status {
		return ErrInvalidTransition
	}
	return nil
}

func (l *Ledger) GetBanknoteByMintTxHash(mintTxHash ethcommon.Hash) (*agreement.Banknote, bool, error) {
	return l.getBanknote(`SELECT`+banknoteColumns+`FROM banknote WHERE mintTxHash = ?`, common.HashToDBHex(mintTxHash))
}

func (l *Ledger) GetBanknoteByID(id *big.Int) (*agreement.Banknote, bool, error) {
	return l.getBanknote(`SELECT`+banknoteColumns+`FROM banknote WHERE id = ?`, id.String())
}

func (l *Ledger) getBanknote(query string, arg interface{}) (*agreement.Banknote, bool, error) {
	stmt, err := l.stmtCache.Prepare(query)
	if err != nil {
		return nil, false, err
	}

	var sqlNote sqlBanknote
	if err := stmt.QueryRow(arg).Scan(sqlNote.fields()...); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, err
	}

	note, err := sqlNote.decode()
	if err != nil {
		return nil, false, err
	}
	return note, true, nil
}

func (l *Ledger) GetBanknotesByStatus(status agreement.BanknoteStatus) ([]*agreement.Banknote, error) {
	stmt, err := l.stmtCache.Prepare(`SELECT` + banknoteColumns + `FROM banknote WHERE status = ?`)
	if err != nil {
		return nil, err
	}

	rows, err := stmt.Query(string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	notes := []*agreement.Banknote{}
	for rows.Next() {
		var sqlNote sqlBanknote
		if err := rows.Scan(sqlNote.fields()...); err != nil {
			return nil, err
		}
		note, err := sqlNote.decode()
		if err != nil {
			return nil, err
		}
		notes = append(notes, note)
	}
	return notes, rows.Err()
}

// GetBanknoteSecret unseals the bearer secret of the banknote minted by
// mintTxHash. ok is false if the banknote or its secret is not stored.
func (l *Ledger) GetBanknoteSecret(mintTxHash ethcommon.Hash) ([]byte, bool, error) {
	if l.sealer == nil {
		return nil, false, ErrNoPassphrase
	}

	stmt, err := l.stmtCache.Prepare(`SELECT sealedSecret FROM banknote WHERE mintTxHash = ?`)
	if err != nil {
		return nil, false, err
	}

	var sealed []byte
	if err := stmt.QueryRow(common.HashToDBHex(mintTxHash)).Scan(&sealed); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, err
	}
	if len(sealed) == 0 {
		return nil, false, nil
	}

	secret, err := l.sealer.open(sealed)
	if err != nil {
		return nil, false, err
	}
	return secret, true, nil
}

//////////////////////////////////////////////////////////////////////
// redemptions
//////////////////////////////////////////////////////////////////////

// InsertRedemption stores r and marks the banknote redeemed if this ledger
// minted it, atomically. Unknown ids are kept: the redeeming merchant
// usually did not mint the note. A note still pending or unresolved has no
// id yet; ResolveBanknote picks the redemption up later.
func (l *Ledger) InsertRedemption(r *agreement.Redemption) error {
	if r.TxHash == (ethcommon.Hash{}) || r.BanknoteID == nil || r.Amount == nil {
		return ErrInvalidBanknote
	}

	insert, err := l.stmtCache.Prepare(`INSERT OR IGNORE INTO redemption (` + redemptionColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	mark, err := l.stmtCache.Prepare(`UPDATE banknote SET status = 'redeemed', redeemTxHash = ? WHERE id = ? AND status = 'minted'`)
	if err != nil {
		return err
	}

	tx, err := l.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	sqlR := (&sqlRedemption{}).encode(r)
	if _, err := tx.Stmt(insert).Exec(valuesOf(sqlR.fields())...); err != nil {
		return err
	}
	if _, err := tx.Stmt(mark).Exec(sqlR.TxHash, sqlR.BanknoteId); err != nil {
		return err
	}
	return tx.Commit()
}

// GetRedemptionsByBanknoteID returns the redemptions recorded for id,
// oldest first.
func (l *Ledger) GetRedemptionsByBanknoteID(id *big.Int) ([]*agreement.Redemption, error) {
	stmt, err := l.stmtCache.Prepare(`SELECT` + redemptionColumns + `FROM redemption WHERE banknoteId = ? ORDER BY rowid`)
	if err != nil {
		return nil, err
	}

	rows, err := stmt.Query(id.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	redemptions := []*agreement.Redemption{}
	for rows.Next() {
		var sqlR sqlRedemption
		if err := rows.Scan(sqlR.fields()...); err != nil {
			return nil, err
		}
		r, err := sqlR.decode()
		if err != nil {
			return nil, err
		}
		redemptions = append(redemptions, r)
	}
	return redemptions, rows.Err()
}

//////////////////////////////////////////////////////////////////////
// monitored txs
//////////////////////////////////////////////////////////////////////

func (l *Ledger) InsertMonitoredTx(mtx *agreement.MonitoredTx) error {
	sqlMtx := (&sqlMonitoredTx{}).encode(mtx)
	_, err := l.stmtCache.Exec(
		`INSERT OR IGNORE INTO monitoredTx (`+monitoredTxColumns+`) VALUES (?, ?, ?, ?, ?)`,
		valuesOf(sqlMtx.fields())...,
	)
	return err
}

// UpdateTxStatus records what became of a monitored tx. Only pending and
// timed out txs can change; a tx that timed out may still be mined.
func (l *Ledger) UpdateTxStatus(txHash ethcommon.Hash, status agreement.TxStatus) error {
	switch status {
	case agreement.TxSuccess, agreement.TxReverted, agreement.TxTimeout:
	default:
		return ErrInvalidStatus
	}

	res, err := l.stmtCache.Exec(
		`UPDATE monitoredTx SET status = ? WHERE txHash = ? AND status IN ('pending', 'timeout')`,
		string(status), common.HashToDBHex(txHash),
	)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil || n > 0 {
		return err
	}
	mtx, ok, err := l.GetMonitoredTx(txHash)
	if err != nil {
		return err
	}
	if !ok {
		return ErrTxNotFound
	}
	if mtx.Status != status {
		return ErrInvalidTransition
	}
	return nil
}

func (l *Ledger) GetMonitoredTx(txHash ethcommon.Hash) (*agreement.MonitoredTx, bool, error) {
	stmt, err := l.stmtCache.Prepare(`SELECT` + monitoredTxColumns + `FROM monitoredTx WHERE txHash = ?`)
	if err != nil {
		return nil, false, err
	}

	var sqlMtx sqlMonitoredTx
	if err := stmt.QueryRow(common.HashToDBHex(txHash)).Scan(sqlMtx.fields()...); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, err
	}
	return sqlMtx.decode(), true, nil
}

// GetMonitoredTxsByStatus returns the txs in any of statuses, grouped in the
// order statuses are given and oldest first within a group.
func (l *Ledger) GetMonitoredTxsByStatus(statuses ...agreement.TxStatus) ([]*agreement.MonitoredTx, error) {
	stmt, err := l.stmtCache.Prepare(`SELECT` + monitoredTxColumns + `FROM monitoredTx WHERE status = ? ORDER BY sentAt`)
	if err != nil {
		return nil, err
	}

	mtxs := []*agreement.MonitoredTx{}
	for _, status := range statuses {
		rows, err := stmt.Query(string(status))
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var sqlMtx sqlMonitoredTx
			if err := rows.Scan(sqlMtx.fields()...); err != nil {
				rows.Close()
				return nil, err
			}
			mtxs = append(mtxs, sqlMtx.decode())
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}
	return mtxs, nil
}

// valuesOf dereferences the scan targets of a sql row type to get the
// values to insert.
func valuesOf(fields []interface{}) []interface{} {
	values := make([]interface{}, len(fields))
	for i, f := range fields {
		switch v := f.(type) {
		case *string:
			values[i] = *v
		case *int64:
			values[i] = *v
		case *sql.NullString:
			values[i] = *v
		default:
			panic("valuesOf: unsupported field type")
		}
	}
	return values
}
