package ledger

import (
	"database/sql"
	"math/big"
	"testing"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TEENet-io/banknote-go/agreement"
	"github.com/TEENet-io/banknote-go/common"

	_ "github.com/mattn/go-sqlite3"
)

func getMemoryDB(t *testing.T) *sql.DB {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	// every connection would get its own in-memory db
	db.SetMaxOpenConns(1)
	return db
}

func newTestLedger(t *testing.T, passphrase string) *Ledger {
	db := getMemoryDB(t)
	l, err := New(db, passphrase)
	require.NoError(t, err)
	t.Cleanup(func() {
		l.Close()
		db.Close()
	})
	return l
}

func randHash() ethcommon.Hash {
	return ethcommon.BytesToHash(common.RandBytes(32))
}

func randBanknote() *agreement.Banknote {
	return &agreement.Banknote{
		Issuer:       common.RandEthAddress(),
		ClaimAddress: common.RandEthAddress(),
		Asset:        common.RandEthAddress(),
		AssetSymbol:  "USDC",
		Denomination: big.NewInt(20),
		Status:       agreement.BanknotePending,
		MintTxHash:   randHash(),
	}
}

func TestBanknoteLifecycle(t *testing.T) {
	l := newTestLedger(t, "")

	note := randBanknote()
	require.NoError(t, l.InsertBanknote(note, nil))
	// idempotent
	require.NoError(t, l.InsertBanknote(note, nil))

	got, ok, err := l.GetBanknoteByMintTxHash(note.MintTxHash)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, note, got)

	pending, err := l.GetBanknotesByStatus(agreement.BanknotePending)
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	// unresolved first, then found by hand
	require.NoError(t, l.ResolveBanknote(note.MintTxHash, nil, agreement.BanknoteUnresolved))
	require.NoError(t, l.ResolveBanknote(note.MintTxHash, big.NewInt(7), agreement.BanknoteMinted))
	require.NoError(t, l.ResolveBanknote(note.MintTxHash, big.NewInt(7), agreement.BanknoteMinted))

	got, ok, err = l.GetBanknoteByID(big.NewInt(7))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, agreement.BanknoteMinted, got.Status)
	assert.Equal(t, int64(7), got.ID.Int64())

	// no way back
	assert.ErrorIs(t, l.ResolveBanknote(note.MintTxHash, nil, agreement.BanknoteUnresolved), ErrInvalidTransition)
	assert.ErrorIs(t, l.ResolveBanknote(note.MintTxHash, nil, agreement.BanknoteRedeemed), ErrInvalidStatus)
	assert.ErrorIs(t, l.ResolveBanknote(note.MintTxHash, nil, agreement.BanknoteMinted), ErrInvalidBanknote)
	assert.ErrorIs(t, l.ResolveBanknote(randHash(), nil, agreement.BanknoteFailed), ErrBanknoteNotFound)

	r := &agreement.Redemption{
		TxHash:      randHash(),
		BanknoteID:  big.NewInt(7),
		Redeemer:    common.RandEthAddress(),
		Asset:       note.Asset,
		AssetSymbol: "USDC",
		Amount:      big.NewInt(20_000_000),
	}
	copy(r.Description[:], "coffee")
	require.NoError(t, l.InsertRedemption(r))

	got, _, err = l.GetBanknoteByID(big.NewInt(7))
	require.NoError(t, err)
	assert.Equal(t, agreement.BanknoteRedeemed, got.Status)
	assert.Equal(t, r.TxHash, got.RedeemTxHash)

	redemptions, err := l.GetRedemptionsByBanknoteID(big.NewInt(7))
	require.NoError(t, err)
	require.Len(t, redemptions, 1)
	assert.Equal(t, r, redemptions[0])
}

func TestInsertRedemptionOfUnknownBanknote(t *testing.T) {
	l := newTestLedger(t, "")

	r := &agreement.Redemption{
		TxHash:      randHash(),
		BanknoteID:  big.NewInt(3),
		Redeemer:    common.RandEthAddress(),
		Asset:       common.RandEthAddress(),
		AssetSymbol: "DAI",
		Amount:      big.NewInt(1),
	}
	require.NoError(t, l.InsertRedemption(r))

	_, ok, err := l.GetBanknoteByID(big.NewInt(3))
	require.NoError(t, err)
	assert.False(t, ok)

	redemptions, err := l.GetRedemptionsByBanknoteID(big.NewInt(3))
	require.NoError(t, err)
	assert.Len(t, redemptions, 1)

	assert.ErrorIs(t, l.InsertRedemption(&agreement.Redemption{BanknoteID: big.NewInt(1)}), ErrInvalidBanknote)
}

func TestResolveAfterRedemption(t *testing.T) {
	l := newTestLedger(t, "")

	// mint not confirmed yet when the note is redeemed
	note := randBanknote()
	require.NoError(t, l.InsertBanknote(note, nil))
	r := &agreement.Redemption{
		TxHash:      randHash(),
		BanknoteID:  big.NewInt(1),
		Redeemer:    common.RandEthAddress(),
		Asset:       note.Asset,
		AssetSymbol: "USDC",
		Amount:      big.NewInt(20),
	}
	require.NoError(t, l.InsertRedemption(r))

	got, _, err := l.GetBanknoteByMintTxHash(note.MintTxHash)
	require.NoError(t, err)
	assert.Equal(t, agreement.BanknotePending, got.Status)

	require.NoError(t, l.ResolveBanknote(note.MintTxHash, big.NewInt(1), agreement.BanknoteMinted))
	got, _, err = l.GetBanknoteByMintTxHash(note.MintTxHash)
	require.NoError(t, err)
	assert.Equal(t, agreement.BanknoteRedeemed, got.Status)
	assert.Equal(t, r.TxHash, got.RedeemTxHash)
	assert.Equal(t, int64(1), got.ID.Int64())

	// resolving again changes nothing
	require.NoError(t, l.ResolveBanknote(note.MintTxHash, big.NewInt(1), agreement.BanknoteMinted))
	assert.ErrorIs(t, l.ResolveBanknote(note.MintTxHash, nil, agreement.BanknoteFailed), ErrInvalidTransition)

	// unresolved first
	other := randBanknote()
	require.NoError(t, l.InsertBanknote(other, nil))
	require.NoError(t, l.ResolveBanknote(other.MintTxHash, nil, agreement.BanknoteUnresolved))
	r2 := *r
	r2.TxHash, r2.BanknoteID = randHash(), big.NewInt(2)
	require.NoError(t, l.InsertRedemption(&r2))
	require.NoError(t, l.ResolveBanknote(other.MintTxHash, big.NewInt(2), agreement.BanknoteMinted))

	redeemed, err := l.GetBanknotesByStatus(agreement.BanknoteRedeemed)
	require.NoError(t, err)
	assert.Len(t, redeemed, 2)
}

func TestInsertInvalidBanknote(t *testing.T) {
	l := newTestLedger(t, "")

	note := randBanknote()
	note.MintTxHash = ethcommon.Hash{}
	assert.ErrorIs(t, l.InsertBanknote(note, nil), ErrInvalidBanknote)

	// rejected by the table constraints
	note = randBanknote()
	note.ClaimAddress = ethcommon.Address{}
	assert.Error(t, l.InsertBanknote(note, nil))
}

func TestSealedSecret(t *testing.T) {
	db := getMemoryDB(t)
	defer db.Close()

	l, err := New(db, "correct horse")
	require.NoError(t, err)

	note := randBanknote()
	secret := common.RandBytes(32)
	require.NoError(t, l.InsertBanknote(note, secret))

	got, ok, err := l.GetBanknoteSecret(note.MintTxHash)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, secret, got)

	// not stored in the clear
	var sealed []byte
	require.NoError(t, db.QueryRow(`SELECT sealedSecret FROM banknote`).Scan(&sealed))
	assert.NotContains(t, string(sealed), string(secret))

	_, ok, err = l.GetBanknoteSecret(randHash())
	require.NoError(t, err)
	assert.False(t, ok)
	l.Close()

	// same db, same passphrase
	l, err = New(db, "correct horse")
	require.NoError(t, err)
	got, ok, err = l.GetBanknoteSecret(note.MintTxHash)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, secret, got)
	l.Close()

	_, err = New(db, "wrong")
	assert.ErrorIs(t, err, ErrUnsealSecret)

	l, err = New(db, "")
	require.NoError(t, err)
	_, _, err = l.GetBanknoteSecret(note.MintTxHash)
	assert.ErrorIs(t, err, ErrNoPassphrase)
	l.Close()
}

func TestMonitoredTxOps(t *testing.T) {
	l := newTestLedger(t, "")

	mtxs, err := l.GetMonitoredTxsByStatus(agreement.TxPending)
	require.NoError(t, err)
	assert.Len(t, mtxs, 0)

	older := &agreement.MonitoredTx{
		TxHash: randHash(),
		Kind:   agreement.TxKindMint,
		Status: agreement.TxPending,
		Ref:    "USDC",
		SentAt: time.Unix(1_700_000_000, 0),
	}
	newer := &agreement.MonitoredTx{
		TxHash: randHash(),
		Kind:   agreement.TxKindRedeem,
		Status: agreement.TxPending,
		Ref:    "7",
		SentAt: time.Unix(1_700_000_100, 0),
	}
	require.NoError(t, l.InsertMonitoredTx(newer))
	require.NoError(t, l.InsertMonitoredTx(older))

	got, ok, err := l.GetMonitoredTx(older.TxHash)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, older, got)

	mtxs, err = l.GetMonitoredTxsByStatus(agreement.TxPending)
	require.NoError(t, err)
	require.Len(t, mtxs, 2)
	assert.Equal(t, older.TxHash, mtxs[0].TxHash)

	// a timed out tx can still be mined
	require.NoError(t, l.UpdateTxStatus(older.TxHash, agreement.TxTimeout))
	require.NoError(t, l.UpdateTxStatus(older.TxHash, agreement.TxSuccess))
	require.NoError(t, l.UpdateTxStatus(older.TxHash, agreement.TxSuccess))
	assert.ErrorIs(t, l.UpdateTxStatus(older.TxHash, agreement.TxReverted), ErrInvalidTransition)
	assert.ErrorIs(t, l.UpdateTxStatus(older.TxHash, agreement.TxPending), ErrInvalidStatus)
	assert.ErrorIs(t, l.UpdateTxStatus(randHash(), agreement.TxSuccess), ErrTxNotFound)

	require.NoError(t, l.UpdateTxStatus(newer.TxHash, agreement.TxTimeout))
	mtxs, err = l.GetMonitoredTxsByStatus(agreement.TxPending, agreement.TxTimeout)
	require.NoError(t, err)
	require.Len(t, mtxs, 1)
	assert.Equal(t, newer.TxHash, mtxs[0].TxHash)
}

func TestLastScannedBlock(t *testing.T) {
	l := newTestLedger(t, "")

	_, ok, err := l.GetLastScannedBlock()
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, l.SetLastScannedBlock(10))
	require.NoError(t, l.SetLastScannedBlock(42))

	num, ok, err := l.GetLastScannedBlock()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(42), num)
}
