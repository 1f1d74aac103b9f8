package database

import (
	"database/sql"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/mattn/go-sqlite3"
)

func TestStmtCache(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	defer db.Close()
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`CREATE TABLE kv (key TEXT PRIMARY KEY, value TEXT)`)
	require.NoError(t, err)

	sc := NewStmtCache(db)
	defer sc.Clear()

	query := `INSERT INTO kv (key, value) VALUES (?, ?)`
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := sc.Prepare(query)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, sc.Len())

	_, err = sc.Exec(query, "a", "1")
	assert.NoError(t, err)

	var value string
	require.NoError(t, sc.MustPrepare(`SELECT value FROM kv WHERE key = ?`).QueryRow("a").Scan(&value))
	assert.Equal(t, "1", value)
	assert.Equal(t, 2, sc.Len())

	_, err = sc.Prepare(`SELECT * FROM missing`)
	assert.Error(t, err)
	assert.Panics(t, func() { sc.MustPrepare(`SELECT * FROM missing`) })

	sc.Clear()
	assert.Equal(t, 0, sc.Len())
}
