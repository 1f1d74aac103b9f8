package database

import (
	"context"
	"database/sql"
	"sync"
)

// StmtCache caches prepared statements by query string. Statements are
// prepared against the pool, so they can be shared by concurrent callers and
// bound to a transaction with sql.Tx.Stmt.
type StmtCache struct {
	db *sql.DB
	m  sync.Map // query -> *sql.Stmt
}

func NewStmtCache(db *sql.DB) *StmtCache {
	return &StmtCache{db: db}
}

func (sc *StmtCache) DB() *sql.DB {
	return sc.db
}

func (sc *StmtCache) Prepare(query string) (*sql.Stmt, error) {
	return sc.PrepareContext(context.Background(), query)
}

func (sc *StmtCache) PrepareContext(ctx context.Context, query string) (*sql.Stmt, error) {
	if cached, ok := sc.m.Load(query); ok {
		return cached.(*sql.Stmt), nil
	}

	stmt, err := sc.db.PrepareContext(ctx, query)
	if err != nil {
		return nil, err
	}
	// another caller may have prepared the same query meanwhile
	actual, loaded := sc.m.LoadOrStore(query, stmt)
	if loaded {
		_ = stmt.Close()
	}
	return actual.(*sql.Stmt), nil
}

func (sc *StmtCache) MustPrepare(query string) *sql.Stmt {
	stmt, err := sc.Prepare(query)
	if err != nil {
		panic(err)
	}
	return stmt
}

// Exec prepares query if needed and executes it.
func (sc *StmtCache) Exec(query string, args ...interface{}) (sql.Result, error) {
	stmt, err := sc.Prepare(query)
	if err != nil {
		return nil, err
	}
	return stmt.Exec(args...)
}

// Len is the number of cached statements.
func (sc *StmtCache) Len() int {
	n := 0
	sc.m.Range(func(_, _ interface{}) bool {
		n++
		return true
	})
	return n
}

func (sc *StmtCache) Clear() {
	sc.m.Range(func(k, v interface{}) bool {
		_ = v.(*sql.Stmt).Close()
		sc.m.Delete(k)
		return true
	})
}
