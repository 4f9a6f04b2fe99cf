// Package fakes provides in-memory stand-ins for pgx transactions so
// service tests can assert commit and rollback without a database.
package fakes

import (
	"context"
	"errors"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Pool hands out a fresh Tx on every Begin.
type Pool struct {
	mu  sync.Mutex
	txs []*Tx

	// BeginErr, when set, is returned by Begin.
	BeginErr error
}

func (p *Pool) Begin(context.Context) (pgx.Tx, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.BeginErr != nil {
		return nil, p.BeginErr
	}
	tx := &Tx{}
	p.txs = append(p.txs, tx)
	return tx, nil
}

// QueryRow is not supported; services under test read through their
// repository fakes.
func (p *Pool) QueryRow(context.Context, string, ...any) pgx.Row {
	panic("fakes: Pool.QueryRow not implemented")
}

// Last returns the most recent transaction, or nil.
func (p *Pool) Last() *Tx {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.txs) == 0 {
		return nil
	}
	return p.txs[len(p.txs)-1]
}

// Count returns the number of transactions begun.
func (p *Pool) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.txs)
}

// Tx records Commit and Rollback. Rollback after Commit is a no-op, as
// with pgx.
type Tx struct {
	mu        sync.Mutex
	committed bool
	rolled    bool
}

func (t *Tx) Committed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.committed
}

func (t *Tx) RolledBack() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rolled
}

func (t *Tx) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("fakes: nested transactions not supported")
}

func (t *Tx) Commit(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.committed = true
	return nil
}

func (t *Tx) Rollback(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.committed {
		t.rolled = true
	}
	return nil
}

func (t *Tx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}

func (t *Tx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}

func (t *Tx) LargeObjects() pgx.LargeObjects {
	panic("not implemented")
}

func (t *Tx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}

func (t *Tx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	panic("not implemented")
}

func (t *Tx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("not implemented")
}

func (t *Tx) QueryRow(context.Context, string, ...any) pgx.Row {
	panic("not implemented")
}

func (t *Tx) Conn() *pgx.Conn {
	return nil
}
