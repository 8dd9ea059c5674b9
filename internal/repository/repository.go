// Package repository contains the data access layer.
//
// Queries are hand-written SQL executed through database/sql with the pgx
// stdlib driver. Methods scan directly into domain types. Anything that
// must be safe under concurrent callers (usage counters, threshold claims,
// cycle resets) is expressed as a single guarded UPDATE so the database,
// not application memory, arbitrates races.
package repository

import (
	"context"
	"database/sql"

	"github.com/parlor-chat/parlor/internal/service"
)

// DBTX is the subset of database/sql shared by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Queries provides access to all database operations.
type Queries struct {
	db DBTX
}

// New creates a Queries instance backed by the given database handle.
func New(db DBTX) *Queries {
	return &Queries{db: db}
}

// WithTx returns a Queries instance that runs all operations inside tx.
func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

// Compile-time checks that Queries satisfies every service store contract.
var (
	_ service.UsageStore        = (*Queries)(nil)
	_ service.OrganizationStore = (*Queries)(nil)
	_ service.UserStore         = (*Queries)(nil)
	_ service.WidgetStore       = (*Queries)(nil)
	_ service.ConversationStore = (*Queries)(nil)
)
