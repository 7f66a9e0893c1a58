// Package postgres provides the "sqlx" store.Driver backed by Postgres.
// The TxRunner runs every unit at SERIALIZABLE isolation and retries
// serialization failures, which is what gives the auction core its
// no-lost-update guarantee under concurrent bidding.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/XSAM/otelsql"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/auctionarena/auctiond/internal/clock"
	"github.com/auctionarena/auctiond/internal/config"
	"github.com/auctionarena/auctiond/internal/store"
)

func init() {
	store.Register("sqlx", openSQLX)
}

func openSQLX(ctx context.Context, cfg config.DatabaseConfig, clk clock.Clock) (*store.Repositories, error) {
	db, err := Connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewRepositories(db, clk), nil
}

// Connect opens and verifies a Postgres connection with OTEL instrumentation.
func Connect(ctx context.Context, cfg config.DatabaseConfig) (*sqlx.DB, error) {
	driverName, err := otelsql.Register("postgres",
		otelsql.WithAttributes(semconv.DBSystemPostgreSQL),
	)
	if err != nil {
		return nil, fmt.Errorf("registering otel driver: %w", err)
	}

	db, err := sqlx.ConnectContext(ctx, driverName, cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	return db, nil
}

// NewRepositories builds the repository bundle over an open connection. The
// clock is unused here: Postgres assigns ids and timestamps itself, keeping
// bid history ordering consistent with commit order.
func NewRepositories(db *sqlx.DB, clk clock.Clock) *store.Repositories {
	return bind(db, &txRunner{db: db, clk: clk}, db.Close, db.PingContext)
}

// bind constructs repositories over either the root DB or an open transaction.
func bind(ext sqlx.ExtContext, tx store.TxRunner, closeFn func() error, ping func(context.Context) error) *store.Repositories {
	r := &store.Repositories{
		Players:  &playerRepo{ext: ext},
		Teams:    &teamRepo{ext: ext},
		Owners:   &ownerRepo{ext: ext},
		Settings: &settingsRepo{ext: ext},
		Bids:     &bidRepo{ext: ext},
		Close:    closeFn,
		Ping:     ping,
	}
	if tx != nil {
		r.Tx = tx
	} else {
		// Already inside a transaction: further RunInTx calls join it.
		r.Tx = &joinRunner{r: r}
	}
	return r
}

// joinRunner flattens nested RunInTx calls into the enclosing transaction.
type joinRunner struct {
	r *store.Repositories
}

func (j *joinRunner) RunInTx(ctx context.Context, fn func(ctx context.Context, r *store.Repositories) error) error {
	return fn(ctx, j.r)
}

// maxTxAttempts bounds retries of serialization failures before the error is
// surfaced to the caller.
const maxTxAttempts = 5

type txRunner struct {
	db  *sqlx.DB
	clk clock.Clock
}

func (t *txRunner) RunInTx(ctx context.Context, fn func(ctx context.Context, r *store.Repositories) error) error {
	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err = t.runOnce(ctx, fn)
		if err == nil || !isSerializationFailure(err) {
			return err
		}
		select {
		case <-time.After(time.Duration(attempt) * 10 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("transaction retries exhausted: %w", err)
}

func (t *txRunner) runOnce(ctx context.Context, fn func(ctx context.Context, r *store.Repositories) error) error {
	tx, err := t.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	bound := bind(tx, nil, nil, nil)
	if err := fn(ctx, bound); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// isSerializationFailure reports whether err is a Postgres serialization or
// deadlock failure, which is safe to retry.
func isSerializationFailure(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == "40001" || pqErr.Code == "40P01"
}

// notFound converts sql.ErrNoRows into the store sentinel.
func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, store.ErrNotFound)
	}
	return fmt.Errorf("%s: %w", what, err)
}
