// Package persistence provides PostgreSQL adapters implementing outbound ports.
package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"strings"

	"phishnot_server/core/domain"
	"phishnot_server/core/port/out"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
)

// SQLSTATE codes the adapters care about.
const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
	codeCheckViolation      = "23514"
	codeSerialization       = "40001"
	codeDeadlock            = "40P01"
)

// mapError converts driver errors into domain sentinels. op names the failing
// operation for the log trail.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, domain.ErrNotFound)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w: %v", op, domain.ErrStoreUnavailable, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == codeUniqueViolation:
			return fmt.Errorf("%s: %w", op, domain.ErrDuplicate)
		case pgErr.Code == codeForeignKeyViolation:
			return fmt.Errorf("%s: %w", op, domain.ErrNotFound)
		case pgErr.Code == codeCheckViolation:
			return fmt.Errorf("%s: %w: %s", op, domain.ErrInvariantViolation, pgErr.ConstraintName)
		case pgErr.Code == codeSerialization, pgErr.Code == codeDeadlock, strings.HasPrefix(pgErr.Code, "08"):
			return fmt.Errorf("%s: %w: %v", op, domain.ErrStoreUnavailable, err)
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, sql.ErrConnDone) || pgconn.Timeout(err) {
		return fmt.Errorf("%s: %w: %v", op, domain.ErrStoreUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// =============================================================================
// Transactor
// =============================================================================

type txKey struct{}

// Transactor implements out.Transactor over a sqlx.DB.
type Transactor struct {
	db *sqlx.DB
}

// NewTransactor creates a new Transactor.
func NewTransactor(db *sqlx.DB) *Transactor {
	return &Transactor{db: db}
}

// WithinTx runs fn in one transaction. Nested calls join the outer one.
func (t *Transactor) WithinTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if _, ok := ctx.Value(txKey{}).(*sqlx.Tx); ok {
		return fn(ctx)
	}

	tx, err := t.db.BeginTxx(ctx, nil)
	if err != nil {
		return mapError("begin tx", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return mapError("commit tx", err)
	}
	return nil
}

// querier returns the transaction carried by ctx, or db.
func querier(ctx context.Context, db *sqlx.DB) sqlx.ExtContext {
	if tx, ok := ctx.Value(txKey{}).(*sqlx.Tx); ok {
		return tx
	}
	return db
}

var (
	_ out.Transactor               = (*Transactor)(nil)
	_ out.ClassificationRepository = (*ClassificationAdapter)(nil)
	_ out.FeedbackRepository       = (*FeedbackAdapter)(nil)
	_ out.ReputationRepository     = (*ReputationAdapter)(nil)
	_ out.PatternWeightRepository  = (*PatternWeightAdapter)(nil)
	_ out.RateLimitStore           = (*RateLimitAdapter)(nil)
	_ out.AlertRepository          = (*AlertAdapter)(nil)
	_ out.AlertStateStore          = (*AlertAdapter)(nil)
)
