package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"phishnot_server/core/domain"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"no rows", sql.ErrNoRows, domain.ErrNotFound},
		{"unique", &pgconn.PgError{Code: "23505"}, domain.ErrDuplicate},
		{"foreign key", &pgconn.PgError{Code: "23503"}, domain.ErrNotFound},
		{"check", &pgconn.PgError{Code: "23514", ConstraintName: "pattern_weights_confidence_boost_check"}, domain.ErrInvariantViolation},
		{"serialization", &pgconn.PgError{Code: "40001"}, domain.ErrStoreUnavailable},
		{"connection", &pgconn.PgError{Code: "08006"}, domain.ErrStoreUnavailable},
		{"deadline", context.DeadlineExceeded, domain.ErrStoreUnavailable},
		{"conn done", sql.ErrConnDone, domain.ErrStoreUnavailable},
		{"wrapped", fmt.Errorf("exec: %w", &pgconn.PgError{Code: "23505"}), domain.ErrDuplicate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, mapError("op", tt.err), tt.want)
		})
	}
}

func TestMapErrorPassesThroughUnknown(t *testing.T) {
	assert.NoError(t, mapError("op", nil))

	cause := errors.New("boom")
	err := mapError("op", cause)
	assert.ErrorIs(t, err, cause)
	assert.False(t, errors.Is(err, domain.ErrStoreUnavailable))
	assert.Contains(t, err.Error(), "op")
}

func TestMigrationsEmbedded(t *testing.T) {
	entries, err := migrationsFS.ReadDir("migrations")
	assert.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.Contains(t, names, "000001_init.up.sql")
	assert.Contains(t, names, "000001_init.down.sql")
}
