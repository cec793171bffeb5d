package database

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"novel-continuity/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestWrapDBError(t *testing.T) {
	assert.NoError(t, wrapDBError("op", nil))
	assert.ErrorIs(t, wrapDBError("op", pgx.ErrNoRows), models.ErrNotFound)
	assert.ErrorIs(t, wrapDBError("op", fmt.Errorf("scan: %w", pgx.ErrNoRows)), models.ErrNotFound)

	dup := wrapDBError("insert", &pgconn.PgError{Code: "23505", Detail: "Key (story_id, name) already exists."})
	assert.ErrorIs(t, dup, models.ErrConsistencyConflict)
	assert.Contains(t, dup.Error(), "insert")

	timeout := wrapDBError("query", context.DeadlineExceeded)
	assert.ErrorIs(t, timeout, models.ErrTransientIO)
	assert.ErrorIs(t, timeout, context.DeadlineExceeded)

	cancelled := wrapDBError("query", context.Canceled)
	assert.ErrorIs(t, cancelled, context.Canceled)
	assert.False(t, errors.Is(cancelled, models.ErrTransientIO))

	other := wrapDBError("query", &pgconn.PgError{Code: "42P01", Message: "relation does not exist"})
	assert.False(t, errors.Is(other, models.ErrTransientIO))
	assert.False(t, errors.Is(other, models.ErrConsistencyConflict))
}
