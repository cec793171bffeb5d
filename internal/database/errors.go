package database

import (
	"context"
	"errors"
	"fmt"
	"net"

	"novel-continuity/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

// wrapDBError приводит ошибку драйвера к таксономии ошибок сервиса.
// op is put in front of the message.
func wrapDBError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ErrNotFound
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == uniqueViolation {
			return fmt.Errorf("%s: %w: %s", op, models.ErrConsistencyConflict, pgErr.Detail)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	var netErr net.Error
	var connectErr *pgconn.ConnectError
	if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) ||
		errors.As(err, &netErr) || errors.As(err, &connectErr) {
		return fmt.Errorf("%s: %w: %w", op, models.ErrTransientIO, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
