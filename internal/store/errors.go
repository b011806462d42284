package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrNotFound             = errors.New("not found")
	ErrSchemaNotInitialized = errors.New("schema not initialized")
	ErrSchemaOutdated       = errors.New("schema outdated")
	ErrConnection           = errors.New("database connection error")
)

// classify maps low-level pg failures onto the store error taxonomy so
// callers can distinguish a missing table from a missing column or a dead
// connection.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "42P01": // undefined_table
			return fmt.Errorf("%w: %v", ErrSchemaNotInitialized, err)
		case pgErr.Code == "42703": // undefined_column
			return fmt.Errorf("%w: %v", ErrSchemaOutdated, err)
		case strings.HasPrefix(pgErr.Code, "08"): // connection exception class
			return fmt.Errorf("%w: %v", ErrConnection, err)
		}
	}
	if pgconn.Timeout(err) {
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}
	return err
}
