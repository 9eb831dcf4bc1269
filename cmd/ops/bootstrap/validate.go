package main

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

// DatabaseConnector opens and immediately closes a connection.
type DatabaseConnector interface {
	Connect(ctx context.Context, dsn string) error
}

type pgxConnector struct{}

func (pgxConnector) Connect(ctx context.Context, dsn string) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	return conn.Close(ctx)
}

const validateTimeout = 15 * time.Second

// Validator checks operator input before it is stored.
type Validator struct {
	db DatabaseConnector
}

func NewValidator(db DatabaseConnector) *Validator {
	return &Validator{db: db}
}

// ValidateDatabaseURL checks the scheme and that a connection succeeds.
// PostGIS itself is verified by the migration, not here.
func (v *Validator) ValidateDatabaseURL(ctx context.Context, raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fmt.Errorf("database URL must not be empty")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Scheme != "postgres" && parsed.Scheme != "postgresql" {
		return fmt.Errorf("expected postgres:// or postgresql:// scheme, got %q", parsed.Scheme)
	}
	if parsed.Hostname() == "" {
		return fmt.Errorf("database URL has no host")
	}
	if strings.TrimPrefix(parsed.Path, "/") == "" {
		return fmt.Errorf("database URL has no database name")
	}

	connCtx, cancel := context.WithTimeout(ctx, validateTimeout)
	defer cancel()
	if err := v.db.Connect(connCtx, raw); err != nil {
		return fmt.Errorf("connection to %s failed: %w", parsed.Hostname(), err)
	}
	return nil
}
