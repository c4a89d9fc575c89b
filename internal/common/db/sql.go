package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
)

// SQLDatabase implements Database on sqlx, for MySQL and PostgreSQL.
type SQLDatabase struct {
	db *sqlx.DB
}

// Open connects with the given configuration and verifies the connection.
func Open(config Config) (*SQLDatabase, error) {
	if config.DSN == "" {
		return nil, fmt.Errorf("DSN cannot be empty")
	}
	switch config.Driver {
	case DriverMySQL, DriverPostgres:
	case "":
		config.Driver = DriverMySQL
	default:
		return nil, fmt.Errorf("unsupported driver: %s", config.Driver)
	}
	if config.MaxOpenConnections == 0 {
		config.MaxOpenConnections = 25
	}
	if config.MaxIdleConnections == 0 {
		config.MaxIdleConnections = 5
	}
	if config.ConnMaxLifetime == 0 {
		config.ConnMaxLifetime = 5 * time.Minute
	}
	if config.ConnMaxIdleTime == 0 {
		config.ConnMaxIdleTime = 10 * time.Minute
	}

	conn, err := sqlx.Open(config.Driver, config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}
	conn.SetMaxOpenConns(config.MaxOpenConnections)
	conn.SetMaxIdleConns(config.MaxIdleConnections)
	conn.SetConnMaxLifetime(config.ConnMaxLifetime)
	conn.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &SQLDatabase{db: conn}, nil
}

// NewWithDB wraps an existing *sql.DB opened with driverName.
func NewWithDB(conn *sql.DB, driverName string) *SQLDatabase {
	return &SQLDatabase{db: sqlx.NewDb(conn, driverName)}
}

func (d *SQLDatabase) Driver() string {
	return d.db.DriverName()
}

func (d *SQLDatabase) Exec(ctx context.Context, query string, args ...interface{}) (Result, error) {
	result, err := d.db.ExecContext(ctx, d.db.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("exec failed: %w", err)
	}
	return result, nil
}

func (d *SQLDatabase) QueryRow(ctx context.Context, query string, args ...interface{}) Row {
	return d.db.QueryRowContext(ctx, d.db.Rebind(query), args...)
}

func (d *SQLDatabase) Get(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	if err := d.db.GetContext(ctx, dest, d.db.Rebind(query), args...); err != nil {
		return fmt.Errorf("get failed: %w", err)
	}
	return nil
}

func (d *SQLDatabase) Select(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	if err := d.db.SelectContext(ctx, dest, d.db.Rebind(query), args...); err != nil {
		return fmt.Errorf("select failed: %w", err)
	}
	return nil
}

func (d *SQLDatabase) Transaction(ctx context.Context, fn func(tx Transaction) error) error {
	tx, err := d.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction failed: %w", err)
	}
	wrapped := &sqlTransaction{tx: tx}
	if err := fn(wrapped); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit failed: %w", err)
	}
	return nil
}

func (d *SQLDatabase) Ping(ctx context.Context) error {
	if err := d.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}
	return nil
}

func (d *SQLDatabase) Close() error {
	if err := d.db.Close(); err != nil {
		return fmt.Errorf("close failed: %w", err)
	}
	return nil
}

type sqlTransaction struct {
	tx *sqlx.Tx
}

func (t *sqlTransaction) Exec(ctx context.Context, query string, args ...interface{}) (Result, error) {
	result, err := t.tx.ExecContext(ctx, t.tx.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("transaction exec failed: %w", err)
	}
	return result, nil
}

func (t *sqlTransaction) QueryRow(ctx context.Context, query string, args ...interface{}) Row {
	return t.tx.QueryRowContext(ctx, t.tx.Rebind(query), args...)
}

func (t *sqlTransaction) Get(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	if err := t.tx.GetContext(ctx, dest, t.tx.Rebind(query), args...); err != nil {
		return fmt.Errorf("transaction get failed: %w", err)
	}
	return nil
}

func (t *sqlTransaction) Select(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	if err := t.tx.SelectContext(ctx, dest, t.tx.Rebind(query), args...); err != nil {
		return fmt.Errorf("transaction select failed: %w", err)
	}
	return nil
}

func (t *sqlTransaction) Commit() error {
	return t.tx.Commit()
}

func (t *sqlTransaction) Rollback() error {
	return t.tx.Rollback()
}

var _ Database = (*SQLDatabase)(nil)
