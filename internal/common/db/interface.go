package db

import (
	"context"
	"time"
)

// Querier abstracts statement execution for both a database and a transaction.
// Queries use '?' placeholders; implementations rebind them for the active driver.
type Querier interface {
	Exec(ctx context.Context, query string, args ...interface{}) (Result, error)
	QueryRow(ctx context.Context, query string, args ...interface{}) Row

	// Get scans a single row into dest, a struct with db tags or a scalar.
	Get(ctx context.Context, dest interface{}, query string, args ...interface{}) error

	// Select scans all rows into dest, a pointer to a slice.
	Select(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

// Database is a pooled relational store handle.
type Database interface {
	Querier

	// Transaction runs fn inside a transaction, committing when fn returns nil.
	Transaction(ctx context.Context, fn func(tx Transaction) error) error
	Ping(ctx context.Context) error
	Close() error

	// Driver returns the driver name ("mysql" or "postgres").
	Driver() string
}

// Transaction is an open database transaction.
type Transaction interface {
	Querier
	Commit() error
	Rollback() error
}

// Row is the result of QueryRow.
type Row interface {
	Scan(dest ...interface{}) error
}

// Result summarizes an executed statement.
type Result interface {
	RowsAffected() (int64, error)
}

// Config holds the connection pool configuration.
type Config struct {
	// Driver is "mysql" or "postgres".
	Driver string `yaml:"driver"`

	// DSN is the data source name. MySQL DSNs need parseTime=true.
	DSN string `yaml:"dsn"`

	MaxOpenConnections int           `yaml:"maxOpenConnections"`
	MaxIdleConnections int           `yaml:"maxIdleConnections"`
	ConnMaxLifetime    time.Duration `yaml:"connMaxLifetime"`
	ConnMaxIdleTime    time.Duration `yaml:"connMaxIdleTime"`
}
