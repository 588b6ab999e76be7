// Package mariadb reads face markers straight from PhotoPrism's MariaDB
// index. It is read-only; markers are owned by PhotoPrism.
package mariadb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
)

// Index lookups run once per slot, so a slow index must not stall a render.
const (
	dialTimeout  = 5 * time.Second
	queryTimeout = 10 * time.Second
)

// Pool is a small read-only connection pool to the PhotoPrism index.
type Pool struct {
	db *sql.DB
}

// indexConfig parses a PhotoPrism DSN and applies the timeouts marker
// lookups need. Timeouts already present in the DSN are kept.
func indexConfig(dsn string) (*mysql.Config, error) {
	if dsn == "" {
		return nil, errors.New("PhotoPrism database DSN is required")
	}
	c, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid PhotoPrism database DSN: %w", err)
	}
	if c.Timeout == 0 {
		c.Timeout = dialTimeout
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = queryTimeout
	}
	return c, nil
}

// NewPool connects to the PhotoPrism index and checks it answers.
func NewPool(dsn string) (*Pool, error) {
	c, err := indexConfig(dsn)
	if err != nil {
		return nil, err
	}
	connector, err := mysql.NewConnector(c)
	if err != nil {
		return nil, fmt.Errorf("PhotoPrism database connector: %w", err)
	}

	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("PhotoPrism database unreachable at %s: %w", c.Addr, err)
	}
	return &Pool{db: db}, nil
}

// Close releases the index connections.
func (p *Pool) Close() error {
	if p.db == nil {
		return nil
	}
	if err := p.db.Close(); err != nil {
		return fmt.Errorf("close PhotoPrism database: %w", err)
	}
	return nil
}
