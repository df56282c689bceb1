package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/lib/pq"

	"gomarketplace_sync/config"
	"gomarketplace_sync/pkg/logger"
)

const maxRetries = 10
const dbMaxOpenConns = 20
const retryDelay = 5 * time.Second

type PostgresDatabase struct {
	cfg   config.DbConfig
	log   logger.Logger
	db    *sql.DB
	mu    sync.Mutex // Для защиты доступа к db
	delay time.Duration
	open  func(driver, dsn string) (*sql.DB, error)
}

func NewPgConnector(dbConfig config.DbConfig, log logger.Logger) *PostgresDatabase {
	return &PostgresDatabase{
		cfg:   dbConfig,
		log:   log.WithPrefix("[Postgres]"),
		delay: retryDelay,
		open:  sql.Open,
	}
}

// Connect retries until the database answers a ping, the attempts run out or ctx is done.
func (pg *PostgresDatabase) Connect(ctx context.Context) (*sql.DB, error) {
	pg.mu.Lock()
	defer pg.mu.Unlock()

	if pg.db != nil {
		return pg.db, nil
	}

	var err error
	conStr := pg.cfg.GetConnectionString()

	for i := 0; i < maxRetries; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("connect to postgres: %w", ctx.Err())
			case <-time.After(pg.delay):
			}
		}

		var db *sql.DB
		db, err = pg.open("postgres", conStr)
		if err != nil {
			pg.log.Warn("failed to open connection (attempt %d/%d): %v", i+1, maxRetries, err)
			continue
		}
		db.SetMaxOpenConns(dbMaxOpenConns)

		if err = db.PingContext(ctx); err != nil {
			pg.log.Warn("failed to ping database (attempt %d/%d): %v", i+1, maxRetries, err)
			db.Close()
			continue
		}

		pg.log.Log("connected")
		pg.db = db
		return pg.db, nil
	}
	return nil, fmt.Errorf("connect to postgres after %d attempts: %w", maxRetries, err)
}

func (pg *PostgresDatabase) Ping() error {
	pg.mu.Lock()
	defer pg.mu.Unlock()

	if pg.db == nil {
		return fmt.Errorf("database connection is not established")
	}

	if err := pg.db.Ping(); err != nil {
		pg.db.Close()
		pg.db = nil
		return fmt.Errorf("ping failed: %w", err)
	}
	return nil
}

func (pg *PostgresDatabase) Close() error {
	pg.mu.Lock()
	defer pg.mu.Unlock()
	if pg.db == nil {
		return nil
	}
	err := pg.db.Close()
	pg.db = nil
	return err
}
