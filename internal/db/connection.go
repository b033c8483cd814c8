package db

import (
    "context"
    "database/sql"
    "strings"
    "sync"
    "time"

    _ "github.com/go-sql-driver/mysql"

    "github.com/hamzaKhattat/contact-center-api/pkg/errors"
    "github.com/hamzaKhattat/contact-center-api/pkg/logger"
)

type Config struct {
    Driver          string
    DSN             string
    MaxOpenConns    int
    MaxIdleConns    int
    ConnMaxLifetime time.Duration
    RetryAttempts   int
    RetryDelay      time.Duration
}

type DB struct {
    *sql.DB
    cfg    Config
    mu     sync.RWMutex
    health bool
    stop   chan struct{}
}

func New(cfg Config) (*DB, error) {
    var db *sql.DB
    var err error

    // Retry connection
    for i := 0; i <= cfg.RetryAttempts; i++ {
        db, err = sql.Open(cfg.Driver, cfg.DSN)
        if err == nil {
            err = db.Ping()
            if err == nil {
                break
            }
        }

        if i < cfg.RetryAttempts {
            logger.WithField("attempt", i+1).WithError(err).Warn("Database connection failed, retrying...")
            time.Sleep(cfg.RetryDelay * time.Duration(i+1))
        }
    }

    if err != nil {
        return nil, errors.Wrap(err, errors.ErrDatabase, "failed to connect to database")
    }

    // Configure connection pool
    db.SetMaxOpenConns(cfg.MaxOpenConns)
    db.SetMaxIdleConns(cfg.MaxIdleConns)
    db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

    wrapper := &DB{
        DB:     db,
        cfg:    cfg,
        health: true,
        stop:   make(chan struct{}),
    }

    // Start health checker
    go wrapper.healthCheck()

    logger.Info("Database connection established")
    return wrapper, nil
}

func (db *DB) Close() error {
    close(db.stop)
    return db.DB.Close()
}

func (db *DB) healthCheck() {
    ticker := time.NewTicker(30 * time.Second)
    defer ticker.Stop()

    for {
        select {
        case <-db.stop:
            return
        case <-ticker.C:
        }

        ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
        err := db.PingContext(ctx)
        cancel()

        db.mu.Lock()
        oldHealth := db.health
        db.health = err == nil
        db.mu.Unlock()

        if oldHealth != db.health {
            if db.health {
                logger.Info("Database connection recovered")
            } else {
                logger.WithError(err).Error("Database connection lost")
            }
        }
    }
}

func (db *DB) IsHealthy() bool {
    db.mu.RLock()
    defer db.mu.RUnlock()
    return db.health
}

// Transaction with retry
func (db *DB) Transaction(ctx context.Context, fn func(*sql.Tx) error) error {
    var err error
    for i := 0; i <= db.cfg.RetryAttempts; i++ {
        err = db.transaction(ctx, fn)
        if err == nil {
            return nil
        }

        if !isRetryableError(err) {
            return err
        }

        if i < db.cfg.RetryAttempts {
            select {
            case <-ctx.Done():
                return ctx.Err()
            case <-time.After(db.cfg.RetryDelay * time.Duration(i+1)):
                logger.WithField("attempt", i+1).WithError(err).Warn("Transaction failed, retrying...")
            }
        }
    }

    return errors.Wrap(err, errors.ErrDatabase, "transaction failed after retries")
}

func (db *DB) transaction(ctx context.Context, fn func(*sql.Tx) error) error {
    tx, err := db.BeginTx(ctx, nil)
    if err != nil {
        return err
    }

    defer func() {
        if p := recover(); p != nil {
            tx.Rollback()
            panic(p)
        }
    }()

    err = fn(tx)
    if err != nil {
        tx.Rollback()
        return err
    }

    return tx.Commit()
}

func isRetryableError(err error) bool {
    if err == nil {
        return false
    }

    errStr := strings.ToLower(err.Error())
    retryableErrors := []string{
        "connection refused",
        "connection reset",
        "broken pipe",
        "timeout",
        "deadlock",
        "try restarting transaction",
    }

    for _, e := range retryableErrors {
        if strings.Contains(errStr, e) {
            return true
        }
    }

    return false
}
