package properties

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/propertyhub/backend/internal/apierr"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultTxTimeout     = 30 * time.Second
	defaultBulkTxTimeout = 60 * time.Second
	defaultTxLockWait    = 5 * time.Second
	defaultTxMaxAttempts = 3
)

// TxSettings bounds every mutating transaction.
type TxSettings struct {
	Timeout     time.Duration
	BulkTimeout time.Duration
	LockWait    time.Duration
	MaxAttempts int
}

func (s TxSettings) withDefaults() TxSettings {
	if s.Timeout <= 0 {
		s.Timeout = defaultTxTimeout
	}
	if s.BulkTimeout <= 0 {
		s.BulkTimeout = defaultBulkTxTimeout
	}
	if s.LockWait <= 0 {
		s.LockWait = defaultTxLockWait
	}
	if s.MaxAttempts <= 0 {
		s.MaxAttempts = defaultTxMaxAttempts
	}
	return s
}

type txKind int

const (
	txStandard txKind = iota
	txBulk
	txReadCommitted
)

type txRunner struct {
	db       *gorm.DB
	settings TxSettings
	logger   *zap.Logger
}

// run executes fn in a serializable transaction, retrying on conflicts.
// Conflicts that survive every attempt become RES_CONCURRENT_MODIFICATION.
func (r txRunner) run(ctx context.Context, kind txKind, fn func(tx *gorm.DB) error) error {
	attempts := r.settings.MaxAttempts
	if kind == txReadCommitted {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := classifyDBError(r.runOnce(ctx, kind, fn))
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrTxConflict) {
			return err
		}
		lastErr = err
		r.logger.Warn("transaction conflict",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", attempts),
			zap.Error(err))
		if ctx.Err() != nil {
			break
		}
	}
	return apierr.New(http.StatusConflict, apierr.CodeConcurrentModification,
		"The property was modified concurrently, please retry").WithCause(lastErr)
}

func (r txRunner) runOnce(ctx context.Context, kind txKind, fn func(tx *gorm.DB) error) error {
	timeout := r.settings.Timeout
	if kind == txBulk {
		timeout = r.settings.BulkTimeout
	}
	txCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return r.db.WithContext(txCtx).Transaction(func(tx *gorm.DB) error {
		if err := r.applyLockWait(tx); err != nil {
			return fmt.Errorf("set lock wait: %w", err)
		}
		return fn(tx)
	}, r.txOptions(kind)...)
}

func (r txRunner) txOptions(kind txKind) []*sql.TxOptions {
	switch r.db.Dialector.Name() {
	case "postgres", "mysql":
		isolation := sql.LevelSerializable
		if kind == txReadCommitted {
			isolation = sql.LevelReadCommitted
		}
		return []*sql.TxOptions{{Isolation: isolation}}
	default:
		// sqlite transactions are serializable and reject explicit levels.
		return nil
	}
}

func (r txRunner) applyLockWait(tx *gorm.DB) error {
	millis := r.settings.LockWait.Milliseconds()
	switch tx.Dialector.Name() {
	case "postgres":
		return tx.Exec(fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", millis)).Error
	case "mysql":
		seconds := (millis + 999) / 1000
		if seconds < 1 {
			seconds = 1
		}
		return tx.Exec(fmt.Sprintf("SET SESSION innodb_lock_wait_timeout = %d", seconds)).Error
	case "sqlite":
		return tx.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", millis)).Error
	default:
		return nil
	}
}
