package storage

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const defaultCleanupTimeout = 30 * time.Second

// Cleaner deletes stored files in the background so request handling never
// waits on storage I/O.
type Cleaner struct {
	store   Storage
	logger  *zap.Logger
	timeout time.Duration
	group   errgroup.Group
}

// NewCleaner constructs a Cleaner. A nil store makes every Schedule a no-op.
func NewCleaner(store Storage, logger *zap.Logger, timeout time.Duration) *Cleaner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = defaultCleanupTimeout
	}
	return &Cleaner{store: store, logger: logger, timeout: timeout}
}

// Schedule deletes every URL managed by the store. Failures are logged.
func (c *Cleaner) Schedule(fileURLs ...string) {
	if c == nil || c.store == nil {
		return
	}
	for _, fileURL := range fileURLs {
		if fileURL == "" || !c.store.Owns(fileURL) {
			continue
		}
		target := fileURL
		c.group.Go(func() error {
			ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
			defer cancel()
			if err := c.store.Delete(ctx, target); err != nil {
				c.logger.Warn("stored file cleanup failed", zap.String("file_url", target), zap.Error(err))
				return nil
			}
			c.logger.Debug("stored file removed", zap.String("file_url", target))
			return nil
		})
	}
}

// Wait blocks until every scheduled deletion finished.
func (c *Cleaner) Wait() {
	if c == nil {
		return
	}
	_ = c.group.Wait()
}
