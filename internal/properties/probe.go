package properties

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ImageStoreMode selects how image-table availability is determined.
type ImageStoreMode string

const (
	// ImageStoreAuto probes the database at runtime.
	ImageStoreAuto ImageStoreMode = "auto"
	// ImageStoreEnabled assumes the table exists; a missing table is a fault.
	ImageStoreEnabled ImageStoreMode = "enabled"
	// ImageStoreDisabled always uses the legacy single image column.
	ImageStoreDisabled ImageStoreMode = "disabled"
)

const defaultProbeTTL = 30 * time.Second

// ParseImageStoreMode accepts auto, enabled or disabled.
func ParseImageStoreMode(raw string) (ImageStoreMode, error) {
	mode := ImageStoreMode(strings.ToLower(strings.TrimSpace(raw)))
	switch mode {
	case "":
		return ImageStoreAuto, nil
	case ImageStoreAuto, ImageStoreEnabled, ImageStoreDisabled:
		return mode, nil
	default:
		return "", fmt.Errorf("properties: unknown image store mode %q", raw)
	}
}

// ProbeConfig describes the dependencies of an ImageStoreProbe.
type ProbeConfig struct {
	Database *gorm.DB
	Mode     ImageStoreMode
	TTL      time.Duration
	Clock    func() time.Time
	Logger   *zap.Logger
}

// ImageStoreProbe caches whether the property_images table is usable.
// An available result is kept until MarkUnavailable; an unavailable result
// is trusted until the TTL elapses.
type ImageStoreProbe struct {
	db     *gorm.DB
	mode   ImageStoreMode
	ttl    time.Duration
	clock  func() time.Time
	logger *zap.Logger

	mu               sync.Mutex
	checked          bool
	available        bool
	unavailableUntil time.Time
	warned           bool
}

// NewImageStoreProbe constructs a probe.
func NewImageStoreProbe(cfg ProbeConfig) (*ImageStoreProbe, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	mode := cfg.Mode
	if mode == "" {
		mode = ImageStoreAuto
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultProbeTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ImageStoreProbe{
		db:     cfg.Database,
		mode:   mode,
		ttl:    ttl,
		clock:  clock,
		logger: logger,
	}, nil
}

// Mode returns the configured mode.
func (p *ImageStoreProbe) Mode() ImageStoreMode {
	return p.mode
}

// Available reports whether image records can be used. Errors other than a
// missing table are returned to the caller.
func (p *ImageStoreProbe) Available(ctx context.Context) (bool, error) {
	switch p.mode {
	case ImageStoreEnabled:
		return true, nil
	case ImageStoreDisabled:
		return false, nil
	}

	p.mu.Lock()
	if p.checked {
		if p.available {
			p.mu.Unlock()
			return true, nil
		}
		if p.clock().Before(p.unavailableUntil) {
			p.mu.Unlock()
			return false, nil
		}
	}
	p.mu.Unlock()

	err := p.query(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case err == nil:
		if p.checked && !p.available {
			p.logger.Info("image store available")
		}
		p.checked = true
		p.available = true
		p.warned = false
		return true, nil
	case isMissingTableError(err):
		p.markUnavailableLocked(err)
		return false, nil
	default:
		return false, err
	}
}

// MarkUnavailable records that an operation found the table missing.
func (p *ImageStoreProbe) MarkUnavailable(cause error) {
	if p.mode != ImageStoreAuto {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.markUnavailableLocked(cause)
}

// Prime runs the probe once and logs the detected capability.
func (p *ImageStoreProbe) Prime(ctx context.Context) error {
	available, err := p.Available(ctx)
	if err != nil {
		return fmt.Errorf("probe image store: %w", err)
	}
	p.logger.Info("image store capability",
		zap.String("mode", string(p.mode)),
		zap.Bool("available", available))
	return nil
}

func (p *ImageStoreProbe) markUnavailableLocked(cause error) {
	p.checked = true
	p.available = false
	p.unavailableUntil = p.clock().Add(p.ttl)
	if !p.warned {
		p.warned = true
		p.logger.Warn("image store unavailable, using legacy cover image column",
			zap.Duration("recheck_after", p.ttl),
			zap.Error(cause))
	}
}

func (p *ImageStoreProbe) query(ctx context.Context) error {
	var ids []string
	return p.db.WithContext(ctx).Model(&PropertyImage{}).Limit(1).Pluck("id", &ids).Error
}

// withImageSupport runs op with the probed availability. When op fails
// because the table vanished, the probe is marked unavailable and op runs
// once more in legacy mode.
func withImageSupport[T any](ctx context.Context, probe *ImageStoreProbe, op func(available bool) (T, error)) (T, error) {
	available, err := probe.Available(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	result, err := op(available)
	if err == nil || !available || probe.mode != ImageStoreAuto || !errors.Is(classifyDBError(err), ErrImageStoreMissing) {
		return result, err
	}
	probe.MarkUnavailable(err)
	return op(false)
}
