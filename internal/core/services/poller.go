package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	apperrors "github.com/lorrc/follow-notifier/internal/core/errors"
	"github.com/lorrc/follow-notifier/internal/core/ports"
)

// PollerConfig controls the upstream polling cadence.
type PollerConfig struct {
	// Interval between snapshot polls.
	Interval time.Duration

	// RequestTimeout bounds a single upstream call so a slow response never
	// stalls the next tick indefinitely.
	RequestTimeout time.Duration
}

// Poller invokes the upstream source on a fixed interval and hands each
// snapshot to the alert service. A cycle always runs to completion before the
// next tick fires, so the merge queue sees strictly sequential mutation.
type Poller struct {
	source      ports.UpstreamSource
	alerts      *AlertService
	invalidator ports.CredentialInvalidator
	cfg         PollerConfig
	logger      *slog.Logger
}

// NewPoller wires a poller. invalidator may be nil when no credential
// collaborator is attached.
func NewPoller(
	source ports.UpstreamSource,
	alerts *AlertService,
	invalidator ports.CredentialInvalidator,
	cfg PollerConfig,
	logger *slog.Logger,
) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 5 * time.Second
	}
	return &Poller{
		source:      source,
		alerts:      alerts,
		invalidator: invalidator,
		cfg:         cfg,
		logger:      logger.With("component", "poller"),
	}
}

// Run polls until the context is cancelled. It never returns an error other
// than the context's: upstream failures are contained per cycle.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info("poller starting", "interval", p.cfg.Interval)

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("poller stopping")
			return ctx.Err()
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

// tick runs one poll cycle.
func (p *Poller) tick(ctx context.Context) {
	cctx, cancel := context.WithTimeout(ctx, p.cfg.RequestTimeout)
	defer cancel()

	snapshot, err := p.source.Followers(cctx)
	if err != nil {
		switch {
		case errors.Is(err, apperrors.ErrUpstreamUnauthenticated):
			// Do not hot-retry an invalid session; the next scheduled tick
			// will pick up whatever the credential collaborator decides.
			p.logger.Warn("upstream poll unauthenticated", "error", err)
			if p.invalidator != nil {
				p.invalidator.Invalidate("upstream reported unauthenticated")
			}
		case errors.Is(err, apperrors.ErrNoSession):
			p.logger.Debug("no session yet, skipping poll cycle")
		default:
			// Transient failure: the known set stays untouched so a single
			// failed poll never infers a false unfollow.
			p.logger.Warn("upstream poll failed, treating snapshot as unchanged", "error", err)
		}
		return
	}

	p.alerts.HandleSnapshot(ctx, snapshot)
}
