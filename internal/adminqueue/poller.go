package adminqueue

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/osteoscope/screening-service/internal/observability"
)

// Poller re-reads the verification queue on a fixed interval and publishes
// its depth as a gauge. It mirrors the refresh cadence of the admin panel.
type Poller struct {
	queue    *Queue
	interval time.Duration
	metrics  *observability.Metrics
	logger   zerolog.Logger
}

// NewPoller creates a Poller with the given refresh interval.
func NewPoller(queue *Queue, interval time.Duration, metrics *observability.Metrics, logger zerolog.Logger) *Poller {
	return &Poller{
		queue:    queue,
		interval: interval,
		metrics:  metrics,
		logger:   logger.With().Str("component", "adminqueue_poller").Logger(),
	}
}

// Run polls until the context is canceled. One refresh happens immediately.
func (p *Poller) Run(ctx context.Context) {
	p.refresh(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info().Msg("queue poller stopped")
			return
		case <-ticker.C:
			p.refresh(ctx)
		}
	}
}

func (p *Poller) refresh(ctx context.Context) {
	pending, err := p.queue.Pending(ctx)
	if err != nil {
		p.logger.Warn().Err(err).Msg("queue refresh failed")
		return
	}
	p.metrics.SetQueueDepth(len(pending))
	p.logger.Debug().Int("depth", len(pending)).Msg("queue refreshed")
}
