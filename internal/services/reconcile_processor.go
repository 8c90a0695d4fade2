package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"settleup/internal/log"
)

// ReconcileProcessorConfig holds configuration for the reconcile processor
type ReconcileProcessorConfig struct {
	// Interval is how often every group is replayed (default: 10m)
	Interval time.Duration
}

func DefaultReconcileProcessorConfig() ReconcileProcessorConfig {
	return ReconcileProcessorConfig{Interval: 10 * time.Minute}
}

// ReconcileStats counts the outcome of one pass.
type ReconcileStats struct {
	Groups   int
	Repaired int
	Failed   int
}

// ReconcileProcessor periodically replays every group's history and repairs
// balances that drifted from it.
type ReconcileProcessor struct {
	service *GroupService
	config  ReconcileProcessorConfig
	logger  *log.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewReconcileProcessor(service *GroupService, config ReconcileProcessorConfig, logger *log.Logger) *ReconcileProcessor {
	if config.Interval <= 0 {
		config.Interval = DefaultReconcileProcessorConfig().Interval
	}
	if logger == nil {
		logger = log.FromContext(context.Background())
	}
	return &ReconcileProcessor{
		service: service,
		config:  config,
		logger:  logger.WithComponent(log.ComponentWorker),
	}
}

// Start begins the loop. Returns an error if already running.
func (p *ReconcileProcessor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("reconcile processor is already running")
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	p.mu.Unlock()

	go p.runLoop(ctx)

	p.logger.InfoContext(ctx, "Reconcile processor started", "interval", p.config.Interval)
	return nil
}

// Stop signals the loop and waits for the pass in flight to finish.
func (p *ReconcileProcessor) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	stopCh, doneCh := p.stopCh, p.doneCh
	p.mu.Unlock()

	close(stopCh)

	select {
	case <-doneCh:
		p.logger.InfoContext(ctx, "Reconcile processor stopped gracefully")
	case <-ctx.Done():
		p.logger.WarnContext(ctx, "Reconcile processor stop timed out")
		return ctx.Err()
	}

	p.mu.Lock()
	p.running = false
	p.mu.Unlock()
	return nil
}

func (p *ReconcileProcessor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *ReconcileProcessor) runLoop(ctx context.Context) {
	defer close(p.doneCh)

	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	p.RunOnce(ctx)

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.RunOnce(ctx)
		}
	}
}

// RunOnce reconciles every group once. A failing group is logged and
// skipped.
func (p *ReconcileProcessor) RunOnce(ctx context.Context) ReconcileStats {
	var stats ReconcileStats

	ids, err := p.service.GroupIDs(ctx)
	if err != nil {
		p.logger.ErrorContext(ctx, "Failed to list groups for reconcile", log.FieldError, err)
		return stats
	}

	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		stats.Groups++
		repaired, err := p.service.Reconcile(ctx, id)
		if err != nil {
			stats.Failed++
			p.logger.ErrorContext(ctx, "Reconcile failed",
				log.FieldGroupID, id,
				log.FieldError, err)
			continue
		}
		if repaired {
			stats.Repaired++
		}
	}

	if stats.Repaired > 0 || stats.Failed > 0 {
		p.logger.InfoContext(ctx, "Reconcile pass completed",
			"groups", stats.Groups,
			"repaired", stats.Repaired,
			"failed", stats.Failed)
	} else {
		p.logger.DebugContext(ctx, "Reconcile pass completed", "groups", stats.Groups)
	}
	return stats
}
