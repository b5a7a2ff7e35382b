// Package queue runs the background pipeline: a pool of workers polling
// active source subscriptions, running Tier-1 ingestion and attempting
// Tier-3 generation for each touched target, plus a periodic sweep expiring
// predictors and predictions past their horizon.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/foresight-labs/foresight/pkg/config"
	"github.com/foresight-labs/foresight/pkg/ingest"
	"github.com/foresight-labs/foresight/pkg/outcome"
	"github.com/foresight-labs/foresight/pkg/predict"
	"github.com/foresight-labs/foresight/pkg/store"
)

// ErrNoWorkAvailable signals an idle poll: every active subscription is
// either claimed by another worker or there are none.
var ErrNoWorkAvailable = errors.New("no subscriptions available")

// PoolHealth is the pool's health report for the system-health endpoint.
type PoolHealth struct {
	IsHealthy     bool           `json:"is_healthy"`
	PodID         string         `json:"pod_id"`
	ActiveWorkers int            `json:"active_workers"`
	TotalWorkers  int            `json:"total_workers"`
	Workers       []WorkerHealth `json:"workers"`
	LastSweepAt   time.Time      `json:"last_sweep_at,omitempty"`
}

// WorkerPool manages the queue workers and the expiry sweeper.
type WorkerPool struct {
	podID     string
	db        *store.Store
	cfg       *config.QueueConfig
	ingestor  *ingest.Ingestor
	generator *predict.Generator
	resolver  *outcome.Resolver

	workers  []*Worker
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	started  bool

	// Subscription claim registry: subscription_id → claimed. Keeps two
	// workers off the same subscription so watermarks advance in order.
	mu      sync.Mutex
	claimed map[string]bool

	sweepMu     sync.Mutex
	lastSweepAt time.Time
}

// NewWorkerPool creates the pool. resolver may be nil (expiry sweeps
// disabled).
func NewWorkerPool(podID string, db *store.Store, cfg *config.QueueConfig, ingestor *ingest.Ingestor, generator *predict.Generator, resolver *outcome.Resolver) *WorkerPool {
	if db == nil {
		panic("NewWorkerPool: store must not be nil")
	}
	if cfg == nil {
		panic("NewWorkerPool: cfg must not be nil")
	}
	if ingestor == nil {
		panic("NewWorkerPool: ingestor must not be nil")
	}
	if generator == nil {
		panic("NewWorkerPool: generator must not be nil")
	}
	return &WorkerPool{
		podID:     podID,
		db:        db,
		cfg:       cfg,
		ingestor:  ingestor,
		generator: generator,
		resolver:  resolver,
		workers:   make([]*Worker, 0, cfg.WorkerCount),
		stopCh:    make(chan struct{}),
		claimed:   make(map[string]bool),
	}
}

// Start spawns the worker goroutines and the sweep loop. Safe to call more
// than once; subsequent calls are no-ops.
func (p *WorkerPool) Start(ctx context.Context) {
	if p.started {
		slog.Warn("Worker pool already started, ignoring duplicate Start call", "pod_id", p.podID)
		return
	}
	p.started = true

	slog.Info("Starting worker pool", "pod_id", p.podID, "worker_count", p.cfg.WorkerCount)

	for i := 0; i < p.cfg.WorkerCount; i++ {
		worker := NewWorker(fmt.Sprintf("%s-worker-%d", p.podID, i), p)
		p.workers = append(p.workers, worker)
		worker.Start(ctx)
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.runSweeps(ctx)
	}()

	slog.Info("Worker pool started")
}

// Stop signals all workers to stop and waits for them to finish their
// current run.
func (p *WorkerPool) Stop() {
	slog.Info("Stopping worker pool gracefully")
	for _, worker := range p.workers {
		worker.Stop()
	}
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()
	slog.Info("Worker pool stopped gracefully")
}

// Health reports pool health.
func (p *WorkerPool) Health() *PoolHealth {
	workerStats := make([]WorkerHealth, len(p.workers))
	active := 0
	for i, worker := range p.workers {
		workerStats[i] = worker.Health()
		if workerStats[i].Status == WorkerStatusWorking {
			active++
		}
	}
	p.sweepMu.Lock()
	lastSweep := p.lastSweepAt
	p.sweepMu.Unlock()

	return &PoolHealth{
		IsHealthy:     len(p.workers) > 0,
		PodID:         p.podID,
		ActiveWorkers: active,
		TotalWorkers:  len(p.workers),
		Workers:       workerStats,
		LastSweepAt:   lastSweep,
	}
}

// claimSubscription reserves a subscription for one worker.
func (p *WorkerPool) claimSubscription(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.claimed[id] {
		return false
	}
	p.claimed[id] = true
	return true
}

func (p *WorkerPool) releaseSubscription(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.claimed, id)
}

// runSweeps periodically expires predictors and predictions past their
// horizon. Both sweeps are idempotent.
func (p *WorkerPool) runSweeps(ctx context.Context) {
	interval := p.cfg.SweepInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.sweepOnce(ctx)
		}
	}
}

func (p *WorkerPool) sweepOnce(ctx context.Context) {
	now := time.Now()

	targets, err := p.db.Targets.FindAllActive(ctx)
	if err != nil {
		slog.Error("Sweep failed to list targets", "error", err)
	} else {
		expired := 0
		for _, target := range targets {
			n, err := p.db.Predictors.ExpireOldPredictors(ctx, target.ID, now)
			if err != nil {
				slog.Warn("Predictor expiry sweep failed", "target_id", target.ID, "error", err)
				continue
			}
			expired += n
		}
		if expired > 0 {
			slog.Info("Expired predictors past TTL", "count", expired)
		}
	}

	if p.resolver != nil {
		if _, err := p.resolver.ExpireDuePredictions(ctx); err != nil {
			slog.Warn("Prediction expiry sweep failed", "error", err)
		}
	}

	p.sweepMu.Lock()
	p.lastSweepAt = now
	p.sweepMu.Unlock()
}
