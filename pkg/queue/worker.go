package queue

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"
)

// WorkerStatus represents the current state of a worker.
type WorkerStatus string

// Worker status constants.
const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusWorking WorkerStatus = "working"
)

// WorkerHealth is one worker's health report.
type WorkerHealth struct {
	ID                    string       `json:"id"`
	Status                WorkerStatus `json:"status"`
	CurrentSubscriptionID string       `json:"current_subscription_id,omitempty"`
	RunsProcessed         int          `json:"runs_processed"`
	LastActivity          time.Time    `json:"last_activity"`
}

// Worker polls for unclaimed active subscriptions and runs the pipeline for
// them: Tier-1 ingestion, then a Tier-3 generation attempt per touched
// target.
type Worker struct {
	id       string
	pool     *WorkerPool
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu                    sync.RWMutex
	status                WorkerStatus
	currentSubscriptionID string
	runsProcessed         int
	lastActivity          time.Time
}

// NewWorker creates a queue worker bound to its pool.
func NewWorker(id string, pool *WorkerPool) *Worker {
	return &Worker{
		id:           id,
		pool:         pool,
		stopCh:       make(chan struct{}),
		status:       WorkerStatusIdle,
		lastActivity: time.Now(),
	}
}

// Start begins the worker polling loop in a goroutine.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop signals the worker to stop and waits for it to finish. Safe to call
// multiple times.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

// Health returns the current worker health status.
func (w *Worker) Health() WorkerHealth {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return WorkerHealth{
		ID:                    w.id,
		Status:                w.status,
		CurrentSubscriptionID: w.currentSubscriptionID,
		RunsProcessed:         w.runsProcessed,
		LastActivity:          w.lastActivity,
	}
}

// run is the main worker loop.
func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	log := slog.With("worker_id", w.id, "pod_id", w.pool.podID)
	log.Info("Worker started")

	for {
		select {
		case <-w.stopCh:
			log.Info("Worker shutting down")
			return
		case <-ctx.Done():
			log.Info("Context cancelled, worker shutting down")
			return
		default:
			if err := w.pollAndProcess(ctx); err != nil {
				if errors.Is(err, ErrNoWorkAvailable) {
					w.sleep(w.pollInterval())
					continue
				}
				log.Error("Error processing subscription", "error", err)
				w.sleep(time.Second)
			}
		}
	}
}

// sleep waits for the given duration or until stop is signalled.
func (w *Worker) sleep(d time.Duration) {
	select {
	case <-w.stopCh:
	case <-time.After(d):
	}
}

// pollAndProcess claims the next unclaimed subscription and runs the
// pipeline for it.
func (w *Worker) pollAndProcess(ctx context.Context) error {
	subs, err := w.pool.db.Subscriptions.FindActive(ctx)
	if err != nil {
		return err
	}

	for _, sub := range subs {
		if !w.pool.claimSubscription(sub.ID) {
			continue
		}
		err := w.processSubscription(ctx, sub.ID)
		w.pool.releaseSubscription(sub.ID)
		return err
	}
	return ErrNoWorkAvailable
}

func (w *Worker) processSubscription(ctx context.Context, subID string) error {
	w.setStatus(WorkerStatusWorking, subID)
	defer w.setStatus(WorkerStatusIdle, "")

	log := slog.With("worker_id", w.id, "subscription_id", subID)

	summary, err := w.pool.ingestor.ProcessSubscription(ctx, subID, 0)
	if err != nil {
		return err
	}
	if summary.ArticlesProcessed > 0 {
		log.Info("Subscription processed",
			"articles", summary.ArticlesProcessed,
			"predictors", summary.PredictorsCreated,
			"errors", len(summary.Errors))
	}

	for _, targetID := range summary.TouchedTargets {
		if _, err := w.pool.generator.AttemptPredictionGeneration(ctx, targetID, nil); err != nil {
			log.Error("Prediction generation attempt failed", "target_id", targetID, "error", err)
		}
	}

	w.mu.Lock()
	w.runsProcessed++
	w.mu.Unlock()
	return nil
}

// pollInterval returns the poll duration with up to 25% jitter so workers
// spread their idle polls.
func (w *Worker) pollInterval() time.Duration {
	base := w.pool.cfg.PollInterval
	if base <= 0 {
		base = 5 * time.Second
	}
	jitter := base / 4
	offset := time.Duration(rand.Int64N(int64(2 * jitter)))
	return base - jitter + offset
}

// setStatus updates the worker's health tracking state.
func (w *Worker) setStatus(status WorkerStatus, subscriptionID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = status
	w.currentSubscriptionID = subscriptionID
	w.lastActivity = time.Now()
}
