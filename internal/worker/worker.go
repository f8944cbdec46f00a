package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/forgemedia/genjobs/internal/settlement"
	"github.com/forgemedia/genjobs/internal/worker/domain"
	"github.com/forgemedia/genjobs/internal/worker/engine"
	"github.com/forgemedia/genjobs/internal/worker/storage"
	"github.com/forgemedia/genjobs/shared/postgresql"
	"github.com/forgemedia/genjobs/shared/rabbitmq"
)

// JobStore is the slice of the job store the worker needs
type JobStore interface {
	ClaimJob(ctx context.Context, jobID, workerID string) (*domain.Job, error)
	UpdateHeartbeat(ctx context.Context, jobID string, progress int) error
	RequeueStalled(ctx context.Context, stallSeconds int64, maxStalled int) ([]domain.StalledJob, error)
	AbandonedJobs(ctx context.Context, stallSeconds int64, maxStalled int) ([]domain.AbandonedJob, error)
}

// Settler drives jobs to their single terminal settlement
type Settler interface {
	CompleteAtomic(ctx context.Context, jobID, resultRef string, engineMS int64) (settlement.Result, error)
	RefundAtomic(ctx context.Context, jobID, ownerID string, amount int64, errorMessage string) (settlement.Result, error)
	MarkFailedNoRefund(ctx context.Context, jobID, errorMessage string) error
}

// ArtifactStore persists finished results
type ArtifactStore interface {
	Save(jobID string, data []byte, mimeType string) (string, error)
}

// Publisher re-publishes recovered jobs to the broker
type Publisher interface {
	PublishWithRetry(ctx context.Context, body []byte, contentType string, priority uint8) error
}

// Config holds worker configuration
type Config struct {
	Logger             *slog.Logger
	DBClient           *postgresql.Client
	RabbitClient       *rabbitmq.Client
	Engine             engine.Engine
	Artifacts          ArtifactStore
	Concurrency        int
	PrefetchCount      int
	RateLimitPerSecond float64
	RateBurst          int
	HeartbeatInterval  time.Duration
	StallInterval      time.Duration
	StallCheckInterval time.Duration
	MaxStalledCount    int
	LockDuration       time.Duration
}

// Worker is the background job runtime: a fixed pool of goroutines fed from
// the broker queue, plus the stall reaper
type Worker struct {
	logger       *slog.Logger
	rabbitClient *rabbitmq.Client
	storage      JobStore
	settler      Settler
	engine       engine.Engine
	artifacts    ArtifactStore
	publisher    Publisher

	workerID           string
	concurrency        int
	prefetchCount      int
	limiter            *rate.Limiter
	heartbeatInterval  time.Duration
	stallInterval      time.Duration
	stallCheckInterval time.Duration
	maxStalledCount    int
	lockDuration       time.Duration

	jobsChan chan *domain.JobMessage
	wg       sync.WaitGroup
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	prefetch := cfg.PrefetchCount
	if prefetch <= 0 {
		prefetch = cfg.Concurrency
	}

	db := cfg.DBClient.GetDB()

	return &Worker{
		logger:             cfg.Logger,
		rabbitClient:       cfg.RabbitClient,
		storage:            storage.NewStorage(db, cfg.Logger),
		settler:            settlement.New(db, cfg.Logger),
		engine:             cfg.Engine,
		artifacts:          cfg.Artifacts,
		publisher:          cfg.RabbitClient,
		workerID:           fmt.Sprintf("worker-%s", uuid.New().String()[:8]),
		concurrency:        cfg.Concurrency,
		prefetchCount:      prefetch,
		limiter:            rate.NewLimiter(rate.Limit(cfg.RateLimitPerSecond), cfg.RateBurst),
		heartbeatInterval:  cfg.HeartbeatInterval,
		stallInterval:      cfg.StallInterval,
		stallCheckInterval: cfg.StallCheckInterval,
		maxStalledCount:    cfg.MaxStalledCount,
		lockDuration:       cfg.LockDuration,
		jobsChan:           make(chan *domain.JobMessage),
		stopChan:           make(chan struct{}),
	}
}

// Start begins consuming and processing jobs. Blocks until the context is
// canceled or the broker delivery channel closes.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
		slog.Duration("heartbeat_interval", w.heartbeatInterval),
		slog.Duration("stall_interval", w.stallInterval),
		slog.Duration("lock_duration", w.lockDuration),
	)

	deliveries, err := w.setupConsumer(ctx)
	if err != nil {
		return fmt.Errorf("failed to setup consumer: %w", err)
	}

	w.spawnWorkerPool(ctx)

	w.wg.Add(1)
	go w.reaperLoop(ctx)

	w.startMessageDispatcher(ctx, deliveries)

	return nil
}

// Stop gracefully stops the worker: no new dispatch, wait for in-flight
// jobs to settle. The caller bounds the wait with its shutdown timeout;
// jobs still active at force-exit are recovered by a future process's
// stall reaper.
func (w *Worker) Stop() {
	w.logger.Info("Stopping worker...",
		slog.String("worker_id", w.workerID),
	)
	w.stopOnce.Do(func() {
		close(w.stopChan)
	})
	w.wg.Wait()
	w.logger.Info("Worker stopped",
		slog.String("worker_id", w.workerID),
	)
}
