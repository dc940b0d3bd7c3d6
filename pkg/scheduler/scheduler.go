package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/sourcify-go/verify/pkg/matcher"
	"github.com/sourcify-go/verify/pkg/store"
	"github.com/sourcify-go/verify/pkg/verifier"
)

// Scheduler is the fixed-size worker pool described in the job-scheduler
// model: a bounded FIFO queue, one job at a time per worker, cooperative
// cancellation via context, and Store-backed deduplication.
type Scheduler struct {
	cfg          Config
	store        store.Store
	orchestrator *verifier.Orchestrator
	logger       *zap.Logger
	metrics      *Metrics
	registry     *prometheus.Registry

	queue  chan queuedJob
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	started bool
}

// New returns a Scheduler wired to store and orchestrator. Call Start to
// spin up its worker goroutines.
func New(cfg Config, st store.Store, orch *verifier.Orchestrator, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = DefaultConfig().JobTimeout
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultConfig().IdleTimeout
	}

	metrics, registry := NewMetrics("", "")
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cfg:          cfg,
		store:        st,
		orchestrator: orch,
		logger:       logger,
		metrics:      metrics,
		registry:     registry,
		queue:        make(chan queuedJob, cfg.QueueSize),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Registry returns the Prometheus registry this scheduler's metrics are
// registered under, for an HTTP handler to expose.
func (s *Scheduler) Registry() *prometheus.Registry {
	return s.registry
}

// Start launches the worker pool. Safe to call once; subsequent calls are
// no-ops.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true

	for i := 0; i < s.cfg.Workers; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
	s.logger.Info("scheduler started", zap.Int("workers", s.cfg.Workers), zap.Int("queue_size", s.cfg.QueueSize))
}

// Stop cancels every in-flight job and waits for workers to exit. No
// partial state is persisted for jobs that were mid-flight on cancel.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

// Submit deduplicates and accepts one verification request. On success it
// returns the UUID the caller polls via the job-status endpoint; the job
// itself runs asynchronously on the worker pool.
func (s *Scheduler) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	address := req.Address.Hex()

	if existing, err := s.store.GetVerifiedContractByChainAndAddress(ctx, req.ChainID, address); err == nil {
		if existing.Runtime.Match == matcher.MatchPerfect && existing.Creation.Match == matcher.MatchPerfect {
			s.metrics.JobsRejected.WithLabelValues("already_verified").Inc()
			return "", ErrAlreadyVerified
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		return "", err
	}

	pending, err := s.store.GetVerificationJobsByChainAndAddress(ctx, req.ChainID, address)
	if err != nil {
		return "", err
	}
	for _, job := range pending {
		if !job.IsJobCompleted() {
			s.metrics.JobsRejected.WithLabelValues("duplicate_verification_request").Inc()
			return "", ErrDuplicateRequest
		}
	}

	id := uuid.NewString()
	job := store.VerificationJob{
		ID:                   id,
		StartedAt:            time.Now(),
		ChainID:              req.ChainID,
		ContractAddress:      address,
		VerificationEndpoint: req.Endpoint,
		Hardware:             req.Hardware,
	}
	if err := s.store.InsertVerificationJob(ctx, job); err != nil {
		return "", err
	}

	select {
	case s.queue <- queuedJob{id: id, req: req}:
		s.metrics.JobsAccepted.Inc()
		s.metrics.QueueDepth.Set(float64(len(s.queue)))
		return id, nil
	default:
		return "", ErrQueueFull
	}
}

func (s *Scheduler) worker(workerID int) {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case qj := <-s.queue:
			s.metrics.QueueDepth.Set(float64(len(s.queue)))
			s.process(workerID, qj)
		}
	}
}

func (s *Scheduler) process(workerID int, qj queuedJob) {
	s.metrics.ActiveWorkers.Inc()
	defer s.metrics.ActiveWorkers.Dec()

	start := time.Now()
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.JobTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("verification panicked", zap.String("job_id", qj.id), zap.Any("panic", r))
			s.recordFailure(workerID, qj, errors.New("verification panicked"), start)
		}
	}()

	vreq := verifier.Request{
		ChainID:                 qj.req.ChainID,
		Address:                 qj.req.Address,
		Language:                qj.req.Language,
		CompilerVersion:         qj.req.CompilerVersion,
		StandardJSONInput:       qj.req.StandardJSONInput,
		ContractIdentifier:      qj.req.ContractIdentifier,
		CreationTransactionHash: qj.req.CreationTransactionHash,
	}

	export, err := s.orchestrator.Verify(ctx, vreq)
	elapsed := time.Since(start)
	s.metrics.CompileSeconds.Observe(elapsed.Seconds())

	if err != nil {
		// Cancellation discards the result entirely rather than recording
		// a terminal state the caller never asked for.
		if ctx.Err() != nil && s.ctx.Err() != nil {
			return
		}
		s.recordFailure(workerID, qj, err, start)
		return
	}

	s.recordSuccess(qj, export, start, elapsed)
}

func (s *Scheduler) recordSuccess(qj queuedJob, export *verifier.Export, startedAt time.Time, elapsed time.Duration) {
	verifiedID := uuid.NewString()
	snap := buildSnapshot(qj.id, verifiedID, qj.req, export, startedAt, elapsed.Milliseconds())

	if err := s.store.InsertVerificationSnapshot(context.Background(), snap); err != nil {
		s.logger.Error("failed to persist verification snapshot",
			zap.String("job_id", qj.id), zap.Error(err))
		return
	}
	s.metrics.JobsSucceeded.Inc()
	s.logger.Info("verification succeeded",
		zap.String("job_id", qj.id),
		zap.Uint64("chain_id", qj.req.ChainID),
		zap.String("address", qj.req.Address.Hex()),
		zap.String("runtime_match", string(export.RuntimeMatch.Match)))
}

func (s *Scheduler) recordFailure(workerID int, qj queuedJob, err error, startedAt time.Time) {
	var verr *verifier.VerificationError
	if !errors.As(err, &verr) {
		verr = &verifier.VerificationError{Code: verifier.ErrCompilerError, Message: err.Error()}
	}

	errorID := uuid.NewString()
	now := time.Now()
	job := store.VerificationJob{
		ID:                   qj.id,
		StartedAt:            startedAt,
		CompletedAt:          &now,
		ChainID:              qj.req.ChainID,
		ContractAddress:      qj.req.Address.Hex(),
		Error:                jobErrorRecord(errorID, verr),
		VerificationEndpoint: qj.req.Endpoint,
		Hardware:             qj.req.Hardware,
	}

	if uErr := s.store.UpdateVerificationJob(context.Background(), job); uErr != nil {
		s.logger.Error("failed to persist failed job", zap.String("job_id", qj.id), zap.Error(uErr))
	}

	s.metrics.JobsFailed.WithLabelValues(string(verr.Code)).Inc()
	s.logger.Warn("verification failed",
		zap.Int("worker_id", workerID),
		zap.String("job_id", qj.id),
		zap.String("code", string(verr.Code)),
		zap.Error(verr))
}
