// Package jobs runs automation jobs against the workflow engine. Jobs are
// queued in memory, executed by a small worker pool and persisted through a
// schemas.JobStore.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/portalpilot/api/schemas"
	"github.com/xkilldash9x/portalpilot/internal/config"
	"github.com/xkilldash9x/portalpilot/internal/observability"
)

var (
	// ErrInvalidJobType is returned by Submit for unknown job types.
	ErrInvalidJobType = errors.New("invalid job type")
	// ErrQueueFull is returned by Submit when the queue has no room.
	ErrQueueFull = errors.New("job queue is full")
)

// persistTimeout bounds the final store write, which runs detached from
// the worker context.
const persistTimeout = 30 * time.Second

// WorkflowEngine is the part of the workflow engine the runner drives.
type WorkflowEngine interface {
	Authenticate(ctx context.Context, baseURL string, creds schemas.Credentials) schemas.WorkflowResult
	ScrapeUsers(ctx context.Context, baseURL string, maxPages int) schemas.WorkflowResult
	ProvisionUser(ctx context.Context, baseURL string, user map[string]string) schemas.WorkflowResult
	DeprovisionUser(ctx context.Context, baseURL, identifier string) schemas.WorkflowResult
}

// Runner manages the in-process distribution of jobs to a pool of workers.
type Runner struct {
	cfg             config.JobsConfig
	baseURL         string
	defaultMaxPages int

	engine  WorkflowEngine
	store   schemas.JobStore
	logger  *zap.Logger
	metrics *observability.Metrics
	limiter *rate.Limiter
	queue   chan schemas.Job
	now     func() time.Time

	// stateLock protects the running state of the runner.
	stateLock sync.Mutex
	isRunning bool
	cancel    context.CancelFunc
	group     *errgroup.Group
}

// Option configures a Runner.
type Option func(*Runner)

// WithMetrics records job metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// WithClock overrides the time source used for job timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// NewRunner creates a Runner. Workers start with Start.
func NewRunner(engine WorkflowEngine, store schemas.JobStore, cfg *config.Config, logger *zap.Logger, opts ...Option) (*Runner, error) {
	if engine == nil {
		return nil, errors.New("workflow engine cannot be nil")
	}
	if store == nil {
		return nil, errors.New("job store cannot be nil")
	}
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	jobsCfg := cfg.Jobs
	if jobsCfg.QueueSize <= 0 {
		jobsCfg.QueueSize = 100
	}
	limit := rate.Inf
	if jobsCfg.RatePerSecond > 0 {
		limit = rate.Limit(jobsCfg.RatePerSecond)
	}
	burst := jobsCfg.Burst
	if burst <= 0 {
		burst = 1
	}

	r := &Runner{
		cfg:             jobsCfg,
		baseURL:         cfg.Portal.BaseURL,
		defaultMaxPages: cfg.Engine.DefaultMaxPages,
		engine:          engine,
		store:           store,
		logger:          logger.With(zap.String("component", "job_runner")),
		limiter:         rate.NewLimiter(limit, burst),
		queue:           make(chan schemas.Job, jobsCfg.QueueSize),
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Submit validates and stores a new pending job and queues it for execution.
func (r *Runner) Submit(ctx context.Context, jobType schemas.JobType, params schemas.JobParameters) (*schemas.Job, error) {
	if !jobType.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidJobType, jobType)
	}
	job := schemas.Job{
		ID:         uuid.NewString(),
		Type:       jobType,
		Status:     schemas.JobPending,
		Parameters: params,
		Log:        []string{},
		CreatedAt:  r.now().UTC(),
	}
	if err := r.store.CreateJob(ctx, &job); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	select {
	case r.queue <- job:
	default:
		msg := "Rejected: the job queue is full"
		if err := r.store.CompleteJob(ctx, job.ID, schemas.JobFailed, nil, []string{msg}, r.now().UTC()); err != nil {
			r.logger.Error("Failed to record rejected job", zap.String("job_id", job.ID), zap.Error(err))
		}
		return nil, ErrQueueFull
	}
	r.logger.Info("Job queued", zap.String("job_id", job.ID), zap.String("job_type", string(jobType)))
	return &job, nil
}

// Get returns one job.
func (r *Runner) Get(ctx context.Context, id string) (*schemas.Job, error) {
	return r.store.GetJob(ctx, id)
}

// List returns the newest jobs, up to the configured list limit.
func (r *Runner) List(ctx context.Context) ([]schemas.Job, error) {
	limit := r.cfg.ListLimit
	if limit <= 0 {
		limit = 20
	}
	return r.store.ListJobs(ctx, limit)
}

// Start launches the worker pool. Workers run until Stop is called or ctx ends.
func (r *Runner) Start(ctx context.Context) {
	r.stateLock.Lock()
	defer r.stateLock.Unlock()
	if r.isRunning {
		r.logger.Warn("Runner.Start called, but the runner is already running.")
		return
	}

	concurrency := r.cfg.WorkerConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	runCtx, cancel := context.WithCancel(ctx)
	group, groupCtx := errgroup.WithContext(runCtx)
	r.cancel = cancel
	r.group = group
	r.isRunning = true

	r.logger.Info("Starting job worker pool", zap.Int("concurrency", concurrency))
	for i := 0; i < concurrency; i++ {
		workerID := i + 1
		group.Go(func() error {
			r.runWorker(groupCtx, workerID)
			return nil
		})
	}
}

// Stop cancels in-flight jobs and waits for the workers to exit. Jobs still
// queued stay pending in the store.
func (r *Runner) Stop() {
	r.stateLock.Lock()
	if !r.isRunning {
		r.stateLock.Unlock()
		return
	}
	cancel, group := r.cancel, r.group
	r.isRunning = false
	r.stateLock.Unlock()

	r.logger.Info("Stopping job runner... waiting for workers to finish.")
	cancel()
	_ = group.Wait()
	if pending := len(r.queue); pending > 0 {
		r.logger.Warn("Jobs left pending at shutdown.", zap.Int("count", pending))
	}
	r.logger.Info("Job runner stopped.")
}

func (r *Runner) runWorker(ctx context.Context, workerID int) {
	logger := r.logger.With(zap.Int("worker_id", workerID))
	logger.Debug("Worker started")
	for {
		select {
		case <-ctx.Done():
			logger.Debug("Context cancelled, worker shutting down.", zap.Error(ctx.Err()))
			return
		case job := <-r.queue:
			r.process(ctx, job, logger.With(zap.String("job_id", job.ID)))
		}
	}
}

// process executes one job, retrying idempotent types with exponential
// backoff, and persists the final state.
func (r *Runner) process(ctx context.Context, job schemas.Job, logger *zap.Logger) {
	var (
		result  schemas.WorkflowResult
		log     []string
		attempt int
	)

	if err := r.limiter.Wait(ctx); err != nil {
		logger.Warn("Job not started before shutdown", zap.Error(err))
		return
	}

	timeout := r.cfg.DefaultTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}

	operation := func() error {
		attempt++
		if err := r.store.MarkRunning(ctx, job.ID, r.now().UTC(), attempt); err != nil {
			logger.Warn("Failed to mark job running", zap.Error(err))
		}
		log = append(log, fmt.Sprintf("Attempt %d started", attempt))

		jobCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		result = r.execute(jobCtx, job)
		log = append(log, result.Log...)

		if result.Success {
			log = append(log, fmt.Sprintf("Attempt %d succeeded", attempt))
			return nil
		}
		err := fmt.Errorf("attempt %d failed: %s", attempt, result.Error)
		log = append(log, fmt.Sprintf("Attempt %d failed (%s): %s", attempt, result.ErrorCode, result.Error))
		if !job.Type.Idempotent() || ctx.Err() != nil || result.ErrorCode == schemas.ErrCodePrecondition {
			return backoff.Permanent(err)
		}
		return err
	}

	b := backoff.NewExponentialBackOff()
	if r.cfg.RetryInitial > 0 {
		b.InitialInterval = r.cfg.RetryInitial
	}
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(r.cfg.MaxRetries)), ctx)

	err := backoff.RetryNotify(operation, policy, func(err error, wait time.Duration) {
		if r.metrics != nil {
			r.metrics.JobRetries.Inc()
		}
		logger.Info("Retrying job", zap.Duration("wait", wait), zap.Error(err))
	})

	status := schemas.JobCompleted
	if err != nil || !result.Success {
		status = schemas.JobFailed
	}

	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if perr := r.store.CompleteJob(persistCtx, job.ID, status, &result, log, r.now().UTC()); perr != nil {
		logger.Error("Failed to persist job result", zap.Error(perr))
	}
	if r.metrics != nil {
		r.metrics.JobsProcessed.WithLabelValues(string(job.Type), string(status)).Inc()
	}
	logger.Info("Job finished", zap.String("status", string(status)), zap.Int("attempts", attempt))
}

func (r *Runner) execute(ctx context.Context, job schemas.Job) schemas.WorkflowResult {
	p := job.Parameters
	baseURL := p.BaseURL
	if baseURL == "" {
		baseURL = r.baseURL
	}
	switch job.Type {
	case schemas.JobAuthenticate:
		return r.engine.Authenticate(ctx, baseURL, schemas.Credentials{Username: p.Username, Password: p.Password, OTPCode: p.OTPCode})
	case schemas.JobScrapeUsers:
		maxPages := p.MaxPages
		if maxPages <= 0 {
			maxPages = r.defaultMaxPages
		}
		return r.engine.ScrapeUsers(ctx, baseURL, maxPages)
	case schemas.JobProvision:
		return r.engine.ProvisionUser(ctx, baseURL, p.User)
	case schemas.JobDeprovision:
		return r.engine.DeprovisionUser(ctx, baseURL, p.Identifier)
	default:
		return schemas.WorkflowResult{
			Error:     fmt.Sprintf("%s: %q", ErrInvalidJobType, job.Type),
			ErrorCode: schemas.ErrCodePrecondition,
		}
	}
}
