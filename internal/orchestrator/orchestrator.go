// Package orchestrator drives queued applications through the attempt state
// machine on a bounded pool of workers.
package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/xkilldash9x/autoapply/api/schemas"
	"github.com/xkilldash9x/autoapply/internal/captcha"
	"github.com/xkilldash9x/autoapply/internal/config"
	"github.com/xkilldash9x/autoapply/internal/extractor"
	"github.com/xkilldash9x/autoapply/internal/fallback"
	"github.com/xkilldash9x/autoapply/internal/fieldgen"
	"github.com/xkilldash9x/autoapply/internal/filler"
	"github.com/xkilldash9x/autoapply/internal/recipe"
	"github.com/xkilldash9x/autoapply/internal/store"
)

var (
	// ErrQueueFull is returned by Submit when the dispatch buffer is full.
	ErrQueueFull = errors.New("orchestrator queue is full")
	// ErrStopped is returned by Submit when the pool is not running.
	ErrStopped = errors.New("orchestrator is not accepting work")
)

// -- Dependencies --

// Store persists application state.
type Store interface {
	StartAttempt(ctx context.Context, id string, retryCount int, at time.Time) error
	UpdateStatus(ctx context.Context, id string, status schemas.ApplicationStatus) error
	CompleteApplication(ctx context.Context, final *schemas.Application) error
	HandOffApplication(ctx context.Context, final *schemas.Application) error
	RecordAttempt(ctx context.Context, rec schemas.AttemptRecord) error
}

// Extractor reads the form on a loaded page.
type Extractor interface {
	Extract(ctx context.Context, page extractor.Page) (*schemas.FormSchema, error)
}

// Generator produces validated field values.
type Generator interface {
	Generate(ctx context.Context, form *schemas.FormSchema, profile *schemas.Profile, job schemas.JobContext) (*fieldgen.Result, error)
}

// Filler applies field values to the page.
type Filler interface {
	Fill(ctx context.Context, s filler.Session, fields []schemas.FieldDescriptor, responses map[string]schemas.FieldResponse) (*filler.Report, error)
}

// CaptchaResolver solves a challenge and injects the token.
type CaptchaResolver interface {
	Resolve(ctx context.Context, page captcha.Injector, challenge schemas.CaptchaChallenge) (*captcha.Outcome, error)
}

// Recipes is the recipe cache.
type Recipes interface {
	Lookup(ctx context.Context, platform string) (*schemas.Recipe, error)
	Record(ctx context.Context, platform string, steps []schemas.RecipeStep, outcome schemas.RecipeOutcome) (*schemas.Recipe, error)
	RecordReplay(ctx context.Context, r *schemas.Recipe, ok bool) (*schemas.Recipe, error)
	Replay(ctx context.Context, s recipe.Session, r *schemas.Recipe, rebind recipe.Rebind) (*filler.Report, error)
}

// Fallback hands applications to human operators.
type Fallback interface {
	Enqueue(ctx context.Context, applicationID, reason string) (*schemas.WorkerSession, error)
}

// Deps are the components an Orchestrator drives. Captcha and Bus are
// optional; without a resolver every challenge goes to a human.
type Deps struct {
	Store     Store
	Sessions  schemas.SessionProvider
	Extractor Extractor
	Generator Generator
	Filler    Filler
	Captcha   CaptchaResolver
	Recipes   Recipes
	Fallback  Fallback
	Bus       *fallback.Bus
	Profile   *schemas.Profile
}

// Orchestrator runs application attempts.
type Orchestrator struct {
	cfg    config.Interface
	logger *zap.Logger
	deps   Deps
	stats  statsCounter

	stateMu   sync.RWMutex
	running   bool
	accepting bool
	queue     chan schemas.Application

	workers     sync.WaitGroup
	feeder      sync.WaitGroup
	listener    sync.WaitGroup
	unsubscribe func()
}

// New creates an Orchestrator.
func New(cfg config.Interface, logger *zap.Logger, deps Deps) (*Orchestrator, error) {
	switch {
	case cfg == nil:
		return nil, errors.New("config cannot be nil")
	case logger == nil:
		return nil, errors.New("logger cannot be nil")
	case deps.Store == nil || deps.Sessions == nil || deps.Extractor == nil || deps.Generator == nil ||
		deps.Filler == nil || deps.Recipes == nil || deps.Fallback == nil:
		return nil, errors.New("store, sessions, extractor, generator, filler, recipes and fallback are required")
	case deps.Profile == nil:
		return nil, errors.New("candidate profile cannot be nil")
	}
	return &Orchestrator{
		cfg:    cfg,
		logger: logger.Named("orchestrator"),
		deps:   deps,
	}, nil
}

// Start launches engine.worker_concurrency workers. Applications arrive
// through Submit and, when in is not nil, from in. Start does not block.
func (o *Orchestrator) Start(ctx context.Context, in <-chan schemas.Application) {
	o.stateMu.Lock()
	if o.running {
		o.stateMu.Unlock()
		o.logger.Warn("Start called while the orchestrator is already running")
		return
	}
	engineCfg := o.cfg.Engine()
	concurrency := engineCfg.WorkerConcurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	size := engineCfg.QueueSize
	if size <= 0 {
		size = 256
	}
	o.queue = make(chan schemas.Application, size)
	o.running = true
	o.accepting = true
	o.stateMu.Unlock()

	o.logger.Info("Starting attempt workers", zap.Int("concurrency", concurrency), zap.Int("queue_size", size))
	for i := 0; i < concurrency; i++ {
		o.workers.Add(1)
		go o.runWorker(ctx, i+1)
	}

	if in != nil {
		o.feeder.Add(1)
		go o.feed(ctx, in)
	}

	if o.deps.Bus != nil {
		events, unsubscribe := o.deps.Bus.Subscribe(fallback.EventHumanCompleted)
		o.unsubscribe = unsubscribe
		o.listener.Add(1)
		go o.listen(events)
	}
}

// Submit queues an application without blocking.
func (o *Orchestrator) Submit(app schemas.Application) error {
	o.stateMu.RLock()
	defer o.stateMu.RUnlock()
	if !o.accepting {
		return ErrStopped
	}
	select {
	case o.queue <- app:
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop waits for the input channel passed to Start to close (or the Start
// context to end), drains the queue and waits for the workers.
func (o *Orchestrator) Stop() {
	o.stateMu.Lock()
	if !o.running {
		o.stateMu.Unlock()
		return
	}
	o.stateMu.Unlock()

	o.logger.Info("Stopping orchestrator, waiting for in-flight attempts")
	o.feeder.Wait()

	o.stateMu.Lock()
	o.accepting = false
	close(o.queue)
	o.stateMu.Unlock()
	o.workers.Wait()

	if o.unsubscribe != nil {
		o.unsubscribe()
		o.unsubscribe = nil
	}
	o.listener.Wait()

	o.stateMu.Lock()
	o.running = false
	o.stateMu.Unlock()

	s := o.Stats()
	o.logger.Info("Orchestrator stopped",
		zap.Int("submitted", s.Submitted),
		zap.Int("needs_human", s.NeedsHuman),
		zap.Int("failed", s.Failed),
		zap.Int("retries", s.Retries),
		zap.Float64("cost", s.Cost),
	)
}

// Stats returns the totals since the Orchestrator was created.
func (o *Orchestrator) Stats() Stats {
	return o.stats.snapshot()
}

func (o *Orchestrator) feed(ctx context.Context, in <-chan schemas.Application) {
	defer o.feeder.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case app, ok := <-in:
			if !ok {
				return
			}
			select {
			case o.queue <- app:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (o *Orchestrator) runWorker(ctx context.Context, id int) {
	defer o.workers.Done()
	logger := o.logger.With(zap.Int("worker_id", id))
	logger.Debug("Worker started")
	for {
		if ctx.Err() != nil {
			logger.Debug("Context cancelled, worker exiting", zap.Error(ctx.Err()))
			return
		}
		select {
		case <-ctx.Done():
			logger.Debug("Context cancelled, worker exiting", zap.Error(ctx.Err()))
			return
		case app, ok := <-o.queue:
			if !ok {
				logger.Debug("Queue closed and drained, worker exiting")
				return
			}
			o.Process(ctx, app)
		}
	}
}

// listen logs operator completions. The application row has already been
// updated by the fallback queue.
func (o *Orchestrator) listen(events <-chan fallback.Event) {
	defer o.listener.Done()
	for evt := range events {
		if c, ok := evt.Payload.(fallback.Completion); ok {
			o.logger.Info("Human completion received",
				zap.String("application_id", c.ApplicationID),
				zap.String("session_id", c.SessionID),
				zap.String("operator", c.OperatorID),
				zap.String("result", string(c.Result)),
			)
		}
		o.deps.Bus.Acknowledge(evt)
	}
}

// Process runs an application to a final state for this lifecycle,
// retrying TRANSIENT failures with exponential backoff, and returns the
// final record. It returns nil when another writer already finished the
// application.
func (o *Orchestrator) Process(ctx context.Context, app schemas.Application) *schemas.Application {
	cfg := o.cfg.Orchestrator()
	if app.Platform == "" {
		app.Platform = recipe.Fingerprint(app.Job.ATSType, app.ApplyURL)
	}
	logger := o.logger.With(
		zap.String("application_id", app.ID),
		zap.String("job_id", app.JobID),
		zap.String("platform", app.Platform),
	)

	var (
		attempts int
		cost     float64
		last     *outcome
	)
	op := func() error {
		out := o.attempt(ctx, &app, attempts, logger)
		attempts++
		cost += out.cost
		last = out
		if out.skip {
			return backoff.Permanent(store.ErrAlreadyTerminal)
		}
		if out.kind == schemas.ErrorTransient && ctx.Err() == nil {
			return out.err
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	if cfg.RetryBaseDelay > 0 {
		b.InitialInterval = cfg.RetryBaseDelay
	}
	b.MaxElapsedTime = 0
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(maxRetries)), ctx)
	_ = backoff.RetryNotify(op, policy, func(err error, wait time.Duration) {
		logger.Warn("Transient failure, retrying", zap.Int("retry", attempts), zap.Duration("backoff", wait), zap.Error(err))
	})

	if last == nil || last.skip {
		logger.Info("Application already finished elsewhere")
		return nil
	}
	last.cost = cost
	return o.finish(&app, last, attempts-1, logger)
}

// finish writes the outcome of the lifecycle. SUBMITTED and FAILED are
// terminal writes; NEEDS_HUMAN parks the application and queues it for
// operators.
func (o *Orchestrator) finish(app *schemas.Application, out *outcome, retries int, logger *zap.Logger) *schemas.Application {
	final := *app
	final.Status = out.status
	final.Method = out.method
	final.Cost = out.cost
	final.RetryCount = retries
	if out.err != nil {
		final.Error = out.err.Error()
		final.ErrorKind = out.kind
	}

	if final.Status == schemas.StatusNeedsHuman {
		err := o.persist(func(ctx context.Context) error {
			if err := o.deps.Store.HandOffApplication(ctx, &final); err != nil {
				return err
			}
			_, err := o.deps.Fallback.Enqueue(ctx, final.ID, out.reason)
			return err
		})
		if err == nil {
			o.stats.observe(&final)
			logger.Info("Application needs a human", zap.String("reason", out.reason), zap.String("error_kind", string(final.ErrorKind)))
			return &final
		}
		if errors.Is(err, store.ErrAlreadyTerminal) {
			logger.Info("Application already finished elsewhere")
			return nil
		}
		logger.Error("Failed to hand off application, marking it failed", zap.Error(err))
		final.Status = schemas.StatusFailed
		final.ErrorKind = schemas.ErrorFatal
		final.Error = "failed to hand off to operators: " + err.Error()
	}

	now := time.Now().UTC()
	final.CompletedAt = &now
	err := o.persist(func(ctx context.Context) error { return o.deps.Store.CompleteApplication(ctx, &final) })
	switch {
	case errors.Is(err, store.ErrAlreadyTerminal):
		logger.Debug("Terminal write skipped; application already terminal")
		return nil
	case err != nil:
		logger.Error("Failed to persist final state", zap.Error(err))
	}

	o.stats.observe(&final)
	fields := []zap.Field{
		zap.String("status", string(final.Status)),
		zap.String("method", string(final.Method)),
		zap.Int("retries", final.RetryCount),
		zap.Float64("cost", final.Cost),
	}
	if final.Status == schemas.StatusFailed {
		logger.Warn("Application failed", append(fields, zap.String("error_kind", string(final.ErrorKind)), zap.String("error", final.Error))...)
	} else {
		logger.Info("Application submitted", fields...)
	}
	return &final
}

// persist runs a store write on a fresh context so that results are saved
// even when the attempt context is gone.
func (o *Orchestrator) persist(fn func(ctx context.Context) error) error {
	timeout := o.cfg.Orchestrator().PersistTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return fn(ctx)
}
