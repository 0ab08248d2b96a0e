package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/autoapply/api/schemas"
	"github.com/xkilldash9x/autoapply/internal/config"
	"github.com/xkilldash9x/autoapply/internal/jobs"
	"github.com/xkilldash9x/autoapply/internal/observability"
	"github.com/xkilldash9x/autoapply/internal/recipe"
	"github.com/xkilldash9x/autoapply/internal/store"
)

type runOptions struct {
	feed        string
	schedule    string
	concurrency int
	headless    bool
	wsEndpoint  string
	inMemory    bool
}

func newRunCmd(provider storeProvider) *cobra.Command {
	opts := &runOptions{}
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Applies to every job in the feed, once or on a schedule",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			applyRunOverrides(cmd, cfg, opts)

			factories := componentFactories{
				store:    provider,
				sessions: newBrowserSessions,
				llm:      newLLMRouter,
			}
			if opts.inMemory {
				logger.Warn("Using the in-memory store; nothing will be persisted")
				factories.store = &memoryStoreProvider{}
			}
			return runEngine(ctx, cmd.OutOrStdout(), cfg, logger, factories, opts.schedule)
		},
	}

	runCmd.Flags().StringVar(&opts.feed, "feed", "", "Path to the YAML job feed. (Overrides config/env)")
	runCmd.Flags().StringVar(&opts.schedule, "schedule", "", "Cron expression to re-read the feed on; empty runs once")
	runCmd.Flags().IntVarP(&opts.concurrency, "concurrency", "j", 0, "Number of concurrent application workers. (Overrides config/env)")
	runCmd.Flags().BoolVar(&opts.headless, "headless", true, "Run the browser without a window. (Overrides config/env)")
	runCmd.Flags().StringVar(&opts.wsEndpoint, "ws-endpoint", "", "Attach to a remote browser over CDP instead of launching one")
	runCmd.Flags().BoolVar(&opts.inMemory, "in-memory", false, "Keep all state in memory for a dry run")
	return runCmd
}

func applyRunOverrides(cmd *cobra.Command, cfg *config.Config, opts *runOptions) {
	if opts.feed != "" {
		cfg.JobsCfg.FeedPath = opts.feed
	}
	if opts.concurrency > 0 {
		cfg.SetEngineWorkerConcurrency(opts.concurrency)
	}
	if cmd.Flags().Changed("headless") {
		cfg.SetBrowserHeadless(opts.headless)
	}
	if opts.wsEndpoint != "" {
		cfg.SetBrowserWSEndpoint(opts.wsEndpoint)
	}
}

// runEngine wires the components, starts the worker pool and feeds it until
// the feed is exhausted or, with a schedule, until ctx is cancelled.
func runEngine(ctx context.Context, out io.Writer, cfg *config.Config, logger *zap.Logger, f componentFactories, schedule string) error {
	var sched cron.Schedule
	if schedule != "" {
		parsed, err := cron.ParseStandard(schedule)
		if err != nil {
			return fmt.Errorf("invalid schedule %q: %w", schedule, err)
		}
		sched = parsed
	}

	feed, err := jobs.NewFileProvider(cfg.Jobs().FeedPath, logger)
	if err != nil {
		return err
	}

	comps, err := initializeComponents(ctx, cfg, logger, f)
	if err != nil {
		comps.Shutdown()
		return fmt.Errorf("failed to initialize components: %w", err)
	}
	defer comps.Shutdown()

	userID := cfg.Jobs().UserID
	if userID == "" {
		userID = comps.Profile.UserID
	}
	d := &dispatcher{
		store:  comps.Store,
		jobs:   feed,
		userID: userID,
		logger: logger.Named("dispatcher"),
		seen:   make(map[string]struct{}),
	}

	in := make(chan schemas.Application)
	orch := comps.Orchestrator
	orch.Start(ctx, in)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(in)
		if sched == nil {
			return d.dispatch(gctx, in)
		}
		return d.runScheduled(gctx, in, sched)
	})

	dispatchErr := g.Wait()
	orch.Stop()

	stats := orch.Stats()
	fmt.Fprintf(out, "\nRun complete. Submitted: %d  Needs human: %d  Failed: %d  Retries: %d  Cost: $%.4f\n",
		stats.Submitted, stats.NeedsHuman, stats.Failed, stats.Retries, stats.Cost)

	if dispatchErr != nil && !errors.Is(dispatchErr, context.Canceled) {
		return dispatchErr
	}
	return nil
}

// dispatcher turns feed entries into queued applications.
type dispatcher struct {
	store  appStore
	jobs   schemas.JobProvider
	userID string
	logger *zap.Logger

	mu   sync.Mutex
	seen map[string]struct{}
}

func (d *dispatcher) runScheduled(ctx context.Context, in chan<- schemas.Application, sched cron.Schedule) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	c.Schedule(sched, cron.FuncJob(func() {
		if err := d.dispatch(ctx, in); err != nil && !errors.Is(err, context.Canceled) {
			d.logger.Error("Scheduled dispatch failed", zap.Error(err))
		}
	}))

	if err := d.dispatch(ctx, in); err != nil && !errors.Is(err, context.Canceled) {
		d.logger.Error("Initial dispatch failed", zap.Error(err))
	}
	c.Start()
	d.logger.Info("Waiting for scheduled dispatches", zap.Time("next", sched.Next(time.Now())))

	<-ctx.Done()
	<-c.Stop().Done()
	return ctx.Err()
}

// dispatch reads the feed once and sends every new job to in. Jobs already
// dispatched by this process are skipped. A job still in flight in the store
// is sent again only when its application never got past ANALYZING, which is
// how rows stranded by an interrupted run are picked back up.
func (d *dispatcher) dispatch(ctx context.Context, in chan<- schemas.Application) error {
	list, err := d.jobs.Jobs(ctx)
	if err != nil {
		return fmt.Errorf("failed to read job feed: %w", err)
	}

	var queued, skipped int
	for _, job := range list {
		if !d.markSeen(job.JobID) {
			skipped++
			continue
		}
		app := &schemas.Application{
			ID:       uuid.New().String(),
			UserID:   d.userID,
			JobID:    job.JobID,
			Platform: recipe.Fingerprint(job.ATSType, job.ApplyURL),
			ApplyURL: job.ApplyURL,
			Status:   schemas.StatusQueued,
			QueuedAt: time.Now().UTC(),
			Job:      job,
		}
		if err := d.store.CreateApplication(ctx, app); err != nil {
			if !errors.Is(err, store.ErrApplicationInFlight) {
				d.unmarkSeen(job.JobID)
				return fmt.Errorf("failed to create application for job %s: %w", job.JobID, err)
			}
			app, err = d.recoverStranded(ctx, job)
			if err != nil {
				d.unmarkSeen(job.JobID)
				return err
			}
			if app == nil {
				skipped++
				continue
			}
		}

		select {
		case in <- *app:
			queued++
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	d.logger.Info("Dispatched job feed", zap.Int("queued", queued), zap.Int("skipped", skipped))
	return nil
}

// recoverStranded returns the in-flight application for job when an earlier run
// queued it but never finished the first attempt. Rows past ANALYZING may
// already have touched the form and rows in NEEDS_HUMAN belong to an
// operator, so those are left alone and nil is returned.
func (d *dispatcher) recoverStranded(ctx context.Context, job schemas.JobContext) (*schemas.Application, error) {
	existing, err := d.store.InFlightApplication(ctx, d.userID, job.JobID)
	if errors.Is(err, store.ErrNotFound) {
		// Finished between the insert and the lookup.
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load in-flight application for job %s: %w", job.JobID, err)
	}

	switch existing.Status {
	case schemas.StatusQueued, schemas.StatusAnalyzing:
	default:
		d.logger.Debug("Application already in flight",
			zap.String("job_id", job.JobID),
			zap.String("application_id", existing.ID),
			zap.String("status", string(existing.Status)),
		)
		return nil, nil
	}

	existing.Job = job
	if existing.Platform == "" {
		existing.Platform = recipe.Fingerprint(job.ATSType, job.ApplyURL)
	}
	if existing.ApplyURL == "" {
		existing.ApplyURL = job.ApplyURL
	}
	d.logger.Info("Re-dispatching stranded application",
		zap.String("job_id", job.JobID),
		zap.String("application_id", existing.ID),
		zap.String("status", string(existing.Status)),
	)
	return existing, nil
}

func (d *dispatcher) markSeen(jobID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.seen[jobID]; ok {
		return false
	}
	d.seen[jobID] = struct{}{}
	return true
}

func (d *dispatcher) unmarkSeen(jobID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, jobID)
}
