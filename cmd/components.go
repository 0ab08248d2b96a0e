package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/autoapply/api/schemas"
	"github.com/xkilldash9x/autoapply/internal/browser"
	"github.com/xkilldash9x/autoapply/internal/captcha"
	"github.com/xkilldash9x/autoapply/internal/config"
	"github.com/xkilldash9x/autoapply/internal/extractor"
	"github.com/xkilldash9x/autoapply/internal/fallback"
	"github.com/xkilldash9x/autoapply/internal/fieldgen"
	"github.com/xkilldash9x/autoapply/internal/filler"
	"github.com/xkilldash9x/autoapply/internal/humanoid"
	"github.com/xkilldash9x/autoapply/internal/llmclient"
	"github.com/xkilldash9x/autoapply/internal/orchestrator"
	"github.com/xkilldash9x/autoapply/internal/profile"
	"github.com/xkilldash9x/autoapply/internal/recipe"
	"github.com/xkilldash9x/autoapply/internal/store"
)

// appStore is everything the commands persist through. Both the PostgreSQL
// store and the in-memory store satisfy it.
type appStore interface {
	orchestrator.Store
	recipe.Store
	fallback.Store
	CreateApplication(ctx context.Context, app *schemas.Application) error
	GetApplication(ctx context.Context, id string) (*schemas.Application, error)
	InFlightApplication(ctx context.Context, userID, jobID string) (*schemas.Application, error)
}

type migrator interface {
	Migrate(ctx context.Context) error
}

var (
	_ appStore = (*store.Store)(nil)
	_ appStore = (*store.Memory)(nil)
	_ migrator = (*store.Store)(nil)
)

// storeProvider creates the store a command runs against. Tests inject an
// in-memory one.
type storeProvider interface {
	Create(ctx context.Context, cfg config.Interface, logger *zap.Logger) (appStore, func(), error)
}

type defaultStoreProvider struct{}

// NewStoreProvider returns the PostgreSQL-backed provider.
func NewStoreProvider() storeProvider {
	return &defaultStoreProvider{}
}

func (p *defaultStoreProvider) Create(ctx context.Context, cfg config.Interface, logger *zap.Logger) (appStore, func(), error) {
	if cfg.Database().URL == "" {
		return nil, nil, errors.New("database URL is not configured (AUTOAPPLY_DATABASE_URL)")
	}
	pool, err := pgxpool.New(ctx, cfg.Database().URL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	st, err := store.New(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	cleanup := func() {
		pool.Close()
		logger.Debug("Database connection pool closed")
	}
	return st, cleanup, nil
}

// memoryStoreProvider backs dry runs that keep nothing after exit.
type memoryStoreProvider struct {
	mem *store.Memory
}

func (p *memoryStoreProvider) Create(context.Context, config.Interface, *zap.Logger) (appStore, func(), error) {
	if p.mem == nil {
		p.mem = store.NewMemory()
	}
	return p.mem, func() {}, nil
}

// components is the wired application for the run command.
type components struct {
	Store        appStore
	Sessions     schemas.SessionProvider
	Bus          *fallback.Bus
	Queue        *fallback.Queue
	Recipes      *recipe.Cache
	Profile      *schemas.Profile
	Orchestrator *orchestrator.Orchestrator

	closeSessions func()
	storeCleanup  func()
}

// Shutdown releases everything in reverse order of construction.
func (c *components) Shutdown() {
	if c.Bus != nil {
		c.Bus.Shutdown()
	}
	if c.closeSessions != nil {
		c.closeSessions()
	}
	if c.storeCleanup != nil {
		c.storeCleanup()
	}
}

// sessionFactory builds the browser session provider. Tests replace it.
type sessionFactory func(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (schemas.SessionProvider, func(), error)

func newBrowserSessions(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (schemas.SessionProvider, func(), error) {
	p, err := browser.NewProvider(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return p, p.Close, nil
}

// llmFactory builds the tier router. Tests replace it.
type llmFactory func(ctx context.Context, cfg config.LLMRouterConfig, logger *zap.Logger) (schemas.LLMClient, error)

func newLLMRouter(ctx context.Context, cfg config.LLMRouterConfig, logger *zap.Logger) (schemas.LLMClient, error) {
	return llmclient.NewRouterFromConfig(ctx, cfg, logger)
}

type componentFactories struct {
	store    storeProvider
	sessions sessionFactory
	llm      llmFactory
}

// initializeComponents wires the orchestrator and everything it drives.
// On error the partially built components are returned for Shutdown.
func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger, f componentFactories) (*components, error) {
	c := &components{}

	prof, err := profile.Load(cfg.Profile().Path)
	if err != nil {
		return c, fmt.Errorf("failed to load candidate profile: %w", err)
	}
	c.Profile = prof

	st, cleanup, err := f.store.Create(ctx, cfg, logger)
	if err != nil {
		return c, err
	}
	c.Store, c.storeCleanup = st, cleanup

	llm, err := f.llm(ctx, cfg.LLM(), logger)
	if err != nil {
		return c, fmt.Errorf("failed to initialize AI providers: %w", err)
	}

	sessions, closeSessions, err := f.sessions(ctx, cfg.Browser(), logger)
	if err != nil {
		return c, fmt.Errorf("failed to initialize browser: %w", err)
	}
	c.Sessions, c.closeSessions = sessions, closeSessions

	pacer := humanoid.New(cfg.Browser().Humanoid, logger, time.Now().UnixNano())
	fill := filler.New(cfg.Filler(), pacer, logger)

	c.Bus = fallback.NewBus(logger, 0)
	c.Queue = fallback.NewQueue(st, c.Bus, logger)
	c.Recipes = recipe.New(st, cfg.Recipe(), fill, logger)

	deps := orchestrator.Deps{
		Store:     st,
		Sessions:  sessions,
		Extractor: extractor.New(cfg.Extractor(), logger),
		Generator: fieldgen.New(llm, logger),
		Filler:    fill,
		Recipes:   c.Recipes,
		Fallback:  c.Queue,
		Bus:       c.Bus,
		Profile:   prof,
	}

	captchaCfg := cfg.Captcha()
	if captchaCfg.Enabled && captchaCfg.Endpoint != "" {
		solver, err := captcha.NewClient(captchaCfg, logger)
		if err != nil {
			return c, fmt.Errorf("failed to initialize captcha solver: %w", err)
		}
		deps.Captcha = captcha.NewHandler(solver, captchaCfg, logger)
	} else {
		logger.Info("No captcha solver configured; challenges will be handed to operators")
	}

	orch, err := orchestrator.New(cfg, logger, deps)
	if err != nil {
		return c, fmt.Errorf("failed to create orchestrator: %w", err)
	}
	c.Orchestrator = orch
	return c, nil
}
