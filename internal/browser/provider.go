// Package browser provides chromedp-backed browser sessions for filling
// application forms.
package browser

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/cenkalti/backoff/v4"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/xkilldash9x/autoapply/api/schemas"
	"github.com/xkilldash9x/autoapply/internal/browser/stealth"
	"github.com/xkilldash9x/autoapply/internal/config"
	"github.com/xkilldash9x/autoapply/internal/humanoid"
)

// Provider owns the browser connection and hands out bounded tab sessions.
// It implements schemas.SessionProvider.
type Provider struct {
	cfg     config.BrowserConfig
	logger  *zap.Logger
	persona stealth.Persona
	sem     *semaphore.Weighted

	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc

	mu       sync.Mutex
	sessions map[string]*Session
}

var _ schemas.SessionProvider = (*Provider)(nil)

// NewProvider connects to the configured browser, retrying the connection
// up to browser.launch_retries times.
func NewProvider(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*Provider, error) {
	p := &Provider{
		cfg:      cfg,
		logger:   logger.Named("browser"),
		persona:  stealth.DefaultPersona,
		sem:      semaphore.NewWeighted(int64(cfg.MaxSessions)),
		sessions: make(map[string]*Session),
	}

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(cfg.LaunchRetries)), ctx)
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		err := p.connect(ctx)
		if err != nil {
			p.logger.Warn("Browser connection failed", zap.Int("attempt", attempt), zap.Error(err))
		}
		return err
	}, b)
	if err != nil {
		return nil, fmt.Errorf("failed to start browser after %d attempts: %w", attempt, err)
	}

	p.logger.Info("Browser provider ready",
		zap.Bool("remote", cfg.WSEndpoint != ""),
		zap.Int("max_sessions", cfg.MaxSessions),
	)
	return p, nil
}

func (p *Provider) connect(ctx context.Context) error {
	var (
		allocCtx    context.Context
		allocCancel context.CancelFunc
	)
	if p.cfg.WSEndpoint != "" {
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(ctx, p.cfg.WSEndpoint, remoteOptions(p.cfg.WSEndpoint)...)
	} else {
		allocCtx, allocCancel = chromedp.NewExecAllocator(ctx, allocatorOptions(p.cfg)...)
	}

	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(p.logger.Sugar().Debugf),
		chromedp.WithErrorf(p.logger.Sugar().Debugf),
	)
	// The first Run starts (or attaches to) the browser.
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return err
	}

	p.allocCancel = allocCancel
	p.browserCtx = browserCtx
	p.browserCancel = browserCancel
	return nil
}

// remoteOptions keeps a fully qualified websocket path as-is. Bare host:port
// endpoints are resolved through /json/version by chromedp.
func remoteOptions(endpoint string) []chromedp.RemoteAllocatorOption {
	u, err := url.Parse(endpoint)
	if err != nil || u.Path == "" || u.Path == "/" {
		return nil
	}
	return []chromedp.RemoteAllocatorOption{chromedp.NoModifyURL}
}

// allocatorOptions builds the local exec allocator flags.
func allocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.NoSandbox,
		chromedp.UserAgent(stealth.DefaultPersona.UserAgent),
	)
	if cfg.Proxy.Server != "" {
		opts = append(opts, chromedp.ProxyServer(cfg.Proxy.Server))
	}
	for _, arg := range cfg.Args {
		name, value := parseArg(arg)
		if name != "" {
			opts = append(opts, chromedp.Flag(name, value))
		}
	}
	return opts
}

// parseArg turns "--name=value" or "--name" into a chromedp flag.
func parseArg(arg string) (string, interface{}) {
	arg = strings.TrimLeft(strings.TrimSpace(arg), "-")
	if arg == "" {
		return "", nil
	}
	if name, value, ok := strings.Cut(arg, "="); ok {
		return name, value
	}
	return arg, true
}

// Acquire opens a new stealth-configured tab. Waiting for a free slot is
// bounded by browser.acquire_timeout; running out of it is a FATAL attempt error.
func (p *Provider) Acquire(ctx context.Context) (schemas.BrowserSession, error) {
	acqCtx, cancel := context.WithTimeout(ctx, p.cfg.AcquireTimeout)
	defer cancel()
	if err := p.sem.Acquire(acqCtx, 1); err != nil {
		return nil, schemas.NewAttemptError(schemas.ErrorFatal, "acquire", "no browser session available", err)
	}

	session, err := p.newSession(acqCtx)
	if err != nil {
		p.sem.Release(1)
		return nil, schemas.NewAttemptError(schemas.ErrorFatal, "acquire", "failed to open browser tab", err)
	}

	p.mu.Lock()
	p.sessions[session.id] = session
	p.mu.Unlock()

	p.logger.Debug("Session acquired", zap.String("session_id", session.id))
	return session, nil
}

func (p *Provider) newSession(ctx context.Context) (*Session, error) {
	tabCtx, tabCancel := chromedp.NewContext(p.browserCtx)
	id := uuid.NewString()
	logger := p.logger.With(zap.String("session_id", id))

	tasks := chromedp.Tasks{stealth.Apply(p.persona, p.cfg.Proxy.GeoIP, logger)}
	if p.cfg.Proxy.Username != "" {
		p.listenForProxyAuth(tabCtx)
		tasks = append(tasks, fetch.Enable().WithHandleAuthRequests(true))
	}

	runCtx, cancel := CombineContext(tabCtx, ctx)
	defer cancel()
	if err := chromedp.Run(runCtx, tasks); err != nil {
		tabCancel()
		return nil, err
	}

	return &Session{
		id:                id,
		ctx:               tabCtx,
		cancel:            tabCancel,
		logger:            logger,
		humanoid:          humanoid.New(p.cfg.Humanoid, logger, 0),
		executor:          humanoid.NewCDPExecutor(),
		navigationTimeout: p.cfg.NavigationTimeout,
		postLoadWait:      p.cfg.PostLoadWait,
	}, nil
}

// listenForProxyAuth answers proxy credential challenges for the tab.
func (p *Provider) listenForProxyAuth(tabCtx context.Context) {
	creds := &fetch.AuthChallengeResponse{
		Response: fetch.AuthChallengeResponseResponseProvideCredentials,
		Username: p.cfg.Proxy.Username,
		Password: p.cfg.Proxy.Password,
	}
	chromedp.ListenTarget(tabCtx, func(ev interface{}) {
		switch e := ev.(type) {
		case *fetch.EventAuthRequired:
			go func() {
				_ = chromedp.Run(tabCtx, fetch.ContinueWithAuth(e.RequestID, creds))
			}()
		case *fetch.EventRequestPaused:
			go func() {
				_ = chromedp.Run(tabCtx, fetch.ContinueRequest(e.RequestID))
			}()
		}
	})
}

// Release closes a healthy session's tab and frees its slot.
func (p *Provider) Release(s schemas.BrowserSession) {
	p.finish(s, true)
}

// Discard drops a session in an unknown state without waiting on the tab.
func (p *Provider) Discard(s schemas.BrowserSession) {
	p.finish(s, false)
}

func (p *Provider) finish(bs schemas.BrowserSession, graceful bool) {
	s, ok := bs.(*Session)
	if !ok || s == nil {
		return
	}
	p.mu.Lock()
	_, tracked := p.sessions[s.id]
	delete(p.sessions, s.id)
	p.mu.Unlock()
	if !tracked {
		return
	}

	s.close(graceful)
	p.sem.Release(1)
	p.logger.Debug("Session finished", zap.String("session_id", s.id), zap.Bool("graceful", graceful))
}

// Active returns the number of sessions currently handed out.
func (p *Provider) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sessions)
}

// Close discards every open session and disconnects from the browser.
func (p *Provider) Close() {
	p.mu.Lock()
	open := make([]*Session, 0, len(p.sessions))
	for _, s := range p.sessions {
		open = append(open, s)
	}
	p.mu.Unlock()

	for _, s := range open {
		p.Discard(s)
	}
	if p.browserCancel != nil {
		p.browserCancel()
	}
	if p.allocCancel != nil {
		p.allocCancel()
	}
	p.logger.Info("Browser provider closed")
}
