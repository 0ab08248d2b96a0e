package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/autoapply/api/schemas"
	"github.com/xkilldash9x/autoapply/internal/humanoid"
)

// ErrElementNotFound is returned when a selector does not resolve on the page.
var ErrElementNotFound = errors.New("browser: element not found")

// Session is one chromedp tab. It implements schemas.BrowserSession.
type Session struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger

	humanoid *humanoid.Humanoid
	executor humanoid.Executor

	navigationTimeout time.Duration
	postLoadWait      time.Duration

	closeOnce sync.Once
}

var _ schemas.BrowserSession = (*Session)(nil)

func (s *Session) ID() string { return s.id }

// run executes chromedp actions on the tab, bounded by the caller's context.
func (s *Session) run(ctx context.Context, actions ...chromedp.Action) error {
	opCtx, cancel := CombineContext(s.ctx, ctx)
	defer cancel()
	return chromedp.Run(opCtx, actions...)
}

func (s *Session) Navigate(ctx context.Context, url string) error {
	navCtx, cancel := context.WithTimeout(ctx, s.navigationTimeout)
	defer cancel()

	s.logger.Debug("Navigating", zap.String("url", url))
	if err := s.run(navCtx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}
	return s.WaitStable(navCtx)
}

func (s *Session) WaitStable(ctx context.Context) error {
	var ready bool
	err := s.run(ctx,
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Poll(`document.readyState === "complete"`, &ready,
			chromedp.WithPollingInterval(100*time.Millisecond)),
	)
	if err != nil {
		return fmt.Errorf("page did not stabilize: %w", err)
	}
	if s.postLoadWait > 0 {
		return s.executor.Sleep(ctx, s.postLoadWait)
	}
	return nil
}

func (s *Session) PageHTML(ctx context.Context) (string, error) {
	var html string
	if err := s.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("failed to snapshot page: %w", err)
	}
	return html, nil
}

// SetValue focuses and clears the control, types the value with humanized
// cadence, then fires input and change events.
func (s *Session) SetValue(ctx context.Context, selector, value string) error {
	opCtx, cancel := CombineContext(s.ctx, ctx)
	defer cancel()

	var found bool
	if err := chromedp.Run(opCtx, chromedp.Evaluate(call(prepareInputJS, selector), &found)); err != nil {
		return fmt.Errorf("failed to focus %s: %w", selector, err)
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrElementNotFound, selector)
	}

	if err := s.humanoid.Type(opCtx, s.executor, value); err != nil {
		return fmt.Errorf("failed to type into %s: %w", selector, err)
	}

	var final *string
	if err := chromedp.Run(opCtx, chromedp.Evaluate(call(finalizeInputJS, selector, value), &final)); err != nil {
		return fmt.Errorf("failed to commit value for %s: %w", selector, err)
	}
	if final == nil {
		return fmt.Errorf("%w: %s", ErrElementNotFound, selector)
	}
	return nil
}

func (s *Session) SelectOption(ctx context.Context, selector, value string) error {
	var ok bool
	if err := s.run(ctx, chromedp.Evaluate(call(selectOptionJS, selector, value), &ok)); err != nil {
		return fmt.Errorf("failed to select option on %s: %w", selector, err)
	}
	if !ok {
		return fmt.Errorf("%w: option %q in %s", ErrElementNotFound, value, selector)
	}
	return nil
}

func (s *Session) SetChecked(ctx context.Context, selector string, checked bool) error {
	var state *bool
	if err := s.run(ctx, chromedp.Evaluate(call(setCheckedJS, selector, checked), &state)); err != nil {
		return fmt.Errorf("failed to set checked on %s: %w", selector, err)
	}
	if state == nil {
		return fmt.Errorf("%w: %s", ErrElementNotFound, selector)
	}
	return nil
}

func (s *Session) SetFiles(ctx context.Context, selector string, paths []string) error {
	if err := s.run(ctx, chromedp.SetUploadFiles(selector, paths, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("failed to attach files to %s: %w", selector, err)
	}
	return nil
}

// Click uses a real pointer click when the element is visible and a
// synthetic DOM click otherwise, as for visually hidden custom radio inputs.
func (s *Session) Click(ctx context.Context, selector string) error {
	var visible *bool
	if err := s.run(ctx, chromedp.Evaluate(call(visibleJS, selector), &visible)); err != nil {
		return fmt.Errorf("failed to inspect %s: %w", selector, err)
	}
	if visible == nil {
		return fmt.Errorf("%w: %s", ErrElementNotFound, selector)
	}
	if *visible {
		if err := s.run(ctx, chromedp.Click(selector, chromedp.ByQuery)); err != nil {
			return fmt.Errorf("failed to click %s: %w", selector, err)
		}
		return nil
	}

	var ok bool
	if err := s.run(ctx, chromedp.Evaluate(call(jsClickJS, selector), &ok)); err != nil {
		return fmt.Errorf("failed to click %s: %w", selector, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrElementNotFound, selector)
	}
	return nil
}

func (s *Session) ReadValue(ctx context.Context, selector string) (string, error) {
	var v *string
	if err := s.run(ctx, chromedp.Evaluate(call(readValueJS, selector), &v)); err != nil {
		return "", fmt.Errorf("failed to read %s: %w", selector, err)
	}
	if v == nil {
		return "", fmt.Errorf("%w: %s", ErrElementNotFound, selector)
	}
	return *v, nil
}

func (s *Session) Exists(ctx context.Context, selector string) (bool, error) {
	var ok bool
	if err := s.run(ctx, chromedp.Evaluate(call(existsJS, selector), &ok)); err != nil {
		return false, fmt.Errorf("failed to query %s: %w", selector, err)
	}
	return ok, nil
}

func (s *Session) CurrentURL(ctx context.Context) (string, error) {
	var url string
	if err := s.run(ctx, chromedp.Location(&url)); err != nil {
		return "", fmt.Errorf("failed to read location: %w", err)
	}
	return url, nil
}

func (s *Session) TextContent(ctx context.Context) (string, error) {
	var text string
	if err := s.run(ctx, chromedp.Evaluate(bodyTextJS, &text)); err != nil {
		return "", fmt.Errorf("failed to read page text: %w", err)
	}
	return text, nil
}

// ExecuteScript evaluates script in the page, awaiting a returned promise.
func (s *Session) ExecuteScript(ctx context.Context, script string, res interface{}) error {
	awaitPromise := func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
		return p.WithAwaitPromise(true)
	}
	if err := s.run(ctx, chromedp.Evaluate(script, res, awaitPromise)); err != nil {
		return fmt.Errorf("script evaluation failed: %w", err)
	}
	return nil
}

// close tears down the tab. With graceful set it waits for the target to
// close; otherwise the tab context is only canceled.
func (s *Session) close(graceful bool) {
	s.closeOnce.Do(func() {
		if graceful {
			if err := chromedp.Cancel(s.ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Debug("Tab close reported an error", zap.Error(err))
			}
		}
		s.cancel()
	})
}
