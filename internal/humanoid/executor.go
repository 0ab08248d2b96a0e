package humanoid

import (
	"context"
	"time"

	"github.com/chromedp/chromedp"
)

// CDPExecutor drives the focused element of a chromedp tab.
type CDPExecutor struct{}

// NewCDPExecutor creates a new production executor.
func NewCDPExecutor() *CDPExecutor {
	return &CDPExecutor{}
}

func (e *CDPExecutor) SendKeys(ctx context.Context, keys string) error {
	return chromedp.SendKeys("document.activeElement", keys, chromedp.ByJSPath).Do(ctx)
}

func (e *CDPExecutor) Sleep(ctx context.Context, d time.Duration) error {
	return chromedp.Sleep(d).Do(ctx)
}
