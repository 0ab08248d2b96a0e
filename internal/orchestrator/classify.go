package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/xkilldash9x/autoapply/api/schemas"
	"github.com/xkilldash9x/autoapply/internal/llmclient"
)

var transientMarkers = []string{
	"net::err_",
	"navigation timeout",
	"timeout",
	"429",
	"503",
	"resource_exhausted",
	"connection reset",
	"connection refused",
}

// Classify maps an error onto the retry taxonomy. Typed AttemptErrors keep
// their kind; an expired attempt is FATAL; step deadlines and network or
// rate-limit failures are TRANSIENT; anything else is FATAL.
func Classify(err error) schemas.ErrorKind {
	if err == nil {
		return ""
	}
	if kind := schemas.KindOf(err); kind != "" {
		return kind
	}
	switch {
	case errors.Is(err, ErrAttemptTimeout):
		return schemas.ErrorFatal
	case errors.Is(err, context.DeadlineExceeded):
		return schemas.ErrorTransient
	case errors.Is(err, context.Canceled):
		return schemas.ErrorFatal
	case llmclient.IsTransient(err):
		return schemas.ErrorTransient
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return schemas.ErrorTransient
		}
	}
	return schemas.ErrorFatal
}

// Stats are the orchestrator's totals per final status.
type Stats struct {
	Submitted  int
	NeedsHuman int
	Failed     int
	Retries    int
	Cost       float64
}

type statsCounter struct {
	mu sync.Mutex
	s  Stats
}

func (c *statsCounter) observe(app *schemas.Application) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch app.Status {
	case schemas.StatusSubmitted:
		c.s.Submitted++
	case schemas.StatusNeedsHuman:
		c.s.NeedsHuman++
	case schemas.StatusFailed:
		c.s.Failed++
	}
	c.s.Retries += app.RetryCount
	c.s.Cost += app.Cost
}

func (c *statsCounter) snapshot() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.s
}
