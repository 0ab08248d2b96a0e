package captcha

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/autoapply/api/schemas"
	"github.com/xkilldash9x/autoapply/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	defaultHTTPTimeout = 20 * time.Second
	maxSubmitElapsed   = 30 * time.Second
)

var taskTypes = map[string]string{
	"recaptcha":  "RecaptchaV2TaskProxyless",
	"hcaptcha":   "HCaptchaTaskProxyless",
	"turnstile":  "TurnstileTaskProxyless",
	"funcaptcha": "FunCaptchaTaskProxyless",
}

// Client talks to a createTask/getTaskResult style solving service.
type Client struct {
	endpoint string
	apiKey   string
	http     *http.Client
	limiter  *rate.Limiter
	logger   *zap.Logger
}

var _ schemas.CaptchaSolver = (*Client)(nil)

// NewClient creates a solver client. rate_limit caps requests per second.
func NewClient(cfg config.CaptchaConfig, logger *zap.Logger) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("captcha.endpoint is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("captcha API key is required (set AUTOAPPLY_CAPTCHA_API_KEY)")
	}
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:   cfg.APIKey,
		http:     &http.Client{Timeout: timeout},
		limiter:  rate.NewLimiter(limit, 1),
		logger:   logger.Named("captcha_client"),
	}, nil
}

type task struct {
	Type       string `json:"type"`
	WebsiteURL string `json:"websiteURL"`
	WebsiteKey string `json:"websiteKey,omitempty"`
	PublicKey  string `json:"websitePublicKey,omitempty"`
}

type createTaskRequest struct {
	ClientKey string `json:"clientKey"`
	Task      task   `json:"task"`
}

type taskResultRequest struct {
	ClientKey string `json:"clientKey"`
	TaskID    string `json:"taskId"`
}

type apiResponse struct {
	ErrorID          int                 `json:"errorId"`
	ErrorCode        string              `json:"errorCode"`
	ErrorDescription string              `json:"errorDescription"`
	TaskID           jsoniter.RawMessage `json:"taskId"`
	Status           string              `json:"status"`
	Solution         struct {
		GRecaptchaResponse string `json:"gRecaptchaResponse"`
		Token              string `json:"token"`
	} `json:"solution"`
	Cost       interface{}     `json:"cost"`
	Confidence *float64        `json:"confidence"`
}

func (r *apiResponse) err() error {
	if r.ErrorID == 0 {
		return nil
	}
	return fmt.Errorf("solver error %s: %s", r.ErrorCode, r.ErrorDescription)
}

// Submit creates a solving task and returns its ID. Network failures and
// 429/5xx responses are retried with backoff.
func (c *Client) Submit(ctx context.Context, challenge schemas.CaptchaChallenge) (string, error) {
	taskType, ok := taskTypes[challenge.Kind]
	if !ok {
		return "", fmt.Errorf("unsupported captcha kind %q", challenge.Kind)
	}
	t := task{Type: taskType, WebsiteURL: challenge.PageURL, WebsiteKey: challenge.SiteKey}
	if challenge.Kind == "funcaptcha" {
		t.WebsiteKey, t.PublicKey = "", challenge.SiteKey
	}
	req := createTaskRequest{ClientKey: c.apiKey, Task: t}

	var taskID string
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = maxSubmitElapsed
	err := backoff.Retry(func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		var resp apiResponse
		if err := c.post(ctx, "/createTask", req, &resp); err != nil {
			return err
		}
		if err := resp.err(); err != nil {
			return backoff.Permanent(err)
		}
		taskID = strings.Trim(string(resp.TaskID), `"`)
		if taskID == "" || taskID == "null" {
			return backoff.Permanent(fmt.Errorf("solver returned no task id"))
		}
		return nil
	}, backoff.WithContext(b, ctx))
	if err != nil {
		return "", fmt.Errorf("failed to submit captcha task: %w", err)
	}
	c.logger.Debug("Captcha task submitted", zap.String("task_id", taskID), zap.String("kind", challenge.Kind))
	return taskID, nil
}

// Poll fetches the current state of a task. Calls are rate limited.
func (c *Client) Poll(ctx context.Context, taskID string) (*schemas.SolveStatus, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	var resp apiResponse
	if err := c.post(ctx, "/getTaskResult", taskResultRequest{ClientKey: c.apiKey, TaskID: taskID}, &resp); err != nil {
		return nil, err
	}
	if err := resp.err(); err != nil {
		return &schemas.SolveStatus{Status: schemas.SolveFailed}, err
	}

	st := &schemas.SolveStatus{Status: schemas.SolveProcessing, Confidence: resp.Confidence}
	if resp.Status == "ready" {
		st.Status = schemas.SolveReady
		st.Solution = resp.Solution.GRecaptchaResponse
		if st.Solution == "" {
			st.Solution = resp.Solution.Token
		}
		st.Cost = parseCost(resp.Cost)
	}
	return st, nil
}

// post sends a JSON request. Errors worth retrying are returned as is; the
// rest are wrapped with backoff.Permanent.
func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("failed to encode request: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(payload))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("failed to build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return fmt.Errorf("solver request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read solver response: %w", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return fmt.Errorf("solver returned HTTP %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return backoff.Permanent(fmt.Errorf("solver returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(data))))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return backoff.Permanent(fmt.Errorf("failed to decode solver response: %w", err))
	}
	return nil
}

// parseCost accepts the cost as a JSON number or a numeric string.
func parseCost(v interface{}) float64 {
	switch c := v.(type) {
	case float64:
		return c
	case string:
		f, err := strconv.ParseFloat(c, 64)
		if err == nil {
			return f
		}
	}
	return 0
}
