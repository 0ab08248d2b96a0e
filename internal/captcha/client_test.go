package captcha

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/autoapply/api/schemas"
	"github.com/xkilldash9x/autoapply/internal/config"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	c, err := NewClient(config.CaptchaConfig{Endpoint: server.URL + "/", APIKey: "key-1"}, zaptest.NewLogger(t))
	require.NoError(t, err)
	return c
}

func TestNewClient_RequiresEndpointAndKey(t *testing.T) {
	_, err := NewClient(config.CaptchaConfig{APIKey: "k"}, nil)
	assert.EqualError(t, err, "captcha.endpoint is required")
	_, err = NewClient(config.CaptchaConfig{Endpoint: "https://solver.example"}, nil)
	assert.ErrorContains(t, err, "API key is required")
}

func TestClient_SubmitRetriesServerErrors(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/createTask", r.URL.Path)
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		var req createTaskRequest
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &req))
		assert.Equal(t, "key-1", req.ClientKey)
		assert.Equal(t, "HCaptchaTaskProxyless", req.Task.Type)
		assert.Equal(t, "hc-key", req.Task.WebsiteKey)
		assert.Equal(t, "https://jobs.example.com/apply", req.Task.WebsiteURL)
		_, _ = w.Write([]byte(`{"errorId": 0, "taskId": 7345}`))
	})

	id, err := c.Submit(context.Background(), schemas.CaptchaChallenge{Kind: "hcaptcha", SiteKey: "hc-key", PageURL: "https://jobs.example.com/apply"})
	require.NoError(t, err)
	assert.Equal(t, "7345", id)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestClient_SubmitServiceErrorIsPermanent(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		_, _ = w.Write([]byte(`{"errorId": 1, "errorCode": "ERROR_KEY_DOES_NOT_EXIST", "errorDescription": "bad key"}`))
	})

	_, err := c.Submit(context.Background(), challenge)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ERROR_KEY_DOES_NOT_EXIST")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestClient_SubmitUnsupportedKind(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	})
	_, err := c.Submit(context.Background(), schemas.CaptchaChallenge{Kind: "geetest"})
	assert.ErrorContains(t, err, `unsupported captcha kind "geetest"`)
}

func TestClient_Poll(t *testing.T) {
	var ready atomic.Bool
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/getTaskResult", r.URL.Path)
		if !ready.Load() {
			_, _ = w.Write([]byte(`{"errorId": 0, "status": "processing"}`))
			return
		}
		_, _ = w.Write([]byte(`{"errorId": 0, "status": "ready", "solution": {"gRecaptchaResponse": "tok"}, "cost": "0.00299", "confidence": 0.8}`))
	})

	st, err := c.Poll(context.Background(), "7345")
	require.NoError(t, err)
	assert.Equal(t, schemas.SolveProcessing, st.Status)

	ready.Store(true)
	st, err = c.Poll(context.Background(), "7345")
	require.NoError(t, err)
	assert.Equal(t, schemas.SolveReady, st.Status)
	assert.Equal(t, "tok", st.Solution)
	assert.InDelta(t, 0.00299, st.Cost, 1e-12)
	require.NotNil(t, st.Confidence)
	assert.InDelta(t, 0.8, *st.Confidence, 1e-12)
}

func TestClient_PollTaskError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"errorId": 12, "errorCode": "ERROR_CAPTCHA_UNSOLVABLE"}`))
	})
	st, err := c.Poll(context.Background(), "1")
	require.Error(t, err)
	assert.Equal(t, schemas.SolveFailed, st.Status)
}
