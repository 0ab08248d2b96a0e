// File: internal/mocks/mocks.go

// Package mocks provides test doubles for the engine's external dependencies.
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/autoapply/api/schemas"
	"github.com/xkilldash9x/autoapply/internal/config"
)

// -- Config Mock --

// MockConfig mocks the config.Interface.
type MockConfig struct {
	mock.Mock
}

var _ config.Interface = (*MockConfig)(nil)

func (m *MockConfig) Logger() config.LoggerConfig {
	args := m.Called()
	return args.Get(0).(config.LoggerConfig)
}

func (m *MockConfig) Database() config.DatabaseConfig {
	args := m.Called()
	return args.Get(0).(config.DatabaseConfig)
}

func (m *MockConfig) Engine() config.EngineConfig {
	args := m.Called()
	return args.Get(0).(config.EngineConfig)
}

func (m *MockConfig) Orchestrator() config.OrchestratorConfig {
	args := m.Called()
	return args.Get(0).(config.OrchestratorConfig)
}

func (m *MockConfig) Browser() config.BrowserConfig {
	args := m.Called()
	return args.Get(0).(config.BrowserConfig)
}

func (m *MockConfig) LLM() config.LLMRouterConfig {
	args := m.Called()
	return args.Get(0).(config.LLMRouterConfig)
}

func (m *MockConfig) Captcha() config.CaptchaConfig {
	args := m.Called()
	return args.Get(0).(config.CaptchaConfig)
}

func (m *MockConfig) Recipe() config.RecipeConfig {
	args := m.Called()
	return args.Get(0).(config.RecipeConfig)
}

func (m *MockConfig) Filler() config.FillerConfig {
	args := m.Called()
	return args.Get(0).(config.FillerConfig)
}

func (m *MockConfig) Extractor() config.ExtractorConfig {
	args := m.Called()
	return args.Get(0).(config.ExtractorConfig)
}

func (m *MockConfig) Profile() config.ProfileConfig {
	args := m.Called()
	return args.Get(0).(config.ProfileConfig)
}

func (m *MockConfig) Jobs() config.JobsConfig {
	args := m.Called()
	return args.Get(0).(config.JobsConfig)
}

func (m *MockConfig) SetEngineWorkerConcurrency(w int) {
	m.Called(w)
}

func (m *MockConfig) SetBrowserHeadless(b bool) {
	m.Called(b)
}

func (m *MockConfig) SetBrowserWSEndpoint(ep string) {
	m.Called(ep)
}

// -- LLM Client Mock --

// MockLLMClient mocks the schemas.LLMClient interface.
type MockLLMClient struct {
	mock.Mock
}

func (m *MockLLMClient) Generate(ctx context.Context, req schemas.GenerationRequest) (*schemas.GenerationResponse, error) {
	args := m.Called(ctx, req)
	var resp *schemas.GenerationResponse
	if r := args.Get(0); r != nil {
		resp = r.(*schemas.GenerationResponse)
	}
	return resp, args.Error(1)
}

// -- Captcha Solver Mock --

// MockCaptchaSolver mocks the schemas.CaptchaSolver interface.
type MockCaptchaSolver struct {
	mock.Mock
}

func (m *MockCaptchaSolver) Submit(ctx context.Context, challenge schemas.CaptchaChallenge) (string, error) {
	args := m.Called(ctx, challenge)
	return args.String(0), args.Error(1)
}

func (m *MockCaptchaSolver) Poll(ctx context.Context, taskID string) (*schemas.SolveStatus, error) {
	args := m.Called(ctx, taskID)
	var st *schemas.SolveStatus
	if r := args.Get(0); r != nil {
		st = r.(*schemas.SolveStatus)
	}
	return st, args.Error(1)
}

// -- Job Provider Mock --

// MockJobProvider mocks the schemas.JobProvider interface.
type MockJobProvider struct {
	mock.Mock
}

func (m *MockJobProvider) Jobs(ctx context.Context) ([]schemas.JobContext, error) {
	args := m.Called(ctx)
	var jobs []schemas.JobContext
	if r := args.Get(0); r != nil {
		jobs = r.([]schemas.JobContext)
	}
	return jobs, args.Error(1)
}
