package jobs

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestDetectATS(t *testing.T) {
	tests := []struct{ url, want string }{
		{"https://boards.greenhouse.io/acme/jobs/42", "greenhouse"},
		{"https://job-boards.eu.greenhouse.io/acme/jobs/42", "greenhouse"},
		{"https://jobs.lever.co/acme/1234/apply", "lever"},
		{"https://acme.wd5.myworkdayjobs.com/en-US/careers/job/1", "workday"},
		{"https://jobs.ashbyhq.com/acme/abc/application", "ashby"},
		{"https://jobs.smartrecruiters.com/Acme/1234", "smartrecruiters"},
		{"https://careers-acme.icims.com/jobs/1/job", "icims"},
		{"https://jobs.jobvite.com/acme/job/o1", "jobvite"},
		{"https://acme.bamboohr.com/careers/12", "bamboohr"},
		{"https://apply.workable.com/acme/j/ABC/", "workable"},
		{"BOARDS.GREENHOUSE.IO/acme/jobs/1", "greenhouse"},
		{"https://careers.acme.co.uk/apply", "generic"},
		{"https://greenhouse.io.evil.example/apply", "generic"},
		{"", "generic"},
		{"::not a url", "generic"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DetectATS(tt.url), tt.url)
	}
}

const sampleFeed = `
jobs:
  - job_id: gh-1
    title: Backend Engineer
    company: Acme
    description: "  Build things.  "
    apply_url: https://boards.greenhouse.io/acme/jobs/1
  - job_id: custom-2
    title: Data Engineer
    company: Globex
    apply_url: https://careers.globex.example/apply/2
    ats_type: " Custom "
  - job_id: ""
    apply_url: https://jobs.lever.co/acme/3
  - job_id: gh-1
    apply_url: https://boards.greenhouse.io/acme/jobs/1
  - job_id: bad-url
    apply_url: mailto:jobs@acme.example
`

func TestParse(t *testing.T) {
	jobs, skipped, err := Parse([]byte(sampleFeed))
	require.NoError(t, err)

	require.Len(t, jobs, 2)
	assert.Equal(t, "gh-1", jobs[0].JobID)
	assert.Equal(t, "greenhouse", jobs[0].ATSType)
	assert.Equal(t, "Build things.", jobs[0].Description)
	assert.Equal(t, "custom", jobs[1].ATSType)
	assert.Len(t, skipped, 3)
}

func TestParse_TruncatesDescription(t *testing.T) {
	long := strings.Repeat("é", MaxDescriptionRunes+10)
	jobs, _, err := Parse([]byte("jobs:\n  - job_id: a\n    apply_url: https://jobs.lever.co/a/1\n    description: " + long + "\n"))
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, MaxDescriptionRunes, len([]rune(jobs[0].Description)))
}

func TestParse_RejectsMalformedYAML(t *testing.T) {
	_, _, err := Parse([]byte("jobs: [unterminated"))
	assert.Error(t, err)
}

func TestFileProvider(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleFeed), 0o600))

	p, err := NewFileProvider(path, zaptest.NewLogger(t))
	require.NoError(t, err)

	jobs, err := p.Jobs(context.Background())
	require.NoError(t, err)
	assert.Len(t, jobs, 2)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.Jobs(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	_, err = NewFileProvider("  ", nil)
	assert.Error(t, err)

	missing, err := NewFileProvider(filepath.Join(t.TempDir(), "absent.yaml"), nil)
	require.NoError(t, err)
	_, err = missing.Jobs(context.Background())
	assert.Error(t, err)
}
