// Package jobs supplies job postings to apply for.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/mitchellh/go-homedir"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/xkilldash9x/autoapply/api/schemas"
)

// MaxDescriptionRunes bounds the job description passed on to generation.
const MaxDescriptionRunes = 4000

type feed struct {
	Jobs []schemas.JobContext `yaml:"jobs"`
}

// FileProvider reads jobs from a YAML feed on disk. The file is re-read on
// every call, so a scheduled run picks up edits.
type FileProvider struct {
	path   string
	logger *zap.Logger
}

var _ schemas.JobProvider = (*FileProvider)(nil)

// NewFileProvider creates a provider for the feed at path.
func NewFileProvider(path string, logger *zap.Logger) (*FileProvider, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("jobs.feed_path is required")
	}
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("failed to expand feed path %q: %w", path, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileProvider{path: expanded, logger: logger.Named("jobs")}, nil
}

// Jobs returns the valid postings in the feed. Entries without a job id or
// with an unusable apply URL are skipped and logged.
func (p *FileProvider) Jobs(ctx context.Context) ([]schemas.JobContext, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read job feed: %w", err)
	}
	jobs, skipped, err := Parse(data)
	if err != nil {
		return nil, err
	}
	for _, s := range skipped {
		p.logger.Warn("Skipping job feed entry", zap.String("reason", s))
	}
	p.logger.Debug("Job feed loaded", zap.String("path", p.path), zap.Int("jobs", len(jobs)), zap.Int("skipped", len(skipped)))
	return jobs, nil
}

// Parse decodes a feed. It returns the usable jobs, normalised, and a
// description of every entry it dropped.
func Parse(data []byte) ([]schemas.JobContext, []string, error) {
	var f feed
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, nil, fmt.Errorf("failed to decode job feed: %w", err)
	}

	var (
		jobs    []schemas.JobContext
		skipped []string
		seen    = make(map[string]bool, len(f.Jobs))
	)
	for i, job := range f.Jobs {
		job.JobID = strings.TrimSpace(job.JobID)
		job.ApplyURL = strings.TrimSpace(job.ApplyURL)
		switch {
		case job.JobID == "":
			skipped = append(skipped, fmt.Sprintf("entry %d has no job_id", i))
			continue
		case seen[job.JobID]:
			skipped = append(skipped, fmt.Sprintf("entry %d repeats job_id %q", i, job.JobID))
			continue
		case !usableURL(job.ApplyURL):
			skipped = append(skipped, fmt.Sprintf("job %q has no usable apply_url", job.JobID))
			continue
		}
		seen[job.JobID] = true

		job.ATSType = strings.ToLower(strings.TrimSpace(job.ATSType))
		if job.ATSType == "" {
			job.ATSType = DetectATS(job.ApplyURL)
		}
		job.Description = truncateRunes(strings.TrimSpace(job.Description), MaxDescriptionRunes)
		jobs = append(jobs, job)
	}
	return jobs, skipped, nil
}

func usableURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
