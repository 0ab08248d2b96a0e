// Package profile loads the candidate profile.
package profile

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/go-homedir"
	"gopkg.in/yaml.v3"

	"github.com/xkilldash9x/autoapply/api/schemas"
)

var validate = validator.New()

// Load reads, expands and validates a candidate profile from a YAML file.
func Load(path string) (*schemas.Profile, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("failed to expand profile path %q: %w", path, err)
	}
	data, err := os.ReadFile(expanded)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates profile YAML.
func Parse(data []byte) (*schemas.Profile, error) {
	var p schemas.Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to decode profile: %w", err)
	}

	if p.ResumePath != "" {
		resume, err := homedir.Expand(p.ResumePath)
		if err != nil {
			return nil, fmt.Errorf("failed to expand resume path: %w", err)
		}
		if _, err := os.Stat(resume); err != nil {
			return nil, fmt.Errorf("resume not readable at %s: %w", resume, err)
		}
		p.ResumePath = resume
	}

	if len(p.Disclosures) > 0 {
		normalized := make(map[string]string, len(p.Disclosures))
		for k, v := range p.Disclosures {
			normalized[strings.ToLower(strings.TrimSpace(k))] = strings.TrimSpace(v)
		}
		p.Disclosures = normalized
	}

	if err := validate.Struct(&p); err != nil {
		return nil, describe(err)
	}
	return &p, nil
}

// Disclosure returns the profile-declared answer for a sensitive question key.
func Disclosure(p *schemas.Profile, key string) (string, bool) {
	if p == nil || p.Disclosures == nil {
		return "", false
	}
	v, ok := p.Disclosures[strings.ToLower(key)]
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

func describe(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("invalid profile: %w", err)
	}
	problems := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		problems = append(problems, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("invalid profile: %s", strings.Join(problems, "; "))
}
