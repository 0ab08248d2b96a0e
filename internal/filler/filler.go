// Package filler applies values to form controls and reads them back.
package filler

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/autoapply/api/schemas"
	"github.com/xkilldash9x/autoapply/internal/config"
	"github.com/xkilldash9x/autoapply/internal/humanoid"
)

var (
	// ErrNoMatchingOption is recorded when a value matches none of a field's options.
	ErrNoMatchingOption = errors.New("no option matches the value")
	// ErrVerifyMismatch is recorded when the page does not hold the value that was set.
	ErrVerifyMismatch = errors.New("value read back from the page does not match")
)

// Session is the part of a browser session the filler drives.
type Session interface {
	SetValue(ctx context.Context, selector, value string) error
	SelectOption(ctx context.Context, selector, value string) error
	SetChecked(ctx context.Context, selector string, checked bool) error
	SetFiles(ctx context.Context, selector string, paths []string) error
	Click(ctx context.Context, selector string) error
	ReadValue(ctx context.Context, selector string) (string, error)
}

// Pacer spaces out consecutive fields.
type Pacer interface {
	FieldPause(ctx context.Context, s humanoid.Sleeper, min, max time.Duration) error
}

// FieldError is a non-fatal problem with one field.
type FieldError struct {
	Field    string
	Selector string
	Required bool
	Err      error
}

func (e FieldError) Error() string {
	return fmt.Sprintf("field %s (%s): %v", e.Field, e.Selector, e.Err)
}

func (e FieldError) Unwrap() error { return e.Err }

// Report summarises one fill pass.
type Report struct {
	Filled int
	Errors []FieldError
	// Steps are the actions that were applied and read back, in order. They
	// become the recipe for the platform when the submission succeeds.
	Steps          []schemas.RecipeStep
	RequiredFailed int
}

func (r *Report) fail(step schemas.RecipeStep, err error) {
	r.Errors = append(r.Errors, FieldError{Field: step.FieldName, Selector: step.Selector, Required: step.Required, Err: err})
	if step.Required {
		r.RequiredFailed++
	}
}

// Filler applies values to form controls in document order.
type Filler struct {
	cfg     config.FillerConfig
	pacer   Pacer
	sleeper humanoid.Sleeper
	logger  *zap.Logger
}

// New creates a Filler. A nil pacer disables inter-field pauses.
func New(cfg config.FillerConfig, pacer Pacer, logger *zap.Logger) *Filler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Filler{cfg: cfg, pacer: pacer, sleeper: humanoid.TimerSleeper{}, logger: logger.Named("filler")}
}

// WithSleeper replaces the clock used for pauses.
func (f *Filler) WithSleeper(s humanoid.Sleeper) *Filler {
	f.sleeper = s
	return f
}

// Fill resolves generated responses into concrete actions and executes them.
// Fields without a value are skipped.
func (f *Filler) Fill(ctx context.Context, s Session, fields []schemas.FieldDescriptor, responses map[string]schemas.FieldResponse) (*Report, error) {
	ordered := append([]schemas.FieldDescriptor(nil), fields...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Order < ordered[j].Order })

	report := &Report{}
	var steps []schemas.RecipeStep
	for _, fd := range ordered {
		resp, ok := responses[fd.Name]
		if !ok || resp.Value == "" {
			if fd.Required {
				report.fail(schemas.RecipeStep{FieldName: fd.Name, Selector: fd.Selector, Required: true}, errors.New("no value to fill"))
			}
			continue
		}
		step, err := Resolve(fd, resp)
		if err != nil {
			report.fail(step, err)
			continue
		}
		steps = append(steps, step)
	}

	if err := f.execute(ctx, s, steps, report); err != nil {
		return report, err
	}
	return report, nil
}

// Execute applies recorded steps as they are, as a recipe replay does.
func (f *Filler) Execute(ctx context.Context, s Session, steps []schemas.RecipeStep) (*Report, error) {
	report := &Report{}
	if err := f.execute(ctx, s, steps, report); err != nil {
		return report, err
	}
	return report, nil
}

func (f *Filler) execute(ctx context.Context, s Session, steps []schemas.RecipeStep, report *Report) error {
	for i, step := range steps {
		if i > 0 && f.pacer != nil {
			if err := f.pacer.FieldPause(ctx, f.sleeper, f.cfg.MinPause, f.cfg.MaxPause); err != nil {
				return fmt.Errorf("interrupted between fields: %w", err)
			}
		}

		if err := apply(ctx, s, step); err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("interrupted filling %s: %w", step.FieldName, ctx.Err())
			}
			f.logger.Debug("Failed to fill field", zap.String("field", step.FieldName), zap.String("selector", step.Selector), zap.Error(err))
			report.fail(step, err)
			continue
		}

		if err := verify(ctx, s, step); err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("interrupted verifying %s: %w", step.FieldName, ctx.Err())
			}
			f.logger.Debug("Field verification failed", zap.String("field", step.FieldName), zap.Error(err))
			report.fail(step, err)
			continue
		}
		report.Filled++
		report.Steps = append(report.Steps, step)
	}

	f.logger.Debug("Fill pass complete",
		zap.Int("filled", report.Filled),
		zap.Int("errors", len(report.Errors)),
		zap.Int("required_failed", report.RequiredFailed),
	)
	return nil
}

// Resolve turns a field and its value into the action that sets it.
func Resolve(fd schemas.FieldDescriptor, resp schemas.FieldResponse) (schemas.RecipeStep, error) {
	step := schemas.RecipeStep{
		Selector:  fd.Selector,
		FieldName: fd.Name,
		Label:     fd.Label,
		Kind:      fd.Kind,
		Value:     resp.Value,
		Required:  fd.Required,
		Source:    resp.Source,
	}
	switch fd.Kind {
	case schemas.FieldSelect:
		if len(fd.Options) == 0 {
			return step, nil
		}
		opt, ok := MatchOption(fd.Options, resp.Value)
		if !ok {
			return step, fmt.Errorf("%w: %q", ErrNoMatchingOption, resp.Value)
		}
		step.Value = opt.Value
	case schemas.FieldRadio:
		opt, ok := MatchOption(fd.Options, resp.Value)
		if !ok || opt.Selector == "" {
			return step, fmt.Errorf("%w: %q", ErrNoMatchingOption, resp.Value)
		}
		step.Selector = opt.Selector
		step.Value = "true"
	case schemas.FieldCheckbox:
		step.Value = "false"
		if Truthy(resp.Value) {
			step.Value = "true"
		}
	}
	return step, nil
}

func apply(ctx context.Context, s Session, step schemas.RecipeStep) error {
	switch step.Kind {
	case schemas.FieldSelect:
		return s.SelectOption(ctx, step.Selector, step.Value)
	case schemas.FieldRadio:
		return s.Click(ctx, step.Selector)
	case schemas.FieldCheckbox:
		return s.SetChecked(ctx, step.Selector, step.Value == "true")
	case schemas.FieldFile:
		return s.SetFiles(ctx, step.Selector, []string{step.Value})
	default:
		return s.SetValue(ctx, step.Selector, step.Value)
	}
}

func verify(ctx context.Context, s Session, step schemas.RecipeStep) error {
	got, err := s.ReadValue(ctx, step.Selector)
	if err != nil {
		return fmt.Errorf("failed to read back value: %w", err)
	}
	var ok bool
	switch step.Kind {
	case schemas.FieldFile:
		ok = strings.HasSuffix(strings.ReplaceAll(got, `\`, "/"), filepath.Base(step.Value))
	case schemas.FieldCheckbox, schemas.FieldRadio:
		ok = got == step.Value
	default:
		ok = normalise(step.Kind, got) == normalise(step.Kind, step.Value)
	}
	if !ok {
		return fmt.Errorf("%w: want %q, got %q", ErrVerifyMismatch, step.Value, got)
	}
	return nil
}

// normalise reduces a value to the form a control may legitimately rewrite
// it into. Input masks reformat phone numbers, and email and URL inputs may
// change case.
func normalise(kind schemas.FieldKind, v string) string {
	v = strings.TrimSpace(v)
	switch kind {
	case schemas.FieldTel:
		var b strings.Builder
		for _, r := range v {
			if r >= '0' && r <= '9' {
				b.WriteRune(r)
			}
		}
		return b.String()
	case schemas.FieldSelect, schemas.FieldEmail, schemas.FieldURL:
		return strings.ToLower(v)
	case schemas.FieldTextarea:
		return strings.ReplaceAll(v, "\r\n", "\n")
	}
	return v
}

// MatchOption picks an option for v: exact label or value first, then
// case-insensitive equality, then a case-insensitive substring of the label.
func MatchOption(options []schemas.FieldOption, v string) (schemas.FieldOption, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return schemas.FieldOption{}, false
	}
	for _, o := range options {
		if o.Label == v || o.Value == v {
			return o, true
		}
	}
	for _, o := range options {
		if strings.EqualFold(o.Label, v) || strings.EqualFold(o.Value, v) {
			return o, true
		}
	}
	lv := strings.ToLower(v)
	for _, o := range options {
		if strings.Contains(strings.ToLower(o.Label), lv) {
			return o, true
		}
	}
	return schemas.FieldOption{}, false
}

var truthy = map[string]bool{
	"true": true, "yes": true, "y": true, "1": true, "on": true, "checked": true,
	"agree": true, "agreed": true, "i agree": true, "accept": true, "accepted": true, "x": true,
}

// Truthy coerces a generated value into a checkbox state.
func Truthy(v string) bool {
	return truthy[strings.ToLower(strings.TrimSpace(v))]
}
