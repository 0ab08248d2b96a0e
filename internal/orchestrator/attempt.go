package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/autoapply/api/schemas"
	"github.com/xkilldash9x/autoapply/internal/fieldgen"
	"github.com/xkilldash9x/autoapply/internal/filler"
	"github.com/xkilldash9x/autoapply/internal/recipe"
	"github.com/xkilldash9x/autoapply/internal/store"
)

// ErrAttemptTimeout marks an attempt that ran out of its overall budget.
var ErrAttemptTimeout = errors.New("attempt timed out")

// requestSubmitScript submits the form that owns the first field when no
// submit control was found.
const requestSubmitScript = `(function(sel) {
  const el = sel ? document.querySelector(sel) : null;
  const form = el ? el.closest('form') : document.querySelector('form');
  if (!form) { return false; }
  if (typeof form.requestSubmit === 'function') { form.requestSubmit(); }
  else { form.dispatchEvent(new Event('submit', {bubbles: true, cancelable: true})); form.submit(); }
  return true;
})(%s)`

var (
	confirmationText = regexp.MustCompile(`(?i)thank you|thanks for applying|application (has been )?(received|submitted)|successfully submitted|we('|’)ve received your application|submitted`)
	validationText   = regexp.MustCompile(`(?i)(this field is required|is required|please (enter|select|fill|complete|provide)|invalid|must be|is not valid|error)`)
	urlErrorMarkers  = []string{"error", "fail", "denied"}
)

// outcome is the result of one attempt.
type outcome struct {
	status schemas.ApplicationStatus
	method schemas.ApplyMethod
	kind   schemas.ErrorKind
	err    error
	cost   float64
	reason string
	// skip is set when another writer already finished the application.
	skip bool
}

func (out *outcome) fail(step string, err error) *outcome {
	kind := Classify(err)
	if schemas.KindOf(err) == "" {
		err = schemas.NewAttemptError(kind, step, "step failed", err)
	}
	out.kind = kind
	out.err = err
	out.status = statusFor(kind)
	if out.status == schemas.StatusNeedsHuman {
		out.reason = reasonFor(err)
	}
	return out
}

func statusFor(kind schemas.ErrorKind) schemas.ApplicationStatus {
	switch kind {
	case schemas.ErrorCaptchaUnresolved, schemas.ErrorStructural:
		return schemas.StatusNeedsHuman
	default:
		return schemas.StatusFailed
	}
}

func reasonFor(err error) string {
	var ae *schemas.AttemptError
	if errors.As(err, &ae) {
		return fmt.Sprintf("%s: %s", strings.ToLower(string(ae.Kind)), ae.Message)
	}
	return err.Error()
}

// attempt is one pass through the state machine on a fresh session.
type attempt struct {
	o       *Orchestrator
	app     *schemas.Application
	logger  *zap.Logger
	budget  time.Duration
	tainted bool
}

func (o *Orchestrator) attempt(ctx context.Context, app *schemas.Application, n int, logger *zap.Logger) *outcome {
	cfg := o.cfg.Orchestrator()
	started := time.Now().UTC()
	logger = logger.With(zap.Int("attempt", n+1))

	err := o.persist(func(pctx context.Context) error { return o.deps.Store.StartAttempt(pctx, app.ID, n, started) })
	if errors.Is(err, store.ErrAlreadyTerminal) {
		return &outcome{skip: true}
	}
	if err != nil {
		out := &outcome{method: schemas.MethodAIAuto}
		return out.fail("start", schemas.NewAttemptError(schemas.ErrorFatal, "start", "could not start the attempt", err))
	}
	app.Status = schemas.StatusAnalyzing
	app.StartedAt = &started
	app.RetryCount = n
	logger.Info("Attempt started")

	timeout := cfg.AttemptTimeout
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	a := &attempt{o: o, app: app, logger: logger, budget: cfg.StepTimeout}
	out := a.run(actx)

	if actx.Err() != nil && out.status != schemas.StatusSubmitted && !out.skip {
		cost, method := out.cost, out.method
		if ctx.Err() != nil {
			out = (&outcome{}).fail("attempt", schemas.NewAttemptError(schemas.ErrorFatal, "attempt", "cancelled", ctx.Err()))
		} else {
			out = (&outcome{}).fail("attempt", schemas.NewAttemptError(schemas.ErrorFatal, "attempt",
				fmt.Sprintf("no final state after %s", timeout), fmt.Errorf("%w: %v", ErrAttemptTimeout, actx.Err())))
		}
		out.cost, out.method = cost, method
	}
	if out.skip {
		return out
	}

	rec := schemas.AttemptRecord{
		ApplicationID: app.ID,
		Attempt:       n + 1,
		Status:        out.status,
		Method:        out.method,
		ErrorKind:     out.kind,
		Cost:          out.cost,
		StartedAt:     started,
		FinishedAt:    time.Now().UTC(),
	}
	if out.err != nil {
		rec.Error = out.err.Error()
	}
	if err := o.persist(func(pctx context.Context) error { return o.deps.Store.RecordAttempt(pctx, rec) }); err != nil {
		logger.Warn("Failed to record attempt history", zap.Error(err))
	}
	return out
}

// step runs fn under the per-step budget. A step that overran its own
// budget while the attempt is still alive is TRANSIENT.
func (a *attempt) step(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	budget := a.budget
	if budget <= 0 {
		budget = 20 * time.Second
	}
	sctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	err := fn(sctx)
	if err == nil {
		return nil
	}
	if ctx.Err() == nil && errors.Is(sctx.Err(), context.DeadlineExceeded) {
		a.tainted = true
		if schemas.KindOf(err) == "" {
			return schemas.NewAttemptError(schemas.ErrorTransient, name, fmt.Sprintf("step exceeded %s", budget), err)
		}
	}
	return err
}

func (a *attempt) setStatus(status schemas.ApplicationStatus) error {
	a.app.Status = status
	return a.o.persist(func(ctx context.Context) error { return a.o.deps.Store.UpdateStatus(ctx, a.app.ID, status) })
}

func (a *attempt) run(ctx context.Context) *outcome {
	deps := a.o.deps
	out := &outcome{method: schemas.MethodAIAuto}

	sess, err := deps.Sessions.Acquire(ctx)
	if err != nil {
		return out.fail("acquire", schemas.NewAttemptError(schemas.ErrorFatal, "acquire", "could not acquire a browser session", err))
	}
	defer func() {
		if a.tainted || ctx.Err() != nil {
			a.logger.Debug("Discarding browser session", zap.String("session_id", sess.ID()))
			deps.Sessions.Discard(sess)
			return
		}
		deps.Sessions.Release(sess)
	}()

	if err := a.step(ctx, "navigate", func(sctx context.Context) error {
		if err := sess.Navigate(sctx, a.app.ApplyURL); err != nil {
			return err
		}
		return sess.WaitStable(sctx)
	}); err != nil {
		return out.fail("navigate", err)
	}

	var form *schemas.FormSchema
	if err := a.step(ctx, "extract", func(sctx context.Context) (err error) {
		form, err = deps.Extractor.Extract(sctx, sess)
		return err
	}); err != nil {
		return out.fail("extract", err)
	}
	a.logger.Debug("Form extracted",
		zap.Int("fields", len(form.Fields)),
		zap.String("complexity", string(form.Complexity)),
		zap.Bool("captcha", form.HasCaptcha),
	)

	if form.RequiredFillable() == 0 && (form.Complexity == schemas.ComplexityComplex || form.SubmitSelector == "") {
		return out.fail("extract", schemas.NewAttemptError(schemas.ErrorStructural, "extract",
			"no fillable required fields and the form structure is ambiguous", nil))
	}

	if err := a.setStatus(schemas.StatusApplying); err != nil {
		return a.storeFailure(out, err)
	}

	used, err := a.replay(ctx, sess, form)
	if err != nil {
		return out.fail("replay", err)
	}
	if used != nil {
		out.method = schemas.MethodRecipeReplay
	} else {
		report, err := a.generateAndFill(ctx, sess, form, out)
		if err != nil {
			return out.fail("fill", err)
		}
		defer func() {
			if out.status != schemas.StatusSubmitted {
				return
			}
			err := a.o.persist(func(pctx context.Context) error {
				_, err := deps.Recipes.Record(pctx, a.app.Platform, report.Steps, schemas.OutcomeAISuccess)
				return err
			})
			if err != nil {
				a.logger.Warn("Failed to record learned recipe", zap.Error(err))
			}
		}()
	}

	if form.HasCaptcha && form.Captcha != nil {
		if deps.Captcha == nil {
			return out.fail("captcha", schemas.NewAttemptError(schemas.ErrorCaptchaUnresolved, "captcha", "no solver configured", nil))
		}
		challenge := *form.Captcha
		if challenge.PageURL == "" {
			challenge.PageURL = a.app.ApplyURL
		}
		if err := a.step(ctx, "captcha", func(sctx context.Context) error {
			res, err := deps.Captcha.Resolve(sctx, sess, challenge)
			if res != nil {
				out.cost += res.Cost
			}
			return err
		}); err != nil {
			return out.fail("captcha", err)
		}
	}

	if err := a.setStatus(schemas.StatusSubmitting); err != nil {
		return a.storeFailure(out, err)
	}

	if err := a.step(ctx, "submit", func(sctx context.Context) error { return a.submit(sctx, sess, form) }); err != nil {
		if used != nil {
			a.recordReplay(used, false)
		}
		return out.fail("submit", err)
	}

	if used != nil {
		a.recordReplay(used, true)
	}
	out.status = schemas.StatusSubmitted
	return out
}

func (a *attempt) storeFailure(out *outcome, err error) *outcome {
	if errors.Is(err, store.ErrAlreadyTerminal) {
		out.skip = true
		return out
	}
	return out.fail("persist", schemas.NewAttemptError(schemas.ErrorFatal, "persist", "could not save the status", err))
}

// replay tries the cached recipe for the platform. It returns the recipe
// that filled the form, or nil when the AI path should run instead. A
// structural miss is recorded and the lookup repeated once; a second miss
// is returned as a STRUCTURAL error.
func (a *attempt) replay(ctx context.Context, sess schemas.BrowserSession, form *schemas.FormSchema) (*schemas.Recipe, error) {
	recipes := a.o.deps.Recipes
	rebind := a.rebind(form)

	var misses, lastVersion int
	for {
		var rec *schemas.Recipe
		if err := a.step(ctx, "recipe", func(sctx context.Context) (err error) {
			rec, err = recipes.Lookup(sctx, a.app.Platform)
			return err
		}); err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			a.logger.Warn("Recipe lookup failed, continuing without one", zap.Error(err))
			return nil, nil
		}
		if rec == nil {
			return nil, nil
		}
		if misses > 0 && rec.Version <= lastVersion {
			a.logger.Info("No newer recipe after a replay miss, falling back to AI", zap.Int("version", rec.Version))
			return nil, nil
		}

		var report *filler.Report
		err := a.step(ctx, "replay", func(sctx context.Context) (err error) {
			report, err = recipes.Replay(sctx, sess, rec, rebind)
			return err
		})
		if err == nil && report.RequiredFailed > 0 {
			err = schemas.NewAttemptError(schemas.ErrorStructural, "replay",
				fmt.Sprintf("%d required steps did not apply", report.RequiredFailed), nil)
		}
		if err == nil {
			a.logger.Info("Recipe replayed", zap.Int("version", rec.Version), zap.Int("filled", report.Filled))
			return rec, nil
		}

		switch schemas.KindOf(err) {
		case schemas.ErrorStructural:
			misses++
			lastVersion = rec.Version
			a.logger.Info("Recipe replay missed", zap.Int("version", rec.Version), zap.Int("misses", misses), zap.Error(err))
			a.recordReplay(rec, false)
			if misses >= 2 {
				return nil, schemas.NewAttemptError(schemas.ErrorStructural, "replay", "recipe replay failed structurally twice", err)
			}
		case schemas.ErrorValidation:
			a.logger.Info("Recipe cannot be bound to this profile, falling back to AI", zap.Error(err))
			return nil, nil
		default:
			return nil, err
		}
	}
}

func (a *attempt) recordReplay(rec *schemas.Recipe, ok bool) {
	err := a.o.persist(func(ctx context.Context) error {
		_, err := a.o.deps.Recipes.RecordReplay(ctx, rec, ok)
		return err
	})
	if err != nil {
		a.logger.Warn("Failed to record replay outcome", zap.Int("version", rec.Version), zap.Bool("ok", ok), zap.Error(err))
	}
}

// rebind derives profile-owned recipe values from the current candidate,
// using the live form's descriptor when the field is still present.
func (a *attempt) rebind(form *schemas.FormSchema) recipe.Rebind {
	byName := make(map[string]schemas.FieldDescriptor, len(form.Fields))
	for _, fd := range form.Fields {
		byName[fd.Name] = fd
	}
	profile := a.o.deps.Profile
	return func(step schemas.RecipeStep) (schemas.RecipeStep, bool) {
		fd, ok := byName[step.FieldName]
		if !ok {
			fd = schemas.FieldDescriptor{
				Name:     step.FieldName,
				Label:    step.Label,
				Kind:     step.Kind,
				Selector: step.Selector,
				Required: step.Required,
			}
		}
		v, ok := fieldgen.ProfileValue(fd, profile)
		if !ok || v == "" {
			return step, false
		}
		next, err := filler.Resolve(fd, schemas.FieldResponse{Value: v, Source: schemas.SourceProfile, Valid: true})
		if err != nil {
			return step, false
		}
		return next, true
	}
}

func (a *attempt) generateAndFill(ctx context.Context, sess schemas.BrowserSession, form *schemas.FormSchema, out *outcome) (*filler.Report, error) {
	deps := a.o.deps

	var gen *fieldgen.Result
	err := a.step(ctx, "generate", func(sctx context.Context) (err error) {
		gen, err = deps.Generator.Generate(sctx, form, deps.Profile, a.app.Job)
		return err
	})
	if gen != nil {
		out.cost += gen.Usage.Cost
	}
	if err != nil {
		return nil, err
	}

	var report *filler.Report
	if err := a.step(ctx, "fill", func(sctx context.Context) (err error) {
		report, err = deps.Filler.Fill(sctx, sess, form.Fields, gen.Responses)
		return err
	}); err != nil {
		return nil, err
	}
	if report.RequiredFailed > 0 {
		names := make([]string, 0, len(report.Errors))
		for _, fe := range report.Errors {
			if fe.Required {
				names = append(names, fe.Field)
			}
		}
		return nil, schemas.NewAttemptError(schemas.ErrorValidation, "fill",
			fmt.Sprintf("required fields could not be filled: %s", strings.Join(names, ", ")), nil)
	}
	a.logger.Debug("Form filled", zap.Int("filled", report.Filled), zap.Int("generations", gen.Generations))
	return report, nil
}

// submit triggers the form and checks for a success signal after the
// settle wait.
func (a *attempt) submit(ctx context.Context, sess schemas.BrowserSession, form *schemas.FormSchema) error {
	startURL, err := sess.CurrentURL(ctx)
	if err != nil {
		return err
	}

	clicked := false
	if form.SubmitSelector != "" {
		if err := sess.Click(ctx, form.SubmitSelector); err != nil {
			if ctx.Err() != nil {
				return err
			}
			a.logger.Debug("Submit click failed, trying requestSubmit", zap.String("selector", form.SubmitSelector), zap.Error(err))
		} else {
			clicked = true
		}
	}
	if !clicked {
		first := ""
		if len(form.Fields) > 0 {
			first = form.Fields[0].Selector
		}
		var submitted bool
		if err := sess.ExecuteScript(ctx, fmt.Sprintf(requestSubmitScript, jsQuote(first)), &submitted); err != nil {
			return err
		}
		if !submitted {
			return schemas.NewAttemptError(schemas.ErrorStructural, "submit", "no submit control or form to submit", nil)
		}
	}

	settle := a.o.cfg.Orchestrator().SubmitSettle
	if settle > 0 {
		t := time.NewTimer(settle)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	if err := sess.WaitStable(ctx); err != nil {
		return err
	}
	return a.verify(ctx, sess, startURL)
}

func (a *attempt) verify(ctx context.Context, sess schemas.BrowserSession, startURL string) error {
	current, err := sess.CurrentURL(ctx)
	if err != nil {
		return err
	}
	if current != startURL && !containsAny(strings.ToLower(current), urlErrorMarkers) {
		a.logger.Debug("Submission confirmed by navigation", zap.String("url", current))
		return nil
	}

	text, err := sess.TextContent(ctx)
	if err != nil {
		return err
	}
	if m := confirmationText.FindString(text); m != "" {
		a.logger.Debug("Submission confirmed by page text", zap.String("match", m))
		return nil
	}
	if m := validationText.FindString(text); m != "" {
		return schemas.NewAttemptError(schemas.ErrorValidation, "submit", fmt.Sprintf("the page reported a problem after submit: %q", m), nil)
	}
	return nil
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

func jsQuote(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`, "\n", `\n`, "\r", `\r`)
	return "'" + r.Replace(s) + "'"
}
