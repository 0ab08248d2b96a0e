package recipe

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/autoapply/api/schemas"
	"github.com/xkilldash9x/autoapply/internal/config"
	"github.com/xkilldash9x/autoapply/internal/filler"
	"github.com/xkilldash9x/autoapply/internal/mocks"
	"github.com/xkilldash9x/autoapply/internal/store"
)

const platform = "greenhouse:boards.greenhouse.io"

func testConfig() config.RecipeConfig {
	return config.RecipeConfig{Window: 6, StaleThreshold: 1.0 / 3.0, MinSamples: 3, CostSavedPerReplay: 0.02}
}

func newCache(t *testing.T) (*Cache, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	logger := zaptest.NewLogger(t)
	return New(mem, testConfig(), filler.New(config.FillerConfig{}, nil, logger), logger), mem
}

func learnedSteps() []schemas.RecipeStep {
	return []schemas.RecipeStep{
		{Selector: "#first_name", FieldName: "first_name", Kind: schemas.FieldText, Value: "Ada", Required: true, Source: schemas.SourceProfile},
		{Selector: "#why", FieldName: "why", Kind: schemas.FieldTextarea, Value: "I like compilers.", Source: schemas.SourceAI},
		{Selector: "#resume", FieldName: "resume", Kind: schemas.FieldFile, Value: "/tmp/ada.pdf", Required: true, Source: schemas.SourceProfile},
		{Selector: "#source", FieldName: "source", Kind: schemas.FieldSelect, Value: "linkedin", Source: schemas.SourceAI},
	}
}

func TestFingerprint(t *testing.T) {
	tests := []struct {
		ats, url, want string
	}{
		{"greenhouse", "https://boards.greenhouse.io/acme/jobs/123", "greenhouse:boards.greenhouse.io"},
		{"Lever", "https://WWW.Jobs.Lever.co:443/acme/abc", "lever:jobs.lever.co"},
		{"", "careers.example.com/apply", "generic:careers.example.com"},
		{"workday", "http://acme.wd5.myworkdayjobs.com:8080/en-US/job/1", "workday:acme.wd5.myworkdayjobs.com"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, Fingerprint(tt.ats, tt.url))
		})
	}
}

func TestLookup_EmptyAndStale(t *testing.T) {
	ctx := context.Background()
	cache, mem := newCache(t)

	r, err := cache.Lookup(ctx, platform)
	require.NoError(t, err)
	assert.Nil(t, r)

	_, err = cache.Record(ctx, platform, learnedSteps(), schemas.OutcomeAISuccess)
	require.NoError(t, err)
	r, err = cache.Lookup(ctx, platform)
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Equal(t, 1, r.Version)
	assert.Equal(t, "greenhouse", r.ATSType)
	assert.Equal(t, "boards.greenhouse.io", r.Host)

	_, err = mem.UpdateRecipeStats(ctx, platform, 1, func(r *schemas.Recipe) { r.Stale = true })
	require.NoError(t, err)
	r, err = cache.Lookup(ctx, platform)
	require.NoError(t, err)
	assert.Nil(t, r, "stale recipes are not offered for replay")
}

func TestRecord_StripsProfileValues(t *testing.T) {
	cache, _ := newCache(t)
	saved, err := cache.Record(context.Background(), platform, learnedSteps(), schemas.OutcomeAISuccess)
	require.NoError(t, err)

	values := make(map[string]string)
	for _, s := range saved.Steps {
		values[s.FieldName] = s.Value
	}
	assert.Equal(t, map[string]string{
		"first_name": "",
		"why":        "I like compilers.",
		"resume":     "",
		"source":     "linkedin",
	}, values)
}

func TestRecord_VersionsOnlyWhenStepsChangeOrStale(t *testing.T) {
	ctx := context.Background()
	cache, mem := newCache(t)

	v1, err := cache.Record(ctx, platform, learnedSteps(), schemas.OutcomeAISuccess)
	require.NoError(t, err)
	assert.Equal(t, 1, v1.Version)

	same, err := cache.Record(ctx, platform, learnedSteps(), schemas.OutcomeAISuccess)
	require.NoError(t, err)
	assert.Equal(t, 1, same.Version, "identical steps keep the current version")

	changed := learnedSteps()
	changed[1].Value = "Different answer."
	v2, err := cache.Record(ctx, platform, changed, schemas.OutcomeAISuccess)
	require.NoError(t, err)
	assert.Equal(t, 2, v2.Version)

	_, err = mem.UpdateRecipeStats(ctx, platform, 2, func(r *schemas.Recipe) { r.Stale = true })
	require.NoError(t, err)
	v3, err := cache.Record(ctx, platform, changed, schemas.OutcomeAISuccess)
	require.NoError(t, err)
	assert.Equal(t, 3, v3.Version, "a stale recipe is replaced even by identical steps")
	assert.False(t, v3.Stale)
	assert.Empty(t, v3.Outcomes)
}

func TestRecord_RejectsEmptyAndUnknown(t *testing.T) {
	cache, _ := newCache(t)
	_, err := cache.Record(context.Background(), platform, nil, schemas.OutcomeAISuccess)
	assert.Error(t, err)
	_, err = cache.Record(context.Background(), platform, learnedSteps(), "bogus")
	assert.ErrorContains(t, err, `unknown recipe outcome "bogus"`)
	_, err = cache.Record(context.Background(), "lever:none", nil, schemas.OutcomeReplaySuccess)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRecordReplay_RollingWindowAndStaleness(t *testing.T) {
	ctx := context.Background()
	cache, _ := newCache(t)
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return fixed }

	r, err := cache.Record(ctx, platform, learnedSteps(), schemas.OutcomeAISuccess)
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		r, err = cache.RecordReplay(ctx, r, true)
		require.NoError(t, err)
	}
	assert.Equal(t, 4, r.TimesUsed)
	assert.InDelta(t, 0.08, r.CostSaved, 1e-9)
	assert.Equal(t, 1.0, r.SuccessRate)

	// Two failures in a window of six is exactly one third, which is not
	// above the threshold.
	r, err = cache.RecordReplay(ctx, r, false)
	require.NoError(t, err)
	r, err = cache.RecordReplay(ctx, r, false)
	require.NoError(t, err)
	assert.Equal(t, 2, r.FailureCount)
	require.NotNil(t, r.LastFailure)
	assert.Equal(t, fixed, *r.LastFailure)
	assert.Len(t, r.Outcomes, 6)
	assert.InDelta(t, 4.0/6.0, r.SuccessRate, 1e-9)
	assert.False(t, r.Stale)

	r, err = cache.RecordReplay(ctx, r, false)
	require.NoError(t, err)
	assert.Len(t, r.Outcomes, 6, "the window is capped")
	assert.Equal(t, []bool{true, true, true, false, false, false}, r.Outcomes)
	assert.True(t, r.Stale)

	r, err = cache.RecordReplay(ctx, r, true)
	require.NoError(t, err)
	assert.True(t, r.Stale, "staleness is sticky for a version")
}

func TestRecordReplay_MinSamples(t *testing.T) {
	ctx := context.Background()
	cache, _ := newCache(t)
	r, err := cache.Record(ctx, platform, learnedSteps(), schemas.OutcomeAISuccess)
	require.NoError(t, err)

	r, err = cache.Record(ctx, platform, nil, schemas.OutcomeReplayFailure)
	require.NoError(t, err)
	r, err = cache.Record(ctx, platform, nil, schemas.OutcomeReplayFailure)
	require.NoError(t, err)
	assert.False(t, r.Stale, "two samples are below the minimum")
	assert.Equal(t, 0.0, r.SuccessRate)

	r, err = cache.Record(ctx, platform, nil, schemas.OutcomeReplaySuccess)
	require.NoError(t, err)
	assert.True(t, r.Stale)
}

func replayPage() *mocks.FakeSession {
	return mocks.NewFakeSession("https://boards.greenhouse.io/acme/jobs/1", "").
		Add("#first_name", &mocks.FakeElement{Kind: schemas.FieldText}).
		Add("#why", &mocks.FakeElement{Kind: schemas.FieldTextarea}).
		Add("#resume", &mocks.FakeElement{Kind: schemas.FieldFile}).
		Add("#source", &mocks.FakeElement{Kind: schemas.FieldSelect, Options: []string{"linkedin", "referral"}})
}

func TestValidate_ReportsMissingSelectors(t *testing.T) {
	ctx := context.Background()
	cache, _ := newCache(t)
	r, err := cache.Record(ctx, platform, learnedSteps(), schemas.OutcomeAISuccess)
	require.NoError(t, err)

	page := replayPage()
	require.NoError(t, cache.Validate(ctx, page, r))

	page.Remove("#why")
	page.Remove("#source")
	err = cache.Validate(ctx, page, r)
	require.Error(t, err)
	assert.Equal(t, schemas.ErrorStructural, schemas.KindOf(err))

	var miss *ReplayMissError
	require.True(t, errors.As(err, &miss))
	assert.Equal(t, []string{"#why", "#source"}, miss.Missing)
	assert.Equal(t, 1, miss.Version)
}

func TestPlan_RebindsProfileSteps(t *testing.T) {
	r := &schemas.Recipe{Platform: platform, Version: 1, Steps: recordable(learnedSteps())}
	rebind := func(step schemas.RecipeStep) (schemas.RecipeStep, bool) {
		switch step.FieldName {
		case "first_name":
			step.Value = "Grace"
		case "resume":
			step.Value = "/home/grace/cv.pdf"
		}
		return step, true
	}

	plan, err := Plan(r, rebind)
	require.NoError(t, err)

	want := []schemas.RecipeStep{
		{Selector: "#first_name", FieldName: "first_name", Kind: schemas.FieldText, Value: "Grace", Required: true, Source: schemas.SourceProfile},
		{Selector: "#why", FieldName: "why", Kind: schemas.FieldTextarea, Value: "I like compilers.", Source: schemas.SourceRecipe},
		{Selector: "#resume", FieldName: "resume", Kind: schemas.FieldFile, Value: "/home/grace/cv.pdf", Required: true, Source: schemas.SourceProfile},
		{Selector: "#source", FieldName: "source", Kind: schemas.FieldSelect, Value: "linkedin", Source: schemas.SourceRecipe},
	}
	if diff := cmp.Diff(want, plan); diff != "" {
		t.Errorf("plan mismatch (-want +got):\n%s", diff)
	}
}

func TestPlan_MissingRequiredProfileValue(t *testing.T) {
	r := &schemas.Recipe{Platform: platform, Version: 1, Steps: recordable(learnedSteps())}
	_, err := Plan(r, func(step schemas.RecipeStep) (schemas.RecipeStep, bool) { return step, false })
	require.Error(t, err)
	assert.Equal(t, schemas.ErrorValidation, schemas.KindOf(err))
	assert.Contains(t, err.Error(), `"first_name"`)
}

func TestReplay_AppliesPlan(t *testing.T) {
	ctx := context.Background()
	cache, _ := newCache(t)
	r, err := cache.Record(ctx, platform, learnedSteps(), schemas.OutcomeAISuccess)
	require.NoError(t, err)

	page := replayPage()
	report, err := cache.Replay(ctx, page, r, func(step schemas.RecipeStep) (schemas.RecipeStep, bool) {
		if step.Kind == schemas.FieldFile {
			step.Value = "/home/grace/cv.pdf"
		} else {
			step.Value = "Grace"
		}
		return step, true
	})
	require.NoError(t, err)
	assert.Equal(t, 4, report.Filled)
	assert.Empty(t, report.Errors)

	first, _ := page.Element("#first_name")
	assert.Equal(t, "Grace", first.Value)
	why, _ := page.Element("#why")
	assert.Equal(t, "I like compilers.", why.Value)
	resume, _ := page.Element("#resume")
	assert.Equal(t, []string{"/home/grace/cv.pdf"}, resume.Files)
	source, _ := page.Element("#source")
	assert.Equal(t, "linkedin", source.Value)
}

func TestReplay_StopsOnMissingSelectors(t *testing.T) {
	ctx := context.Background()
	cache, _ := newCache(t)
	r, err := cache.Record(ctx, platform, learnedSteps(), schemas.OutcomeAISuccess)
	require.NoError(t, err)

	page := replayPage()
	page.Remove("#why")
	_, err = cache.Replay(ctx, page, r, nil)
	assert.Equal(t, schemas.ErrorStructural, schemas.KindOf(err))
	for _, call := range page.CallLog() {
		assert.NotContains(t, call, "set ", "nothing is filled when validation fails")
	}
}
