// Package fieldgen produces values for form fields from the candidate profile
// and the language model.
package fieldgen

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/xkilldash9x/autoapply/api/schemas"
	"github.com/xkilldash9x/autoapply/internal/llmclient"
	"github.com/xkilldash9x/autoapply/internal/llmutil"
)

const generationTemperature = 0.2

// Result is the value chosen for every field plus the accumulated AI usage.
type Result struct {
	Responses map[string]schemas.FieldResponse
	Usage     schemas.TokenUsage
	// Generations counts AI calls, including the regeneration.
	Generations int
}

// Value returns the chosen value for a field name.
func (r *Result) Value(name string) string {
	return r.Responses[name].Value
}

// Generator produces field values from the candidate profile and the job.
type Generator struct {
	llm      schemas.LLMClient
	logger   *zap.Logger
	validate *validator.Validate
}

// New creates a Generator over an LLM client, usually the tier router.
func New(llm schemas.LLMClient, logger *zap.Logger) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{
		llm:      llm,
		logger:   logger.Named("fieldgen"),
		validate: validator.New(),
	}
}

type aiResponse struct {
	Values map[string]interface{} `json:"values"`
}

// Generate fills every field of the form. Profile-owned fields are set
// deterministically and never sent to the model. When validation fails the
// model is asked once more with the problems listed; a second failure is a
// VALIDATION AttemptError. The returned Result is non-nil whenever a model
// call was made, so its usage can be billed.
func (g *Generator) Generate(ctx context.Context, form *schemas.FormSchema, profile *schemas.Profile, job schemas.JobContext) (*Result, error) {
	fields := append([]schemas.FieldDescriptor(nil), form.Fields...)
	sort.SliceStable(fields, func(i, j int) bool { return fields[i].Order < fields[j].Order })

	fixed := make(map[string]string)
	var aiFields []schemas.FieldDescriptor
	for _, f := range fields {
		if v, ok := ProfileValue(f, profile); ok {
			fixed[f.Name] = v
			continue
		}
		aiFields = append(aiFields, f)
	}

	result := &Result{Responses: make(map[string]schemas.FieldResponse, len(fields))}
	if len(aiFields) == 0 {
		problems := g.assemble(result, fields, fixed, nil)
		if len(problems) > 0 {
			return result, validationError(problems)
		}
		return result, nil
	}

	base := buildUserPrompt(aiFields, profile, job)
	var problems []string
	for attempt := 1; attempt <= 2; attempt++ {
		prompt := base
		if len(problems) > 0 {
			prompt = base + regenerationNote(problems)
		}

		values, err := g.call(ctx, result, prompt)
		if err != nil {
			if schemas.KindOf(err) != "" {
				return result, err
			}
			problems = []string{err.Error()}
			g.logger.Warn("Model response unusable", zap.Int("attempt", attempt), zap.Error(err))
			continue
		}

		problems = g.assemble(result, fields, fixed, values)
		if len(problems) == 0 {
			g.logger.Debug("Field values generated",
				zap.Int("fields", len(fields)),
				zap.Int("ai_fields", len(aiFields)),
				zap.Int("generations", result.Generations),
				zap.Float64("cost", result.Usage.Cost),
			)
			return result, nil
		}
		g.logger.Info("Generated values failed validation", zap.Int("attempt", attempt), zap.Strings("problems", problems))
	}
	return result, validationError(problems)
}

func (g *Generator) call(ctx context.Context, result *Result, prompt string) (map[string]string, error) {
	resp, err := g.llm.Generate(ctx, schemas.GenerationRequest{
		SystemPrompt: systemPrompt,
		UserPrompt:   prompt,
		Tier:         schemas.TierPowerful,
		Options: schemas.GenerationOptions{
			Temperature:     generationTemperature,
			ForceJSONFormat: true,
		},
	})
	if err != nil {
		kind := schemas.ErrorFatal
		if llmclient.IsTransient(err) || ctx.Err() != nil {
			kind = schemas.ErrorTransient
		}
		return nil, schemas.NewAttemptError(kind, "generate", "AI provider call failed", err)
	}
	result.Generations++
	result.Usage.Add(resp.Usage)

	parsed, err := llmutil.ParseJSONResponse[aiResponse](resp.Text)
	if err != nil {
		return nil, fmt.Errorf("response was not the requested JSON object: %w", err)
	}
	values := make(map[string]string, len(parsed.Values))
	for k, v := range parsed.Values {
		values[k] = stringify(v)
	}
	return values, nil
}

// assemble merges model output with the fixed values, validates every field
// and stores the responses. It returns the problems found.
func (g *Generator) assemble(result *Result, fields []schemas.FieldDescriptor, fixed, ai map[string]string) []string {
	var problems []string
	for _, f := range fields {
		resp := schemas.FieldResponse{Source: schemas.SourceAI}
		if v, ok := fixed[f.Name]; ok {
			resp.Value = v
			resp.Source = schemas.SourceProfile
		} else {
			resp.Value = strings.TrimSpace(ai[f.Name])
		}

		resp.Value, resp.Problems = g.check(f, resp.Value)
		resp.Valid = len(resp.Problems) == 0
		for _, p := range resp.Problems {
			problems = append(problems, fmt.Sprintf("%s: %s", f.Name, p))
		}
		result.Responses[f.Name] = resp
	}
	return problems
}

func validationError(problems []string) error {
	return schemas.NewAttemptError(schemas.ErrorValidation, "generate",
		fmt.Sprintf("field values failed validation: %s", strings.Join(problems, "; ")), nil)
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		if t {
			return "true"
		}
		return "false"
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%g", t)
	case []interface{}:
		parts := make([]string, 0, len(t))
		for _, p := range t {
			parts = append(parts, stringify(p))
		}
		return strings.Join(parts, ", ")
	default:
		return fmt.Sprint(t)
	}
}
