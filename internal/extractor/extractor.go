// Package extractor turns an application page into a form schema.
package extractor

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/xkilldash9x/autoapply/api/schemas"
	"github.com/xkilldash9x/autoapply/internal/config"
)

const (
	defaultSimpleMax   = 10
	defaultModerateMax = 25

	controlSelector = "input, textarea, select"
	largeGroupSize  = 10
)

// Page is the read-only view of a loaded page the extractor needs.
type Page interface {
	PageHTML(ctx context.Context) (string, error)
	CurrentURL(ctx context.Context) (string, error)
}

// Extractor builds a FormSchema from the rendered page. It never mutates the page.
type Extractor struct {
	cfg    config.ExtractorConfig
	logger *zap.Logger
}

// New creates an Extractor. Zero thresholds fall back to the defaults.
func New(cfg config.ExtractorConfig, logger *zap.Logger) *Extractor {
	if cfg.SimpleMax <= 0 {
		cfg.SimpleMax = defaultSimpleMax
	}
	if cfg.ModerateMax <= cfg.SimpleMax {
		cfg.ModerateMax = max(defaultModerateMax, cfg.SimpleMax+1)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{cfg: cfg, logger: logger.Named("extractor")}
}

// Extract snapshots the page and parses the primary form on it.
func (e *Extractor) Extract(ctx context.Context, page Page) (*schemas.FormSchema, error) {
	html, err := page.PageHTML(ctx)
	if err != nil {
		return nil, schemas.NewAttemptError(schemas.ErrorTransient, "extract", "failed to snapshot page", err)
	}
	pageURL, err := page.CurrentURL(ctx)
	if err != nil {
		e.logger.Debug("Could not read page URL for captcha challenge", zap.Error(err))
	}

	form, err := e.Parse(html, pageURL)
	if err != nil {
		return nil, schemas.NewAttemptError(schemas.ErrorStructural, "extract", "failed to parse page", err)
	}
	e.logger.Debug("Form extracted",
		zap.Int("fields", len(form.Fields)),
		zap.Int("score", form.Score),
		zap.String("complexity", string(form.Complexity)),
		zap.Bool("captcha", form.HasCaptcha),
		zap.String("submit", form.SubmitSelector),
	)
	return form, nil
}

// Parse runs extraction over an HTML document.
func (e *Extractor) Parse(html, pageURL string) (*schemas.FormSchema, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	region := primaryRegion(doc)
	form := &schemas.FormSchema{Fields: collectFields(doc, region)}

	if challenge := detectCaptcha(doc); challenge != nil {
		challenge.PageURL = pageURL
		form.HasCaptcha = true
		form.Captcha = challenge
	}

	submit := findSubmit(doc, region)
	form.SubmitSelector = submit.selector
	form.MultiStep = hasStepMarkers(doc.Selection) || (submit.isNext && !submit.isSubmit)

	form.Score = score(form)
	form.Complexity = e.bucket(form.Score)
	return form, nil
}

func (e *Extractor) bucket(score int) schemas.Complexity {
	switch {
	case score <= e.cfg.SimpleMax:
		return schemas.ComplexitySimple
	case score <= e.cfg.ModerateMax:
		return schemas.ComplexityModerate
	default:
		return schemas.ComplexityComplex
	}
}

func score(form *schemas.FormSchema) int {
	s := len(form.Fields)
	for _, f := range form.Fields {
		if f.Kind == schemas.FieldFile {
			s += 2
		}
		if f.Kind.IsChoice() && len(f.Options) > largeGroupSize {
			s++
		}
	}
	if form.MultiStep {
		s += 5
	}
	if form.HasCaptcha {
		s += 5
	}
	return s
}

// primaryRegion picks the form with the most interactive controls, or the body.
func primaryRegion(doc *goquery.Document) *goquery.Selection {
	var best *goquery.Selection
	bestCount := 0
	doc.Find("form").Each(func(_ int, f *goquery.Selection) {
		n := f.Find(controlSelector).FilterFunction(isInteractive).Length()
		if n > bestCount {
			best, bestCount = f, n
		}
	})
	if best != nil {
		return best
	}
	return doc.Find("body")
}

func isInteractive(_ int, s *goquery.Selection) bool {
	if goquery.NodeName(s) != "input" {
		return true
	}
	switch inputType(s) {
	case "hidden", "submit", "button", "reset", "image":
		return false
	}
	return true
}

func inputType(s *goquery.Selection) string {
	t, _ := s.Attr("type")
	return strings.ToLower(strings.TrimSpace(t))
}

func kindOf(s *goquery.Selection) schemas.FieldKind {
	switch goquery.NodeName(s) {
	case "textarea":
		return schemas.FieldTextarea
	case "select":
		return schemas.FieldSelect
	}
	switch inputType(s) {
	case "checkbox":
		return schemas.FieldCheckbox
	case "radio":
		return schemas.FieldRadio
	case "file":
		return schemas.FieldFile
	case "email":
		return schemas.FieldEmail
	case "tel":
		return schemas.FieldTel
	case "url":
		return schemas.FieldURL
	case "number":
		return schemas.FieldNumber
	case "date":
		return schemas.FieldDate
	default:
		return schemas.FieldText
	}
}

func collectFields(doc *goquery.Document, region *goquery.Selection) []schemas.FieldDescriptor {
	var fields []schemas.FieldDescriptor
	radioGroups := make(map[string]int)
	seen := make(map[string]int)

	region.Find(controlSelector).FilterFunction(isInteractive).Each(func(i int, s *goquery.Selection) {
		kind := kindOf(s)
		name := attr(s, "name")

		if kind == schemas.FieldRadio && name != "" {
			opt := schemas.FieldOption{
				Value:    attr(s, "value"),
				Label:    optionLabel(doc, s),
				Selector: fmt.Sprintf(`input[name="%s"][value="%s"]`, cssString(name), cssString(attr(s, "value"))),
			}
			if idx, ok := radioGroups[name]; ok {
				fields[idx].Options = append(fields[idx].Options, opt)
				fields[idx].Required = fields[idx].Required || isRequired(s)
				return
			}
			label, starred := groupLabel(doc, s)
			radioGroups[name] = len(fields)
			fields = append(fields, schemas.FieldDescriptor{
				Name:     uniqueName(seen, name),
				Kind:     kind,
				Label:    label,
				Required: isRequired(s) || starred,
				Options:  []schemas.FieldOption{opt},
				Selector: fmt.Sprintf(`input[name="%s"]`, cssString(name)),
				Order:    len(fields),
			})
			return
		}

		label, starred := resolveLabel(doc, s)
		fd := schemas.FieldDescriptor{
			Name:     uniqueName(seen, fieldName(s, i)),
			Kind:     kind,
			Label:    label,
			Required: isRequired(s) || starred,
			Selector: selectorFor(doc, s),
			Pattern:  attr(s, "pattern"),
			Order:    len(fields),
		}
		if n, err := strconv.Atoi(attr(s, "maxlength")); err == nil && n > 0 {
			fd.MaxLength = n
		}
		if kind == schemas.FieldSelect {
			fd.Options = selectOptions(s)
		}
		fields = append(fields, fd)
	})
	return fields
}

func fieldName(s *goquery.Selection, i int) string {
	if n := attr(s, "name"); n != "" {
		return n
	}
	if id := attr(s, "id"); id != "" {
		return id
	}
	return fmt.Sprintf("field_%d", i)
}

func uniqueName(seen map[string]int, name string) string {
	seen[name]++
	if n := seen[name]; n > 1 {
		return fmt.Sprintf("%s_%d", name, n)
	}
	return name
}

func isRequired(s *goquery.Selection) bool {
	if _, ok := s.Attr("required"); ok {
		return true
	}
	return strings.EqualFold(attr(s, "aria-required"), "true")
}

func selectOptions(s *goquery.Selection) []schemas.FieldOption {
	var opts []schemas.FieldOption
	s.Find("option").Each(func(_ int, o *goquery.Selection) {
		label := cleanText(o.Text())
		if l := attr(o, "label"); l != "" {
			label = cleanText(l)
		}
		value, hasValue := o.Attr("value")
		if !hasValue {
			value = label
		}
		if strings.TrimSpace(value) == "" {
			return
		}
		opts = append(opts, schemas.FieldOption{Label: label, Value: value})
	})
	return opts
}

func attr(s *goquery.Selection, name string) string {
	v, _ := s.Attr(name)
	return strings.TrimSpace(v)
}
