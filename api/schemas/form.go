package schemas

// FieldKind classifies a form control by its native type.
type FieldKind string

const (
	FieldText     FieldKind = "text"
	FieldTextarea FieldKind = "textarea"
	FieldSelect   FieldKind = "select"
	FieldCheckbox FieldKind = "checkbox"
	FieldRadio    FieldKind = "radio"
	FieldFile     FieldKind = "file"
	FieldEmail    FieldKind = "email"
	FieldTel      FieldKind = "tel"
	FieldURL      FieldKind = "url"
	FieldNumber   FieldKind = "number"
	FieldDate     FieldKind = "date"
)

// IsTextual reports whether the control accepts free text input.
func (k FieldKind) IsTextual() bool {
	switch k {
	case FieldText, FieldTextarea, FieldEmail, FieldTel, FieldURL, FieldNumber, FieldDate:
		return true
	}
	return false
}

// IsChoice reports whether the control only accepts one of its options.
func (k FieldKind) IsChoice() bool {
	return k == FieldSelect || k == FieldRadio
}

// Complexity buckets the weighted form score.
type Complexity string

const (
	ComplexitySimple   Complexity = "SIMPLE"
	ComplexityModerate Complexity = "MODERATE"
	ComplexityComplex  Complexity = "COMPLEX"
)

// FieldOption is a single choice of a select or radio group.
type FieldOption struct {
	Label    string `json:"label"`
	Value    string `json:"value"`
	Selector string `json:"selector,omitempty"` // Radio inputs only.
}

// FieldDescriptor describes one detected form control for the lifetime of an attempt.
type FieldDescriptor struct {
	Name      string        `json:"name"`
	Kind      FieldKind     `json:"kind"`
	Label     string        `json:"label"`
	Required  bool          `json:"required"`
	Options   []FieldOption `json:"options,omitempty"`
	Selector  string        `json:"-"`
	MaxLength int           `json:"max_length,omitempty"`
	Pattern   string        `json:"pattern,omitempty"`
	Order     int           `json:"-"`
}

// CaptchaChallenge is the payload handed to a solving service.
type CaptchaChallenge struct {
	Kind    string `json:"kind"` // recaptcha, hcaptcha, turnstile, funcaptcha
	SiteKey string `json:"site_key"`
	PageURL string `json:"page_url"`
}

// FormSchema is the extractor output for the primary form on a page.
type FormSchema struct {
	Fields         []FieldDescriptor `json:"fields"`
	HasCaptcha     bool              `json:"has_captcha"`
	Captcha        *CaptchaChallenge `json:"captcha,omitempty"`
	SubmitSelector string            `json:"submit_selector,omitempty"`
	Complexity     Complexity        `json:"complexity"`
	Score          int               `json:"score"`
	MultiStep      bool              `json:"multi_step"`
}

// RequiredFillable counts the required fields an automated fill could address.
func (f *FormSchema) RequiredFillable() int {
	n := 0
	for _, fd := range f.Fields {
		if fd.Required {
			n++
		}
	}
	return n
}

// ResponseSource is the provenance of a generated value.
type ResponseSource string

const (
	SourceAI      ResponseSource = "ai"
	SourceRecipe  ResponseSource = "recipe"
	SourceProfile ResponseSource = "profile"
)

// FieldResponse is the value chosen for one field.
type FieldResponse struct {
	Value    string         `json:"value"`
	Source   ResponseSource `json:"source"`
	Valid    bool           `json:"valid"`
	Problems []string       `json:"problems,omitempty"`
}

// RecipeStep is one selector to value action in a recorded fill. Radio
// steps address the chosen option and carry "true".
type RecipeStep struct {
	Selector  string         `json:"selector"`
	FieldName string         `json:"field_name"`
	Label     string         `json:"label,omitempty"`
	Kind      FieldKind      `json:"kind"`
	Value     string         `json:"value"`
	Required  bool           `json:"required,omitempty"`
	Source    ResponseSource `json:"source,omitempty"`
}
