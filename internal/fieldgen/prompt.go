package fieldgen

import (
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/autoapply/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const maxDescriptionRunes = 4000

const systemPrompt = `You complete job application forms on behalf of a candidate.
Answer only from the candidate profile and the job description. Never invent employers, degrees, dates or credentials.
For fields with options, answer with one option label exactly as listed.
Respect max_length. Leave an optional field as an empty string when the profile gives no truthful answer.
Reply with a single JSON object of the form {"values": {"<field name>": "<value>"}} covering every field listed.`

type promptField struct {
	Name      string   `json:"name"`
	Kind      string   `json:"kind"`
	Label     string   `json:"label"`
	Required  bool     `json:"required"`
	Options   []string `json:"options,omitempty"`
	MaxLength int      `json:"max_length,omitempty"`
}

type promptCandidate struct {
	Name       string               `json:"name"`
	Location   string               `json:"location,omitempty"`
	Summary    string               `json:"summary,omitempty"`
	Skills     []string             `json:"skills,omitempty"`
	Experience []schemas.Experience `json:"experience,omitempty"`
	Education  []schemas.Education  `json:"education,omitempty"`
}

type promptJob struct {
	Title       string `json:"title"`
	Company     string `json:"company"`
	Description string `json:"description,omitempty"`
}

// buildUserPrompt renders the candidate and job first and the fields last,
// so requests for the same candidate share a stable prefix.
func buildUserPrompt(fields []schemas.FieldDescriptor, p *schemas.Profile, job schemas.JobContext) string {
	candidate := promptCandidate{
		Name:       p.FullName(),
		Location:   p.Personal.Location,
		Summary:    p.Summary,
		Skills:     p.Skills,
		Experience: p.Experience,
		Education:  p.Education,
	}
	pj := promptJob{Title: job.Title, Company: job.Company, Description: truncateRunes(job.Description, maxDescriptionRunes)}

	pf := make([]promptField, 0, len(fields))
	for _, f := range fields {
		entry := promptField{Name: f.Name, Kind: string(f.Kind), Label: f.Label, Required: f.Required, MaxLength: f.MaxLength}
		for _, o := range f.Options {
			entry.Options = append(entry.Options, o.Label)
		}
		pf = append(pf, entry)
	}

	var b strings.Builder
	b.WriteString("CANDIDATE:\n")
	b.WriteString(mustJSON(candidate))
	b.WriteString("\n\nJOB:\n")
	b.WriteString(mustJSON(pj))
	b.WriteString("\n\nFIELDS:\n")
	b.WriteString(mustJSON(pf))
	return b.String()
}

func regenerationNote(problems []string) string {
	var b strings.Builder
	b.WriteString("\n\nYour previous answer had these problems. Fix them and answer every field again:\n")
	for _, p := range problems {
		fmt.Fprintf(&b, "- %s\n", p)
	}
	return b.String()
}

func mustJSON(v interface{}) string {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%+v", v)
	}
	return string(out)
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
