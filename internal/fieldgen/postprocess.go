package fieldgen

import (
	"regexp"
	"strings"

	"github.com/xkilldash9x/autoapply/api/schemas"
	"github.com/xkilldash9x/autoapply/internal/profile"
)

type disclosureRule struct {
	key     string
	pattern *regexp.Regexp
}

// Sponsorship is checked before authorization because sponsorship questions
// often mention work authorization too.
var disclosureRules = []disclosureRule{
	{schemas.DisclosureSponsorship, regexp.MustCompile(`(?i)sponsor`)},
	{schemas.DisclosureWorkAuthorization, regexp.MustCompile(`(?i)authori[sz](ed|ation)|eligible to work|legally (able|permitted|entitled) to work|right to work`)},
	{schemas.DisclosureVeteran, regexp.MustCompile(`(?i)veteran|military service`)},
	{schemas.DisclosureDisability, regexp.MustCompile(`(?i)disabilit`)},
	{schemas.DisclosureGender, regexp.MustCompile(`(?i)gender|\bsex\b`)},
	{schemas.DisclosureRace, regexp.MustCompile(`(?i)\brace\b|ethnic`)},
	{schemas.DisclosureCriminalRecord, regexp.MustCompile(`(?i)criminal|convicted|conviction|felony`)},
}

var declineOption = regexp.MustCompile(`(?i)decline|prefer not|do not wish|don't wish|not wish to|choose not|not to (say|disclose|answer|self-identify)`)

type personalRule struct {
	pattern *regexp.Regexp
	value   func(p *schemas.Profile) string
}

var personalRules = []personalRule{
	{regexp.MustCompile(`(?i)first[ _-]?name|given name|forename`), func(p *schemas.Profile) string { return p.Personal.FirstName }},
	{regexp.MustCompile(`(?i)last[ _-]?name|surname|family name`), func(p *schemas.Profile) string { return p.Personal.LastName }},
	{regexp.MustCompile(`(?i)full[ _-]?name|^name$|^your name$|legal name`), func(p *schemas.Profile) string { return p.FullName() }},
	{regexp.MustCompile(`(?i)phone|mobile`), func(p *schemas.Profile) string { return p.Personal.Phone }},
	{regexp.MustCompile(`(?i)linkedin`), func(p *schemas.Profile) string { return p.Personal.LinkedIn }},
	{regexp.MustCompile(`(?i)website|portfolio|personal site`), func(p *schemas.Profile) string { return p.Personal.Website }},
}

var emailPattern = regexp.MustCompile(`(?i)e-?mail`)

// ProfileValue returns the value for fields the profile owns. The
// second result is false for fields left to the model.
func ProfileValue(f schemas.FieldDescriptor, p *schemas.Profile) (string, bool) {
	if f.Kind == schemas.FieldFile {
		return p.ResumePath, true
	}

	text := f.Label + " " + f.Name
	for _, rule := range disclosureRules {
		if rule.pattern.MatchString(text) {
			return disclosureValue(f, p, rule.key), true
		}
	}

	if !f.Kind.IsTextual() {
		return "", false
	}
	if f.Kind == schemas.FieldEmail || emailPattern.MatchString(text) {
		return p.Personal.Email, true
	}
	if f.Kind == schemas.FieldTel && p.Personal.Phone != "" {
		return p.Personal.Phone, true
	}
	for _, rule := range personalRules {
		if rule.pattern.MatchString(f.Label) || rule.pattern.MatchString(f.Name) {
			if v := rule.value(p); v != "" {
				return v, true
			}
		}
	}
	return "", false
}

// disclosureValue maps the declared answer onto the field. Undeclared
// required choice fields take a decline option when the form offers one.
func disclosureValue(f schemas.FieldDescriptor, p *schemas.Profile, key string) string {
	declared, ok := profile.Disclosure(p, key)
	if !ok {
		if f.Required && f.Kind.IsChoice() {
			for _, o := range f.Options {
				if declineOption.MatchString(o.Label) {
					return o.Label
				}
			}
		}
		return ""
	}

	yes, isBool := yesNo(declared)
	switch {
	case f.Kind == schemas.FieldCheckbox:
		if isBool && yes {
			return "true"
		}
		return "false"
	case f.Kind.IsChoice():
		if isBool {
			for _, o := range f.Options {
				if answerYes, ok := yesNo(firstWord(o.Label)); ok && answerYes == yes {
					return o.Label
				}
			}
		}
		for _, o := range f.Options {
			if strings.EqualFold(o.Label, declared) || strings.EqualFold(o.Value, declared) {
				return o.Label
			}
		}
		for _, o := range f.Options {
			if strings.Contains(strings.ToLower(o.Label), strings.ToLower(declared)) {
				return o.Label
			}
		}
		return declared
	default:
		return declared
	}
}

func yesNo(v string) (yes bool, ok bool) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "yes", "y", "true":
		return true, true
	case "no", "n", "false":
		return false, true
	}
	return false, false
}

func firstWord(s string) string {
	s = strings.TrimLeft(s, " \t")
	if i := strings.IndexAny(s, " ,.;:-"); i > 0 {
		return s[:i]
	}
	return s
}
