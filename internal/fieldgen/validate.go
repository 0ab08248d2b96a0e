package fieldgen

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/xkilldash9x/autoapply/api/schemas"
)

var kindTags = map[schemas.FieldKind]string{
	schemas.FieldEmail:  "email",
	schemas.FieldURL:    "url",
	schemas.FieldNumber: "numeric",
}

// check validates one value against its descriptor. Choice values are
// normalised to the matching option label.
func (g *Generator) check(f schemas.FieldDescriptor, value string) (string, []string) {
	var problems []string
	if value == "" {
		if f.Required {
			problems = append(problems, "required field is empty")
		}
		return value, problems
	}

	if f.Kind.IsChoice() {
		opt, ok := matchOption(f.Options, value)
		if !ok {
			return value, append(problems, fmt.Sprintf("%q is not one of the options %s", value, optionList(f.Options)))
		}
		value = opt.Label
	}

	if f.MaxLength > 0 && utf8.RuneCountInString(value) > f.MaxLength {
		problems = append(problems, fmt.Sprintf("value is %d characters, the limit is %d", utf8.RuneCountInString(value), f.MaxLength))
	}

	if tag, ok := kindTags[f.Kind]; ok {
		if err := g.validate.Var(value, tag); err != nil {
			problems = append(problems, fmt.Sprintf("value is not a valid %s", tag))
		}
	}

	if f.Pattern != "" && f.Kind.IsTextual() {
		if re, err := regexp.Compile("^(?:" + f.Pattern + ")$"); err == nil && !re.MatchString(value) {
			problems = append(problems, fmt.Sprintf("value does not match the pattern %s", f.Pattern))
		}
	}
	return value, problems
}

// matchOption finds an option whose label or value equals v, ignoring case.
func matchOption(options []schemas.FieldOption, v string) (schemas.FieldOption, bool) {
	for _, o := range options {
		if strings.EqualFold(o.Label, v) || strings.EqualFold(o.Value, v) {
			return o, true
		}
	}
	return schemas.FieldOption{}, false
}

func optionList(options []schemas.FieldOption) string {
	labels := make([]string, 0, len(options))
	for _, o := range options {
		labels = append(labels, fmt.Sprintf("%q", o.Label))
	}
	return "[" + strings.Join(labels, ", ") + "]"
}
