package extractor

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// resolveLabel finds the best human-readable label for a control and reports
// whether it carried a required asterisk.
func resolveLabel(doc *goquery.Document, s *goquery.Selection) (string, bool) {
	candidates := []func() string{
		func() string { return labelFor(doc, attr(s, "id")) },
		func() string { return wrappingLabel(s) },
		func() string { return labelledBy(doc, attr(s, "aria-labelledby")) },
		func() string { return nearbyText(s) },
		func() string { return attr(s, "placeholder") },
		func() string { return attr(s, "aria-label") },
		func() string { return attr(s, "name") },
	}
	for _, c := range candidates {
		if text := cleanText(c()); text != "" {
			return stripAsterisk(text)
		}
	}
	return "", false
}

// groupLabel labels a radio group by its question rather than its options.
func groupLabel(doc *goquery.Document, s *goquery.Selection) (string, bool) {
	candidates := []func() string{
		func() string { return s.Closest("fieldset").ChildrenFiltered("legend").First().Text() },
		func() string {
			group := s.Closest(`[role="radiogroup"]`)
			if l := attr(group, "aria-label"); l != "" {
				return l
			}
			return labelledBy(doc, attr(group, "aria-labelledby"))
		},
		func() string { return nearbyText(containerOf(s)) },
		func() string { return attr(s, "name") },
	}
	for _, c := range candidates {
		if text := cleanText(c()); text != "" {
			return stripAsterisk(text)
		}
	}
	return "", false
}

// optionLabel is the visible text of one radio choice.
func optionLabel(doc *goquery.Document, s *goquery.Selection) string {
	for _, text := range []string{labelFor(doc, attr(s, "id")), wrappingLabel(s), attr(s, "aria-label")} {
		if t := cleanText(text); t != "" {
			return t
		}
	}
	if next := s.Nodes[0].NextSibling; next != nil && next.Type == html.TextNode {
		if t := cleanText(next.Data); t != "" {
			return t
		}
	}
	return attr(s, "value")
}

func labelFor(doc *goquery.Document, id string) string {
	if id == "" {
		return ""
	}
	return doc.Find("label").FilterFunction(func(_ int, l *goquery.Selection) bool {
		return attr(l, "for") == id
	}).First().Text()
}

func wrappingLabel(s *goquery.Selection) string {
	lbl := s.Closest("label")
	if lbl.Length() == 0 {
		return ""
	}
	c := lbl.Clone()
	c.Find(controlSelector).Remove()
	return c.Text()
}

func labelledBy(doc *goquery.Document, ids string) string {
	var parts []string
	for _, id := range strings.Fields(ids) {
		text := doc.Find("[id]").FilterFunction(func(_ int, el *goquery.Selection) bool {
			return attr(el, "id") == id
		}).First().Text()
		if t := cleanText(text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}

// nearbyText is the previous sibling element's text, or the parent
// container's own text nodes.
func nearbyText(s *goquery.Selection) string {
	if prev := s.Prev(); prev.Length() > 0 && prev.Find(controlSelector).Length() == 0 && !prev.Is(controlSelector) {
		if t := cleanText(prev.Text()); t != "" {
			return t
		}
	}
	return ownText(s.Parent())
}

func ownText(s *goquery.Selection) string {
	if s.Length() == 0 {
		return ""
	}
	var b strings.Builder
	for n := s.Nodes[0].FirstChild; n != nil; n = n.NextSibling {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteByte(' ')
		}
	}
	return b.String()
}

// containerOf climbs out of any wrapping label so the question text of a
// radio group is found next to the group, not next to one option.
func containerOf(s *goquery.Selection) *goquery.Selection {
	if lbl := s.Closest("label"); lbl.Length() > 0 {
		s = lbl
	}
	for p := s.Parent(); p.Length() > 0; p = p.Parent() {
		if p.Find(`input[type="radio"]`).Length() > 1 {
			return p
		}
		if goquery.NodeName(p) == "form" || goquery.NodeName(p) == "body" {
			break
		}
	}
	return s
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func stripAsterisk(label string) (string, bool) {
	if !strings.Contains(label, "*") {
		return strings.TrimSuffix(label, ":"), false
	}
	label = cleanText(strings.ReplaceAll(label, "*", ""))
	return strings.TrimSpace(strings.TrimSuffix(label, ":")), true
}
