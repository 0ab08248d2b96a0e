package extractor

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var cssSafeID = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]*$`)

// selectorFor returns a selector that addresses exactly this element:
// #id when the id is CSS-safe and unique, tag[name="..."] when the name is
// unique, otherwise a structural nth-of-type path.
func selectorFor(doc *goquery.Document, s *goquery.Selection) string {
	tag := goquery.NodeName(s)
	if id := attr(s, "id"); id != "" && cssSafeID.MatchString(id) && doc.Find("#"+id).Length() == 1 {
		return "#" + id
	}
	if name := attr(s, "name"); name != "" {
		sel := fmt.Sprintf(`%s[name="%s"]`, tag, cssString(name))
		if doc.Find(sel).Length() == 1 {
			return sel
		}
	}
	return structuralPath(s)
}

func structuralPath(s *goquery.Selection) string {
	var parts []string
	for cur := s; cur.Length() > 0; cur = cur.Parent() {
		tag := goquery.NodeName(cur)
		if tag == "html" || tag == "#document" {
			break
		}
		if tag == "body" {
			parts = append(parts, "body")
			break
		}
		idx := cur.PrevAllFiltered(tag).Length() + 1
		parts = append(parts, fmt.Sprintf("%s:nth-of-type(%d)", tag, idx))
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, " > ")
}

// cssString escapes a value for use inside a double-quoted attribute selector.
func cssString(v string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(v)
}
