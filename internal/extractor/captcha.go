package extractor

import (
	"net/url"

	"github.com/PuerkitoBio/goquery"

	"github.com/xkilldash9x/autoapply/api/schemas"
)

type captchaMarker struct {
	kind      string
	selector  string
	keyAttr   string
	iframeKey string
}

var captchaMarkers = []captchaMarker{
	{kind: "hcaptcha", selector: `.h-captcha, iframe[src*="hcaptcha"]`, keyAttr: "data-sitekey", iframeKey: "sitekey"},
	{kind: "recaptcha", selector: `.g-recaptcha, iframe[src*="recaptcha"]`, keyAttr: "data-sitekey", iframeKey: "k"},
	{kind: "turnstile", selector: `.cf-turnstile, iframe[src*="challenges.cloudflare.com"], script[src*="challenges.cloudflare.com/turnstile"]`, keyAttr: "data-sitekey", iframeKey: "sitekey"},
	{kind: "funcaptcha", selector: `#FunCaptcha, [data-pkey], iframe[src*="arkoselabs"], iframe[src*="funcaptcha"]`, keyAttr: "data-pkey", iframeKey: "pkey"},
}

// detectCaptcha reports the first challenge widget found in the document.
func detectCaptcha(doc *goquery.Document) *schemas.CaptchaChallenge {
	for _, m := range captchaMarkers {
		found := doc.Find(m.selector)
		if found.Length() == 0 {
			continue
		}
		return &schemas.CaptchaChallenge{Kind: m.kind, SiteKey: siteKey(doc, found, m)}
	}
	return nil
}

func siteKey(doc *goquery.Document, found *goquery.Selection, m captchaMarker) string {
	var key string
	found.EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if k := attr(s, m.keyAttr); k != "" {
			key = k
			return false
		}
		if k := attr(s.Find("["+m.keyAttr+"]").First(), m.keyAttr); k != "" {
			key = k
			return false
		}
		if src := attr(s, "src"); src != "" {
			if u, err := url.Parse(src); err == nil && u.Query().Get(m.iframeKey) != "" {
				key = u.Query().Get(m.iframeKey)
				return false
			}
		}
		return true
	})
	if key == "" {
		key = attr(doc.Find("["+m.keyAttr+"]").First(), m.keyAttr)
	}
	return key
}
