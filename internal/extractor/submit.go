package extractor

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var (
	submitVocabulary = regexp.MustCompile(`(?i)\b(submit|apply|send application|finish)\b`)
	nextVocabulary   = regexp.MustCompile(`(?i)\b(next|continue)\b`)
	stepCounter      = regexp.MustCompile(`(?i)\bstep\s+\d+\s*(of|/)\s*\d+`)
)

const stepMarkerSelector = `[role="progressbar"], [data-step], .progress, .steps, .stepper, [class*="step-indicator"]`

type submitControl struct {
	selector string
	isSubmit bool
	isNext   bool
}

// findSubmit picks the submit control: an explicit submit button, then an
// untyped button in the region, then any button or link whose visible text
// reads as submit intent.
func findSubmit(doc *goquery.Document, region *goquery.Selection) submitControl {
	if explicit := region.Find(`button[type="submit"], input[type="submit"]`).First(); explicit.Length() > 0 {
		return submitControl{selector: selectorFor(doc, explicit), isSubmit: true}
	}

	untyped := region.Find("button").FilterFunction(func(_ int, b *goquery.Selection) bool {
		_, hasType := b.Attr("type")
		return !hasType
	}).First()
	if untyped.Length() > 0 {
		text := buttonText(untyped)
		next := nextVocabulary.MatchString(text) && !submitVocabulary.MatchString(text)
		return submitControl{selector: selectorFor(doc, untyped), isSubmit: !next, isNext: next}
	}

	var ctrl submitControl
	var nextCandidate *goquery.Selection
	doc.Find(`button, a, input[type="button"], [role="button"]`).EachWithBreak(func(_ int, b *goquery.Selection) bool {
		text := buttonText(b)
		if submitVocabulary.MatchString(text) {
			ctrl = submitControl{selector: selectorFor(doc, b), isSubmit: true}
			return false
		}
		if nextCandidate == nil && nextVocabulary.MatchString(text) {
			nextCandidate = b
		}
		return true
	})
	if ctrl.selector == "" && nextCandidate != nil {
		ctrl = submitControl{selector: selectorFor(doc, nextCandidate), isNext: true}
	}
	return ctrl
}

func buttonText(b *goquery.Selection) string {
	if goquery.NodeName(b) == "input" {
		return attr(b, "value")
	}
	text := cleanText(b.Text())
	if text == "" {
		text = attr(b, "aria-label")
	}
	return strings.ToLower(text)
}

func hasStepMarkers(region *goquery.Selection) bool {
	if region.Find(stepMarkerSelector).Length() > 0 {
		return true
	}
	return stepCounter.MatchString(region.Text())
}
