package jobs

import (
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// ATSGeneric is reported when the apply URL belongs to no known ATS.
const ATSGeneric = "generic"

// atsDomains maps registrable domains to the ATS that serves them.
var atsDomains = map[string]string{
	"greenhouse.io":       "greenhouse",
	"lever.co":            "lever",
	"myworkdayjobs.com":   "workday",
	"myworkdaysite.com":   "workday",
	"workday.com":         "workday",
	"ashbyhq.com":         "ashby",
	"smartrecruiters.com": "smartrecruiters",
	"icims.com":           "icims",
	"jobvite.com":         "jobvite",
	"bamboohr.com":        "bamboohr",
	"workable.com":        "workable",
}

// DetectATS identifies the applicant tracking system behind an apply URL
// from its registrable domain, so that boards.greenhouse.io and
// job-boards.eu.greenhouse.io both resolve to greenhouse.
func DetectATS(applyURL string) string {
	raw := strings.TrimSpace(applyURL)
	if raw == "" {
		return ATSGeneric
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ATSGeneric
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return ATSGeneric
	}
	domain, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return ATSGeneric
	}
	if ats, ok := atsDomains[domain]; ok {
		return ats
	}
	return ATSGeneric
}
