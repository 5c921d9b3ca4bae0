package uscishttp

import (
	"html"
	"regexp"
	"strings"
	"time"

	"github.com/casewatch/casewatch/internal/models"
)

// ParsedStatus is the structured result of parsing one status page.
type ParsedStatus struct {
	Headline    string
	Description string
	StatusDate  *time.Time
	FormType    *string
	Category    string // "" when no keyword matched; caller falls back to issuer

	InterviewDate    *time.Time
	BiometricsDate   *time.Time
	CardProducedDate *time.Time
	DecisionDate     *time.Time
	NextActionDate   *time.Time
}

var (
	statusRegionRe = regexp.MustCompile(`(?is)<div[^>]*class="[^"]*(?:current-status|rows\s+text-center|appointment-sec)[^"]*"[^>]*>(.*?)</div>`)
	errorRegionRe  = regexp.MustCompile(`(?is)<(?:div|span|p|h1)[^>]*(?:class="[^"]*(?:appError|error-message|form-error|alert-danger)[^"]*"|id="formErrorMessages")[^>]*>(.*?)</(?:div|span|p|h1)>`)
	headlineRe     = regexp.MustCompile(`(?is)<h1[^>]*>(.*?)</h1>`)
	paragraphRe    = regexp.MustCompile(`(?is)<p[^>]*>(.*?)</p>`)
	tagRe          = regexp.MustCompile(`<[^>]+>`)
	spaceRe        = regexp.MustCompile(`[\s\p{Zs}]+`)
	formTypeRe     = regexp.MustCompile(`\b([A-Z]{1,2}-\d{3})\b`)
)

// Date patterns tried in priority order; the first candidate that parses
// to a real calendar date wins. The source mixes "Month D, YYYY" prose
// dates with numeric ones.
var datePatterns = []struct {
	re     *regexp.Regexp
	layout string
}{
	{regexp.MustCompile(`[A-Z][a-z]+ \d{1,2}, \d{4}`), "January 2, 2006"},
	{regexp.MustCompile(`[A-Z][a-z]{2} \d{1,2}, \d{4}`), "Jan 2, 2006"},
	{regexp.MustCompile(`\d{2}/\d{2}/\d{4}`), "01/02/2006"},
	{regexp.MustCompile(`\d{2}-\d{2}-\d{4}`), "01-02-2006"},
}

// Category keywords over the lowercased description. Order matters: the
// first hit wins.
var categoryKeywords = []struct {
	category string
	keywords []string
}{
	{models.CategoryAdjustment, []string{"adjustment of status", "adjust status", "i-485"}},
	{models.CategoryNaturalization, []string{"naturalization", "citizenship", "n-400"}},
	{models.CategoryFamilyPetition, []string{"petition for alien relative", "family", "fianc", "i-130"}},
	{models.CategoryEmploymentPetition, []string{"petition for a nonimmigrant worker", "immigrant petition for alien worker", "i-140", "i-129"}},
	{models.CategoryAsylum, []string{"asylum", "withholding of removal", "i-589"}},
	{models.CategoryWorkAuthorization, []string{"employment authorization", "work permit", "i-765"}},
	{models.CategoryTravelDocument, []string{"travel document", "advance parole", "reentry permit", "i-131"}},
}

// Milestone keywords over the lowercased headline, highest priority
// first; at most one milestone slot is populated per snapshot.
var milestoneKeywords = []struct {
	slot     string
	keywords []string
}{
	{"interview", []string{"interview"}},
	{"biometrics", []string{"biometric", "fingerprint"}},
	{"card", []string{"card"}},
	{"decision", []string{"approved", "denied", "decision"}},
	{"next_action", []string{"request for", "respond", "evidence"}},
}

// parsePage extracts a structured status from free-form markup. The
// strategy is layered: a known status region first, then an explicit
// error region whose text is surfaced verbatim, then a generic parse
// failure. It never panics on unexpected markup.
func parsePage(markup string) (ParsedStatus, *parseFailure) {
	region := markup
	if m := statusRegionRe.FindStringSubmatch(markup); m != nil {
		region = m[1]
	}

	headline := ""
	if m := headlineRe.FindStringSubmatch(region); m != nil {
		headline = stripMarkup(m[1])
	}

	if headline == "" {
		if m := errorRegionRe.FindStringSubmatch(markup); m != nil {
			msg := stripMarkup(m[1])
			if msg != "" {
				return ParsedStatus{}, &parseFailure{sourceMessage: msg}
			}
		}
		return ParsedStatus{}, &parseFailure{}
	}

	desc := ""
	if m := paragraphRe.FindStringSubmatch(region); m != nil {
		desc = stripMarkup(m[1])
	}

	p := ParsedStatus{Headline: headline, Description: desc}
	p.StatusDate = extractDate(desc)
	if p.StatusDate == nil {
		p.StatusDate = extractDate(headline)
	}
	if ft := formTypeRe.FindString(desc); ft != "" {
		p.FormType = &ft
	}
	p.Category = inferCategory(desc)
	applyMilestone(&p)
	return p, nil
}

type parseFailure struct {
	// sourceMessage carries the source's own error text when an explicit
	// error region was found.
	sourceMessage string
}

func stripMarkup(s string) string {
	s = tagRe.ReplaceAllString(s, " ")
	s = html.UnescapeString(s)
	return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}

// extractDate tries the textual date patterns in priority order and
// returns the first one that parses to a valid calendar date.
func extractDate(text string) *time.Time {
	for _, dp := range datePatterns {
		for _, cand := range dp.re.FindAllString(text, -1) {
			if t, err := time.Parse(dp.layout, cand); err == nil {
				t = t.UTC()
				return &t
			}
		}
	}
	return nil
}

func inferCategory(description string) string {
	low := strings.ToLower(description)
	for _, ck := range categoryKeywords {
		for _, kw := range ck.keywords {
			if strings.Contains(low, kw) {
				return ck.category
			}
		}
	}
	return ""
}

// applyMilestone attaches the extracted date to at most one milestone
// slot, chosen by keyword priority over the headline.
func applyMilestone(p *ParsedStatus) {
	if p.StatusDate == nil {
		return
	}
	low := strings.ToLower(p.Headline)
	for _, mk := range milestoneKeywords {
		for _, kw := range mk.keywords {
			if !strings.Contains(low, kw) {
				continue
			}
			switch mk.slot {
			case "interview":
				p.InterviewDate = p.StatusDate
			case "biometrics":
				p.BiometricsDate = p.StatusDate
			case "card":
				p.CardProducedDate = p.StatusDate
			case "decision":
				p.DecisionDate = p.StatusDate
			case "next_action":
				p.NextActionDate = p.StatusDate
			}
			return
		}
	}
}
