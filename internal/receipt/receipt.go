// Package receipt validates USCIS-style receipt numbers: a 3-letter
// service-center prefix followed by 10 digits, the first two of which
// encode a fiscal year.
package receipt

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	RuleEmpty           = "empty"
	RuleFormat          = "format"
	RuleUnknownIssuer   = "unknown_issuer"
	RuleImplausibleYear = "implausible_year"
)

// Year window for plausibility checks: transposed digits usually land far
// outside it.
const (
	maxYearsAhead  = 10
	maxYearsBehind = 30
)

type RuleError struct {
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

type Result struct {
	Valid       bool        `json:"valid"`
	Normalized  string      `json:"normalized"`
	IssuerLabel string      `json:"issuerLabel,omitempty"`
	Errors      []RuleError `json:"errors,omitempty"`
}

var issuerLabels = map[string]string{
	"EAC": "Vermont Service Center (Eastern Adjudication Center)",
	"VSC": "Vermont Service Center",
	"WAC": "California Service Center (Western Adjudication Center)",
	"CSC": "California Service Center",
	"LIN": "Nebraska Service Center (Lincoln)",
	"NSC": "Nebraska Service Center",
	"SRC": "Texas Service Center (Southern Regional Center)",
	"TSC": "Texas Service Center",
	"MSC": "National Benefits Center (Missouri Service Center)",
	"NBC": "National Benefits Center",
	"IOE": "USCIS Electronic Immigration System (ELIS)",
	"YSC": "Potomac Service Center",
}

var pattern = regexp.MustCompile(`^([A-Z]{3})([0-9]{10})$`)

// Normalize strips all whitespace and uppercases.
func Normalize(identifier string) string {
	return strings.ToUpper(strings.Join(strings.Fields(identifier), ""))
}

// IssuerLabel resolves a known 3-letter prefix to its human label.
func IssuerLabel(prefix string) (string, bool) {
	label, ok := issuerLabels[strings.ToUpper(prefix)]
	return label, ok
}

// Validate applies the format rules in order and reports the first
// violated rule with a specific error code. Pure, no side effects.
func Validate(identifier string) Result {
	norm := Normalize(identifier)
	res := Result{Normalized: norm}

	if norm == "" {
		res.Errors = append(res.Errors, RuleError{
			Rule:    RuleEmpty,
			Message: "receipt number is required",
		})
		return res
	}

	m := pattern.FindStringSubmatch(norm)
	if m == nil {
		res.Errors = append(res.Errors, RuleError{
			Rule:    RuleFormat,
			Message: "receipt number must be 3 letters followed by 10 digits (e.g. EAC2190012345)",
		})
		return res
	}
	prefix, digits := m[1], m[2]

	label, known := issuerLabels[prefix]
	if !known {
		res.Errors = append(res.Errors, RuleError{
			Rule:    RuleUnknownIssuer,
			Message: fmt.Sprintf("unknown service center prefix %q", prefix),
		})
		return res
	}

	year := decodeYear(digits)
	nowYear := time.Now().UTC().Year()
	if year > nowYear+maxYearsAhead || year < nowYear-maxYearsBehind {
		res.Errors = append(res.Errors, RuleError{
			Rule:    RuleImplausibleYear,
			Message: fmt.Sprintf("encoded fiscal year %d is outside the plausible window", year),
		})
		return res
	}

	res.Valid = true
	res.IssuerLabel = label
	return res
}

// decodeYear expands the 2-digit fiscal year; anything that would land
// more than maxYearsAhead in the future is taken from the previous
// century.
func decodeYear(digits string) int {
	yy, _ := strconv.Atoi(digits[:2])
	year := 2000 + yy
	if year > time.Now().UTC().Year()+maxYearsAhead {
		year -= 100
	}
	return year
}
