package alerts

import (
	"fmt"
	"strings"

	"github.com/casewatch/casewatch/internal/models"
)

// Generate diffs two consecutive snapshots and produces at most one
// alert. A nil prev is the baseline observation and never alerts. The
// caller assigns the id and created-at; Generate is deterministic for a
// given input pair.
func Generate(prev *models.StatusSnapshot, cur *models.StatusSnapshot, cfg *models.TrackingConfig) *models.Alert {
	if prev == nil || cur == nil {
		return nil
	}
	if normalize(prev.StatusText) == normalize(cur.StatusText) {
		return nil
	}

	alertType := Classify(cur.StatusText)
	return &models.Alert{
		ReceiptNumber: cur.ReceiptNumber,
		AlertType:     alertType,
		Title:         title(alertType),
		Message:       message(alertType, cur),
		Priority:      priorityOf(alertType),
		Channels:      resolveChannels(alertType, cfg.Preferences),
		Metadata: models.AlertMetadata{
			PreviousStatus: prev.StatusText,
			NewStatus:      cur.StatusText,
			CaseCategory:   cur.CaseCategory,
		},
	}
}

// Classify maps a status headline to an alert type. Checked in severity
// order so "approved after interview" classifies as approved.
func Classify(statusText string) string {
	s := normalize(statusText)
	switch {
	case containsAny(s, approvedWords):
		return models.AlertCaseApproved
	case containsAny(s, rejectedWords):
		return models.AlertCaseRejected
	case containsAny(s, interviewWords):
		return models.AlertInterviewScheduled
	case containsAny(s, biometricsWords):
		return models.AlertBiometricsScheduled
	case containsAny(s, cardWords):
		return models.AlertCardProduced
	case containsAny(s, rfeWords):
		return models.AlertRFEReceived
	default:
		return models.AlertStatusChange
	}
}

// The approval and card sets double as the analytics completion buckets.
var (
	approvedWords   = []string{"was approved", "approved", "approval notice"}
	rejectedWords   = []string{"was denied", "denied", "rejected", "was terminated"}
	interviewWords  = []string{"interview"}
	biometricsWords = []string{"biometric", "fingerprint"}
	cardWords       = []string{"card is being produced", "card was produced", "card was mailed", "card was delivered", "card was picked up"}
	rfeWords        = []string{"request for evidence", "request for additional evidence", "request for initial evidence"}
)

// ApprovedVocabulary exposes the approval keyword set.
func ApprovedVocabulary() []string { return approvedWords }

// CardVocabulary exposes the card-produced keyword set.
func CardVocabulary() []string { return cardWords }

func priorityOf(alertType string) string {
	switch alertType {
	case models.AlertCaseApproved, models.AlertRFEReceived:
		return models.PriorityHigh
	case models.AlertCaseRejected:
		return models.PriorityUrgent
	case models.AlertInterviewScheduled, models.AlertBiometricsScheduled, models.AlertCardProduced:
		return models.PriorityMedium
	default:
		return models.PriorityLow
	}
}

func title(alertType string) string {
	switch alertType {
	case models.AlertCaseApproved:
		return "Case approved"
	case models.AlertCaseRejected:
		return "Case denied"
	case models.AlertInterviewScheduled:
		return "Interview scheduled"
	case models.AlertBiometricsScheduled:
		return "Biometrics appointment scheduled"
	case models.AlertCardProduced:
		return "Card produced"
	case models.AlertRFEReceived:
		return "Request for evidence received"
	default:
		return "Case status changed"
	}
}

func message(alertType string, cur *models.StatusSnapshot) string {
	base := fmt.Sprintf("Case %s: %s", cur.ReceiptNumber, cur.StatusText)
	switch alertType {
	case models.AlertInterviewScheduled:
		if cur.InterviewDate != nil {
			return fmt.Sprintf("%s. Interview date: %s.", base, cur.InterviewDate.Format("January 2, 2006"))
		}
	case models.AlertBiometricsScheduled:
		if cur.BiometricsDate != nil {
			return fmt.Sprintf("%s. Appointment date: %s.", base, cur.BiometricsDate.Format("January 2, 2006"))
		}
	case models.AlertRFEReceived:
		return base + ". A response is required; check your mail for the notice."
	}
	return base + "."
}

// resolveChannels intersects the enabled transports with the opt-in for
// the alert's category. No opt-in means the alert is still recorded, it
// just resolves to zero channels.
func resolveChannels(alertType string, prefs models.NotificationPreferences) []string {
	if !optedIn(alertType, prefs.Categories) {
		return nil
	}
	var out []string
	if prefs.EmailEnabled {
		out = append(out, models.ChannelEmail)
	}
	if prefs.SMSEnabled {
		out = append(out, models.ChannelSMS)
	}
	if prefs.WebhookEnabled {
		out = append(out, models.ChannelWebhook)
	}
	return out
}

func optedIn(alertType string, c models.CategoryOptIns) bool {
	switch alertType {
	case models.AlertCaseApproved:
		return c.Approved
	case models.AlertCaseRejected:
		return c.Rejected
	case models.AlertInterviewScheduled:
		return c.Interview
	case models.AlertBiometricsScheduled:
		return c.Biometrics
	case models.AlertCardProduced:
		return c.CardProduced
	case models.AlertRFEReceived:
		return c.ActionRequired
	default:
		return c.StatusChange
	}
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
