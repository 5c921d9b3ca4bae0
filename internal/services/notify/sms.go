package notify

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/casewatch/casewatch/internal/models"
)

const smsMaxLen = 160

func (d *Dispatcher) sendSMS(ctx context.Context, alert *models.Alert, cfg *models.TrackingConfig) error {
	if d.sms == nil {
		return errors.New("sms transport not configured")
	}
	if cfg.ContactPhone == nil || *cfg.ContactPhone == "" {
		return errors.New("no contact phone on config")
	}
	return d.sms.SendSMS(ctx, *cfg.ContactPhone, smsText(alert))
}

func smsText(alert *models.Alert) string {
	var body string
	switch alert.AlertType {
	case models.AlertCaseApproved:
		body = fmt.Sprintf("CaseWatch: %s APPROVED. %s", alert.ReceiptNumber, alert.Metadata.NewStatus)
	case models.AlertCaseRejected:
		body = fmt.Sprintf("CaseWatch: %s decision issued. %s", alert.ReceiptNumber, alert.Metadata.NewStatus)
	case models.AlertInterviewScheduled:
		body = fmt.Sprintf("CaseWatch: interview scheduled for %s. %s", alert.ReceiptNumber, alert.Metadata.NewStatus)
	case models.AlertBiometricsScheduled:
		body = fmt.Sprintf("CaseWatch: biometrics update for %s. %s", alert.ReceiptNumber, alert.Metadata.NewStatus)
	case models.AlertCardProduced:
		body = fmt.Sprintf("CaseWatch: card update for %s. %s", alert.ReceiptNumber, alert.Metadata.NewStatus)
	case models.AlertRFEReceived:
		body = fmt.Sprintf("CaseWatch: evidence requested for %s. Respond promptly.", alert.ReceiptNumber)
	default:
		body = fmt.Sprintf("CaseWatch: %s status changed. %s", alert.ReceiptNumber, alert.Metadata.NewStatus)
	}
	return truncate(body, smsMaxLen)
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "…"
}
