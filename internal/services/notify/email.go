package notify

import (
	"context"
	"fmt"
	"html"
	"strings"

	"github.com/pkg/errors"

	"github.com/casewatch/casewatch/internal/integrations/mailer"
	"github.com/casewatch/casewatch/internal/models"
)

func (d *Dispatcher) sendEmail(ctx context.Context, alert *models.Alert, cfg *models.TrackingConfig) error {
	if d.mail == nil {
		return errors.New("email transport not configured")
	}
	if cfg.ContactEmail == nil || *cfg.ContactEmail == "" {
		return errors.New("no contact email on config")
	}

	return d.mail.Send(ctx, mailer.Message{
		To:       *cfg.ContactEmail,
		Subject:  fmt.Sprintf("[CaseWatch] %s: %s", alert.ReceiptNumber, alert.Title),
		HTMLBody: htmlBody(alert),
		TextBody: textBody(alert),
	})
}

// Accent colors by priority for the left border of the HTML card.
var priorityColors = map[string]string{
	models.PriorityLow:    "#8a8a8a",
	models.PriorityMedium: "#2a6fb8",
	models.PriorityHigh:   "#d98e00",
	models.PriorityUrgent: "#c43d3d",
}

func htmlBody(alert *models.Alert) string {
	color, ok := priorityColors[alert.Priority]
	if !ok {
		color = priorityColors[models.PriorityLow]
	}

	var sb strings.Builder
	sb.WriteString(`<html><body style="font-family:Arial,sans-serif;color:#222;">`)
	fmt.Fprintf(&sb, `<div style="border-left:4px solid %s;padding:12px 16px;">`, color)
	fmt.Fprintf(&sb, `<h2 style="margin:0 0 8px 0;">%s</h2>`, html.EscapeString(alert.Title))
	fmt.Fprintf(&sb, `<p style="margin:0 0 4px 0;"><strong>Case:</strong> %s</p>`, html.EscapeString(alert.ReceiptNumber))
	fmt.Fprintf(&sb, `<p style="margin:0 0 12px 0;">%s</p>`, html.EscapeString(alert.Message))

	if alert.Metadata.PreviousStatus != "" || alert.Metadata.NewStatus != "" || alert.Metadata.CaseCategory != "" {
		sb.WriteString(`<div style="background:#f5f5f5;padding:8px 12px;font-size:13px;">`)
		sb.WriteString(`<p style="margin:0 0 4px 0;"><strong>Additional information</strong></p>`)
		if alert.Metadata.PreviousStatus != "" {
			fmt.Fprintf(&sb, `<p style="margin:0;">Previous status: %s</p>`, html.EscapeString(alert.Metadata.PreviousStatus))
		}
		if alert.Metadata.NewStatus != "" {
			fmt.Fprintf(&sb, `<p style="margin:0;">New status: %s</p>`, html.EscapeString(alert.Metadata.NewStatus))
		}
		if alert.Metadata.CaseCategory != "" {
			fmt.Fprintf(&sb, `<p style="margin:0;">Case category: %s</p>`, html.EscapeString(alert.Metadata.CaseCategory))
		}
		sb.WriteString(`</div>`)
	}

	sb.WriteString(`</div></body></html>`)
	return sb.String()
}

func textBody(alert *models.Alert) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s\n\nCase: %s\n%s\n", alert.Title, alert.ReceiptNumber, alert.Message)
	if alert.Metadata.PreviousStatus != "" {
		fmt.Fprintf(&sb, "\nPrevious status: %s", alert.Metadata.PreviousStatus)
	}
	if alert.Metadata.NewStatus != "" {
		fmt.Fprintf(&sb, "\nNew status: %s", alert.Metadata.NewStatus)
	}
	return sb.String()
}
