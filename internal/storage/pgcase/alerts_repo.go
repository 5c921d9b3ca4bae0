package pgcase

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/casewatch/casewatch/internal/models"
)

func (s *Storage) InsertAlert(ctx context.Context, alert *models.Alert) error {
	channels, err := json.Marshal(alert.Channels)
	if err != nil {
		return errors.Wrap(err, "marshal channels")
	}
	metadata, err := json.Marshal(alert.Metadata)
	if err != nil {
		return errors.Wrap(err, "marshal metadata")
	}

	_, err = s.db.Exec(ctx, `
INSERT INTO case_alerts (
  id, receipt_number, alert_type, title, message, priority,
  channels, metadata, created_at, sent_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
`, alert.ID, alert.ReceiptNumber, alert.AlertType, alert.Title, alert.Message, alert.Priority,
		channels, metadata, alert.CreatedAt.UTC(), alert.SentAt)
	return errors.Wrap(err, "insert alert")
}

// MarkAlertSent stamps sent_at once dispatch has settled across all
// channels, success or exhausted best-effort alike.
func (s *Storage) MarkAlertSent(ctx context.Context, id string, sentAt time.Time) error {
	_, err := s.db.Exec(ctx, `UPDATE case_alerts SET sent_at = $2 WHERE id = $1`, id, sentAt.UTC())
	return errors.Wrap(err, "mark alert sent")
}

func (s *Storage) ListAlerts(ctx context.Context, receiptNumber string, limit, offset int) ([]*models.Alert, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.Query(ctx, `
SELECT id, receipt_number, alert_type, title, message, priority,
       channels, metadata, created_at, sent_at
FROM case_alerts
WHERE receipt_number = $1
ORDER BY created_at DESC
LIMIT $2 OFFSET $3
`, receiptNumber, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "select alerts")
	}
	defer rows.Close()

	var out []*models.Alert
	for rows.Next() {
		var (
			a        models.Alert
			channels []byte
			metadata []byte
		)
		if err := rows.Scan(
			&a.ID, &a.ReceiptNumber, &a.AlertType, &a.Title, &a.Message, &a.Priority,
			&channels, &metadata, &a.CreatedAt, &a.SentAt,
		); err != nil {
			return nil, errors.Wrap(err, "scan alert")
		}
		if err := json.Unmarshal(channels, &a.Channels); err != nil {
			return nil, errors.Wrap(err, "unmarshal channels")
		}
		if err := json.Unmarshal(metadata, &a.Metadata); err != nil {
			return nil, errors.Wrap(err, "unmarshal metadata")
		}
		out = append(out, &a)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}
