package pgcase

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS case_trackings (
  receipt_number TEXT PRIMARY KEY,
  owner_user_id TEXT NOT NULL,
  contact_email TEXT NULL,
  contact_phone TEXT NULL,
  check_interval_minutes INT NOT NULL,
  preferences JSONB NOT NULL,
  enabled BOOLEAN NOT NULL DEFAULT TRUE,
  total_checks BIGINT NOT NULL DEFAULT 0,
  consecutive_failures INT NOT NULL DEFAULT 0,
  last_checked_at TIMESTAMPTZ NULL,
  next_check_at TIMESTAMPTZ NOT NULL,
  in_flight_until TIMESTAMPTZ NULL,
  last_error TEXT NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_case_trackings_due ON case_trackings(next_check_at) WHERE enabled`,
		`
CREATE TABLE IF NOT EXISTS case_snapshots (
  id BIGSERIAL PRIMARY KEY,
  receipt_number TEXT NOT NULL REFERENCES case_trackings(receipt_number),
  status_text TEXT NOT NULL,
  status_date TIMESTAMPTZ NULL,
  description TEXT NOT NULL DEFAULT '',
  case_category TEXT NOT NULL DEFAULT 'general',
  form_type TEXT NULL,
  issuing_center TEXT NULL,
  interview_date TIMESTAMPTZ NULL,
  biometrics_date TIMESTAMPTZ NULL,
  card_produced_date TIMESTAMPTZ NULL,
  decision_date TIMESTAMPTZ NULL,
  next_action_date TIMESTAMPTZ NULL,
  observed_at TIMESTAMPTZ NOT NULL,
  UNIQUE (receipt_number, observed_at)
)`,
		`CREATE INDEX IF NOT EXISTS idx_case_snapshots_receipt_observed ON case_snapshots(receipt_number, observed_at DESC)`,
		`
CREATE TABLE IF NOT EXISTS case_alerts (
  id TEXT PRIMARY KEY,
  receipt_number TEXT NOT NULL REFERENCES case_trackings(receipt_number),
  alert_type TEXT NOT NULL,
  title TEXT NOT NULL,
  message TEXT NOT NULL,
  priority TEXT NOT NULL,
  channels JSONB NOT NULL,
  metadata JSONB NOT NULL,
  created_at TIMESTAMPTZ NOT NULL,
  sent_at TIMESTAMPTZ NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_case_alerts_receipt_created ON case_alerts(receipt_number, created_at DESC)`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
