package pgcase

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/casewatch/casewatch/internal/models"
)

const configColumns = `
  receipt_number, owner_user_id, contact_email, contact_phone,
  check_interval_minutes, preferences, enabled,
  total_checks, consecutive_failures,
  last_checked_at, next_check_at, last_error,
  created_at, updated_at`

func (s *Storage) CreateConfig(ctx context.Context, cfg *models.TrackingConfig) error {
	prefs, err := json.Marshal(cfg.Preferences)
	if err != nil {
		return errors.Wrap(err, "marshal preferences")
	}

	tag, err := s.db.Exec(ctx, `
INSERT INTO case_trackings (
  receipt_number, owner_user_id, contact_email, contact_phone,
  check_interval_minutes, preferences, enabled, next_check_at,
  created_at, updated_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$9)
ON CONFLICT (receipt_number) DO NOTHING
`, cfg.ReceiptNumber, cfg.OwnerUserID, cfg.ContactEmail, cfg.ContactPhone,
		cfg.CheckIntervalMinutes, prefs, cfg.Enabled, cfg.NextCheckAt.UTC(), cfg.CreatedAt.UTC())
	if err != nil {
		return errors.Wrap(err, "insert config")
	}
	if tag.RowsAffected() == 0 {
		return models.ErrAlreadyTracked
	}
	return nil
}

func (s *Storage) GetConfig(ctx context.Context, receiptNumber string) (*models.TrackingConfig, error) {
	row := s.db.QueryRow(ctx, `SELECT`+configColumns+` FROM case_trackings WHERE receipt_number = $1`, receiptNumber)
	cfg, err := scanConfig(row)
	if err == pgx.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select config")
	}
	return cfg, nil
}

func (s *Storage) UpdateConfig(ctx context.Context, cfg *models.TrackingConfig) error {
	prefs, err := json.Marshal(cfg.Preferences)
	if err != nil {
		return errors.Wrap(err, "marshal preferences")
	}

	tag, err := s.db.Exec(ctx, `
UPDATE case_trackings
SET
  contact_email = $2,
  contact_phone = $3,
  check_interval_minutes = $4,
  preferences = $5,
  enabled = $6,
  updated_at = now()
WHERE receipt_number = $1
`, cfg.ReceiptNumber, cfg.ContactEmail, cfg.ContactPhone,
		cfg.CheckIntervalMinutes, prefs, cfg.Enabled)
	if err != nil {
		return errors.Wrap(err, "update config")
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (s *Storage) ListConfigs(ctx context.Context) ([]*models.TrackingConfig, error) {
	rows, err := s.db.Query(ctx, `SELECT`+configColumns+` FROM case_trackings ORDER BY created_at`)
	if err != nil {
		return nil, errors.Wrap(err, "select configs")
	}
	defer rows.Close()

	out := []*models.TrackingConfig{}
	for rows.Next() {
		cfg, err := scanConfig(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan config")
		}
		out = append(out, cfg)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

// ClaimDue picks a batch of enabled configs whose next check is due and
// marks them in flight for the lease duration, so a slow check cannot be
// double-scheduled by the next tick or an ad-hoc request.
func (s *Storage) ClaimDue(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*models.TrackingConfig, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
SELECT`+configColumns+`
FROM case_trackings
WHERE next_check_at <= $1
  AND enabled
  AND (in_flight_until IS NULL OR in_flight_until <= $1)
ORDER BY next_check_at ASC
LIMIT $2
FOR UPDATE SKIP LOCKED
`, now.UTC(), limit)
	if err != nil {
		return nil, errors.Wrap(err, "select due configs")
	}

	var picked []*models.TrackingConfig
	for rows.Next() {
		cfg, err := scanConfig(rows)
		if err != nil {
			rows.Close()
			return nil, errors.Wrap(err, "scan due config")
		}
		picked = append(picked, cfg)
	}
	rows.Close()
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}

	inFlightUntil := now.UTC().Add(lease)
	for _, cfg := range picked {
		if _, err := tx.Exec(ctx, `
UPDATE case_trackings SET in_flight_until = $2, updated_at = now() WHERE receipt_number = $1
`, cfg.ReceiptNumber, inFlightUntil); err != nil {
			return nil, errors.Wrap(err, "mark in flight")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}
	return picked, nil
}

// ClaimOne is the ad-hoc path's entry: it takes the same in-flight lease
// as ClaimDue, so a forced check can never run concurrently with a
// scheduled one for the same receipt number.
func (s *Storage) ClaimOne(ctx context.Context, receiptNumber string, now time.Time, lease time.Duration) (*models.TrackingConfig, error) {
	row := s.db.QueryRow(ctx, `
UPDATE case_trackings
SET in_flight_until = $2, updated_at = now()
WHERE receipt_number = $1
  AND (in_flight_until IS NULL OR in_flight_until <= $3)
RETURNING`+configColumns+`
`, receiptNumber, now.UTC().Add(lease), now.UTC())

	cfg, err := scanConfig(row)
	if err == pgx.ErrNoRows {
		if _, gerr := s.GetConfig(ctx, receiptNumber); gerr != nil {
			return nil, gerr
		}
		return nil, models.ErrCheckInProgress
	}
	if err != nil {
		return nil, errors.Wrap(err, "claim config")
	}
	return cfg, nil
}

// CheckResult carries the outcome of one completed check. Snapshot is nil
// on failure: transport failures never touch history.
type CheckResult struct {
	ReceiptNumber string
	CheckedAt     time.Time
	Snapshot      *models.StatusSnapshot
	NextCheckAt   time.Time
	Error         *string
}

// ApplyCheckResult persists the outcome atomically: scheduling fields on
// the config plus, on success, the history append. A config disabled
// mid-flight keeps its snapshot for audit but is not rescheduled.
func (s *Storage) ApplyCheckResult(ctx context.Context, res CheckResult) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if res.Error != nil && *res.Error != "" {
		if _, err := tx.Exec(ctx, `
UPDATE case_trackings
SET
  last_checked_at = $2,
  consecutive_failures = consecutive_failures + 1,
  last_error = $3,
  next_check_at = CASE WHEN enabled THEN $4 ELSE next_check_at END,
  in_flight_until = NULL,
  updated_at = now()
WHERE receipt_number = $1
`, res.ReceiptNumber, res.CheckedAt.UTC(), *res.Error, res.NextCheckAt.UTC()); err != nil {
			return errors.Wrap(err, "update config (error)")
		}
	} else {
		if _, err := tx.Exec(ctx, `
UPDATE case_trackings
SET
  last_checked_at = $2,
  total_checks = total_checks + 1,
  consecutive_failures = 0,
  last_error = NULL,
  next_check_at = CASE WHEN enabled THEN $3 ELSE next_check_at END,
  in_flight_until = NULL,
  updated_at = now()
WHERE receipt_number = $1
`, res.ReceiptNumber, res.CheckedAt.UTC(), res.NextCheckAt.UTC()); err != nil {
			return errors.Wrap(err, "update config (ok)")
		}

		if res.Snapshot != nil {
			if err := insertSnapshot(ctx, tx, res.Snapshot); err != nil {
				return err
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "commit tx")
	}
	return nil
}

func scanConfig(row pgx.Row) (*models.TrackingConfig, error) {
	var (
		cfg   models.TrackingConfig
		prefs []byte
	)
	if err := row.Scan(
		&cfg.ReceiptNumber, &cfg.OwnerUserID, &cfg.ContactEmail, &cfg.ContactPhone,
		&cfg.CheckIntervalMinutes, &prefs, &cfg.Enabled,
		&cfg.TotalChecks, &cfg.ConsecutiveFailures,
		&cfg.LastCheckedAt, &cfg.NextCheckAt, &cfg.LastError,
		&cfg.CreatedAt, &cfg.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(prefs, &cfg.Preferences); err != nil {
		return nil, errors.Wrap(err, "unmarshal preferences")
	}
	return &cfg, nil
}
