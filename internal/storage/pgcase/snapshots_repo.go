package pgcase

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/casewatch/casewatch/internal/models"
)

const snapshotColumns = `
  receipt_number, status_text, status_date, description, case_category,
  form_type, issuing_center,
  interview_date, biometrics_date, card_produced_date, decision_date, next_action_date,
  observed_at`

// The history is append-only: there are no UPDATE or DELETE statements
// for case_snapshots anywhere in this package.

func insertSnapshot(ctx context.Context, tx pgx.Tx, snap *models.StatusSnapshot) error {
	_, err := tx.Exec(ctx, `
INSERT INTO case_snapshots (
  receipt_number, status_text, status_date, description, case_category,
  form_type, issuing_center,
  interview_date, biometrics_date, card_produced_date, decision_date, next_action_date,
  observed_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
ON CONFLICT (receipt_number, observed_at) DO NOTHING
`, snap.ReceiptNumber, snap.StatusText, snap.StatusDate, snap.Description, snap.CaseCategory,
		snap.FormType, snap.IssuingCenter,
		snap.InterviewDate, snap.BiometricsDate, snap.CardProducedDate, snap.DecisionDate, snap.NextActionDate,
		snap.ObservedAt.UTC())
	return errors.Wrap(err, "insert snapshot")
}

// AppendSnapshot writes a snapshot outside of a check result, used by the
// audit path for in-flight results of stopped configs.
func (s *Storage) AppendSnapshot(ctx context.Context, snap *models.StatusSnapshot) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()
	if err := insertSnapshot(ctx, tx, snap); err != nil {
		return err
	}
	return errors.Wrap(tx.Commit(ctx), "commit tx")
}

func (s *Storage) ListSnapshots(ctx context.Context, receiptNumber string, limit, offset int) ([]*models.StatusSnapshot, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.Query(ctx, `
SELECT`+snapshotColumns+`
FROM case_snapshots
WHERE receipt_number = $1
ORDER BY observed_at DESC
LIMIT $2 OFFSET $3
`, receiptNumber, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "select snapshots")
	}
	defer rows.Close()

	var out []*models.StatusSnapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan snapshot")
		}
		out = append(out, snap)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

// LatestSnapshot returns (nil, nil) when no snapshot has been observed
// yet; the first check of a new config establishes the baseline.
func (s *Storage) LatestSnapshot(ctx context.Context, receiptNumber string) (*models.StatusSnapshot, error) {
	row := s.db.QueryRow(ctx, `
SELECT`+snapshotColumns+`
FROM case_snapshots
WHERE receipt_number = $1
ORDER BY observed_at DESC
LIMIT 1
`, receiptNumber)

	snap, err := scanSnapshot(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "select latest snapshot")
	}
	return snap, nil
}

func scanSnapshot(row pgx.Row) (*models.StatusSnapshot, error) {
	var snap models.StatusSnapshot
	if err := row.Scan(
		&snap.ReceiptNumber, &snap.StatusText, &snap.StatusDate, &snap.Description, &snap.CaseCategory,
		&snap.FormType, &snap.IssuingCenter,
		&snap.InterviewDate, &snap.BiometricsDate, &snap.CardProducedDate, &snap.DecisionDate, &snap.NextActionDate,
		&snap.ObservedAt,
	); err != nil {
		return nil, err
	}
	return &snap, nil
}
