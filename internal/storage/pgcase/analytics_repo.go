package pgcase

import (
	"context"

	"github.com/pkg/errors"

	"github.com/casewatch/casewatch/internal/models"
)

// CountConfigs returns the total and enabled tracking config counts.
func (s *Storage) CountConfigs(ctx context.Context) (total, active int64, err error) {
	row := s.db.QueryRow(ctx, `
SELECT count(*), count(*) FILTER (WHERE enabled) FROM case_trackings`)
	if err := row.Scan(&total, &active); err != nil {
		return 0, 0, errors.Wrap(err, "count configs")
	}
	return total, active, nil
}

// LatestStatusTexts returns the newest snapshot's status text for every
// tracked case, for bucketing by the analytics service.
func (s *Storage) LatestStatusTexts(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, `
SELECT DISTINCT ON (receipt_number) status_text
FROM case_snapshots
ORDER BY receipt_number, observed_at DESC
`)
	if err != nil {
		return nil, errors.Wrap(err, "select latest statuses")
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var st string
		if err := rows.Scan(&st); err != nil {
			return nil, errors.Wrap(err, "scan status")
		}
		out = append(out, st)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

// CountAlerts returns the total alert count and how many are high or
// urgent priority.
func (s *Storage) CountAlerts(ctx context.Context) (total, highPriority int64, err error) {
	row := s.db.QueryRow(ctx, `
SELECT count(*), count(*) FILTER (WHERE priority IN ($1, $2)) FROM case_alerts`,
		models.PriorityHigh, models.PriorityUrgent)
	if err := row.Scan(&total, &highPriority); err != nil {
		return 0, 0, errors.Wrap(err, "count alerts")
	}
	return total, highPriority, nil
}
