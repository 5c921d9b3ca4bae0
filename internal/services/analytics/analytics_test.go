package analytics

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/casewatch/casewatch/internal/models"
)

type fakeRepo struct {
	total, active         int64
	texts                 []string
	alertTotal, alertHigh int64
	err                   error
}

func (f *fakeRepo) CountConfigs(ctx context.Context) (int64, int64, error) {
	return f.total, f.active, f.err
}

func (f *fakeRepo) LatestStatusTexts(ctx context.Context) ([]string, error) {
	return f.texts, f.err
}

func (f *fakeRepo) CountAlerts(ctx context.Context) (int64, int64, error) {
	return f.alertTotal, f.alertHigh, f.err
}

func TestSummary(t *testing.T) {
	repo := &fakeRepo{
		total:  5,
		active: 3,
		texts: []string{
			"Case Was Received",
			"Case Was Approved",
			"New Card Is Being Produced",
			"Interview Was Scheduled",
		},
		alertTotal: 7,
		alertHigh:  2,
	}

	sum, err := New(repo).Summary(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 5, sum.TotalTracked)
	require.EqualValues(t, 3, sum.Active)
	require.EqualValues(t, 2, sum.Paused)
	require.EqualValues(t, 7, sum.TotalAlerts)
	require.EqualValues(t, 2, sum.HighPriorityAlerts)

	require.EqualValues(t, 1, sum.StatusBuckets[models.AlertCaseApproved])
	require.EqualValues(t, 1, sum.StatusBuckets[models.AlertCardProduced])
	require.EqualValues(t, 1, sum.StatusBuckets[models.AlertInterviewScheduled])
	require.EqualValues(t, 1, sum.StatusBuckets[models.AlertStatusChange])

	require.EqualValues(t, 1, sum.ApprovedCases)
	require.EqualValues(t, 1, sum.CardProducedCases)
}

func TestSummary_RepoError(t *testing.T) {
	repo := &fakeRepo{err: errors.New("db down")}
	_, err := New(repo).Summary(context.Background())
	require.Error(t, err)
}
