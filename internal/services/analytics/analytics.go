// Package analytics rolls tracked cases up into a dashboard summary.
package analytics

import (
	"context"

	"github.com/casewatch/casewatch/internal/models"
	"github.com/casewatch/casewatch/internal/services/alerts"
)

type Repository interface {
	CountConfigs(ctx context.Context) (total, active int64, err error)
	LatestStatusTexts(ctx context.Context) ([]string, error)
	CountAlerts(ctx context.Context) (total, highPriority int64, err error)
}

type Summary struct {
	TotalTracked int64 `json:"totalTracked"`
	Active       int64 `json:"active"`
	Paused       int64 `json:"paused"`

	// Latest status of every case, bucketed by alert type vocabulary.
	StatusBuckets map[string]int64 `json:"statusBuckets"`

	TotalAlerts        int64 `json:"totalAlerts"`
	HighPriorityAlerts int64 `json:"highPriorityAlerts"`

	// Completion proxies: cases whose latest status reads as a terminal
	// approval or a produced card.
	ApprovedCases     int64 `json:"approvedCases"`
	CardProducedCases int64 `json:"cardProducedCases"`
}

type Service struct {
	repo Repository
}

func New(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) Summary(ctx context.Context) (*Summary, error) {
	total, active, err := s.repo.CountConfigs(ctx)
	if err != nil {
		return nil, err
	}

	texts, err := s.repo.LatestStatusTexts(ctx)
	if err != nil {
		return nil, err
	}

	alertTotal, alertHigh, err := s.repo.CountAlerts(ctx)
	if err != nil {
		return nil, err
	}

	sum := &Summary{
		TotalTracked:       total,
		Active:             active,
		Paused:             total - active,
		StatusBuckets:      map[string]int64{},
		TotalAlerts:        alertTotal,
		HighPriorityAlerts: alertHigh,
	}

	// The classifier's vocabulary keeps the dashboard buckets and the
	// alert types from drifting apart.
	for _, text := range texts {
		bucket := alerts.Classify(text)
		sum.StatusBuckets[bucket]++
	}
	sum.ApprovedCases = sum.StatusBuckets[models.AlertCaseApproved]
	sum.CardProducedCases = sum.StatusBuckets[models.AlertCardProduced]

	return sum, nil
}
