package tracking

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/casewatch/casewatch/internal/cache"
	"github.com/casewatch/casewatch/internal/models"
	"github.com/casewatch/casewatch/internal/receipt"
)

const (
	minIntervalMinutes     = 15
	maxIntervalMinutes     = 1440
	defaultIntervalMinutes = 60
)

// ValidationError carries the per-rule failures for a malformed receipt
// number, so the control surface can return them verbatim.
type ValidationError struct {
	ReceiptNumber string
	Errors        []receipt.RuleError
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid receipt number %q", e.ReceiptNumber)
}

type Repository interface {
	CreateConfig(ctx context.Context, cfg *models.TrackingConfig) error
	GetConfig(ctx context.Context, receiptNumber string) (*models.TrackingConfig, error)
	UpdateConfig(ctx context.Context, cfg *models.TrackingConfig) error
	ListConfigs(ctx context.Context) ([]*models.TrackingConfig, error)
	ListSnapshots(ctx context.Context, receiptNumber string, limit, offset int) ([]*models.StatusSnapshot, error)
	LatestSnapshot(ctx context.Context, receiptNumber string) (*models.StatusSnapshot, error)
	ListAlerts(ctx context.Context, receiptNumber string, limit, offset int) ([]*models.Alert, error)
}

type Service struct {
	repo       Repository
	cache      cache.BytesCache
	currentTTL time.Duration
}

func New(repo Repository, c cache.BytesCache, currentTTL time.Duration) *Service {
	return &Service{repo: repo, cache: c, currentTTL: currentTTL}
}

// Start registers a case for tracking. The first check is due
// immediately.
func (s *Service) Start(ctx context.Context, input models.TrackingStartInput) (*models.TrackingConfig, error) {
	res := receipt.Validate(input.ReceiptNumber)
	if !res.Valid {
		return nil, &ValidationError{ReceiptNumber: input.ReceiptNumber, Errors: res.Errors}
	}

	interval := clampInterval(input.CheckIntervalMinutes)

	prefs := defaultPreferences(input)
	if input.Preferences != nil {
		prefs = *input.Preferences
	}

	now := time.Now().UTC()
	cfg := &models.TrackingConfig{
		ReceiptNumber:        res.Normalized,
		OwnerUserID:          input.OwnerUserID,
		CheckIntervalMinutes: interval,
		Preferences:          prefs,
		Enabled:              true,
		NextCheckAt:          now,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if input.ContactEmail != "" {
		cfg.ContactEmail = &input.ContactEmail
	}
	if input.ContactPhone != "" {
		cfg.ContactPhone = &input.ContactPhone
	}

	if err := s.repo.CreateConfig(ctx, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Update applies a partial patch; nil fields keep their stored value.
func (s *Service) Update(ctx context.Context, receiptNumber string, patch models.TrackingPatch) (*models.TrackingConfig, error) {
	cfg, err := s.repo.GetConfig(ctx, receipt.Normalize(receiptNumber))
	if err != nil {
		return nil, err
	}

	if patch.ContactEmail != nil {
		if *patch.ContactEmail == "" {
			cfg.ContactEmail = nil
		} else {
			cfg.ContactEmail = patch.ContactEmail
		}
	}
	if patch.ContactPhone != nil {
		if *patch.ContactPhone == "" {
			cfg.ContactPhone = nil
		} else {
			cfg.ContactPhone = patch.ContactPhone
		}
	}
	if patch.CheckIntervalMinutes != nil {
		cfg.CheckIntervalMinutes = clampInterval(*patch.CheckIntervalMinutes)
	}
	if patch.Preferences != nil {
		cfg.Preferences = *patch.Preferences
	}
	if patch.Enabled != nil {
		cfg.Enabled = *patch.Enabled
	}

	if err := s.repo.UpdateConfig(ctx, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Stop disables checking. History and alerts stay queryable.
func (s *Service) Stop(ctx context.Context, receiptNumber string) error {
	enabled := false
	_, err := s.Update(ctx, receiptNumber, models.TrackingPatch{Enabled: &enabled})
	return err
}

func (s *Service) Get(ctx context.Context, receiptNumber string) (*models.TrackingConfig, error) {
	return s.repo.GetConfig(ctx, receipt.Normalize(receiptNumber))
}

func (s *Service) List(ctx context.Context) ([]*models.TrackingConfig, error) {
	return s.repo.ListConfigs(ctx)
}

func (s *Service) History(ctx context.Context, receiptNumber string, limit, offset int) ([]*models.StatusSnapshot, error) {
	return s.repo.ListSnapshots(ctx, receipt.Normalize(receiptNumber), limit, offset)
}

func (s *Service) Alerts(ctx context.Context, receiptNumber string, limit, offset int) ([]*models.Alert, error) {
	return s.repo.ListAlerts(ctx, receipt.Normalize(receiptNumber), limit, offset)
}

// CurrentSnapshot serves the latest observation, cache first. The cache
// is best effort: errors fall through to the database.
func (s *Service) CurrentSnapshot(ctx context.Context, receiptNumber string) (*models.StatusSnapshot, error) {
	rcpt := receipt.Normalize(receiptNumber)

	if s.cache != nil && s.currentTTL > 0 {
		if b, ok, err := s.cache.Get(ctx, currentKey(rcpt)); err == nil && ok {
			var snap models.StatusSnapshot
			if json.Unmarshal(b, &snap) == nil {
				return &snap, nil
			}
		}
	}

	snap, err := s.repo.LatestSnapshot(ctx, rcpt)
	if err != nil {
		return nil, err
	}
	if snap != nil && s.cache != nil && s.currentTTL > 0 {
		if b, err := json.Marshal(snap); err == nil {
			_ = s.cache.Set(ctx, currentKey(rcpt), b, s.currentTTL)
		}
	}
	return snap, nil
}

// RefreshSnapshotCache reloads the cache entry after a check event.
func (s *Service) RefreshSnapshotCache(ctx context.Context, receiptNumber string) error {
	if s.cache == nil || s.currentTTL <= 0 {
		return nil
	}
	rcpt := receipt.Normalize(receiptNumber)
	snap, err := s.repo.LatestSnapshot(ctx, rcpt)
	if err != nil {
		return err
	}
	if snap == nil {
		return nil
	}
	b, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return s.cache.Set(ctx, currentKey(rcpt), b, s.currentTTL)
}

func clampInterval(minutes int) int {
	if minutes == 0 {
		return defaultIntervalMinutes
	}
	if minutes < minIntervalMinutes {
		return minIntervalMinutes
	}
	if minutes > maxIntervalMinutes {
		return maxIntervalMinutes
	}
	return minutes
}

// defaultPreferences enables every transport the input has a contact
// for, with all alert categories opted in.
func defaultPreferences(input models.TrackingStartInput) models.NotificationPreferences {
	return models.NotificationPreferences{
		EmailEnabled: input.ContactEmail != "",
		SMSEnabled:   input.ContactPhone != "",
		Categories: models.CategoryOptIns{
			StatusChange:   true,
			ActionRequired: true,
			Deadline:       true,
			Interview:      true,
			CardProduced:   true,
			Approved:       true,
			Rejected:       true,
			Biometrics:     true,
		},
	}
}

func currentKey(receiptNumber string) string {
	return fmt.Sprintf("case:%s:current", receiptNumber)
}
