// Package caseapi is the JSON control surface: tracking management,
// status reads, ad-hoc and bulk checks, history, alerts, analytics.
package caseapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"

	"github.com/casewatch/casewatch/internal/integrations/statussource"
	"github.com/casewatch/casewatch/internal/models"
	"github.com/casewatch/casewatch/internal/receipt"
	"github.com/casewatch/casewatch/internal/services/analytics"
	"github.com/casewatch/casewatch/internal/services/tracking"
)

type TrackingService interface {
	Start(ctx context.Context, input models.TrackingStartInput) (*models.TrackingConfig, error)
	Update(ctx context.Context, receiptNumber string, patch models.TrackingPatch) (*models.TrackingConfig, error)
	Stop(ctx context.Context, receiptNumber string) error
	Get(ctx context.Context, receiptNumber string) (*models.TrackingConfig, error)
	List(ctx context.Context) ([]*models.TrackingConfig, error)
	History(ctx context.Context, receiptNumber string, limit, offset int) ([]*models.StatusSnapshot, error)
	Alerts(ctx context.Context, receiptNumber string, limit, offset int) ([]*models.Alert, error)
	CurrentSnapshot(ctx context.Context, receiptNumber string) (*models.StatusSnapshot, error)
}

type Checker interface {
	CheckOne(ctx context.Context, receiptNumber string) (*models.StatusSnapshot, error)
}

type AnalyticsService interface {
	Summary(ctx context.Context) (*analytics.Summary, error)
}

type Notifier interface {
	SendTest(ctx context.Context, channel, recipient string) error
}

// BulkSource serves bulk reads straight from the adapter; the 1..10
// limit is enforced here, before anything touches the wire.
type BulkSource interface {
	FetchBulk(ctx context.Context, receiptNumbers []string) ([]models.StatusSnapshot, []statussource.ItemError)
}

const maxBulkIdentifiers = 10

type API struct {
	trackings TrackingService
	checker   Checker
	analytics AnalyticsService
	notifier  Notifier
	source    BulkSource
	log       *slog.Logger
	bulkLimit int
}

func New(trackings TrackingService, checker Checker, analyticsSvc AnalyticsService, notifier Notifier, source BulkSource, log *slog.Logger) *API {
	if log == nil {
		log = slog.Default()
	}
	return &API{
		trackings: trackings,
		checker:   checker,
		analytics: analyticsSvc,
		notifier:  notifier,
		source:    source,
		log:       log,
		bulkLimit: maxBulkIdentifiers,
	}
}

func (a *API) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Post("/trackings", a.startTracking)
		r.Get("/trackings", a.listTrackings)
		r.Get("/trackings/{receipt}", a.getTracking)
		r.Patch("/trackings/{receipt}", a.updateTracking)
		r.Delete("/trackings/{receipt}", a.stopTracking)

		r.Get("/cases/{receipt}/status", a.caseStatus)
		r.Post("/cases/bulk-status", a.bulkStatus)
		r.Get("/cases/{receipt}/history", a.caseHistory)
		r.Get("/cases/{receipt}/alerts", a.caseAlerts)

		r.Get("/analytics", a.analyticsSummary)
		r.Post("/validate", a.validateReceipt)
		r.Post("/notifications/test", a.testNotification)
	})

	return r
}

type startTrackingRequest struct {
	ReceiptNumber        string                          `json:"receiptNumber"`
	OwnerUserID          string                          `json:"ownerUserId"`
	ContactEmail         string                          `json:"contactEmail,omitempty"`
	ContactPhone         string                          `json:"contactPhone,omitempty"`
	CheckIntervalMinutes int                             `json:"checkIntervalMinutes,omitempty"`
	Preferences          *models.NotificationPreferences `json:"preferences,omitempty"`
}

func (a *API) startTracking(w http.ResponseWriter, r *http.Request) {
	var req startTrackingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid json body"))
		return
	}
	cfg, err := a.trackings.Start(r.Context(), models.TrackingStartInput{
		ReceiptNumber:        req.ReceiptNumber,
		OwnerUserID:          req.OwnerUserID,
		ContactEmail:         req.ContactEmail,
		ContactPhone:         req.ContactPhone,
		CheckIntervalMinutes: req.CheckIntervalMinutes,
		Preferences:          req.Preferences,
	})
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, cfg)
}

func (a *API) listTrackings(w http.ResponseWriter, r *http.Request) {
	cfgs, err := a.trackings.List(r.Context())
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"trackings": cfgs})
}

func (a *API) getTracking(w http.ResponseWriter, r *http.Request) {
	cfg, err := a.trackings.Get(r.Context(), chi.URLParam(r, "receipt"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

type updateTrackingRequest struct {
	ContactEmail         *string                         `json:"contactEmail"`
	ContactPhone         *string                         `json:"contactPhone"`
	CheckIntervalMinutes *int                            `json:"checkIntervalMinutes"`
	Preferences          *models.NotificationPreferences `json:"preferences"`
	Enabled              *bool                           `json:"enabled"`
}

func (a *API) updateTracking(w http.ResponseWriter, r *http.Request) {
	var req updateTrackingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid json body"))
		return
	}
	cfg, err := a.trackings.Update(r.Context(), chi.URLParam(r, "receipt"), models.TrackingPatch{
		ContactEmail:         req.ContactEmail,
		ContactPhone:         req.ContactPhone,
		CheckIntervalMinutes: req.CheckIntervalMinutes,
		Preferences:          req.Preferences,
		Enabled:              req.Enabled,
	})
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (a *API) stopTracking(w http.ResponseWriter, r *http.Request) {
	if err := a.trackings.Stop(r.Context(), chi.URLParam(r, "receipt")); err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"stopped": true})
}

// caseStatus serves the cached latest snapshot; ?refresh=true forces a
// live check through the shared pipeline.
func (a *API) caseStatus(w http.ResponseWriter, r *http.Request) {
	rcpt := chi.URLParam(r, "receipt")

	if r.URL.Query().Get("refresh") == "true" {
		snap, err := a.checker.CheckOne(r.Context(), rcpt)
		if err != nil {
			a.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, snap)
		return
	}

	snap, err := a.trackings.CurrentSnapshot(r.Context(), rcpt)
	if err != nil {
		a.writeError(w, err)
		return
	}
	if snap == nil {
		writeJSON(w, http.StatusNotFound, errorBody("no status observed yet"))
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

type bulkStatusRequest struct {
	ReceiptNumbers []string `json:"receiptNumbers"`
}

type bulkStatusResponse struct {
	Results []models.StatusSnapshot  `json:"results"`
	Errors  []statussource.ItemError `json:"errors,omitempty"`
}

func (a *API) bulkStatus(w http.ResponseWriter, r *http.Request) {
	var req bulkStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid json body"))
		return
	}
	if len(req.ReceiptNumbers) == 0 {
		writeJSON(w, http.StatusUnprocessableEntity, errorBody("receiptNumbers is required"))
		return
	}
	if len(req.ReceiptNumbers) > a.bulkLimit {
		writeJSON(w, http.StatusUnprocessableEntity,
			errorBody("too many receipt numbers (max "+strconv.Itoa(a.bulkLimit)+")"))
		return
	}

	snaps, itemErrs := a.source.FetchBulk(r.Context(), req.ReceiptNumbers)
	writeJSON(w, http.StatusOK, bulkStatusResponse{Results: snaps, Errors: itemErrs})
}

func (a *API) caseHistory(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	snaps, err := a.trackings.History(r.Context(), chi.URLParam(r, "receipt"), limit, offset)
	if err != nil {
		a.writeError(w, err)
		return
	}
	if snaps == nil {
		snaps = []*models.StatusSnapshot{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": snaps})
}

func (a *API) caseAlerts(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	al, err := a.trackings.Alerts(r.Context(), chi.URLParam(r, "receipt"), limit, offset)
	if err != nil {
		a.writeError(w, err)
		return
	}
	if al == nil {
		al = []*models.Alert{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": al})
}

func (a *API) analyticsSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := a.analytics.Summary(r.Context())
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

type validateRequest struct {
	ReceiptNumber string `json:"receiptNumber"`
}

func (a *API) validateReceipt(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid json body"))
		return
	}
	writeJSON(w, http.StatusOK, receipt.Validate(req.ReceiptNumber))
}

type testNotificationRequest struct {
	Channel   string `json:"channel"`
	Recipient string `json:"recipient"`
}

func (a *API) testNotification(w http.ResponseWriter, r *http.Request) {
	var req testNotificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid json body"))
		return
	}
	if req.Channel == "" || req.Recipient == "" {
		writeJSON(w, http.StatusUnprocessableEntity, errorBody("channel and recipient are required"))
		return
	}
	if err := a.notifier.SendTest(r.Context(), req.Channel, req.Recipient); err != nil {
		writeJSON(w, http.StatusBadGateway, errorBody(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"sent": true})
}

func (a *API) writeError(w http.ResponseWriter, err error) {
	var verr *tracking.ValidationError
	if errors.As(err, &verr) {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":         verr.Error(),
			"receiptNumber": verr.ReceiptNumber,
			"details":       verr.Errors,
		})
		return
	}

	switch {
	case errors.Is(err, models.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
	case errors.Is(err, models.ErrAlreadyTracked):
		writeJSON(w, http.StatusConflict, errorBody("receipt number is already tracked"))
	case errors.Is(err, models.ErrCheckInProgress):
		writeJSON(w, http.StatusConflict, errorBody("a check is already in progress"))
	default:
		switch statussource.KindOf(err) {
		case statussource.KindTimeout:
			writeJSON(w, http.StatusGatewayTimeout, errorBody(err.Error()))
		case statussource.KindRateLimited, statussource.KindUnavailable, statussource.KindHTTP, statussource.KindParse:
			writeJSON(w, http.StatusBadGateway, errorBody(err.Error()))
		case statussource.KindValidation:
			writeJSON(w, http.StatusUnprocessableEntity, errorBody(err.Error()))
		default:
			a.log.Error("internal error", "error", err)
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
	}
}

func pagination(r *http.Request) (limit, offset int) {
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))
	return limit, offset
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func errorBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}
