package caseapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/casewatch/casewatch/internal/integrations/statussource"
	"github.com/casewatch/casewatch/internal/models"
	"github.com/casewatch/casewatch/internal/receipt"
	"github.com/casewatch/casewatch/internal/services/analytics"
	"github.com/casewatch/casewatch/internal/services/tracking"
)

type fakeTrackings struct {
	startOut *models.TrackingConfig
	startErr error

	getOut *models.TrackingConfig
	getErr error

	stopErr error

	current    *models.StatusSnapshot
	currentErr error

	history []*models.StatusSnapshot
	alerts  []*models.Alert
}

func (f *fakeTrackings) Start(ctx context.Context, input models.TrackingStartInput) (*models.TrackingConfig, error) {
	return f.startOut, f.startErr
}

func (f *fakeTrackings) Update(ctx context.Context, receiptNumber string, patch models.TrackingPatch) (*models.TrackingConfig, error) {
	return f.getOut, f.getErr
}

func (f *fakeTrackings) Stop(ctx context.Context, receiptNumber string) error { return f.stopErr }

func (f *fakeTrackings) Get(ctx context.Context, receiptNumber string) (*models.TrackingConfig, error) {
	return f.getOut, f.getErr
}

func (f *fakeTrackings) List(ctx context.Context) ([]*models.TrackingConfig, error) {
	return []*models.TrackingConfig{}, nil
}

func (f *fakeTrackings) History(ctx context.Context, receiptNumber string, limit, offset int) ([]*models.StatusSnapshot, error) {
	return f.history, nil
}

func (f *fakeTrackings) Alerts(ctx context.Context, receiptNumber string, limit, offset int) ([]*models.Alert, error) {
	return f.alerts, nil
}

func (f *fakeTrackings) CurrentSnapshot(ctx context.Context, receiptNumber string) (*models.StatusSnapshot, error) {
	return f.current, f.currentErr
}

type fakeChecker struct {
	snap  *models.StatusSnapshot
	err   error
	calls int
}

func (f *fakeChecker) CheckOne(ctx context.Context, receiptNumber string) (*models.StatusSnapshot, error) {
	f.calls++
	return f.snap, f.err
}

type fakeAnalytics struct{ sum *analytics.Summary }

func (f *fakeAnalytics) Summary(ctx context.Context) (*analytics.Summary, error) {
	return f.sum, nil
}

type fakeNotifier struct {
	channel string
	err     error
}

func (f *fakeNotifier) SendTest(ctx context.Context, channel, recipient string) error {
	f.channel = channel
	return f.err
}

type fakeBulk struct {
	snaps []models.StatusSnapshot
	errs  []statussource.ItemError
	calls int
}

func (f *fakeBulk) FetchBulk(ctx context.Context, receiptNumbers []string) ([]models.StatusSnapshot, []statussource.ItemError) {
	f.calls++
	return f.snaps, f.errs
}

type testEnv struct {
	trackings *fakeTrackings
	checker   *fakeChecker
	notifier  *fakeNotifier
	bulk      *fakeBulk
	srv       *httptest.Server
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		trackings: &fakeTrackings{},
		checker:   &fakeChecker{},
		notifier:  &fakeNotifier{},
		bulk:      &fakeBulk{},
	}
	api := New(env.trackings, env.checker, &fakeAnalytics{sum: &analytics.Summary{TotalTracked: 1}}, env.notifier, env.bulk, nil)
	env.srv = httptest.NewServer(api.Routes())
	t.Cleanup(env.srv.Close)
	return env
}

func doJSON(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func validRcpt() string {
	return fmt.Sprintf("EAC%02d90012345", time.Now().UTC().Year()%100)
}

func TestStartTracking_Created(t *testing.T) {
	env := newEnv(t)
	env.trackings.startOut = &models.TrackingConfig{ReceiptNumber: validRcpt(), Enabled: true}

	resp := doJSON(t, http.MethodPost, env.srv.URL+"/v1/trackings", map[string]string{
		"receiptNumber": validRcpt(),
		"ownerUserId":   "u-1",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	cfg := decode[models.TrackingConfig](t, resp)
	require.Equal(t, validRcpt(), cfg.ReceiptNumber)
}

func TestStartTracking_ValidationMapsTo422(t *testing.T) {
	env := newEnv(t)
	env.trackings.startErr = &tracking.ValidationError{
		ReceiptNumber: "bogus",
		Errors:        []receipt.RuleError{{Rule: receipt.RuleFormat, Message: "bad format"}},
	}

	resp := doJSON(t, http.MethodPost, env.srv.URL+"/v1/trackings", map[string]string{"receiptNumber": "bogus"})
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	body := decode[map[string]any](t, resp)
	require.Equal(t, "bogus", body["receiptNumber"])
	require.NotEmpty(t, body["details"])
}

func TestStartTracking_DuplicateMapsTo409(t *testing.T) {
	env := newEnv(t)
	env.trackings.startErr = models.ErrAlreadyTracked

	resp := doJSON(t, http.MethodPost, env.srv.URL+"/v1/trackings", map[string]string{"receiptNumber": validRcpt()})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestGetTracking_NotFound(t *testing.T) {
	env := newEnv(t)
	env.trackings.getErr = models.ErrNotFound

	resp := doJSON(t, http.MethodGet, env.srv.URL+"/v1/trackings/"+validRcpt(), nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCaseStatus_CachedPath(t *testing.T) {
	env := newEnv(t)
	env.trackings.current = &models.StatusSnapshot{ReceiptNumber: validRcpt(), StatusText: "Case Was Received"}

	resp := doJSON(t, http.MethodGet, env.srv.URL+"/v1/cases/"+validRcpt()+"/status", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	snap := decode[models.StatusSnapshot](t, resp)
	require.Equal(t, "Case Was Received", snap.StatusText)
	require.Zero(t, env.checker.calls)
}

func TestCaseStatus_RefreshUsesChecker(t *testing.T) {
	env := newEnv(t)
	env.checker.snap = &models.StatusSnapshot{ReceiptNumber: validRcpt(), StatusText: "Case Was Approved"}

	resp := doJSON(t, http.MethodGet, env.srv.URL+"/v1/cases/"+validRcpt()+"/status?refresh=true", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, 1, env.checker.calls)
}

func TestCaseStatus_RefreshConflict(t *testing.T) {
	env := newEnv(t)
	env.checker.err = models.ErrCheckInProgress

	resp := doJSON(t, http.MethodGet, env.srv.URL+"/v1/cases/"+validRcpt()+"/status?refresh=true", nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestCaseStatus_SourceErrorMapping(t *testing.T) {
	cases := []struct {
		kind statussource.ErrorKind
		want int
	}{
		{statussource.KindTimeout, http.StatusGatewayTimeout},
		{statussource.KindUnavailable, http.StatusBadGateway},
		{statussource.KindRateLimited, http.StatusBadGateway},
		{statussource.KindParse, http.StatusBadGateway},
	}
	for _, tc := range cases {
		env := newEnv(t)
		env.checker.err = &statussource.SourceError{Kind: tc.kind, Message: "boom"}

		resp := doJSON(t, http.MethodGet, env.srv.URL+"/v1/cases/"+validRcpt()+"/status?refresh=true", nil)
		require.Equal(t, tc.want, resp.StatusCode, string(tc.kind))
	}
}

func TestCaseStatus_NoSnapshotYet(t *testing.T) {
	env := newEnv(t)

	resp := doJSON(t, http.MethodGet, env.srv.URL+"/v1/cases/"+validRcpt()+"/status", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestBulkStatus_LimitEnforcedBeforeFetch(t *testing.T) {
	env := newEnv(t)

	ids := make([]string, 11)
	for i := range ids {
		ids[i] = validRcpt()
	}
	resp := doJSON(t, http.MethodPost, env.srv.URL+"/v1/cases/bulk-status", map[string]any{"receiptNumbers": ids})
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	require.Zero(t, env.bulk.calls)

	resp = doJSON(t, http.MethodPost, env.srv.URL+"/v1/cases/bulk-status", map[string]any{"receiptNumbers": []string{}})
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	require.Zero(t, env.bulk.calls)
}

func TestBulkStatus_PartialResults(t *testing.T) {
	env := newEnv(t)
	env.bulk.snaps = []models.StatusSnapshot{{ReceiptNumber: validRcpt(), StatusText: "Case Was Received"}}
	env.bulk.errs = []statussource.ItemError{{ReceiptNumber: "IOE2600054321", Error: "http 503", Kind: "unavailable"}}

	resp := doJSON(t, http.MethodPost, env.srv.URL+"/v1/cases/bulk-status", map[string]any{
		"receiptNumbers": []string{validRcpt(), "IOE2600054321"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[bulkStatusResponse](t, resp)
	require.Len(t, body.Results, 1)
	require.Len(t, body.Errors, 1)
}

func TestValidateEndpoint(t *testing.T) {
	env := newEnv(t)

	resp := doJSON(t, http.MethodPost, env.srv.URL+"/v1/validate", map[string]string{"receiptNumber": "nope"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	res := decode[receipt.Result](t, resp)
	require.False(t, res.Valid)
	require.NotEmpty(t, res.Errors)
}

func TestTestNotification(t *testing.T) {
	env := newEnv(t)

	resp := doJSON(t, http.MethodPost, env.srv.URL+"/v1/notifications/test", map[string]string{})
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp = doJSON(t, http.MethodPost, env.srv.URL+"/v1/notifications/test", map[string]string{
		"channel":   models.ChannelEmail,
		"recipient": "probe@example.com",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, models.ChannelEmail, env.notifier.channel)

	env.notifier.err = errors.New("smtp down")
	resp = doJSON(t, http.MethodPost, env.srv.URL+"/v1/notifications/test", map[string]string{
		"channel":   models.ChannelSMS,
		"recipient": "+15550001111",
	})
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestAnalyticsEndpoint(t *testing.T) {
	env := newEnv(t)

	resp := doJSON(t, http.MethodGet, env.srv.URL+"/v1/analytics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	sum := decode[analytics.Summary](t, resp)
	require.EqualValues(t, 1, sum.TotalTracked)
}

func TestHealthEndpoints(t *testing.T) {
	env := newEnv(t)
	for _, path := range []string{"/healthz", "/readyz"} {
		resp := doJSON(t, http.MethodGet, env.srv.URL+path, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		resp.Body.Close()
	}
}
