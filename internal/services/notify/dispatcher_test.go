package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/casewatch/casewatch/internal/integrations/mailer"
	"github.com/casewatch/casewatch/internal/models"
)

type fakeMailer struct {
	sent []mailer.Message
	err  error
}

func (f *fakeMailer) Send(ctx context.Context, msg mailer.Message) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}

type fakeSMS struct {
	to   []string
	body []string
	err  error
}

func (f *fakeSMS) SendSMS(ctx context.Context, to, body string) error {
	if f.err != nil {
		return f.err
	}
	f.to = append(f.to, to)
	f.body = append(f.body, body)
	return nil
}

func strptr(s string) *string { return &s }

func alertFixture(channels ...string) *models.Alert {
	return &models.Alert{
		ID:            "a-1",
		ReceiptNumber: "EAC2690012345",
		AlertType:     models.AlertCaseApproved,
		Title:         "Case approved",
		Message:       "Case EAC2690012345: Case Was Approved.",
		Priority:      models.PriorityHigh,
		Channels:      channels,
		Metadata: models.AlertMetadata{
			PreviousStatus: "Case Was Received",
			NewStatus:      "Case Was Approved",
			CaseCategory:   models.CategoryAdjustment,
		},
		CreatedAt: time.Now().UTC(),
	}
}

func cfgFixture() *models.TrackingConfig {
	return &models.TrackingConfig{
		ReceiptNumber: "EAC2690012345",
		ContactEmail:  strptr("me@example.com"),
		ContactPhone:  strptr("+15550001111"),
	}
}

func TestSend_AllChannelsDelivered(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		var p webhookPayload
		require.NoError(t, json.NewDecoder(r.Body).Decode(&p))
		require.Equal(t, "EAC2690012345", p.ReceiptNumber)
		require.Equal(t, models.AlertCaseApproved, p.AlertType)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	mail := &fakeMailer{}
	sms := &fakeSMS{}
	d := New(mail, sms, time.Second, 0, nil)

	cfg := cfgFixture()
	cfg.Preferences.WebhookURL = srv.URL

	out := d.Send(context.Background(), alertFixture(models.ChannelEmail, models.ChannelSMS, models.ChannelWebhook), cfg)
	require.Len(t, out.Attempted, 3)
	require.ElementsMatch(t, []string{models.ChannelEmail, models.ChannelSMS, models.ChannelWebhook}, out.Delivered)
	require.Empty(t, out.Failed)
	require.EqualValues(t, 1, atomic.LoadInt32(&hits))

	require.Len(t, mail.sent, 1)
	require.Contains(t, mail.sent[0].Subject, "EAC2690012345")
	require.Contains(t, mail.sent[0].HTMLBody, "Previous status")
	require.Contains(t, mail.sent[0].TextBody, "Case approved")
}

func TestSend_FailedChannelSwallowed(t *testing.T) {
	mail := &fakeMailer{err: errors.New("smtp down")}
	sms := &fakeSMS{}
	d := New(mail, sms, time.Second, 0, nil)

	out := d.Send(context.Background(), alertFixture(models.ChannelEmail, models.ChannelSMS), cfgFixture())
	require.ElementsMatch(t, []string{models.ChannelSMS}, out.Delivered)
	require.Contains(t, out.Failed, models.ChannelEmail)
}

func TestSend_NoChannelsIsNoop(t *testing.T) {
	d := New(&fakeMailer{}, &fakeSMS{}, time.Second, 0, nil)
	out := d.Send(context.Background(), alertFixture(), cfgFixture())
	require.Empty(t, out.Attempted)
}

func TestSMSText_Truncated(t *testing.T) {
	a := alertFixture(models.ChannelSMS)
	a.AlertType = models.AlertStatusChange
	a.Metadata.NewStatus = strings.Repeat("Very Long Status ", 20)
	body := smsText(a)
	require.LessOrEqual(t, len([]rune(body)), smsMaxLen)
	require.True(t, strings.HasSuffix(body, "…"))
}

func TestWebhook_RetriesOn5xx(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := New(&fakeMailer{}, &fakeSMS{}, time.Second, 2, nil)
	cfg := cfgFixture()
	cfg.Preferences.WebhookURL = srv.URL

	out := d.Send(context.Background(), alertFixture(models.ChannelWebhook), cfg)
	require.ElementsMatch(t, []string{models.ChannelWebhook}, out.Delivered)
	require.EqualValues(t, 2, atomic.LoadInt32(&hits))
}

func TestWebhook_NoRetryOn4xx(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	d := New(&fakeMailer{}, &fakeSMS{}, time.Second, 3, nil)
	cfg := cfgFixture()
	cfg.Preferences.WebhookURL = srv.URL

	out := d.Send(context.Background(), alertFixture(models.ChannelWebhook), cfg)
	require.Contains(t, out.Failed, models.ChannelWebhook)
	require.EqualValues(t, 1, atomic.LoadInt32(&hits))
}

func TestSendTest_Email(t *testing.T) {
	mail := &fakeMailer{}
	d := New(mail, &fakeSMS{}, time.Second, 0, nil)

	require.NoError(t, d.SendTest(context.Background(), models.ChannelEmail, "probe@example.com"))
	require.Len(t, mail.sent, 1)
	require.Equal(t, "probe@example.com", mail.sent[0].To)
	require.Contains(t, mail.sent[0].Subject, "Test notification")
}

func TestSendTest_UnknownChannel(t *testing.T) {
	d := New(&fakeMailer{}, &fakeSMS{}, time.Second, 0, nil)
	require.Error(t, d.SendTest(context.Background(), "carrier-pigeon", "x"))
}
