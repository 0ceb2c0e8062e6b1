package notifications_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/notifications"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func testConfig() *models.ImportConfiguration {
	return &models.ImportConfiguration{
		ID:             uuid.New(),
		Name:           "products",
		SourceID:       "src-1",
		ExternalAPIURL: "https://api.example.com/items",
		MaxRetries:     3,
	}
}

func TestDispatcher_Failure(t *testing.T) {
	recorder := &notifications.Recorder{}
	dispatcher := notifications.NewDispatcher(recorder, testLogger())
	cfg := testConfig()

	dispatcher.SendFailureNotification(context.Background(), cfg, models.FailedImportResult("fetch error: HTTP 500"), 3)

	alerts := recorder.Alerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, notifications.KindFailure, alerts[0].Kind)
	assert.Equal(t, cfg.ID, alerts[0].ConfigurationID)
	assert.Contains(t, alerts[0].Title, "products")
	assert.Contains(t, alerts[0].Content, "failed 3 consecutive times")
	assert.Contains(t, alerts[0].Content, "HTTP 500")
}

func TestDispatcher_Recovery(t *testing.T) {
	recorder := &notifications.Recorder{}
	dispatcher := notifications.NewDispatcher(recorder, testLogger())

	dispatcher.SendRecoveryNotification(context.Background(), testConfig(), &models.ImportResult{Success: true, ItemsReceived: 5, ItemsImported: 4})

	alerts := recorder.Alerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, notifications.KindRecovery, alerts[0].Kind)
	assert.Contains(t, alerts[0].Content, "4 of 5 items")
}

type failingNotifier struct{}

func (failingNotifier) SendAlert(context.Context, notifications.Alert) error {
	return errors.New("smtp down")
}

func TestDispatcher_SwallowsDeliveryErrors(t *testing.T) {
	dispatcher := notifications.NewDispatcher(failingNotifier{}, testLogger())
	assert.NotPanics(t, func() {
		dispatcher.SendFailureNotification(context.Background(), testConfig(), models.FailedImportResult("x"), 3)
	})
}

func TestWebhookNotifier_Signs(t *testing.T) {
	var received notifications.Alert
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, notifications.Sign("s3cret", body), r.Header.Get(notifications.SignatureHeader))
		assert.NoError(t, json.Unmarshal(body, &received))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	notifier := notifications.NewWebhookNotifier(server.URL, "s3cret", time.Second)
	err := notifier.SendAlert(context.Background(), notifications.Alert{Kind: notifications.KindFailure, Title: "t"})
	require.NoError(t, err)
	assert.Equal(t, "t", received.Title)
}

func TestWebhookNotifier_Non2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer server.Close()

	err := notifications.NewWebhookNotifier(server.URL, "", time.Second).SendAlert(context.Background(), notifications.Alert{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestEmailNotifier(t *testing.T) {
	notifier := notifications.NewEmailNotifier(notifications.MailConfig{
		Host: "smtp.example.com", Port: 587, From: "fern@example.com", To: []string{"ops@example.com"},
	})

	var sent []byte
	var addr string
	notifier.SetSendMail(func(a string, _ smtp.Auth, from string, to []string, msg []byte) error {
		addr = a
		sent = msg
		assert.Equal(t, "fern@example.com", from)
		assert.Equal(t, []string{"ops@example.com"}, to)
		return nil
	})

	require.NoError(t, notifier.SendAlert(context.Background(), notifications.Alert{Title: "Import failing", Content: "details"}))
	assert.Equal(t, "smtp.example.com:587", addr)
	assert.Contains(t, string(sent), "Subject: Import failing\r\n")
	assert.Contains(t, string(sent), "\r\n\r\ndetails")

	unconfigured := notifications.NewEmailNotifier(notifications.MailConfig{})
	assert.Error(t, unconfigured.SendAlert(context.Background(), notifications.Alert{}))
}

func TestMulti(t *testing.T) {
	recorder := &notifications.Recorder{}
	err := notifications.Multi{recorder, failingNotifier{}}.SendAlert(context.Background(), notifications.Alert{Title: "x"})
	require.Error(t, err)
	assert.Len(t, recorder.Alerts(), 1)
}
