// Package notifications alerts operators when an import exhausts its retries
// and when it recovers.
package notifications

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/smtp"
	"strings"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
)

// Kind of alert
type Kind string

const (
	KindFailure  Kind = "failure"
	KindRecovery Kind = "recovery"
)

// Alert is one message to operators
type Alert struct {
	Kind              Kind      `json:"kind"`
	Title             string    `json:"title"`
	Content           string    `json:"content"`
	ConfigurationID   uuid.UUID `json:"configuration_id"`
	ConfigurationName string    `json:"configuration_name"`
	OccurredAt        time.Time `json:"occurred_at"`
}

// Notifier delivers alerts to one channel
type Notifier interface {
	SendAlert(ctx context.Context, alert Alert) error
}

// SignatureHeader carries the hex HMAC-SHA256 of the webhook body when a secret is configured
const SignatureHeader = "X-Fern-Signature"

// WebhookNotifier posts alerts as JSON to a URL
type WebhookNotifier struct {
	URL    string
	Secret string
	client *http.Client
}

func NewWebhookNotifier(url, secret string, timeout time.Duration) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookNotifier{
		URL:    url,
		Secret: secret,
		client: &http.Client{Timeout: timeout},
	}
}

func (n *WebhookNotifier) SendAlert(ctx context.Context, alert Alert) error {
	body, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to encode alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if n.Secret != "" {
		req.Header.Set(SignatureHeader, Sign(n.Secret, body))
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return nil
}

// Sign returns the hex HMAC-SHA256 of body under secret
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// MailConfig holds SMTP settings for the email notifier
type MailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       []string
}

// SendMailFunc matches smtp.SendMail
type SendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailNotifier sends plain text alerts over SMTP
type EmailNotifier struct {
	cfg      MailConfig
	sendMail SendMailFunc
}

func NewEmailNotifier(cfg MailConfig) *EmailNotifier {
	return &EmailNotifier{cfg: cfg, sendMail: smtp.SendMail}
}

// SetSendMail replaces the SMTP transport, for tests
func (n *EmailNotifier) SetSendMail(fn SendMailFunc) {
	n.sendMail = fn
}

func (n *EmailNotifier) SendAlert(_ context.Context, alert Alert) error {
	from := strings.TrimSpace(n.cfg.From)
	if n.cfg.Host == "" || n.cfg.Port == 0 || from == "" || len(n.cfg.To) == 0 {
		return errors.New("email notifier is not configured")
	}

	addr := fmt.Sprintf("%s:%d", n.cfg.Host, n.cfg.Port)
	var auth smtp.Auth
	if n.cfg.Username != "" {
		auth = smtp.PlainAuth("", n.cfg.Username, n.cfg.Password, n.cfg.Host)
	}

	msg := []byte("From: " + from + "\r\n" +
		"To: " + strings.Join(n.cfg.To, ", ") + "\r\n" +
		"Subject: " + alert.Title + "\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: text/plain; charset=UTF-8\r\n" +
		"\r\n" + alert.Content)
	return n.sendMail(addr, auth, from, n.cfg.To, msg)
}

// LogNotifier writes alerts to the service log. It is the default channel.
type LogNotifier struct {
	logger ectologger.Logger
}

func NewLogNotifier(logger ectologger.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) SendAlert(ctx context.Context, alert Alert) error {
	log := n.logger.WithContext(ctx).WithFields(map[string]any{
		"alert_kind":       alert.Kind,
		"configuration_id": alert.ConfigurationID,
	})
	if alert.Kind == KindFailure {
		log.Warnf("%s: %s", alert.Title, alert.Content)
	} else {
		log.Infof("%s: %s", alert.Title, alert.Content)
	}
	return nil
}

// Multi fans an alert out to every notifier and joins their errors
type Multi []Notifier

func (m Multi) SendAlert(ctx context.Context, alert Alert) error {
	var errs []error
	for _, n := range m {
		if err := n.SendAlert(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recorder keeps alerts in memory
type Recorder struct {
	mu     sync.Mutex
	alerts []Alert
}

func (r *Recorder) SendAlert(_ context.Context, alert Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, alert)
	return nil
}

// Alerts returns a copy of the recorded alerts
func (r *Recorder) Alerts() []Alert {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Alert(nil), r.alerts...)
}

var (
	_ Notifier = (*Recorder)(nil)
	_ Notifier = (*WebhookNotifier)(nil)
	_ Notifier = (*EmailNotifier)(nil)
	_ Notifier = (*LogNotifier)(nil)
	_ Notifier = Multi(nil)
)
