package alert

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// LogChannel writes notifications to the structured log. Always present so
// the audit trail keeps a copy of everything sent outward.
type LogChannel struct {
	log  *zap.Logger
	name string
}

// NewLogChannel creates a log-backed channel.
func NewLogChannel(name string, log *zap.Logger) *LogChannel {
	return &LogChannel{log: log, name: name}
}

func (c *LogChannel) Send(n Notification) error {
	fields := []zap.Field{
		zap.String("severity", string(n.Severity)),
		zap.String("scope", n.Scope.String()),
		zap.Time("ts", n.Timestamp),
	}
	for k, v := range n.Fields {
		fields = append(fields, zap.Any(k, v))
	}
	c.log.Warn(n.Reason, fields...)
	return nil
}

func (c *LogChannel) Name() string { return c.name }

// WebhookChannel POSTs the notification payload as JSON to a configured URL
// (chat service, pager bridge). HTTPClient is injectable for tests.
type WebhookChannel struct {
	URL        string
	HTTPClient *http.Client
	name       string
}

// NewWebhookChannel creates a webhook channel with a bounded default client.
func NewWebhookChannel(name, url string) *WebhookChannel {
	return &WebhookChannel{
		URL:        url,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
		name:       name,
	}
}

type webhookPayload struct {
	Scope     string                 `json:"scope"`
	Reason    string                 `json:"reason"`
	Severity  string                 `json:"severity"`
	Timestamp string                 `json:"timestamp"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

func (c *WebhookChannel) Send(n Notification) error {
	if c.URL == "" || c.HTTPClient == nil {
		return fmt.Errorf("webhook channel not configured")
	}
	body, err := json.Marshal(webhookPayload{
		Scope:     n.Scope.String(),
		Reason:    n.Reason,
		Severity:  string(n.Severity),
		Timestamp: n.Timestamp.UTC().Format(time.RFC3339),
		Fields:    n.Fields,
	})
	if err != nil {
		return err
	}
	resp, err := c.HTTPClient.Post(c.URL, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook status %d", resp.StatusCode)
	}
	return nil
}

func (c *WebhookChannel) Name() string { return c.name }

// MockChannel records notifications for test assertions.
type MockChannel struct {
	name      string
	mu        sync.Mutex
	sent      []Notification
	shouldErr bool
}

// NewMockChannel creates a recording channel.
func NewMockChannel(name string) *MockChannel {
	return &MockChannel{name: name}
}

func (c *MockChannel) Send(n Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.shouldErr {
		return fmt.Errorf("mock error")
	}
	c.sent = append(c.sent, n)
	return nil
}

func (c *MockChannel) Name() string { return c.name }

// Sent returns a copy of everything received.
func (c *MockChannel) Sent() []Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Notification, len(c.sent))
	copy(out, c.sent)
	return out
}

// Count returns the number of notifications received.
func (c *MockChannel) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

// SetShouldError makes Send fail for error-path tests.
func (c *MockChannel) SetShouldError(shouldErr bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shouldErr = shouldErr
}

// Clear drops recorded notifications.
func (c *MockChannel) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = nil
}
