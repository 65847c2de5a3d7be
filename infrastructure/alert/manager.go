// Package alert fans event notifications out to one or more delivery
// channels, with per-key throttling for repeated notifications.
package alert

import (
	"fmt"
	"sync"
	"time"

	"volume-recon-go/record"
)

// Notification is one outbound message. Payload mirrors the wire contract of
// the on-call channel: scope, reason, severity, timestamp.
type Notification struct {
	Severity  record.Severity
	Scope     record.Scope
	Reason    string
	Timestamp time.Time
	Fields    map[string]interface{}
}

// Channel delivers notifications somewhere.
type Channel interface {
	Send(n Notification) error
	Name() string
}

// Manager fans notifications out to all channels. Repeat notifications with
// the same (severity, scope, reason) key are throttled; state-transition
// events bypass throttling via SendTransition.
type Manager struct {
	channels []Channel
	throttle *Throttler
	mu       sync.RWMutex
}

// Throttler suppresses repeats of the same key inside an interval.
type Throttler struct {
	lastSent map[string]time.Time
	interval time.Duration
	mu       sync.Mutex
}

// NewThrottler creates a throttler with the given suppression interval.
func NewThrottler(interval time.Duration) *Throttler {
	return &Throttler{
		lastSent: make(map[string]time.Time),
		interval: interval,
	}
}

// Allow reports whether key may fire now, recording the attempt if so.
func (t *Throttler) Allow(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	last, exists := t.lastSent[key]
	if !exists || now.Sub(last) >= t.interval {
		t.lastSent[key] = now
		return true
	}
	return false
}

// Reset clears the throttle record for key.
func (t *Throttler) Reset(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.lastSent, key)
}

// Clear drops all throttle records.
func (t *Throttler) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastSent = make(map[string]time.Time)
}

// NewManager creates a manager over the given channels.
func NewManager(channels []Channel, throttleInterval time.Duration) *Manager {
	return &Manager{
		channels: channels,
		throttle: NewThrottler(throttleInterval),
	}
}

// Send delivers a throttled notification. Suppressed repeats return nil.
func (m *Manager) Send(n Notification) error {
	key := fmt.Sprintf("%s:%s:%s", n.Severity, n.Scope.Key(), n.Reason)
	if !m.throttle.Allow(key) {
		return nil
	}
	return m.deliver(n)
}

// SendTransition delivers a quarantine-transition notification. Transitions
// are never throttled: every one must reach the on-call channel.
func (m *Manager) SendTransition(n Notification) error {
	return m.deliver(n)
}

func (m *Manager) deliver(n Notification) error {
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now().UTC()
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var lastErr error
	successCount := 0
	for _, ch := range m.channels {
		if err := ch.Send(n); err != nil {
			lastErr = fmt.Errorf("channel %s failed: %w", ch.Name(), err)
		} else {
			successCount++
		}
	}
	if successCount == 0 && lastErr != nil {
		return lastErr
	}
	return nil
}

// AddChannel registers an additional channel.
func (m *Manager) AddChannel(ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels = append(m.channels, ch)
}

// Channels returns the registered channel names.
func (m *Manager) Channels() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.channels))
	for _, ch := range m.channels {
		names = append(names, ch.Name())
	}
	return names
}

// ResetThrottle drops all throttle state.
func (m *Manager) ResetThrottle() {
	m.throttle.Clear()
}
