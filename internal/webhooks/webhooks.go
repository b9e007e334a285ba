// Package webhooks delivers entitlement change notifications to external services.
//
// Storefront integrations can register webhook URLs per tenant to receive
// notifications about:
// - Subscription changes landing from billing
// - Feature overrides being granted or removed
// - Tenant provisioning
package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/storeloft/storeloft/internal/retry"
)

// EventType represents the type of webhook event
type EventType string

const (
	EventTenantCreated       EventType = "tenant.created"
	EventTenantUpdated       EventType = "tenant.updated"
	EventSubscriptionChanged EventType = "subscription.changed"
	EventOverrideGranted     EventType = "override.granted"
	EventOverrideRevoked     EventType = "override.revoked"
	EventOverrideRemoved     EventType = "override.removed"
)

// KnownEventTypes lists every event type a subscription may request.
var KnownEventTypes = []EventType{
	EventTenantCreated,
	EventTenantUpdated,
	EventSubscriptionChanged,
	EventOverrideGranted,
	EventOverrideRevoked,
	EventOverrideRemoved,
}

// Event represents a webhook event
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	TenantID  string                 `json:"tenantId"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscription represents a webhook subscription
type Subscription struct {
	ID                  string      `json:"id"`
	TenantID            string      `json:"tenantId"`
	URL                 string      `json:"url"`
	Secret              string      `json:"-"` // Used for HMAC signing
	Events              []EventType `json:"events"`
	Active              bool        `json:"active"`
	CreatedAt           time.Time   `json:"createdAt"`
	LastSuccess         *time.Time  `json:"lastSuccess,omitempty"`
	LastError           string      `json:"lastError,omitempty"`
	ConsecutiveFailures int         `json:"-"`
}

// Store persists webhook subscriptions
type Store interface {
	Create(ctx context.Context, sub *Subscription) error
	Get(ctx context.Context, id string) (*Subscription, error)
	GetByTenant(ctx context.Context, tenantID string) ([]*Subscription, error)
	GetByEvent(ctx context.Context, eventType EventType) ([]*Subscription, error)
	Update(ctx context.Context, sub *Subscription) error
	Delete(ctx context.Context, id string) error
}

// RetryConfig controls delivery retries and automatic deactivation.
type RetryConfig struct {
	MaxAttempts int           // Delivery attempts per event
	BaseDelay   time.Duration // First backoff delay, doubled per retry
	MaxDelay    time.Duration // Cap on the backoff delay
	MaxFailures int           // Consecutive failures before the subscription is deactivated
}

// DefaultRetryConfig is used by NewDispatcher.
var DefaultRetryConfig = RetryConfig{
	MaxAttempts: 3,
	BaseDelay:   500 * time.Millisecond,
	MaxDelay:    10 * time.Second,
	MaxFailures: 20,
}

// Dispatcher sends webhook events
type Dispatcher struct {
	store        Store
	client       *http.Client
	cfg          RetryConfig
	urlValidator func(string) error
	mu           sync.RWMutex
}

// NewDispatcher creates a new webhook dispatcher with default retry settings
func NewDispatcher(store Store) *Dispatcher {
	return NewDispatcherWithRetry(store, DefaultRetryConfig)
}

// NewDispatcherWithRetry creates a dispatcher with explicit retry settings
func NewDispatcherWithRetry(store Store, cfg RetryConfig) *Dispatcher {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	return &Dispatcher{
		store: store,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		cfg:          cfg,
		urlValidator: ValidateURL,
	}
}

// ValidateURL rejects webhook targets that could reach internal infrastructure.
func ValidateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL must use http or https")
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("URL must include a host")
	}
	if ip := net.ParseIP(host); ip != nil {
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() || ip.IsLinkLocalUnicast() {
			return fmt.Errorf("URL must not target a private address")
		}
	}
	if host == "localhost" {
		return fmt.Errorf("URL must not target a private address")
	}
	return nil
}

// Dispatch sends an event to all relevant subscribers
func (d *Dispatcher) Dispatch(ctx context.Context, event *Event) error {
	subs, err := d.store.GetByEvent(ctx, event.Type)
	if err != nil {
		return fmt.Errorf("failed to get subscribers: %w", err)
	}

	// Delivery is async and must outlive the caller's request context.
	sendCtx := context.WithoutCancel(ctx)
	for _, sub := range subs {
		if !sub.Active {
			continue
		}

		go d.send(sendCtx, sub, event)
	}

	return nil
}

// DispatchToTenant sends an event to a specific tenant's webhooks
func (d *Dispatcher) DispatchToTenant(ctx context.Context, tenantID string, event *Event) error {
	subs, err := d.store.GetByTenant(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("failed to get subscriptions: %w", err)
	}

	sendCtx := context.WithoutCancel(ctx)
	for _, sub := range subs {
		if !sub.Active {
			continue
		}

		// Check if subscribed to this event type
		for _, et := range sub.Events {
			if et == event.Type {
				go d.send(sendCtx, sub, event)
				break
			}
		}
	}

	return nil
}

func (d *Dispatcher) send(ctx context.Context, sub *Subscription, event *Event) {
	if err := d.urlValidator(sub.URL); err != nil {
		d.recordFailure(ctx, sub, err.Error())
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		d.recordFailure(ctx, sub, "failed to marshal event")
		return
	}

	err = retry.Do(ctx, d.cfg.MaxAttempts, d.baseDelay(), func() error {
		return d.deliver(ctx, sub, event, payload)
	})
	if err != nil {
		d.recordFailure(ctx, sub, err.Error())
		return
	}
	d.recordSuccess(ctx, sub)
}

func (d *Dispatcher) deliver(ctx context.Context, sub *Subscription, event *Event, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, "POST", sub.URL, bytes.NewReader(payload))
	if err != nil {
		return retry.Permanent(fmt.Errorf("failed to create request: %w", err))
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Storeloft-Event", string(event.Type))
	req.Header.Set("X-Storeloft-Timestamp", fmt.Sprintf("%d", event.Timestamp.Unix()))

	// Sign the payload if secret is set
	if sub.Secret != "" {
		signature := d.sign(payload, sub.Secret)
		req.Header.Set("X-Storeloft-Signature", signature)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		// The receiver rejected the payload, retrying won't help.
		return retry.Permanent(fmt.Errorf("status %d", resp.StatusCode))
	}
	return fmt.Errorf("status %d", resp.StatusCode)
}

// baseDelay clamps the configured base so doubling stays under MaxDelay.
func (d *Dispatcher) baseDelay() time.Duration {
	if d.cfg.MaxDelay > 0 && d.cfg.BaseDelay > d.cfg.MaxDelay {
		return d.cfg.MaxDelay
	}
	return d.cfg.BaseDelay
}

func (d *Dispatcher) sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

func (d *Dispatcher) recordSuccess(ctx context.Context, sub *Subscription) {
	now := time.Now()
	sub.LastSuccess = &now
	sub.LastError = ""
	sub.ConsecutiveFailures = 0
	d.store.Update(ctx, sub)
}

func (d *Dispatcher) recordFailure(ctx context.Context, sub *Subscription, errMsg string) {
	sub.LastError = errMsg
	sub.ConsecutiveFailures++
	if d.cfg.MaxFailures > 0 && sub.ConsecutiveFailures >= d.cfg.MaxFailures {
		sub.Active = false
	}
	d.store.Update(ctx, sub)
}

// MemoryStore is an in-memory implementation for testing
type MemoryStore struct {
	subs map[string]*Subscription
	mu   sync.RWMutex
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		subs: make(map[string]*Subscription),
	}
}

func (m *MemoryStore) Create(ctx context.Context, sub *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[sub.ID] = sub
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if sub, ok := m.subs[id]; ok {
		return sub, nil
	}
	return nil, fmt.Errorf("subscription not found")
}

func (m *MemoryStore) GetByTenant(ctx context.Context, tenantID string) ([]*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*Subscription
	for _, sub := range m.subs {
		if sub.TenantID == tenantID {
			result = append(result, sub)
		}
	}
	return result, nil
}

func (m *MemoryStore) GetByEvent(ctx context.Context, eventType EventType) ([]*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*Subscription
	for _, sub := range m.subs {
		for _, et := range sub.Events {
			if et == eventType {
				result = append(result, sub)
				break
			}
		}
	}
	return result, nil
}

func (m *MemoryStore) Update(ctx context.Context, sub *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[sub.ID] = sub
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subs, id)
	return nil
}
