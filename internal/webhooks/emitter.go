package webhooks

import (
	"context"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/storeloft/storeloft/internal/idgen"
)

var (
	webhookEmitTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "storeloft",
		Subsystem: "webhook",
		Name:      "emit_total",
		Help:      "Total webhook emit attempts by event type.",
	}, []string{"event_type"})

	webhookEmitErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "storeloft",
		Subsystem: "webhook",
		Name:      "emit_errors_total",
		Help:      "Total webhook emit failures by event type.",
	}, []string{"event_type"})
)

func init() {
	prometheus.MustRegister(webhookEmitTotal, webhookEmitErrors)
}

// eventNames maps internal event names to outbound webhook event types.
var eventNames = map[string]EventType{
	"tenant_created":       EventTenantCreated,
	"tenant_updated":       EventTenantUpdated,
	"subscription_changed": EventSubscriptionChanged,
	"override_granted":     EventOverrideGranted,
	"override_revoked":     EventOverrideRevoked,
	"override_removed":     EventOverrideRemoved,
}

// Emitter forwards internal entitlement events to a tenant's registered
// webhooks. It satisfies the Publish-style event sinks the tenant, override,
// and billing handlers notify, so it can sit alongside the realtime hub.
// All methods are fire-and-forget: errors are logged but never returned.
type Emitter struct {
	d      *Dispatcher
	logger *slog.Logger
}

// NewEmitter creates a new webhook emitter.
func NewEmitter(d *Dispatcher, logger *slog.Logger) *Emitter {
	return &Emitter{d: d, logger: logger}
}

// Publish translates an internal event into an outbound webhook delivery.
func (e *Emitter) Publish(event string, tenantID string, payload any) {
	if e == nil || e.d == nil {
		return
	}

	eventType, ok := eventNames[event]
	if !ok {
		eventType = EventType(event)
	}

	// Handlers publish gin.H, which is a named map type.
	var data map[string]interface{}
	switch p := payload.(type) {
	case map[string]interface{}:
		data = p
	case gin.H:
		data = map[string]interface{}(p)
	default:
		data = map[string]interface{}{"payload": payload}
	}

	webhookEmitTotal.WithLabelValues(string(eventType)).Inc()
	evt := &Event{
		ID:        idgen.WithPrefix("evt_"),
		Type:      eventType,
		TenantID:  tenantID,
		Timestamp: time.Now(),
		Data:      data,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := e.d.DispatchToTenant(ctx, tenantID, evt); err != nil {
		webhookEmitErrors.WithLabelValues(string(eventType)).Inc()
		e.logger.Warn("webhook emit failed", "event", eventType, "tenant_id", tenantID, "error", err)
	}
}
