package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/cuemby/bellhop/pkg/events"
	"github.com/cuemby/bellhop/pkg/log"
	"github.com/cuemby/bellhop/pkg/metrics"
	"github.com/cuemby/bellhop/pkg/storage"
	"github.com/cuemby/bellhop/pkg/types"
	"github.com/rs/zerolog"
)

// Payload is a ready-to-send notification. Building it is the caller's job.
type Payload struct {
	Recipient string            `json:"recipient"`
	Subject   string            `json:"subject"`
	Body      string            `json:"body"`
	Fields    map[string]string `json:"fields,omitempty"`
}

// Transport delivers a payload to the outside world
type Transport interface {
	Send(ctx context.Context, payload *Payload) error
}

// TransportFunc adapts a function to the Transport interface
type TransportFunc func(ctx context.Context, payload *Payload) error

func (f TransportFunc) Send(ctx context.Context, payload *Payload) error {
	return f(ctx, payload)
}

// Error reports a notification that could not be delivered. Recorded is true
// when the ledger already holds the key, i.e. the notification is a delivery
// gap that will never be retried automatically.
type Error struct {
	Key      types.LedgerKey
	Recorded bool
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("notification %s: %v", e.Key, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is makes errors.Is(err, types.ErrDispatch) hold for every *Error
func (e *Error) Is(target error) bool { return target == types.ErrDispatch }

// Dispatcher fires each (entity, target status) notification of one tenant
// at most once.
type Dispatcher struct {
	tenantID  string
	ledger    storage.LedgerStore
	transport Transport
	broker    *events.Broker
	logger    zerolog.Logger
}

// New creates a dispatcher. broker may be nil.
func New(tenantID string, ledger storage.LedgerStore, transport Transport, broker *events.Broker) *Dispatcher {
	return &Dispatcher{
		tenantID:  tenantID,
		ledger:    ledger,
		transport: transport,
		broker:    broker,
		logger:    log.WithTenant(tenantID).With().Str("component", "dispatcher").Logger(),
	}
}

// Notify sends payload unless the ledger already holds (entityID, target).
// The key is reserved before the transport is called; a send that fails
// afterwards is marked failed and returned as *Error, and is never resent.
func (d *Dispatcher) Notify(ctx context.Context, entityID string, target types.Status, payload *Payload) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.NotifyDuration)

	key := types.LedgerKey{TenantID: d.tenantID, EntityID: entityID, Target: target}
	logger := log.WithRecordID(d.logger, entityID).With().Str("target", string(target)).Logger()

	reserved, err := d.ledger.Reserve(ctx, key)
	if err != nil {
		metrics.NotificationsTotal.WithLabelValues(string(target), "ledger_error").Inc()
		logger.Error().Err(err).Msg("Failed to reserve notification, not sending")
		return &Error{Key: key, Err: err}
	}
	if !reserved {
		metrics.NotificationsTotal.WithLabelValues(string(target), "skipped").Inc()
		logger.Debug().Msg("Notification already recorded, skipping")
		return nil
	}

	if err := d.transport.Send(ctx, payload); err != nil {
		d.recordGap(ctx, key, err, logger)
		return &Error{Key: key, Recorded: true, Err: err}
	}

	if err := d.ledger.Complete(ctx, key, types.DeliverySent, ""); err != nil {
		// The entry stays pending, which still blocks a resend
		logger.Warn().Err(err).Msg("Notification sent but ledger entry could not be completed")
	}
	metrics.NotificationsTotal.WithLabelValues(string(target), "sent").Inc()
	logger.Info().Msg("Notification sent")
	d.publish(events.EventNotificationSent, key, "")
	return nil
}

func (d *Dispatcher) recordGap(ctx context.Context, key types.LedgerKey, sendErr error, logger zerolog.Logger) {
	metrics.NotificationsTotal.WithLabelValues(string(key.Target), "failed").Inc()
	metrics.DeliveryGaps.Inc()

	if err := d.ledger.Complete(ctx, key, types.DeliveryFailed, sendErr.Error()); err != nil {
		logger.Warn().Err(err).Msg("Failed to mark ledger entry as failed")
	}
	logger.Error().Err(sendErr).Str("ledger_key", key.String()).Msg("Delivery gap: notification recorded but not sent")
	d.publish(events.EventNotificationGap, key, sendErr.Error())
}

func (d *Dispatcher) publish(t events.EventType, key types.LedgerKey, message string) {
	if d.broker == nil {
		return
	}
	d.broker.Publish(&events.Event{
		Type:     t,
		TenantID: key.TenantID,
		Message:  message,
		Metadata: map[string]string{
			"record_id": key.EntityID,
			"target":    string(key.Target),
		},
	})
}

// Gaps lists the tenant's ledger entries that need manual follow-up
func Gaps(ctx context.Context, ledger storage.LedgerStore, tenantID string) ([]*types.LedgerEntry, error) {
	entries, err := ledger.List(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	gaps := entries[:0]
	for _, e := range entries {
		if e.IsGap() {
			gaps = append(gaps, e)
		}
	}
	return gaps, nil
}

// IsGap reports whether err is a send failure already recorded in the ledger
func IsGap(err error) bool {
	var de *Error
	return errors.As(err, &de) && de.Recorded
}
