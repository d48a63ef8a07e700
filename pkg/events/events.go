package events

import (
	"strings"
	"sync"
	"time"

	"github.com/cuemby/bellhop/pkg/metrics"
	"github.com/google/uuid"
)

// EventType is "<category>.<name>"
type EventType string

const (
	EventRecordInserted    EventType = "record.inserted"
	EventRecordUpdated     EventType = "record.updated"
	EventRecordDeleted     EventType = "record.deleted"
	EventAlertChanged      EventType = "alert.changed"
	EventChimeRequested    EventType = "chime.requested"
	EventNotificationSent  EventType = "notification.sent"
	EventNotificationGap   EventType = "notification.gap"
	EventBoardOpened       EventType = "board.opened"
	EventBoardClosed       EventType = "board.closed"
	EventBoardRecord       EventType = "board.record"
	EventBoardPollFailed   EventType = "board.poll_failed"
	EventBoardPollRestored EventType = "board.poll_restored"
)

// Category returns the part of the type before the first dot
func (t EventType) Category() string {
	category, _, _ := strings.Cut(string(t), ".")
	return category
}

// Event is something that happened on a tenant board. Kind is empty for
// tenant-wide events.
type Event struct {
	ID        string
	Type      EventType
	TenantID  string
	Kind      string
	Timestamp time.Time
	Message   string
	Metadata  map[string]string
	// Payload carries a typed value for in-process subscribers (a *types.Record
	// for record.*, a *types.RecordDoc for board.record)
	Payload any
}

// Filter selects the events delivered to a subscriber
type Filter func(*Event) bool

// ForTenant matches every event of one tenant
func ForTenant(tenantID string) Filter {
	return func(ev *Event) bool { return ev.TenantID == tenantID }
}

// ForBoard matches the events of one tenant board. An empty kind matches
// every board of the tenant.
func ForBoard(tenantID, kind string) Filter {
	return func(ev *Event) bool {
		return ev.TenantID == tenantID && (kind == "" || ev.Kind == kind)
	}
}

// InCategory matches events whose type belongs to one of the categories
func InCategory(categories ...string) Filter {
	return func(ev *Event) bool {
		c := ev.Type.Category()
		for _, want := range categories {
			if c == want {
				return true
			}
		}
		return false
	}
}

// Not inverts a filter
func Not(f Filter) Filter {
	return func(ev *Event) bool { return !f(ev) }
}

func matchAll(filters []Filter, ev *Event) bool {
	for _, f := range filters {
		if f != nil && !f(ev) {
			return false
		}
	}
	return true
}

// Subscriber is a channel that receives events
type Subscriber chan *Event

// Broker fans events out to subscribers without ever blocking on them
type Broker struct {
	subscribers map[Subscriber][]Filter
	mu          sync.RWMutex
	eventCh     chan *Event
	stopCh      chan struct{}
	stopOnce    sync.Once
}

// NewBroker creates a new event broker
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber][]Filter),
		eventCh:     make(chan *Event, 256),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's event distribution loop
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker. Events published afterwards are discarded.
func (b *Broker) Stop() {
	b.stopOnce.Do(func() { close(b.stopCh) })
}

// Subscribe returns a channel receiving the events that match every filter.
// Without filters it receives everything.
func (b *Broker) Subscribe(filters ...Filter) Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 64)
	b.subscribers[sub] = filters
	return sub
}

// Unsubscribe removes a subscription and closes its channel
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subscribers[sub]; !ok {
		return
	}
	delete(b.subscribers, sub)
	close(sub)
}

// Publish stamps the event and queues it for distribution
func (b *Broker) Publish(event *Event) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	}
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub, filters := range b.subscribers {
		if !matchAll(filters, event) {
			continue
		}
		select {
		case sub <- event:
		default:
			metrics.EventsDropped.WithLabelValues(string(event.Type)).Inc()
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
