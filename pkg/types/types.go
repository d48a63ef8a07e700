package types

import (
	"fmt"
	"strings"
	"time"
)

// Kind identifies which board a record belongs to
type Kind string

const (
	KindOrder       Kind = "order"
	KindReservation Kind = "reservation"
)

// ParseKind normalizes a kind name read from config or a request path
func ParseKind(raw string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(raw))) {
	case KindOrder, "orders":
		return KindOrder, nil
	case KindReservation, "reservations":
		return KindReservation, nil
	}
	return "", fmt.Errorf("unknown record kind %q", raw)
}

// Status is a canonical lifecycle status. Raw strings from stores and feeds
// are normalized with ParseStatus before they reach the engine.
type Status string

const (
	// Order statuses
	StatusNew       Status = "new"
	StatusConfirmed Status = "confirmed"
	StatusPreparing Status = "preparing"
	StatusReady     Status = "ready"
	StatusCompleted Status = "completed"
	StatusRejected  Status = "rejected"

	// Reservation-only status (reservations also use confirmed and completed)
	StatusCancelled Status = "cancelled"
)

var statusesByKind = map[Kind][]Status{
	KindOrder:       {StatusNew, StatusConfirmed, StatusPreparing, StatusReady, StatusCompleted, StatusRejected},
	KindReservation: {StatusConfirmed, StatusCompleted, StatusCancelled},
}

// Statuses returns the fixed status set of a kind
func Statuses(kind Kind) []Status {
	return append([]Status(nil), statusesByKind[kind]...)
}

// ParseStatus maps a raw status string onto the canonical set for kind.
// Matching is case-insensitive ("NEW" and "new" are the same status).
func ParseStatus(kind Kind, raw string) (Status, error) {
	s := Status(strings.ToLower(strings.TrimSpace(raw)))
	if s == "canceled" {
		s = StatusCancelled
	}
	for _, known := range statusesByKind[kind] {
		if s == known {
			return known, nil
		}
	}
	return "", fmt.Errorf("%w: %q for %s", ErrUnknownStatus, raw, kind)
}

// RejectReason is the fixed taxonomy for rejecting an order
type RejectReason string

const (
	RejectTooBusy             RejectReason = "too_busy"
	RejectClosed              RejectReason = "closed"
	RejectOutOfStock          RejectReason = "out_of_stock"
	RejectDeliveryUnavailable RejectReason = "delivery_unavailable"
	RejectTechnical           RejectReason = "technical"
	RejectAddressIssue        RejectReason = "address_issue"
	RejectOther               RejectReason = "other"
)

var rejectReasons = []RejectReason{
	RejectTooBusy,
	RejectClosed,
	RejectOutOfStock,
	RejectDeliveryUnavailable,
	RejectTechnical,
	RejectAddressIssue,
	RejectOther,
}

// ParseRejectReason accepts both "out_of_stock" and "out-of-stock" spellings
func ParseRejectReason(raw string) (RejectReason, error) {
	r := RejectReason(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(raw)), "-", "_"))
	for _, known := range rejectReasons {
		if r == known {
			return known, nil
		}
	}
	return "", fmt.Errorf("unknown reject reason %q", raw)
}

// Record is an order or a table reservation as seen by the engine
type Record struct {
	ID        string
	TenantID  string
	Kind      Kind
	Status    Status
	CreatedAt time.Time
	UpdatedAt time.Time

	// Reservation fields
	TableID  string
	Occupied bool

	// Order rejection details
	RejectReason RejectReason
	RejectNote   string

	// Attributes carries display and contact fields (customer_name, customer_email...)
	Attributes map[string]string
}

// Clone returns a deep copy so callers never share attribute maps
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	if r.Attributes != nil {
		c.Attributes = make(map[string]string, len(r.Attributes))
		for k, v := range r.Attributes {
			c.Attributes[k] = v
		}
	}
	return &c
}

// Attr returns an attribute or the empty string
func (r *Record) Attr(key string) string {
	if r == nil || r.Attributes == nil {
		return ""
	}
	return r.Attributes[key]
}

// TransitionContext carries the extra inputs some transitions require
type TransitionContext struct {
	Reason RejectReason
	Note   string
}

// ChangeKind is the operation carried by a push event
type ChangeKind string

const (
	ChangeInsert ChangeKind = "insert"
	ChangeUpdate ChangeKind = "update"
	ChangeDelete ChangeKind = "delete"
)

// ParseChangeKind normalizes the operation names used by different feeds
func ParseChangeKind(raw string) (ChangeKind, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "insert", "create", "created":
		return ChangeInsert, nil
	case "update", "updated":
		return ChangeUpdate, nil
	case "delete", "deleted":
		return ChangeDelete, nil
	}
	return "", fmt.Errorf("unknown change kind %q", raw)
}

// ChangeEvent is a single push-channel event
type ChangeEvent struct {
	Kind   ChangeKind
	Record *Record
}

// AlertState is the state of a board's alert session
type AlertState string

const (
	AlertIdle       AlertState = "idle"
	AlertAlerting   AlertState = "alerting"
	AlertSuppressed AlertState = "suppressed"
)

// BoardKey identifies one monitored board: a tenant's orders or reservations
type BoardKey struct {
	TenantID string
	Kind     Kind
}

func (k BoardKey) String() string {
	return k.TenantID + "/" + string(k.Kind)
}
