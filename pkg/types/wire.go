package types

import (
	"fmt"
	"strings"
	"time"
)

// RecordDoc is the external representation of a record as stored by record
// stores and carried by change feeds. Status is the raw string as written by
// whatever produced it; ToRecord is the single place it is normalized.
type RecordDoc struct {
	ID           string            `json:"id"`
	TenantID     string            `json:"tenant_id"`
	Kind         string            `json:"kind"`
	Status       string            `json:"status"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at,omitempty"`
	TableID      string            `json:"table_id,omitempty"`
	Occupied     bool              `json:"occupied,omitempty"`
	RejectReason string            `json:"reject_reason,omitempty"`
	RejectNote   string            `json:"reject_note,omitempty"`
	Attributes   map[string]string `json:"attributes,omitempty"`
}

// ToRecord validates the document and normalizes its status. fallbackKind is
// used when the document does not carry a kind of its own.
func (d *RecordDoc) ToRecord(fallbackKind Kind) (*Record, error) {
	if d.ID == "" {
		return nil, fmt.Errorf("record without id")
	}
	kind := fallbackKind
	if d.Kind != "" {
		k, err := ParseKind(d.Kind)
		if err != nil {
			return nil, err
		}
		kind = k
	}
	status, err := ParseStatus(kind, d.Status)
	if err != nil {
		return nil, err
	}
	rec := &Record{
		ID:         d.ID,
		TenantID:   d.TenantID,
		Kind:       kind,
		Status:     status,
		CreatedAt:  d.CreatedAt,
		UpdatedAt:  d.UpdatedAt,
		TableID:    d.TableID,
		Occupied:   d.Occupied,
		RejectNote: d.RejectNote,
		Attributes: d.Attributes,
	}
	if d.RejectReason != "" {
		reason, err := ParseRejectReason(d.RejectReason)
		if err != nil {
			return nil, err
		}
		rec.RejectReason = reason
	}
	return rec, nil
}

// DocFromRecord converts a record into its external representation
func DocFromRecord(r *Record) *RecordDoc {
	return &RecordDoc{
		ID:           r.ID,
		TenantID:     r.TenantID,
		Kind:         string(r.Kind),
		Status:       string(r.Status),
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
		TableID:      r.TableID,
		Occupied:     r.Occupied,
		RejectReason: string(r.RejectReason),
		RejectNote:   r.RejectNote,
		Attributes:   r.Attributes,
	}
}

// ChangeDoc is the external representation of a push event
type ChangeDoc struct {
	Op     string     `json:"op"`
	Record *RecordDoc `json:"record"`
}

// ToChangeEvent normalizes a change document
func (d *ChangeDoc) ToChangeEvent(fallbackKind Kind) (ChangeEvent, error) {
	op, err := ParseChangeKind(d.Op)
	if err != nil {
		return ChangeEvent{}, err
	}
	if d.Record == nil {
		return ChangeEvent{}, fmt.Errorf("change event without record")
	}
	if op == ChangeDelete {
		// Deletes only need the id; the status may be absent
		if d.Record.ID == "" {
			return ChangeEvent{}, fmt.Errorf("delete event without id")
		}
		return ChangeEvent{Kind: op, Record: &Record{ID: d.Record.ID, TenantID: d.Record.TenantID, Kind: fallbackKind}}, nil
	}
	rec, err := d.Record.ToRecord(fallbackKind)
	if err != nil {
		return ChangeEvent{}, err
	}
	return ChangeEvent{Kind: op, Record: rec}, nil
}

// DeliveryState is the state of a sent-ledger entry
type DeliveryState string

const (
	// DeliveryPending means the send was recorded and may or may not have happened
	DeliveryPending DeliveryState = "pending"
	DeliverySent    DeliveryState = "sent"
	DeliveryFailed  DeliveryState = "failed"
)

// LedgerKey identifies one notification: a record reaching a status
type LedgerKey struct {
	TenantID string
	EntityID string
	Target   Status
}

func (k LedgerKey) String() string {
	return JoinKey(k.TenantID, k.EntityID, string(k.Target))
}

// LedgerTenantPrefix is the prefix shared by the String form of every ledger
// key of a tenant, and by no key of any other tenant
func LedgerTenantPrefix(tenantID string) string {
	return JoinKey(tenantID) + "/"
}

var keyEscaper = strings.NewReplacer("%", "%25", "/", "%2F")

// JoinKey joins segments with "/" after escaping "%" and "/" inside each
// one. Distinct segment lists never produce the same key.
func JoinKey(segments ...string) string {
	escaped := make([]string, len(segments))
	for i, s := range segments {
		escaped[i] = keyEscaper.Replace(s)
	}
	return strings.Join(escaped, "/")
}

// LedgerEntry is a recorded notification attempt
type LedgerEntry struct {
	TenantID   string        `json:"tenant_id"`
	EntityID   string        `json:"entity_id"`
	Target     Status        `json:"target"`
	State      DeliveryState `json:"state"`
	Error      string        `json:"error,omitempty"`
	ReservedAt time.Time     `json:"reserved_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// Key returns the entry's ledger key
func (e *LedgerEntry) Key() LedgerKey {
	return LedgerKey{TenantID: e.TenantID, EntityID: e.EntityID, Target: e.Target}
}

// IsGap reports whether the entry needs manual follow-up
func (e *LedgerEntry) IsGap() bool {
	return e.State != DeliverySent
}
