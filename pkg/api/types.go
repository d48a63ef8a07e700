package api

import (
	"github.com/cuemby/bellhop/pkg/types"
)

// BoardView names an open board
type BoardView struct {
	Tenant string `json:"tenant"`
	Kind   string `json:"kind"`
}

type BoardsResponse struct {
	Boards []BoardView `json:"boards"`
}

// AlertResponse is the alert state of a board
type AlertResponse struct {
	Tenant string           `json:"tenant"`
	Kind   string           `json:"kind"`
	State  types.AlertState `json:"state"`
	Active []string         `json:"active"`
}

type RecordsResponse struct {
	Records []*types.RecordDoc `json:"records"`
}

// TransitionRequest moves a record to Status. Reason is required when
// rejecting an order.
type TransitionRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
	Note   string `json:"note,omitempty"`
}

type AssignRequest struct {
	TableID string `json:"table_id"`
}

type AudioRequest struct {
	Device string `json:"device,omitempty"`
}

type AudioResponse struct {
	Device    string `json:"device,omitempty"`
	Activated bool   `json:"activated"`
}

type LedgerResponse struct {
	Entries []*types.LedgerEntry `json:"entries"`
}

// ErrorResponse is the body of every non-2xx response
type ErrorResponse struct {
	Error string `json:"error"`
}

// StreamMessage is one broker event relayed to a websocket client
type StreamMessage struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	Tenant    string            `json:"tenant,omitempty"`
	Kind      string            `json:"kind,omitempty"`
	Timestamp string            `json:"timestamp"`
	Message   string            `json:"message,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Record    *types.RecordDoc  `json:"record,omitempty"`
}
