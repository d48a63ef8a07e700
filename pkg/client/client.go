package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cuemby/bellhop/pkg/api"
	"github.com/cuemby/bellhop/pkg/types"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Client talks to a bellhop node's HTTP API
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for addr, either host:port or a full URL
func NewClient(addr string) *Client {
	base := addr
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return &Client{
		baseURL: strings.TrimRight(base, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Error is a non-2xx API response. It matches the engine sentinel for its
// status code under errors.Is.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
}

func (e *Error) Is(target error) bool {
	switch e.StatusCode {
	case http.StatusNotFound:
		return target == types.ErrNotFound
	case http.StatusConflict:
		return target == types.ErrInvalidTransition
	case http.StatusUnprocessableEntity:
		return target == types.ErrMissingReason
	case http.StatusServiceUnavailable:
		return target == types.ErrStoreUnavailable
	}
	return false
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach bellhop at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr api.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err != nil || apiErr.Error == "" {
			apiErr.Error = http.StatusText(resp.StatusCode)
		}
		return &Error{StatusCode: resp.StatusCode, Message: apiErr.Error}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func boardPath(board types.BoardKey, suffix string) string {
	return "/v1/tenants/" + url.PathEscape(board.TenantID) + "/" + string(board.Kind) + suffix
}

// Boards lists the open boards
func (c *Client) Boards(ctx context.Context) ([]api.BoardView, error) {
	var resp api.BoardsResponse
	if err := c.do(ctx, http.MethodGet, "/v1/boards", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Boards, nil
}

// Open opens a board on the node
func (c *Client) Open(ctx context.Context, board types.BoardKey) (*api.AlertResponse, error) {
	return c.alertCall(ctx, http.MethodPost, boardPath(board, "/open"))
}

// Restart reopens a board with fresh state
func (c *Client) Restart(ctx context.Context, board types.BoardKey) (*api.AlertResponse, error) {
	return c.alertCall(ctx, http.MethodPost, boardPath(board, "/restart"))
}

// Close closes a board
func (c *Client) Close(ctx context.Context, board types.BoardKey) error {
	return c.do(ctx, http.MethodPost, boardPath(board, "/close"), nil, nil)
}

// Alert returns the alert state of a board
func (c *Client) Alert(ctx context.Context, board types.BoardKey) (*api.AlertResponse, error) {
	return c.alertCall(ctx, http.MethodGet, boardPath(board, "/alert"))
}

// Dismiss silences the board's alert until the next arrival
func (c *Client) Dismiss(ctx context.Context, board types.BoardKey) (*api.AlertResponse, error) {
	return c.alertCall(ctx, http.MethodPost, boardPath(board, "/dismiss"))
}

// Handle clears the alert of one record
func (c *Client) Handle(ctx context.Context, board types.BoardKey, id string) (*api.AlertResponse, error) {
	return c.alertCall(ctx, http.MethodPost, boardPath(board, "/records/"+url.PathEscape(id)+"/handle"))
}

// Refresh polls the board's store immediately
func (c *Client) Refresh(ctx context.Context, board types.BoardKey) (*api.AlertResponse, error) {
	return c.alertCall(ctx, http.MethodPost, boardPath(board, "/refresh"))
}

func (c *Client) alertCall(ctx context.Context, method, path string) (*api.AlertResponse, error) {
	var resp api.AlertResponse
	if err := c.do(ctx, method, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Records returns the board's snapshot
func (c *Client) Records(ctx context.Context, board types.BoardKey) ([]*types.RecordDoc, error) {
	var resp api.RecordsResponse
	if err := c.do(ctx, http.MethodGet, boardPath(board, "/records"), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Records, nil
}

// AddRecord inserts a record into the board's store
func (c *Client) AddRecord(ctx context.Context, board types.BoardKey, doc *types.RecordDoc) (*types.RecordDoc, error) {
	return c.recordCall(ctx, boardPath(board, "/records"), doc)
}

// Transition moves a record to status. reason and note apply to rejections.
func (c *Client) Transition(ctx context.Context, board types.BoardKey, id, status, reason, note string) (*types.RecordDoc, error) {
	req := api.TransitionRequest{Status: status, Reason: reason, Note: note}
	return c.recordCall(ctx, boardPath(board, "/records/"+url.PathEscape(id)+"/transition"), req)
}

func (c *Client) Occupy(ctx context.Context, board types.BoardKey, id string) (*types.RecordDoc, error) {
	return c.recordCall(ctx, boardPath(board, "/records/"+url.PathEscape(id)+"/occupy"), nil)
}

func (c *Client) Release(ctx context.Context, board types.BoardKey, id string) (*types.RecordDoc, error) {
	return c.recordCall(ctx, boardPath(board, "/records/"+url.PathEscape(id)+"/release"), nil)
}

func (c *Client) AssignTable(ctx context.Context, board types.BoardKey, id, tableID string) (*types.RecordDoc, error) {
	return c.recordCall(ctx, boardPath(board, "/records/"+url.PathEscape(id)+"/assign"), api.AssignRequest{TableID: tableID})
}

func (c *Client) recordCall(ctx context.Context, path string, body any) (*types.RecordDoc, error) {
	var doc types.RecordDoc
	if err := c.do(ctx, http.MethodPost, path, body, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// ActivateAudio unlocks the chime on a device ("" for the node's device)
func (c *Client) ActivateAudio(ctx context.Context, board types.BoardKey, device string) (*api.AudioResponse, error) {
	var resp api.AudioResponse
	if err := c.do(ctx, http.MethodPost, boardPath(board, "/audio/activate"), api.AudioRequest{Device: device}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Ledger lists sent-ledger entries, for every tenant when tenant is empty
func (c *Client) Ledger(ctx context.Context, tenant string, gapsOnly bool) ([]*types.LedgerEntry, error) {
	path := "/v1/ledger"
	if tenant != "" {
		path = "/v1/tenants/" + url.PathEscape(tenant) + "/ledger"
	}
	if gapsOnly {
		path += "?gaps=true"
	}
	var resp api.LedgerResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Entries, nil
}

// CheckBoard asks the node's gRPC health service for a board's status
func CheckBoard(ctx context.Context, grpcAddr string, board types.BoardKey) (string, error) {
	conn, err := grpc.NewClient(grpcAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return "", fmt.Errorf("failed to connect to %s: %w", grpcAddr, err)
	}
	defer conn.Close()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{
		Service: api.ServiceName(board),
	})
	if err != nil {
		return "", err
	}
	return resp.Status.String(), nil
}
