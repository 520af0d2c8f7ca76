package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// APIError is a non-2xx response decoded from the server's ErrorResponse.
type APIError struct {
	Details map[string]any
	Code    string
	Message string
	Status  int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
}

// IsCode reports whether err is an APIError with the given errorCode.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// Client is a typed client for the budgetgate HTTP API. Every call returns either a
// decoded value or an error; a non-2xx response is always an *APIError.
type Client struct {
	http    *http.Client
	baseURL string
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.http = hc
	}
}

// NewClient creates a client for the server at baseURL, e.g. http://localhost:8080.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateAccount registers an analytical account.
func (c *Client) CreateAccount(ctx context.Context, code, name string) (Account, error) {
	return call[Account](ctx, c, http.MethodPost, "/api/accounts", CreateAccountRequest{Code: code, Name: name})
}

// ListAccounts lists analytical accounts.
func (c *Client) ListAccounts(ctx context.Context, activeOnly bool) ([]Account, error) {
	return call[[]Account](ctx, c, http.MethodGet, "/api/accounts?active="+strconv.FormatBool(activeOnly), nil)
}

// DeactivateAccount marks an account inactive.
func (c *Client) DeactivateAccount(ctx context.Context, id int64) (Account, error) {
	return call[Account](ctx, c, http.MethodPost, fmt.Sprintf("/api/accounts/%d/deactivate", id), nil)
}

// CreateBudget creates a DRAFT budget.
func (c *Client) CreateBudget(ctx context.Context, req CreateBudgetRequest) (Budget, error) {
	return call[Budget](ctx, c, http.MethodPost, "/api/budgets", req)
}

// GetBudget reads a budget with its lines.
func (c *Client) GetBudget(ctx context.Context, id int64) (Budget, error) {
	return call[Budget](ctx, c, http.MethodGet, fmt.Sprintf("/api/budgets/%d", id), nil)
}

// AddBudgetLine appends a line to a DRAFT budget.
func (c *Client) AddBudgetLine(ctx context.Context, budgetID int64, version int, line BudgetLine) (Budget, error) {
	return call[Budget](ctx, c, http.MethodPost, fmt.Sprintf("/api/budgets/%d/lines", budgetID),
		LineRequest{Version: version, Line: line})
}

// ConfirmBudget confirms a DRAFT budget. A zero version skips the optimistic check.
func (c *Client) ConfirmBudget(ctx context.Context, id int64, version int) (Budget, error) {
	return c.transition(ctx, id, "confirm", version)
}

// ValidateBudget moves a CONFIRMED budget to VALIDATED.
func (c *Client) ValidateBudget(ctx context.Context, id int64, version int) (Budget, error) {
	return c.transition(ctx, id, "validate", version)
}

// DoneBudget closes a budget.
func (c *Client) DoneBudget(ctx context.Context, id int64, version int) (Budget, error) {
	return c.transition(ctx, id, "done", version)
}

// CancelBudget cancels a budget.
func (c *Client) CancelBudget(ctx context.Context, id int64, version int) (Budget, error) {
	return c.transition(ctx, id, "cancel", version)
}

// ReviseBudget spawns a DRAFT revision of a CONFIRMED budget.
func (c *Client) ReviseBudget(ctx context.Context, id int64, version int) (Budget, error) {
	return c.transition(ctx, id, "revise", version)
}

func (c *Client) transition(ctx context.Context, id int64, op string, version int) (Budget, error) {
	return call[Budget](ctx, c, http.MethodPost, fmt.Sprintf("/api/budgets/%d/%s", id, op), VersionRequest{Version: version})
}

// ComputeMetrics re-derives a budget's metrics from the ledger.
func (c *Client) ComputeMetrics(ctx context.Context, budgetID int64) (Metrics, error) {
	return call[Metrics](ctx, c, http.MethodPost, fmt.Sprintf("/api/budgets/%d/metrics/compute", budgetID), nil)
}

// GetMetrics returns a budget's latest metrics.
func (c *Client) GetMetrics(ctx context.Context, budgetID int64) (Metrics, error) {
	return call[Metrics](ctx, c, http.MethodGet, fmt.Sprintf("/api/budgets/%d/metrics", budgetID), nil)
}

// Preview returns advisory warnings for draft lines. It never fails on budget grounds.
func (c *Client) Preview(ctx context.Context, req PreviewRequest) (PreviewResponse, error) {
	return call[PreviewResponse](ctx, c, http.MethodPost, "/api/validation/preview", req)
}

// CommitDocument confirms an order or bill through the authoritative budget gate.
func (c *Client) CommitDocument(ctx context.Context, req CommitDocumentRequest) (Document, error) {
	return call[Document](ctx, c, http.MethodPost, "/api/documents", req)
}

// ListConflicts lists the lines of a document awaiting categorization.
func (c *Client) ListConflicts(ctx context.Context, documentID string) (ConflictsResponse, error) {
	return call[ConflictsResponse](ctx, c, http.MethodGet, "/api/documents/"+url.PathEscape(documentID)+"/conflicts", nil)
}

// IngestSuggestions stores classifier suggestions.
func (c *Client) IngestSuggestions(ctx context.Context, suggestions []Suggestion) (IngestResponse, error) {
	return call[IngestResponse](ctx, c, http.MethodPost, "/api/suggestions", IngestRequest{Suggestions: suggestions})
}

// ResolveSuggestion accepts a suggestion and rejects its siblings.
func (c *Client) ResolveSuggestion(ctx context.Context, suggestionID int64) (Resolution, error) {
	return call[Resolution](ctx, c, http.MethodPost, fmt.Sprintf("/api/suggestions/%d/resolve", suggestionID), nil)
}

// RecordLedgerEntries posts ledger activity.
func (c *Client) RecordLedgerEntries(ctx context.Context, entries []LedgerEntry) (RecordLedgerResponse, error) {
	return call[RecordLedgerResponse](ctx, c, http.MethodPost, "/api/ledger-entries", RecordLedgerRequest{Entries: entries})
}

func call[T any](ctx context.Context, c *Client, method, path string, body any) (T, error) {
	var out T

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return out, fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return out, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return out, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return out, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var errBody ErrorResponse
		if err := json.Unmarshal(data, &errBody); err != nil || errBody.ErrorCode == "" {
			return out, &APIError{
				Status:  resp.StatusCode,
				Code:    http.StatusText(resp.StatusCode),
				Message: strings.TrimSpace(string(data)),
			}
		}
		return out, &APIError{
			Status:  resp.StatusCode,
			Code:    errBody.ErrorCode,
			Message: errBody.Message,
			Details: errBody.Details,
		}
	}

	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("failed to decode response: %w", err)
	}
	return out, nil
}
