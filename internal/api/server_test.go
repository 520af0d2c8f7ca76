package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/budgetgate/internal/budget"
	"github.com/Veraticus/budgetgate/internal/common"
	"github.com/Veraticus/budgetgate/internal/conflict"
	"github.com/Veraticus/budgetgate/internal/document"
	"github.com/Veraticus/budgetgate/internal/ledgerimport"
	"github.com/Veraticus/budgetgate/internal/metrics"
	"github.com/Veraticus/budgetgate/internal/registry"
	"github.com/Veraticus/budgetgate/internal/testutil"
	"github.com/Veraticus/budgetgate/internal/validator"
)

// appTransport routes client requests straight into the fiber app.
type appTransport struct {
	app *fiber.App
}

func (t appTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return t.app.Test(req, -1)
}

func setupServer(t *testing.T) (*testutil.TestDB, *Server, *Client) {
	t.Helper()
	db := testutil.SetupTestDB(t)

	computer := metrics.NewComputer(db.Storage, time.Hour)
	t.Cleanup(computer.Close)

	server := NewServer(Services{
		Registry:  registry.New(db.Storage),
		Budgets:   budget.NewLedger(db.Storage, computer),
		Metrics:   computer,
		Validator: validator.NewService(db.Storage, computer, validator.PolicyFailOpen),
		Documents: document.NewService(db.Storage),
		Conflicts: conflict.NewResolver(db.Storage, computer, nil),
		Ledger:    ledgerimport.NewImporter(db.Storage, computer),
	}, Config{})

	client := NewClient("http://budgetgate.test", WithHTTPClient(&http.Client{Transport: appTransport{app: server.App()}}))
	return db, server, client
}

func TestHealthz(t *testing.T) {
	_, server, _ := setupServer(t)

	resp, err := server.App().Test(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRawErrors(t *testing.T) {
	_, server, _ := setupServer(t)

	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		wantStatus int
		wantCode   string
	}{
		{name: "malformed json", method: http.MethodPost, path: "/api/accounts", body: `{"code":`, wantStatus: http.StatusBadRequest, wantCode: CodeBadRequest},
		{name: "bad id", method: http.MethodGet, path: "/api/budgets/abc", wantStatus: http.StatusBadRequest, wantCode: CodeBadRequest},
		{name: "unknown route", method: http.MethodGet, path: "/api/nope", wantStatus: http.StatusNotFound, wantCode: CodeRoute},
		{name: "missing budget", method: http.MethodGet, path: "/api/budgets/42", wantStatus: http.StatusNotFound, wantCode: common.CodeNotFound},
		{name: "bad status filter", method: http.MethodGet, path: "/api/budgets?status=OPEN", wantStatus: http.StatusBadRequest, wantCode: CodeBadRequest},
		{name: "bad date", method: http.MethodPost, path: "/api/validation/preview", body: `{"date":"15/06/2024","lines":[]}`, wantStatus: http.StatusUnprocessableEntity, wantCode: common.CodeValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body io.Reader
			if tt.body != "" {
				body = strings.NewReader(tt.body)
			}
			req := httptest.NewRequest(tt.method, tt.path, body)
			req.Header.Set("Content-Type", "application/json")

			resp, err := server.App().Test(req)
			require.NoError(t, err)
			defer func() { _ = resp.Body.Close() }()

			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			data, err := io.ReadAll(resp.Body)
			require.NoError(t, err)
			assert.Contains(t, string(data), `"errorCode":"`+tt.wantCode+`"`)
			assert.NotEmpty(t, resp.Header.Get(fiber.HeaderXRequestID))
		})
	}
}

func TestToErrorResponse(t *testing.T) {
	tests := []struct {
		err        error
		name       string
		wantCode   string
		wantStatus int
	}{
		{name: "validation", err: common.NewValidationError("name", "is required"), wantStatus: 422, wantCode: common.CodeValidation},
		{name: "invalid state", err: &common.InvalidStateError{Operation: "confirm", Status: "DONE", BudgetID: 1}, wantStatus: 409, wantCode: common.CodeInvalidState},
		{name: "no budget", err: &common.NoBudgetFoundError{Date: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}, wantStatus: 422, wantCode: common.CodeNoBudgetFound},
		{name: "no line", err: &common.NoBudgetLineError{AccountID: 1}, wantStatus: 422, wantCode: common.CodeNoBudgetLine},
		{name: "exceeded", err: &common.BudgetExceededError{AccountID: 1}, wantStatus: 422, wantCode: common.CodeBudgetExceeded},
		{name: "already resolved", err: &common.AlreadyResolvedError{SuggestionID: 1, Status: "ACCEPTED"}, wantStatus: 409, wantCode: common.CodeAlreadyResolved},
		{name: "concurrency", err: &common.ConcurrencyConflictError{Entity: "budget", ID: 1, Expected: 1, Actual: 2}, wantStatus: 409, wantCode: common.CodeConcurrencyConflict},
		{name: "transient", err: &common.TransientError{Op: "query", Err: context.DeadlineExceeded}, wantStatus: 503, wantCode: common.CodeTransient},
		{name: "wrapped not found", err: errors.Join(errors.New("budget 3"), common.ErrNotFound), wantStatus: 404, wantCode: common.CodeNotFound},
		{name: "unexpected", err: errors.New("disk on fire"), wantStatus: 500, wantCode: common.CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := toErrorResponse(tt.err)
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantCode, body.ErrorCode)
			assert.NotEmpty(t, body.Message)
		})
	}

	_, body := toErrorResponse(errors.New("secret connection string"))
	assert.NotContains(t, body.Message, "secret")
}
