package api

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"github.com/Veraticus/budgetgate/internal/common"
	"github.com/Veraticus/budgetgate/internal/model"
)

// Error codes that do not come from the domain taxonomy.
const (
	CodeBadRequest = "BAD_REQUEST"
	CodeRoute      = "ROUTE_NOT_FOUND"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Details   map[string]any `json:"details,omitempty"`
	ErrorCode string         `json:"errorCode"`
	Message   string         `json:"message"`
}

// errorHandler maps domain errors to status codes and a stable errorCode.
func errorHandler(c *fiber.Ctx, err error) error {
	status, body := toErrorResponse(err)
	if status >= fiber.StatusInternalServerError {
		slog.Error("Request failed",
			"method", c.Method(),
			"path", c.Path(),
			"status", status,
			"request_id", c.GetRespHeader(fiber.HeaderXRequestID),
			"error", err)
	}
	return c.Status(status).JSON(body)
}

func toErrorResponse(err error) (int, ErrorResponse) {
	var (
		fiberErr    *fiber.Error
		validation  *common.ValidationError
		state       *common.InvalidStateError
		noBudget    *common.NoBudgetFoundError
		noLine      *common.NoBudgetLineError
		exceeded    *common.BudgetExceededError
		resolved    *common.AlreadyResolvedError
		concurrency *common.ConcurrencyConflictError
		transient   *common.TransientError
	)

	switch {
	case errors.As(err, &validation):
		return fiber.StatusUnprocessableEntity, ErrorResponse{
			ErrorCode: validation.Code(),
			Message:   validation.Error(),
			Details:   map[string]any{"field": validation.Field},
		}
	case errors.As(err, &state):
		return fiber.StatusConflict, ErrorResponse{
			ErrorCode: state.Code(),
			Message:   state.Error(),
			Details: map[string]any{
				"budgetId":  state.BudgetID,
				"status":    state.Status,
				"operation": state.Operation,
			},
		}
	case errors.As(err, &noBudget):
		return fiber.StatusUnprocessableEntity, ErrorResponse{
			ErrorCode: noBudget.Code(),
			Message:   noBudget.Error(),
			Details:   map[string]any{"date": noBudget.Date.Format(model.DateLayout)},
		}
	case errors.As(err, &noLine):
		return fiber.StatusUnprocessableEntity, ErrorResponse{
			ErrorCode: noLine.Code(),
			Message:   noLine.Error(),
			Details: map[string]any{
				"accountId":   noLine.AccountID,
				"accountName": noLine.AccountName,
				"budgetId":    noLine.BudgetID,
				"budgetName":  noLine.BudgetName,
				"lineType":    noLine.LineType,
			},
		}
	case errors.As(err, &exceeded):
		return fiber.StatusUnprocessableEntity, ErrorResponse{
			ErrorCode: exceeded.Code(),
			Message:   exceeded.Error(),
			Details: map[string]any{
				"accountId":   exceeded.AccountID,
				"accountName": exceeded.AccountName,
				"budgetId":    exceeded.BudgetID,
				"budgetName":  exceeded.BudgetName,
				"requested":   exceeded.Requested.String(),
				"planned":     exceeded.Planned.String(),
				"spent":       exceeded.Spent.String(),
				"remaining":   exceeded.Remaining.String(),
			},
		}
	case errors.As(err, &resolved):
		return fiber.StatusConflict, ErrorResponse{
			ErrorCode: resolved.Code(),
			Message:   resolved.Error(),
			Details: map[string]any{
				"suggestionId": resolved.SuggestionID,
				"status":       resolved.Status,
			},
		}
	case errors.As(err, &concurrency):
		return fiber.StatusConflict, ErrorResponse{
			ErrorCode: concurrency.Code(),
			Message:   concurrency.Error(),
			Details: map[string]any{
				"entity":   concurrency.Entity,
				"id":       concurrency.ID,
				"expected": concurrency.Expected,
				"actual":   concurrency.Actual,
			},
		}
	case errors.As(err, &transient):
		return fiber.StatusServiceUnavailable, ErrorResponse{
			ErrorCode: transient.Code(),
			Message:   "storage is temporarily unavailable, retry the request",
		}
	case errors.Is(err, common.ErrNotFound):
		return fiber.StatusNotFound, ErrorResponse{
			ErrorCode: common.CodeNotFound,
			Message:   err.Error(),
		}
	case errors.As(err, &fiberErr):
		code := CodeBadRequest
		if fiberErr.Code == fiber.StatusNotFound {
			code = CodeRoute
		}
		return fiberErr.Code, ErrorResponse{ErrorCode: code, Message: fiberErr.Message}
	default:
		return fiber.StatusInternalServerError, ErrorResponse{
			ErrorCode: common.CodeInternal,
			Message:   "internal server error",
		}
	}
}

func badRequest(format string, args ...any) error {
	return fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf(format, args...))
}
