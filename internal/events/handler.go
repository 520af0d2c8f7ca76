package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Veraticus/budgetgate/internal/common"
	"github.com/Veraticus/budgetgate/internal/model"
	"github.com/Veraticus/budgetgate/internal/service"
)

// Handler processes one message body. Returning a *PermanentError drops the message;
// any other error requeues it.
type Handler func(ctx context.Context, body []byte) error

// PermanentError marks a message that will never succeed, however often it is redelivered.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

// acknowledger is the part of amqp091.Delivery the consumer settles messages with.
type acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

func handleDelivery(ctx context.Context, delivery acknowledger, messageID string, body []byte, handler Handler) {
	err := handler(ctx, body)
	if err == nil {
		if ackErr := delivery.Ack(false); ackErr != nil {
			slog.ErrorContext(ctx, "Failed to ack message", "message_id", messageID, "error", ackErr)
		}
		return
	}

	var permanent *PermanentError
	requeue := !errors.As(err, &permanent)
	slog.ErrorContext(ctx, "Failed to handle message",
		"message_id", messageID,
		"requeue", requeue,
		"error", err)
	if nackErr := delivery.Nack(false, requeue); nackErr != nil {
		slog.ErrorContext(ctx, "Failed to nack message", "message_id", messageID, "error", nackErr)
	}
}

// SuggestionMessage is one classifier suggestion on the wire.
type SuggestionMessage struct {
	ParametersUsed []string `json:"parametersUsed"`
	BillLineID     int64    `json:"billLineId"`
	AccountID      int64    `json:"analyticalAccountId"`
	Confidence     float64  `json:"confidenceScore"`
}

// SuggestionBatch is the message the classifier publishes for an ambiguous bill.
type SuggestionBatch struct {
	BatchID     string              `json:"batchId"`
	Suggestions []SuggestionMessage `json:"suggestions"`
}

// Ingester stores validated suggestions.
type Ingester interface {
	Ingest(ctx context.Context, batch []model.CategorySuggestion) ([]model.CategorySuggestion, error)
}

// NewSuggestionHandler decodes suggestion batches and ingests them. Malformed or
// rejected batches are dropped; storage failures are requeued.
func NewSuggestionHandler(ingester Ingester) Handler {
	return func(ctx context.Context, body []byte) error {
		var batch SuggestionBatch
		if err := json.Unmarshal(body, &batch); err != nil {
			return &PermanentError{Err: fmt.Errorf("decode suggestion batch: %w", err)}
		}

		suggestions := make([]model.CategorySuggestion, len(batch.Suggestions))
		for i, msg := range batch.Suggestions {
			suggestions[i] = model.CategorySuggestion{
				BillLineID:     msg.BillLineID,
				AccountID:      msg.AccountID,
				Confidence:     msg.Confidence,
				ParametersUsed: msg.ParametersUsed,
			}
		}

		stored, err := ingester.Ingest(ctx, suggestions)
		if err != nil {
			switch common.ErrorCode(err) {
			case common.CodeValidation, common.CodeAlreadyResolved:
				return &PermanentError{Err: fmt.Errorf("batch %s: %w", batch.BatchID, err)}
			}
			return fmt.Errorf("batch %s: %w", batch.BatchID, err)
		}

		slog.InfoContext(ctx, "Processed suggestion batch",
			"batch_id", batch.BatchID,
			"suggestions", len(stored))
		return nil
	}
}

// MetricsInvalidatedEvent is the payload of RoutingMetricsInvalidated.
type MetricsInvalidatedEvent struct {
	InvalidatedAt time.Time `json:"invalidatedAt"`
	BudgetIDs     []int64   `json:"budgetIds"`
}

// InvalidationPublisher returns a hook that announces dropped metrics snapshots.
// Publishing is best effort; failures are logged.
func InvalidationPublisher(publisher service.EventPublisher) func(budgetIDs []int64) {
	return func(budgetIDs []int64) {
		event := MetricsInvalidatedEvent{
			InvalidatedAt: time.Now().UTC(),
			BudgetIDs:     budgetIDs,
		}
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := publisher.Publish(ctx, RoutingMetricsInvalidated, event); err != nil {
			slog.Warn("Failed to publish metrics invalidation", "budget_ids", budgetIDs, "error", err)
		}
	}
}
