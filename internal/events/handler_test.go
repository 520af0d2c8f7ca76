package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/budgetgate/internal/common"
	"github.com/Veraticus/budgetgate/internal/model"
)

type fakeDelivery struct {
	acked    bool
	nacked   bool
	requeued bool
}

func (d *fakeDelivery) Ack(bool) error {
	d.acked = true
	return nil
}

func (d *fakeDelivery) Nack(_, requeue bool) error {
	d.nacked = true
	d.requeued = requeue
	return nil
}

type fakeIngester struct {
	err   error
	batch []model.CategorySuggestion
}

func (f *fakeIngester) Ingest(_ context.Context, batch []model.CategorySuggestion) ([]model.CategorySuggestion, error) {
	f.batch = batch
	if f.err != nil {
		return nil, f.err
	}
	return batch, nil
}

type recordingPublisher struct {
	err     error
	keys    []string
	payload []any
}

func (p *recordingPublisher) Publish(_ context.Context, routingKey string, payload any) error {
	p.keys = append(p.keys, routingKey)
	p.payload = append(p.payload, payload)
	return p.err
}

func TestHandleDelivery(t *testing.T) {
	tests := []struct {
		handlerErr  error
		name        string
		wantAck     bool
		wantRequeue bool
		wantNack    bool
	}{
		{name: "success acks", wantAck: true},
		{name: "transient failure requeues", handlerErr: errors.New("database is locked"), wantNack: true, wantRequeue: true},
		{name: "permanent failure drops", handlerErr: &PermanentError{Err: errors.New("bad payload")}, wantNack: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			delivery := &fakeDelivery{}
			handleDelivery(context.Background(), delivery, "msg-1", []byte(`{}`), func(context.Context, []byte) error {
				return tt.handlerErr
			})
			assert.Equal(t, tt.wantAck, delivery.acked)
			assert.Equal(t, tt.wantNack, delivery.nacked)
			assert.Equal(t, tt.wantRequeue, delivery.requeued)
		})
	}
}

func TestSuggestionHandler(t *testing.T) {
	body := []byte(`{
		"batchId": "b-1",
		"suggestions": [
			{"billLineId": 3, "analyticalAccountId": 7, "confidenceScore": 0.9, "parametersUsed": ["product", "partner"]},
			{"billLineId": 3, "analyticalAccountId": 8, "confidenceScore": 0.6, "parametersUsed": ["partner"]}
		]
	}`)

	t.Run("decodes and ingests", func(t *testing.T) {
		ingester := &fakeIngester{}
		require.NoError(t, NewSuggestionHandler(ingester)(context.Background(), body))
		require.Len(t, ingester.batch, 2)
		assert.Equal(t, int64(3), ingester.batch[0].BillLineID)
		assert.Equal(t, int64(7), ingester.batch[0].AccountID)
		assert.InDelta(t, 0.9, ingester.batch[0].Confidence, 1e-9)
		assert.Equal(t, []string{"product", "partner"}, ingester.batch[0].ParametersUsed)
	})

	tests := []struct {
		ingestErr     error
		name          string
		body          []byte
		wantPermanent bool
	}{
		{name: "malformed json", body: []byte(`{"suggestions": [`), wantPermanent: true},
		{name: "validation failure", body: body, ingestErr: common.NewValidationError("confidence", "out of range"), wantPermanent: true},
		{name: "already resolved", body: body, ingestErr: &common.AlreadyResolvedError{SuggestionID: 1, Status: "ACCEPTED"}, wantPermanent: true},
		{name: "transient storage failure", body: body, ingestErr: &common.TransientError{Op: "insert", Err: errors.New("locked")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewSuggestionHandler(&fakeIngester{err: tt.ingestErr})(context.Background(), tt.body)
			require.Error(t, err)
			var permanent *PermanentError
			assert.Equal(t, tt.wantPermanent, errors.As(err, &permanent))
		})
	}
}

func TestInvalidationPublisher(t *testing.T) {
	publisher := &recordingPublisher{}
	InvalidationPublisher(publisher)([]int64{4, 9})

	require.Equal(t, []string{RoutingMetricsInvalidated}, publisher.keys)
	event, ok := publisher.payload[0].(MetricsInvalidatedEvent)
	require.True(t, ok)
	assert.Equal(t, []int64{4, 9}, event.BudgetIDs)

	// Failures are swallowed
	publisher.err = errors.New("closed")
	assert.NotPanics(t, func() { InvalidationPublisher(publisher)([]int64{1}) })
}

func TestExponentialBackoff(t *testing.T) {
	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second},
		{15, 30 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, exponentialBackoff(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestIsConnectionError(t *testing.T) {
	tests := []struct {
		err      error
		name     string
		expected bool
	}{
		{name: "nil", err: nil, expected: false},
		{name: "refused", err: errors.New("dial tcp: connection refused"), expected: true},
		{name: "closed delivery channel", err: errors.New("message channel closed"), expected: true},
		{name: "eof", err: errors.New("unexpected EOF"), expected: true},
		{name: "broken pipe", err: errors.New("write: broken pipe"), expected: true},
		{name: "other", err: errors.New("access refused"), expected: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, isConnectionError(tt.err))
		})
	}
}
