package cli

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewInterruptHandler(t *testing.T) {
	tests := []struct {
		writer io.Writer
		name   string
	}{
		{
			name:   "with custom writer",
			writer: &bytes.Buffer{},
		},
		{
			name:   "with nil writer",
			writer: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewInterruptHandler(tt.writer)
			assert.NotNil(t, handler)
			assert.NotNil(t, handler.writer)
			assert.False(t, handler.WasInterrupted())
		})
	}
}

func TestInterrupt(t *testing.T) {
	tests := []struct {
		name     string
		hint     string
		contains []string
	}{
		{
			name:     "with hint",
			hint:     "Entries already recorded are kept; re-running the import skips them.",
			contains: []string{"Interrupted!", "re-running the import skips them"},
		},
		{
			name:     "without hint",
			contains: []string{"Interrupted!"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			output := &bytes.Buffer{}
			handler := NewInterruptHandler(output)
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			_ = handler.HandleInterrupts(ctx, tt.hint)

			handler.interrupt()
			handler.interrupt()

			assert.True(t, handler.WasInterrupted())
			for _, s := range tt.contains {
				assert.Contains(t, output.String(), s)
			}
			assert.Equal(t, 1, bytes.Count(output.Bytes(), []byte("Interrupted!")))
		})
	}
}

func TestHandleInterrupts_ParentCancel(t *testing.T) {
	handler := NewInterruptHandler(&bytes.Buffer{})
	parent, cancel := context.WithCancel(context.Background())
	ctx := handler.HandleInterrupts(parent, "")

	select {
	case <-ctx.Done():
		t.Fatal("context should not be canceled initially")
	default:
	}

	cancel()
	<-ctx.Done()
	assert.False(t, handler.WasInterrupted())
}
