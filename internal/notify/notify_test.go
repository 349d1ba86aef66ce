package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeSink struct {
	sent []string
	err  error
}

func (f *fakeSink) Send(text string) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, text)
	return nil
}

func TestCritical_SendsImmediately(t *testing.T) {
	sink := &fakeSink{}
	n := New(&Config{Sink: sink, Logger: zap.NewNop()})

	n.Critical(context.Background(), "guaranteed win entered")

	require.Len(t, sink.sent, 1)
	assert.Equal(t, "guaranteed win entered", sink.sent[0])
	assert.Equal(t, 0, n.Pending())
}

func TestFlush_BatchesQueuedLines(t *testing.T) {
	sink := &fakeSink{}
	n := New(&Config{Sink: sink, Logger: zap.NewNop()})

	n.Queue("first")
	n.Queue("second")
	n.Flush(context.Background())

	require.Len(t, sink.sent, 1)
	assert.Equal(t, "• first\n• second", sink.sent[0])
	assert.Equal(t, 0, n.Pending())

	// Nothing queued, nothing sent.
	n.Flush(context.Background())
	assert.Len(t, sink.sent, 1)
}

func TestFlush_FailureKeepsQueue(t *testing.T) {
	sink := &fakeSink{err: errors.New("timeout")}
	n := New(&Config{Sink: sink, Logger: zap.NewNop()})

	n.Queue("kept")
	n.Flush(context.Background())
	assert.Equal(t, 1, n.Pending())

	sink.err = nil
	n.Flush(context.Background())
	require.Len(t, sink.sent, 1)
	assert.Equal(t, "• kept", sink.sent[0])
	assert.Equal(t, 0, n.Pending())
}

func TestFlush_RespectsDigestCap(t *testing.T) {
	sink := &fakeSink{}
	n := New(&Config{MaxDigestLines: 2, Sink: sink, Logger: zap.NewNop()})

	n.Queue("a")
	n.Queue("b")
	n.Queue("c")
	n.Flush(context.Background())

	require.Len(t, sink.sent, 1)
	assert.Equal(t, "• a\n• b", sink.sent[0])
	assert.Equal(t, 1, n.Pending())
}

func TestCritical_FailureFallsBackToQueue(t *testing.T) {
	sink := &fakeSink{err: errors.New("down")}
	n := New(&Config{Sink: sink, Logger: zap.NewNop()})

	n.Critical(context.Background(), "urgent")
	assert.Equal(t, 1, n.Pending())
}

func TestTelegramSink_DisabledFallsBackToLog(t *testing.T) {
	sink, err := NewTelegramSink("", 0, zap.NewNop())
	require.NoError(t, err)
	assert.NoError(t, sink.Send("anything"))
}
