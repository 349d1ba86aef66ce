// Package notify batches routine alerts into periodic digests and pushes
// critical ones immediately. Components never talk to Telegram directly;
// they hand the notifier a line of text and move on.
package notify

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Sink delivers one message to the operator.
type Sink interface {
	Send(text string) error
}

// Config holds notifier parameters.
type Config struct {
	// MaxDigestLines caps the lines per flushed digest message; overflow
	// stays queued for the next flush.
	MaxDigestLines int

	Sink   Sink
	Logger *zap.Logger
}

// Notifier queues routine lines and sends critical ones straight through.
type Notifier struct {
	cfg    *Config
	logger *zap.Logger

	mu     sync.Mutex
	queued []string
}

// New creates a notifier.
func New(cfg *Config) *Notifier {
	if cfg.MaxDigestLines <= 0 {
		cfg.MaxDigestLines = 30
	}
	return &Notifier{cfg: cfg, logger: cfg.Logger}
}

// Critical sends immediately. A failed send is logged and the line joins
// the queue so the next digest still carries it.
func (n *Notifier) Critical(ctx context.Context, text string) {
	if err := n.cfg.Sink.Send(text); err != nil {
		n.logger.Error("critical-alert-send-failed", zap.Error(err))
		n.Queue(text)
		SendFailuresTotal.Inc()
		return
	}
	SentTotal.WithLabelValues("critical").Inc()
}

// Queue holds a line for the next digest.
func (n *Notifier) Queue(text string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.queued = append(n.queued, text)
	QueuedTotal.Inc()
}

// Flush sends the queued lines as one digest. On failure the lines stay
// queued; a digest is never dropped on a transient sink error.
func (n *Notifier) Flush(ctx context.Context) {
	n.mu.Lock()
	batch := n.queued
	if len(batch) > n.cfg.MaxDigestLines {
		batch = batch[:n.cfg.MaxDigestLines]
	}
	n.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	var b strings.Builder
	for _, line := range batch {
		b.WriteString("• ")
		b.WriteString(line)
		b.WriteString("\n")
	}
	if err := n.cfg.Sink.Send(strings.TrimRight(b.String(), "\n")); err != nil {
		n.logger.Warn("digest-send-failed",
			zap.Int("lines", len(batch)), zap.Error(err))
		SendFailuresTotal.Inc()
		return
	}

	n.mu.Lock()
	n.queued = n.queued[len(batch):]
	n.mu.Unlock()
	SentTotal.WithLabelValues("digest").Inc()
}

// Pending returns the queued line count.
func (n *Notifier) Pending() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.queued)
}
