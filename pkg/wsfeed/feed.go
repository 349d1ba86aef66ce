// Package wsfeed maintains an optional websocket subscription to the
// structured venue's ticker channel so the exit evaluator can read fresher
// bids than the polling adapter provides. The feed degrades to nothing on
// failure; consumers always fall back to polled quotes.
package wsfeed

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Tick is one top-of-book update for a market ticker.
type Tick struct {
	MarketTicker string
	YesBid       float64
	YesAsk       float64
	ReceivedAt   time.Time
}

// Feed is a reconnecting market-data subscription.
type Feed struct {
	url     string
	logger  *zap.Logger
	dialer  *websocket.Dialer
	mu      sync.RWMutex
	latest  map[string]Tick
	tickers []string
	wg      sync.WaitGroup
}

// Config holds feed configuration.
type Config struct {
	URL         string
	DialTimeout time.Duration
	Logger      *zap.Logger
}

// New creates a feed. Start must be called before Latest returns data.
func New(cfg *Config) *Feed {
	dialTimeout := cfg.DialTimeout
	if dialTimeout == 0 {
		dialTimeout = 10 * time.Second
	}
	return &Feed{
		url:    cfg.URL,
		logger: cfg.Logger,
		dialer: &websocket.Dialer{HandshakeTimeout: dialTimeout},
		latest: make(map[string]Tick),
	}
}

// Subscribe replaces the ticker set; takes effect on the next (re)connect.
func (f *Feed) Subscribe(tickers []string) {
	f.mu.Lock()
	f.tickers = append([]string(nil), tickers...)
	f.mu.Unlock()
}

// Latest returns the most recent tick for a market ticker, if any has been
// seen since the feed connected.
func (f *Feed) Latest(marketTicker string) (Tick, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	t, ok := f.latest[marketTicker]
	return t, ok
}

// Start runs the read loop with exponential backoff until ctx is cancelled.
func (f *Feed) Start(ctx context.Context) {
	f.wg.Add(1)
	go f.run(ctx)
}

func (f *Feed) run(ctx context.Context) {
	defer f.wg.Done()

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		if ctx.Err() != nil {
			return
		}

		err := f.connectAndRead(ctx)
		if ctx.Err() != nil {
			return
		}

		ReconnectsTotal.Inc()
		f.logger.Warn("wsfeed-disconnected",
			zap.Error(err),
			zap.Duration("backoff", backoff))

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

type subscribeCmd struct {
	ID     int            `json:"id"`
	Cmd    string         `json:"cmd"`
	Params map[string]any `json:"params"`
}

type tickerMsg struct {
	Type string `json:"type"`
	Msg  struct {
		MarketTicker string `json:"market_ticker"`
		YesBid       int    `json:"yes_bid"`
		YesAsk       int    `json:"yes_ask"`
	} `json:"msg"`
}

func (f *Feed) connectAndRead(ctx context.Context) error {
	conn, _, err := f.dialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	f.mu.RLock()
	tickers := append([]string(nil), f.tickers...)
	f.mu.RUnlock()

	if len(tickers) > 0 {
		cmd := subscribeCmd{
			ID:  1,
			Cmd: "subscribe",
			Params: map[string]any{
				"channels":       []string{"ticker"},
				"market_tickers": tickers,
			},
		}
		if err := conn.WriteJSON(cmd); err != nil {
			return fmt.Errorf("subscribe: %w", err)
		}
	}

	f.logger.Info("wsfeed-connected", zap.Int("tickers", len(tickers)))

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		var msg tickerMsg
		if err := json.Unmarshal(data, &msg); err != nil || msg.Type != "ticker" {
			continue
		}

		tick := Tick{
			MarketTicker: msg.Msg.MarketTicker,
			YesBid:       float64(msg.Msg.YesBid) / 100,
			YesAsk:       float64(msg.Msg.YesAsk) / 100,
			ReceivedAt:   time.Now(),
		}

		f.mu.Lock()
		f.latest[tick.MarketTicker] = tick
		f.mu.Unlock()
		TicksReceivedTotal.Inc()
	}
}

// Wait blocks until the feed goroutine has exited.
func (f *Feed) Wait() {
	f.wg.Wait()
}
