package httpserver

import (
	"context"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/nmoreira/weatheredge/pkg/types"
	"go.uber.org/zap"
)

// PositionReader exposes the open positions and the paper bankroll for the
// read-only API.
type PositionReader interface {
	OpenPositions(ctx context.Context) ([]*types.Trade, error)
	BankrollSnapshot() (yesAvailable, noAvailable float64)
}

// PositionsHandler serves the open-positions view.
type PositionsHandler struct {
	reader PositionReader
	logger *zap.Logger
}

// NewPositionsHandler creates a positions handler.
func NewPositionsHandler(reader PositionReader, logger *zap.Logger) *PositionsHandler {
	return &PositionsHandler{reader: reader, logger: logger}
}

type positionsResponse struct {
	YesAvailable float64        `json:"yes_available"`
	NoAvailable  float64        `json:"no_available"`
	Open         []positionView `json:"open"`
}

type positionView struct {
	City       string  `json:"city"`
	TargetDate string  `json:"target_date"`
	Venue      string  `json:"venue"`
	RangeName  string  `json:"range_name"`
	Side       string  `json:"side"`
	Shares     int     `json:"shares"`
	Cost       float64 `json:"cost"`
	EntryAsk   float64 `json:"entry_ask"`
	CurrentBid float64 `json:"current_bid"`
	Reason     string  `json:"entry_reason"`
}

// HandlePositions returns all open trades plus the bankroll snapshot.
func (h *PositionsHandler) HandlePositions(w http.ResponseWriter, r *http.Request) {
	trades, err := h.reader.OpenPositions(r.Context())
	if err != nil {
		h.logger.Error("positions-query-failed", zap.Error(err))
		http.Error(w, "positions unavailable", http.StatusInternalServerError)
		return
	}

	yes, no := h.reader.BankrollSnapshot()
	resp := positionsResponse{
		YesAvailable: yes,
		NoAvailable:  no,
		Open:         make([]positionView, 0, len(trades)),
	}
	for _, t := range trades {
		resp.Open = append(resp.Open, positionView{
			City:       t.City,
			TargetDate: t.TargetDate,
			Venue:      string(t.Venue),
			RangeName:  t.RangeName,
			Side:       string(t.Side),
			Shares:     t.Shares,
			Cost:       t.Cost,
			EntryAsk:   t.EntryAsk,
			CurrentBid: t.CurrentBid,
			Reason:     string(t.EntryReason),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
