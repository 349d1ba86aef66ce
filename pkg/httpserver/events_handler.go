package httpserver

import (
	"context"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/nmoreira/weatheredge/pkg/types"
	"go.uber.org/zap"
)

// EventReader exposes the threshold-crossing pending events for the
// read-only API.
type EventReader interface {
	PendingEvents(ctx context.Context, city, targetDate string) ([]*types.PendingEvent, error)
}

// EventsHandler serves the pending-events view for one city and date.
type EventsHandler struct {
	reader EventReader
	logger *zap.Logger
}

// NewEventsHandler creates an events handler.
func NewEventsHandler(reader EventReader, logger *zap.Logger) *EventsHandler {
	return &EventsHandler{reader: reader, logger: logger}
}

type eventView struct {
	City           string  `json:"city"`
	TargetDate     string  `json:"target_date"`
	Venue          string  `json:"venue"`
	RangeName      string  `json:"range_name"`
	Side           string  `json:"side"`
	MetarHigh      float64 `json:"metar_high"`
	AskAtDetection float64 `json:"ask_at_detection"`
	WUTriggered    bool    `json:"wu_triggered"`
	WUConfirmed    bool    `json:"wu_confirmed"`
	Repriced       bool    `json:"market_repriced"`
}

// HandleEvents returns the pending events for ?city=&date=.
func (h *EventsHandler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	city := r.URL.Query().Get("city")
	date := r.URL.Query().Get("date")
	if city == "" || date == "" {
		http.Error(w, "city and date query parameters are required", http.StatusBadRequest)
		return
	}

	events, err := h.reader.PendingEvents(r.Context(), city, date)
	if err != nil {
		h.logger.Error("events-query-failed", zap.Error(err))
		http.Error(w, "events unavailable", http.StatusInternalServerError)
		return
	}

	out := make([]eventView, 0, len(events))
	for _, e := range events {
		out = append(out, eventView{
			City:           e.City,
			TargetDate:     e.TargetDate,
			Venue:          string(e.Venue),
			RangeName:      e.RangeName,
			Side:           string(e.Side),
			MetarHigh:      e.MetarHigh,
			AskAtDetection: e.AskAtDetection,
			WUTriggered:    e.WUTriggered,
			WUConfirmed:    e.WUConfirmedAt != nil,
			Repriced:       e.MarketRepricedAt != nil || e.KalshiMarketRepricedAt != nil,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}
