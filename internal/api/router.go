// Package api exposes the read-only HTTP surface over positions and the
// WebSocket relay for live position updates. It never mutates positions;
// all writes flow through the stream consumers.
package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"position-ledger/internal/model"
)

// Server bundles the HTTP handlers over a position store and the live
// update hub.
type Server struct {
	store model.PositionStore
	hub   *Hub
}

// NewServer creates the API server. hub may be nil to disable /ws.
func NewServer(store model.PositionStore, hub *Hub) *Server {
	return &Server{store: store, hub: hub}
}

// Router builds the HTTP route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/api/positions", s.handleList).Methods(http.MethodGet)
	r.HandleFunc("/api/positions/summary", s.handleSummary).Methods(http.MethodGet)
	r.HandleFunc("/api/positions/{ticker}", s.handleGet).Methods(http.MethodGet)
	if s.hub != nil {
		r.HandleFunc("/ws", s.hub.HandleWS)
	}
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	positions, err := s.store.FindAll(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "listing positions")
		return
	}
	if positions == nil {
		positions = []*model.Position{}
	}
	writeJSON(w, http.StatusOK, positions)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	ticker := mux.Vars(r)["ticker"]
	pos, err := s.store.FindByTicker(r.Context(), ticker)
	if errors.Is(err, model.ErrNotFound) {
		writeError(w, http.StatusNotFound, "unknown ticker "+ticker)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "loading position")
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

// Summary aggregates portfolio-level totals by summing position fields.
type Summary struct {
	TotalPositions     int64           `json:"total_positions"`
	OpenPositions      int64           `json:"open_positions"`
	TotalInvested      decimal.Decimal `json:"total_invested"`
	TotalFees          decimal.Decimal `json:"total_fees"`
	TotalMarketValue   decimal.Decimal `json:"total_market_value"`
	UnrealizedGainLoss decimal.Decimal `json:"unrealized_gain_loss"`
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	total, err := s.store.CountAll(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "counting positions")
		return
	}
	open, err := s.store.CountWithShares(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "counting open positions")
		return
	}
	positions, err := s.store.FindAll(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "listing positions")
		return
	}

	sum := Summary{
		TotalPositions:     total,
		OpenPositions:      open,
		TotalInvested:      decimal.Zero,
		TotalFees:          decimal.Zero,
		TotalMarketValue:   decimal.Zero,
		UnrealizedGainLoss: decimal.Zero,
	}
	for _, p := range positions {
		sum.TotalInvested = sum.TotalInvested.Add(p.TotalInvestedAmount)
		sum.TotalFees = sum.TotalFees.Add(p.TotalTransactionFees)
		sum.TotalMarketValue = sum.TotalMarketValue.Add(p.TotalMarketValue)
		sum.UnrealizedGainLoss = sum.UnrealizedGainLoss.Add(p.UnrealizedGainLoss)
	}
	writeJSON(w, http.StatusOK, sum)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[api] encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
