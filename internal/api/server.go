// Package api serves the operator HTTP surface: read-only views of
// markets, positions, orders, trades and risk, the admin unblock
// endpoint, the Prometheus scrape handler, and websocket push
// channels.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/wolfinch/wolfinch/internal/candle"
	"github.com/wolfinch/wolfinch/internal/events"
	"github.com/wolfinch/wolfinch/internal/logger"
	"github.com/wolfinch/wolfinch/internal/order"
	"github.com/wolfinch/wolfinch/internal/risk"
	"github.com/wolfinch/wolfinch/internal/telemetry"
)

// MarketSummary is the list view of one market.
type MarketSummary struct {
	Key     string  `json:"key"`
	Venue   string  `json:"venue"`
	Product string  `json:"product"`
	State   string  `json:"state"`
	Mark    float64 `json:"mark"`
}

// Provider is the supervisor-facing read surface the API renders.
type Provider interface {
	MarketSummaries() []MarketSummary
	MarketCandles(key string, limit int) (candle.Series, error)
	OpenOrders() []order.Order
	RiskStats() risk.Stats
	DailyTrades() []risk.TradeRecord
	Unblock()
	SinkHealth() []events.SinkHealth
}

// Config tunes the server.
type Config struct {
	Addr           string
	AdminSecretEnv string
}

// Server is the operator HTTP server.
type Server struct {
	cfg      Config
	provider Provider
	hub      *Hub
	server   *http.Server
	log      *logger.Logger
	secret   []byte
}

// NewServer wires the routes.
func NewServer(cfg Config, provider Provider, hub *Hub) *Server {
	s := &Server{
		cfg:      cfg,
		provider: provider,
		hub:      hub,
		log:      logger.Component("api-server"),
	}
	if cfg.AdminSecretEnv != "" {
		s.secret = []byte(os.Getenv(cfg.AdminSecretEnv))
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /markets", s.handleMarkets)
	mux.HandleFunc("GET /markets/{key}/candles", s.handleCandles)
	mux.HandleFunc("GET /positions", s.handlePositions)
	mux.HandleFunc("GET /orders", s.handleOrders)
	mux.HandleFunc("GET /trades", s.handleTrades)
	mux.HandleFunc("GET /pnl", s.handlePnL)
	mux.HandleFunc("GET /risk/status", s.handleRiskStatus)
	mux.HandleFunc("POST /risk/unblock", s.handleUnblock)
	mux.HandleFunc("/ws", hub.HandleWS)
	mux.Handle("GET /metrics", telemetry.Handler())

	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start serves until Shutdown.
func (s *Server) Start() error {
	s.log.Info("operator api listening", "addr", s.cfg.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	return s.server.Shutdown(ctx)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.WithError(err).Warn("response encode failed")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"sinks":  s.provider.SinkHealth(),
	})
}

func (s *Server) handleMarkets(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.provider.MarketSummaries())
}

func (s *Server) handleCandles(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
			return
		}
		limit = parsed
	}

	series, err := s.provider.MarketCandles(key, limit)
	if err != nil {
		if errors.Is(err, candle.ErrStorageUnavailable) {
			s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "storage unavailable"})
			return
		}
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, series)
}

func (s *Server) handlePositions(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.provider.RiskStats().OpenPositions)
}

func (s *Server) handleOrders(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.provider.OpenOrders())
}

func (s *Server) handleTrades(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.provider.DailyTrades())
}

func (s *Server) handlePnL(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.provider.RiskStats().DailyPnL)
}

func (s *Server) handleRiskStatus(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.provider.RiskStats())
}

// handleUnblock is the only mutating endpoint; it requires a valid
// admin bearer token.
func (s *Server) handleUnblock(w http.ResponseWriter, r *http.Request) {
	if err := s.authorize(r); err != nil {
		s.writeJSON(w, http.StatusUnauthorized, map[string]string{"error": err.Error()})
		return
	}
	s.provider.Unblock()
	s.log.Warn("risk block manually cleared via api")
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "unblocked"})
}

func (s *Server) authorize(r *http.Request) error {
	if len(s.secret) == 0 {
		return errors.New("admin endpoint disabled: no secret configured")
	}
	header := r.Header.Get("Authorization")
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || raw == "" {
		return errors.New("missing bearer token")
	}

	_, err := jwt.Parse(raw, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithExpirationRequired())
	if err != nil {
		return fmt.Errorf("invalid token: %w", err)
	}
	return nil
}
