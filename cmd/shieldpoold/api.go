// api.go - REST API for the shielded pool daemon.
package main

import (
	"encoding/json"
	"errors"
	"math/big"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/zkshield/shieldpool/internal/pool"
	"github.com/zkshield/shieldpool/internal/verifier"
)

type apiServer struct {
	pool    *pool.Pool
	events  *pool.Log
	metrics *MetricsCollector
	health  *HealthChecker
	limiter *ClientRateLimiter
	log     zerolog.Logger
}

func (s *apiServer) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/shield", s.limited(s.handleShield))
	mux.HandleFunc("/transact", s.limited(s.handleTransact))
	mux.HandleFunc("/root", s.limited(s.handleRoot))
	mux.HandleFunc("/events", s.limited(s.handleEvents))
	mux.HandleFunc("/admin/keys", s.limited(s.handleRegisterKey))
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/metrics", s.handleMetrics)
	return mux
}

// limited wraps a handler with the per-client token bucket.
func (s *apiServer) limited(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		client := r.RemoteAddr
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			client = host
		}
		if !s.limiter.Allow(client) {
			s.metrics.IncrementCounter(MetricRateLimited, nil)
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next(w, r)
	}
}

type shieldRequest struct {
	Caller string              `json:"caller"`
	Notes  []pool.ShieldRequest `json:"notes"`
}

func (s *apiServer) handleShield(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req shieldRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if !common.IsHexAddress(req.Caller) {
		http.Error(w, "invalid caller address", http.StatusBadRequest)
		return
	}
	if err := s.pool.Shield(r.Context(), common.HexToAddress(req.Caller), req.Notes); err != nil {
		s.rejected(w, err)
		return
	}
	s.metrics.RecordShield(len(req.Notes))
	s.recordPoolState()
	s.writeJSON(w, map[string]any{"status": "accepted", "notes": len(req.Notes)})
}

type transactRequest struct {
	Caller       string             `json:"caller"`
	GasPrice     *big.Int           `json:"gasPrice"`
	Transactions []pool.Transaction `json:"transactions"`
}

func (s *apiServer) handleTransact(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req transactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if !common.IsHexAddress(req.Caller) {
		http.Error(w, "invalid caller address", http.StatusBadRequest)
		return
	}
	start := time.Now()
	err := s.pool.Transact(r.Context(), common.HexToAddress(req.Caller), req.GasPrice, req.Transactions)
	if err != nil {
		s.rejected(w, err)
		return
	}
	s.metrics.RecordTransact(time.Since(start))
	s.recordPoolState()
	s.writeJSON(w, map[string]any{"status": "accepted", "transactions": len(req.Transactions)})
}

func (s *apiServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	root := s.pool.Root()
	s.writeJSON(w, map[string]any{
		"treeNumber": s.pool.TreeNumber(),
		"leafCount":  s.pool.LeafCount(),
		"root":       root.String(),
	})
}

func (s *apiServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var since uint64
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			http.Error(w, "invalid since parameter", http.StatusBadRequest)
			return
		}
		since = parsed
	}
	s.writeJSON(w, map[string]any{"events": s.events.Since(since)})
}

type registerKeyRequest struct {
	Caller  string                  `json:"caller"`
	Inputs  uint8                   `json:"inputs"`
	Outputs uint8                   `json:"outputs"`
	Key     verifier.KeyCoordinates `json:"key"`
}

// handleRegisterKey installs a ceremony-published verifying key for a
// transaction shape. The pool enforces that the caller is an admin.
func (s *apiServer) handleRegisterKey(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req registerKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if !common.IsHexAddress(req.Caller) {
		http.Error(w, "invalid caller address", http.StatusBadRequest)
		return
	}
	vk, err := req.Key.Key()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.pool.RegisterVerifyingKey(common.HexToAddress(req.Caller), req.Inputs, req.Outputs, vk); err != nil {
		s.rejected(w, err)
		return
	}
	s.log.Info().Uint8("inputs", req.Inputs).Uint8("outputs", req.Outputs).Msg("verifying key registered")
	s.writeJSON(w, map[string]any{"status": "registered"})
}

func (s *apiServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := s.health.CheckHealth()
	if health.OverallStatus == Unhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	s.writeJSON(w, health)
}

func (s *apiServer) handleMetrics(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.metrics.Summary())
}

// rejected maps the pool error taxonomy onto HTTP statuses.
func (s *apiServer) rejected(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	reason := "internal"
	switch {
	case errors.Is(err, pool.ErrFormat):
		status, reason = http.StatusBadRequest, "format"
	case errors.Is(err, pool.ErrAuthorization):
		status, reason = http.StatusForbidden, "authorization"
	case errors.Is(err, pool.ErrState):
		status, reason = http.StatusConflict, "state"
	case errors.Is(err, pool.ErrProof):
		status, reason = http.StatusUnprocessableEntity, "proof"
	case errors.Is(err, pool.ErrTransfer):
		status, reason = http.StatusPaymentRequired, "transfer"
	}
	s.metrics.RecordReject(reason)
	s.log.Warn().Err(err).Str("reason", reason).Msg("submission rejected")
	http.Error(w, err.Error(), status)
}

func (s *apiServer) recordPoolState() {
	s.metrics.RecordPoolState(s.pool.LeafCount(), s.pool.SpentCount())
}

func (s *apiServer) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("encoding response")
	}
}
