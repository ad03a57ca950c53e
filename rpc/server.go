package rpc

import (
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"sterling/core"
)

const requestBodyLimit = 1 << 20 // 1 MiB

const requestIDHeader = "X-Request-Id"

// QuoteSink accepts off-protocol price observations.
type QuoteSink interface {
	Push(asset common.Address, price *big.Int, timestamp uint64) error
}

// Options tunes the HTTP surface. Zero values fall back to defaults.
type Options struct {
	// Limits keys route groups ("query", "action") to their budgets.
	Limits map[string]RateLimit
	// Quotes, when set, enables the price-push endpoint.
	Quotes QuoteSink
}

// Server exposes the protocol over HTTP+JSON.
type Server struct {
	protocol *core.Protocol
	logger   *slog.Logger
	limiter  *rateLimiter
	quotes   QuoteSink
}

func NewServer(protocol *core.Protocol, logger *slog.Logger, opts Options) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	limits := opts.Limits
	if limits == nil {
		limits = map[string]RateLimit{
			"query":  {RequestsPerMinute: 600, Burst: 30},
			"action": {RequestsPerMinute: 120, Burst: 10},
		}
	}
	return &Server{
		protocol: protocol,
		logger:   logger.With("component", "rpc"),
		limiter:  newRateLimiter(limits),
		quotes:   opts.Quotes,
	}
}

// Router builds the full route tree, metrics endpoint included.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.requestID)
	r.Use(s.logRequests)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(s.limiter.middleware("query"))
			r.Get("/pools", s.listPools)
			r.Get("/pools/{id}", s.getPool)
			r.Get("/pools/{id}/accounts/{addr}", s.getPoolAccount)
			r.Get("/pools/{id}/ltv/{asset}", s.getLtv)
			r.Get("/positions/{addr}", s.getPosition)
			r.Get("/balances/{addr}/{asset}", s.getBalance)
			r.Get("/oracles/{asset}", s.getOracle)
		})
		r.Group(func(r chi.Router) {
			r.Use(s.limiter.middleware("action"))
			r.Post("/positions", s.newPosition)
			r.Post("/positions/{addr}/batch", s.processBatch)
			r.Post("/positions/{addr}/liquidate", s.liquidate)
			r.Post("/pools/{id}/deposit", s.depositLiquidity)
			r.Post("/pools/{id}/mint", s.mintLiquidity)
			r.Post("/pools/{id}/withdraw", s.withdrawLiquidity)
			r.Post("/pools/{id}/redeem", s.redeemLiquidity)
			r.Post("/pools/{id}/accrue", s.accrue)
			r.Post("/pools/{id}/ltv/{asset}", s.requestLtvUpdate)
			r.Post("/pools/{id}/ltv/{asset}/accept", s.acceptLtvUpdate)
			r.Post("/pools/{id}/ltv/{asset}/reject", s.rejectLtvUpdate)
			if s.quotes != nil {
				r.Post("/oracles/{asset}", s.pushQuote)
			}
		})
	})
	return r
}

func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", w.Header().Get(requestIDHeader),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

type errorBody struct {
	Error string `json:"error"`
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
	}
	s.writeJSON(w, status, errorBody{Error: err.Error()})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	body := http.MaxBytesReader(w, r.Body, requestBodyLimit)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body: " + err.Error()})
		return false
	}
	return true
}
