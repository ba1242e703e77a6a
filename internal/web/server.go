// Package web is the HTTP control surface over the trading core.
package web

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/crypto/acme/autocert"

	"github.com/vadiminshakov/torra/internal"
	"github.com/vadiminshakov/torra/internal/domain"
)

const (
	statusPollInterval = 2 * time.Second
	maxRankingSize     = 500
	defaultCertCache   = "cert-cache"
)

type core interface {
	BuildRanking(ctx context.Context, n int) ([]domain.RankingRow, error)
	Decide(ctx context.Context) (domain.Decision, error)
	TryEnter(ctx context.Context) (internal.EnterOutcome, error)
	Equity(ctx context.Context) (decimal.Decimal, error)
	Status(ctx context.Context) internal.Status
}

// Server exposes the core operations as JSON endpoints plus a status stream.
type Server struct {
	Addr   string
	core   core
	logger *zap.Logger
}

// NewServer creates a new web server instance.
func NewServer(addr string, c core, logger *zap.Logger) *Server {
	return &Server{Addr: addr, core: c, logger: logger}
}

// Handler returns the routed mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ranking", s.handleRanking)
	mux.HandleFunc("GET /decision", s.handleDecision)
	mux.HandleFunc("POST /enter", s.handleEnter)
	mux.HandleFunc("GET /equity", s.handleEquity)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /status/stream", s.handleStatusStream)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

// Start runs the HTTP server (blocking) and shuts it down when ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go shutdownOnDone(ctx, server)

	s.logger.Info("control surface listening", zap.String("addr", s.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// StartWithAutoTLS serves the control surface over HTTPS with certificates
// obtained via ACME. A listener on :80 answers HTTP-01 challenges.
func (s *Server) StartWithAutoTLS(ctx context.Context, domains []string, cacheDir string) error {
	manager, err := newCertManager(domains, cacheDir)
	if err != nil {
		return err
	}

	tlsConfig := manager.TLSConfig()
	tlsConfig.MinVersion = tls.VersionTLS12

	challenge := &http.Server{
		Addr:              ":80",
		Handler:           manager.HTTPHandler(nil),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	server := &http.Server{
		Addr:              s.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
		TLSConfig:         tlsConfig,
	}
	go shutdownOnDone(ctx, challenge)
	go shutdownOnDone(ctx, server)

	errCh := make(chan error, 1)
	go func() {
		if err := challenge.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("acme challenge listener: %w", err)
		}
	}()

	s.logger.Info("control surface listening with tls",
		zap.String("addr", s.Addr),
		zap.Strings("domains", domains))
	go func() {
		if err := server.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		_ = server.Close()
		_ = challenge.Close()
		return err
	}
}

func newCertManager(domains []string, cacheDir string) (*autocert.Manager, error) {
	if len(domains) == 0 {
		return nil, errors.New("no domains provided for automatic TLS")
	}
	if cacheDir == "" {
		cacheDir = defaultCertCache
	}
	return &autocert.Manager{
		Prompt:     autocert.AcceptTOS,
		HostPolicy: autocert.HostWhitelist(domains...),
		Cache:      autocert.DirCache(cacheDir),
	}, nil
}

func shutdownOnDone(ctx context.Context, server *http.Server) {
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
}

func (s *Server) handleRanking(w http.ResponseWriter, r *http.Request) {
	n := 0
	if raw := r.URL.Query().Get("n"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 || v > maxRankingSize {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("n must be an integer in [1, %d]", maxRankingSize))
			return
		}
		n = v
	}
	rows, err := s.core.BuildRanking(r.Context(), n)
	if err != nil {
		s.writeError(w, http.StatusBadGateway, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleDecision(w http.ResponseWriter, r *http.Request) {
	d, err := s.core.Decide(r.Context())
	if err != nil {
		s.writeError(w, http.StatusBadGateway, err)
		return
	}
	s.writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleEnter(w http.ResponseWriter, r *http.Request) {
	out, err := s.core.TryEnter(r.Context())
	if err != nil {
		body := struct {
			internal.EnterOutcome
			Error string `json:"error"`
		}{out, err.Error()}
		s.writeJSON(w, http.StatusUnprocessableEntity, body)
		return
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleEquity(w http.ResponseWriter, r *http.Request) {
	eq, err := s.core.Equity(r.Context())
	if err != nil {
		s.writeError(w, http.StatusBadGateway, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]decimal.Decimal{"equity": eq})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.core.Status(r.Context()))
}

// handleStatusStream pushes a status event whenever a new cycle has completed.
func (s *Server) handleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()
	poll := time.NewTicker(statusPollInterval)
	defer poll.Stop()

	var last time.Time
	send := func() {
		st := s.core.Status(r.Context())
		if !last.IsZero() && !st.LastCycleAt.After(last) {
			return
		}
		last = st.LastCycleAt
		if last.IsZero() {
			last = time.Unix(0, 1)
		}
		payload, err := json.Marshal(st)
		if err != nil {
			s.logger.Error("status stream marshal", zap.Error(err))
			return
		}
		fmt.Fprintf(w, "event: status\n")
		fmt.Fprintf(w, "data: %s\n\n", payload)
		flusher.Flush()
	}

	send()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprintf(w, ": ping\n\n")
			flusher.Flush()
		case <-poll.C:
			send()
		}
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("failed to write response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}
