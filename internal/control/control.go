// Package control implements the HTTP control plane: a token/two-man/
// idempotency guarded set of operator endpoints for adjusting risk posture,
// pushing metrics, and inspecting engine state.
package control

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-engine-kernel/pkg/kernel"
)

// Config controls the listener, the shared secrets, and the idempotency
// replay window.
type Config struct {
	Addr                 string
	ReadTimeout          time.Duration
	WriteTimeout         time.Duration
	OpsAPIToken          string // OPS_API_TOKEN
	OpsAPITokenFile      string // OPS_API_TOKEN_FILE, preferred over OpsAPIToken when set
	OpsApproverTokens    string // OPS_APPROVER_TOKENS, comma-separated
	IdempotencyRetention time.Duration
	MetricsGatherer      prometheus.Gatherer // nil skips the GET /metrics exposition route
}

// DefaultConfig matches the spec's control-plane defaults.
func DefaultConfig() Config {
	return Config{
		Addr:                 ":8090",
		ReadTimeout:          10 * time.Second,
		WriteTimeout:         10 * time.Second,
		IdempotencyRetention: 24 * time.Hour,
	}
}

// TradeReport is the body of POST /trades.
type TradeReport struct {
	Timestamp time.Time `json:"ts"`
	Strategy  string    `json:"strategy,omitempty"`
	Symbol    string    `json:"symbol,omitempty"`
	Side      string    `json:"side,omitempty"`
	PnLUSD    float64   `json:"pnl_usd,omitempty"`
	LatencyMs float64   `json:"latency_ms,omitempty"`
}

// Deps wires control-plane actions to the rest of the running engine. Every
// field is a closure owned by main.go's component wiring; control never
// reaches into other packages' internals directly.
type Deps struct {
	SetMode            func(mode kernel.Mode) error
	SetKillSwitch      func(enabled bool)
	SetAllocatorWeight func(strategy string, riskShare float64) error
	SetStrategyConfig  func(strategy string, enabled *bool, riskShare *float64) error
	PushMetric         func(name string, value float64)
	RecordTrade        func(trade TradeReport)
	Status             func() any
	Universe           func() any
	SubmitOrder        func(ctx context.Context, intent kernel.OrderIntent) (any, error)
}

// Server is the control-plane HTTP listener.
type Server struct {
	logger     *zap.Logger
	cfg        Config
	deps       Deps
	router     *mux.Router
	httpServer *http.Server

	tokenSrc *tokenSource
	idem     *idempotencyStore
}

// New constructs the server and registers every route. Call Start to begin
// listening.
func New(logger *zap.Logger, cfg Config, deps Deps) *Server {
	s := &Server{
		logger:   logger,
		cfg:      cfg,
		deps:     deps,
		router:   mux.NewRouter(),
		tokenSrc: newTokenSource(cfg.OpsAPIToken, cfg.OpsAPITokenFile),
		idem:     newIdempotencyStore(cfg.IdempotencyRetention),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := s.router
	r.HandleFunc("/risk/mode", s.guard(s.handleSetMode, guardOpts{})).Methods(http.MethodPost)
	r.HandleFunc("/kill", s.guard(s.handleKill, guardOpts{twoMan: true, idempotent: true})).Methods(http.MethodPost)
	r.HandleFunc("/allocator/weights", s.guard(s.handleAllocatorWeights, guardOpts{idempotent: true})).Methods(http.MethodPost)
	r.HandleFunc("/strategies/{strategy}", s.guard(s.handleStrategyConfig, guardOpts{idempotent: true})).Methods(http.MethodPost)
	r.HandleFunc("/metrics", s.guard(s.handlePushMetric, guardOpts{})).Methods(http.MethodPost)
	r.HandleFunc("/metrics/push", s.guard(s.handlePushMetric, guardOpts{})).Methods(http.MethodPost)
	if s.cfg.MetricsGatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.cfg.MetricsGatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	r.HandleFunc("/trades", s.guard(s.handleTrade, guardOpts{})).Methods(http.MethodPost)
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/universe", s.handleUniverse).Methods(http.MethodGet)
	r.HandleFunc("/orders/market", s.guard(s.handleSubmitOrder, guardOpts{idempotent: true})).Methods(http.MethodPost)
}

// Start begins listening. Blocks until Stop shuts the server down or
// ListenAndServe fails for another reason.
func (s *Server) Start() error {
	handler := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}).Handler(s.router)

	s.httpServer = &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      handler,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}
	s.logger.Info("control plane listening", zap.String("addr", s.cfg.Addr))
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop gracefully shuts the listener down within ctx's deadline.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, apiError{Code: code, Message: message})
}

type guardOpts struct {
	twoMan     bool
	idempotent bool
}

// guard wraps handler with the token check, optional two-man approval, and
// optional idempotency replay, in that order.
func (s *Server) guard(handler http.HandlerFunc, opts guardOpts) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		expected, err := s.tokenSrc.load()
		if err != nil {
			s.logger.Error("control plane: token unavailable", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "auth.token_unavailable", "control token not configured")
			return
		}
		if r.Header.Get("X-Ops-Token") != expected {
			writeError(w, http.StatusUnauthorized, "auth.invalid_token", "unauthorized control request")
			return
		}

		if opts.twoMan {
			allowed := parseApproverList(s.cfg.OpsApproverTokens)
			if len(allowed) > 0 {
				approver := r.Header.Get("X-Ops-Approver")
				if approver == "" || !allowed[approver] {
					writeError(w, http.StatusForbidden, "auth.approver_required", "secondary approver token required for this action")
					return
				}
			}
		}

		if opts.idempotent {
			key := r.Header.Get("Idempotency-Key")
			if key == "" {
				writeError(w, http.StatusBadRequest, "idempotency.missing_header", "missing Idempotency-Key header")
				return
			}

			raw, err := io.ReadAll(r.Body)
			if err != nil {
				writeError(w, http.StatusBadRequest, "request.invalid_body", "unreadable request body")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(raw))
			bodyHash := sha256.Sum256(raw)

			if cached, ok := s.idem.get(key); ok {
				if cached.bodyHash != bodyHash {
					writeError(w, http.StatusConflict, "idempotency.key_conflict", "Idempotency-Key reused with a different request body")
					return
				}
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(cached.status)
				_, _ = w.Write(cached.body)
				return
			}
			rec := &recordingWriter{ResponseWriter: w}
			handler(rec, r)
			s.idem.put(key, bodyHash, rec.status, rec.body)
			return
		}

		handler(w, r)
	}
}

// recordingWriter captures the response so the idempotency store can replay
// it verbatim on a repeated key.
type recordingWriter struct {
	http.ResponseWriter
	status int
	body   []byte
}

func (r *recordingWriter) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *recordingWriter) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	r.body = append(r.body, b...)
	return r.ResponseWriter.Write(b)
}

func parseApproverList(raw string) map[string]bool {
	out := map[string]bool{}
	for _, tok := range strings.Split(raw, ",") {
		tok = strings.TrimSpace(tok)
		if tok != "" {
			out[tok] = true
		}
	}
	return out
}

// tokenSource resolves the control-plane secret, preferring a mounted file
// (re-read on mtime change to support rotation) over a static env value.
type tokenSource struct {
	mu         sync.Mutex
	staticTok  string
	path       string
	cachedMod  time.Time
	cachedVal  string
	haveCached bool
}

func newTokenSource(staticTok, path string) *tokenSource {
	return &tokenSource{staticTok: staticTok, path: path}
}

func (t *tokenSource) load() (string, error) {
	if t.path == "" {
		if t.staticTok == "" {
			return "", fmt.Errorf("control: no control token configured")
		}
		return t.staticTok, nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	info, err := os.Stat(t.path)
	if err != nil {
		return "", fmt.Errorf("control: stat token file: %w", err)
	}
	if t.haveCached && info.ModTime().Equal(t.cachedMod) {
		return t.cachedVal, nil
	}
	raw, err := os.ReadFile(t.path)
	if err != nil {
		return "", fmt.Errorf("control: read token file: %w", err)
	}
	val := strings.TrimSpace(string(raw))
	if val == "" {
		return "", fmt.Errorf("control: token file %s is empty", t.path)
	}
	t.cachedVal = val
	t.cachedMod = info.ModTime()
	t.haveCached = true
	return val, nil
}

// idempotencyStore remembers (key -> response) for Config.IdempotencyRetention
// and replays it verbatim on a repeat request.
type idempotencyStore struct {
	mu        sync.Mutex
	retention time.Duration
	entries   map[string]idemEntry
}

type idemEntry struct {
	bodyHash [32]byte
	status   int
	body     []byte
	expires  time.Time
}

func newIdempotencyStore(retention time.Duration) *idempotencyStore {
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &idempotencyStore{retention: retention, entries: make(map[string]idemEntry)}
}

func (s *idempotencyStore) get(key string) (idemEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok || time.Now().After(e.expires) {
		return idemEntry{}, false
	}
	return e, true
}

func (s *idempotencyStore) put(key string, bodyHash [32]byte, status int, body []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = idemEntry{bodyHash: bodyHash, status: status, body: body, expires: time.Now().Add(s.retention)}
}
