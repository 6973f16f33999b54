package control

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-engine-kernel/pkg/kernel"
)

func newTestServer(t *testing.T, deps Deps) *Server {
	t.Helper()
	cfg := DefaultConfig()
	cfg.OpsAPIToken = "secret-token"
	return New(zap.NewNop(), cfg, deps)
}

func TestMissingTokenConfigReturns503(t *testing.T) {
	cfg := DefaultConfig() // no token, no token file
	s := New(zap.NewNop(), cfg, Deps{})

	req := httptest.NewRequest(http.MethodPost, "/risk/mode", bytes.NewBufferString(`{"mode":"green"}`))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 with no configured token, got %d", rec.Code)
	}
}

func TestInvalidTokenReturns401(t *testing.T) {
	s := newTestServer(t, Deps{})

	req := httptest.NewRequest(http.MethodPost, "/risk/mode", bytes.NewBufferString(`{"mode":"green"}`))
	req.Header.Set("X-Ops-Token", "wrong")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with invalid token, got %d", rec.Code)
	}
}

func TestSetModeSucceedsWithValidToken(t *testing.T) {
	var gotMode kernel.Mode
	s := newTestServer(t, Deps{SetMode: func(m kernel.Mode) error {
		gotMode = m
		return nil
	}})

	req := httptest.NewRequest(http.MethodPost, "/risk/mode", bytes.NewBufferString(`{"mode":"yellow"}`))
	req.Header.Set("X-Ops-Token", "secret-token")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if gotMode != kernel.ModeYellow {
		t.Fatalf("expected mode yellow to be forwarded, got %q", gotMode)
	}
}

func TestKillRequiresApproverWhenConfigured(t *testing.T) {
	s := newTestServer(t, Deps{SetKillSwitch: func(bool) {}})
	s.cfg.OpsApproverTokens = "ops1,ops2"

	req := httptest.NewRequest(http.MethodPost, "/kill", bytes.NewBufferString(`{"enabled":true}`))
	req.Header.Set("X-Ops-Token", "secret-token")
	req.Header.Set("Idempotency-Key", "k1")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without approver header, got %d", rec.Code)
	}
}

func TestKillSucceedsWithApproverAndIdempotencyKey(t *testing.T) {
	calls := 0
	s := newTestServer(t, Deps{SetKillSwitch: func(enabled bool) { calls++ }})
	s.cfg.OpsApproverTokens = "ops1,ops2"

	req := httptest.NewRequest(http.MethodPost, "/kill", bytes.NewBufferString(`{"enabled":true}`))
	req.Header.Set("X-Ops-Token", "secret-token")
	req.Header.Set("X-Ops-Approver", "ops1")
	req.Header.Set("Idempotency-Key", "k1")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if calls != 1 {
		t.Fatalf("expected SetKillSwitch called once, got %d", calls)
	}
}

func TestKillMissingIdempotencyKeyReturns400(t *testing.T) {
	s := newTestServer(t, Deps{SetKillSwitch: func(bool) {}})
	s.cfg.OpsApproverTokens = "ops1"

	req := httptest.NewRequest(http.MethodPost, "/kill", bytes.NewBufferString(`{"enabled":true}`))
	req.Header.Set("X-Ops-Token", "secret-token")
	req.Header.Set("X-Ops-Approver", "ops1")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without idempotency key, got %d", rec.Code)
	}
}

func TestIdempotencyReplaysStoredResponse(t *testing.T) {
	calls := 0
	s := newTestServer(t, Deps{SetAllocatorWeight: func(strategy string, share float64) error {
		calls++
		return nil
	}})

	body := `{"strategy":"alpha","risk_share":0.2}`
	do := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/allocator/weights", bytes.NewBufferString(body))
		req.Header.Set("X-Ops-Token", "secret-token")
		req.Header.Set("Idempotency-Key", "same-key")
		rec := httptest.NewRecorder()
		s.router.ServeHTTP(rec, req)
		return rec
	}

	first := do()
	second := do()

	if first.Code != http.StatusOK || second.Code != http.StatusOK {
		t.Fatalf("expected both responses to be 200, got %d and %d", first.Code, second.Code)
	}
	if calls != 1 {
		t.Fatalf("expected allocator weight handler invoked once, got %d calls", calls)
	}
	if first.Body.String() != second.Body.String() {
		t.Fatalf("expected replayed body to match original: %q vs %q", first.Body.String(), second.Body.String())
	}
}

func TestIdempotencyConflictOnDifferentBody(t *testing.T) {
	calls := 0
	s := newTestServer(t, Deps{SetAllocatorWeight: func(strategy string, share float64) error {
		calls++
		return nil
	}})

	send := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/allocator/weights", bytes.NewBufferString(body))
		req.Header.Set("X-Ops-Token", "secret-token")
		req.Header.Set("Idempotency-Key", "same-key")
		rec := httptest.NewRecorder()
		s.router.ServeHTTP(rec, req)
		return rec
	}

	first := send(`{"strategy":"alpha","risk_share":0.2}`)
	second := send(`{"strategy":"alpha","risk_share":0.9}`)

	if first.Code != http.StatusOK {
		t.Fatalf("expected first request to succeed, got %d", first.Code)
	}
	if second.Code != http.StatusConflict {
		t.Fatalf("expected 409 on reused key with different body, got %d: %s", second.Code, second.Body.String())
	}
	if calls != 1 {
		t.Fatalf("expected handler invoked once, got %d calls", calls)
	}
}

func TestMetricsGetExposesPrometheusFormat(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_counter"})
	counter.Inc()
	reg.MustRegister(counter)

	cfg := DefaultConfig()
	cfg.OpsAPIToken = "secret-token"
	cfg.MetricsGatherer = reg
	s := New(zap.NewNop(), cfg, Deps{})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from GET /metrics, got %d", rec.Code)
	}
	if !bytes.Contains(rec.Body.Bytes(), []byte("test_counter")) {
		t.Fatalf("expected exposition to contain registered counter, got %q", rec.Body.String())
	}
}

func TestMetricsGetUnregisteredWithoutGatherer(t *testing.T) {
	s := newTestServer(t, Deps{})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	// /metrics is still registered for POST (the push route); with no
	// gatherer configured there's no GET route, so mux reports the path as
	// known but the method as unsupported.
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 with no metrics gatherer configured, got %d", rec.Code)
	}
}

func TestStatusRequiresNoToken(t *testing.T) {
	s := newTestServer(t, Deps{Status: func() any { return map[string]string{"ok": "yes"} }})

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected /status to be unauthenticated, got %d", rec.Code)
	}
}
