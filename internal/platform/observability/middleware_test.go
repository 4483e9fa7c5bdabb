package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/hanko-field/commerce/internal/platform/requestctx"
)

func observedLogger() (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return zap.New(core), logs
}

func TestRequestLoggerLevelsByStatus(t *testing.T) {
	cases := []struct {
		status int
		level  zapcore.Level
	}{
		{http.StatusCreated, zapcore.InfoLevel},
		{http.StatusUnprocessableEntity, zapcore.WarnLevel},
		{http.StatusServiceUnavailable, zapcore.ErrorLevel},
	}
	for _, tc := range cases {
		logger, logs := observedLogger()
		router := chi.NewRouter()
		router.Use(InjectLoggerMiddleware(logger), RequestLoggerMiddleware())
		router.Post("/api/v1/orders/{orderID}/returns", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(tc.status)
		})

		req := httptest.NewRequest(http.MethodPost, "/api/v1/orders/ord_1/returns", nil)
		req = req.WithContext(requestctx.WithActor(req.Context(), "account:acct-1"))
		router.ServeHTTP(httptest.NewRecorder(), req)

		completed := logs.FilterMessage("request completed").All()
		if len(completed) != 1 {
			t.Fatalf("status %d: expected one completion entry, got %d", tc.status, len(completed))
		}
		entry := completed[0]
		if entry.Level != tc.level {
			t.Errorf("status %d: expected level %s, got %s", tc.status, tc.level, entry.Level)
		}
		fields := entry.ContextMap()
		if fields["route"] != "/api/v1/orders/{orderID}/returns" {
			t.Errorf("expected route pattern, got %v", fields["route"])
		}
		if fields["principal"] != "account:acct-1" {
			t.Errorf("expected principal field, got %v", fields["principal"])
		}
	}
}

func TestRecoveryMiddlewareWritesEnvelope(t *testing.T) {
	logger, logs := observedLogger()
	handler := RecoveryMiddleware(logger)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] != "internal_server_error" || body["success"] != false {
		t.Fatalf("unexpected body %v", body)
	}
	if logs.FilterMessage("panic recovered").Len() != 1 {
		t.Fatal("expected panic to be logged")
	}
}

func TestEventLoggerPrefersRequestLogger(t *testing.T) {
	base, baseLogs := observedLogger()
	scoped, scopedLogs := observedLogger()
	log := EventLogger(base)

	log(context.Background(), "order.created", map[string]any{"orderId": "ord_1"})
	log(requestctx.WithLogger(context.Background(), scoped), "order.notify.failed", map[string]any{"error": "queue full"})

	if baseLogs.Len() != 1 || baseLogs.All()[0].ContextMap()["orderId"] != "ord_1" {
		t.Fatalf("expected base entry with fields, got %v", baseLogs.All())
	}
	entries := scopedLogs.All()
	if len(entries) != 1 || entries[0].Level != zapcore.WarnLevel {
		t.Fatalf("expected scoped warn entry, got %v", entries)
	}
}

func TestNewLoggerFallsBackToInfo(t *testing.T) {
	logger, err := newLogger("not-a-level", []string{"stderr"})
	if err != nil {
		t.Fatalf("newLogger: %v", err)
	}
	if logger.Core().Enabled(zapcore.DebugLevel) || !logger.Core().Enabled(zapcore.InfoLevel) {
		t.Fatal("expected info level")
	}
}

func TestLogSafeStripsControlCharacters(t *testing.T) {
	cases := map[string]struct {
		in    string
		limit int
		want  string
	}{
		"newline injection": {in: "/cart\n{\"level\":\"error\"}", limit: 180, want: "/cart{\"level\":\"error\"}"},
		"truncates runes":   {in: "注文注文注文", limit: 4, want: "注文注文"},
		"tabs dropped":      {in: "GET\t", limit: 10, want: "GET"},
	}
	for name, tc := range cases {
		if got := logSafe(tc.in, tc.limit); got != tc.want {
			t.Errorf("%s: logSafe(%q) = %q, want %q", name, tc.in, got, tc.want)
		}
	}
	if got := logRoute(""); got != "/" {
		t.Errorf("expected empty route to render as /, got %q", got)
	}
	if got := logMethod("post"); got != "POST" {
		t.Errorf("expected upper-cased method, got %q", got)
	}
}

func TestRemoteIPStripsPortAndControlCharacters(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil)
	req.RemoteAddr = "203.0.113.7:54321"
	if got := remoteIP(req); got != "203.0.113.7" {
		t.Fatalf("expected host only, got %q", got)
	}

	req.RemoteAddr = "evil\nhost"
	if got := remoteIP(req); got != "evilhost" {
		t.Fatalf("expected control characters dropped, got %q", got)
	}
}
