package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hanko-field/commerce/internal/platform/requestctx"
)

func TestTraceMiddlewareContinuesTraceparent(t *testing.T) {
	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"
	var got requestctx.TraceInfo
	handler := TraceMiddleware("shop-prod")(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		got, _ = requestctx.Trace(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil)
	req.Header.Set("traceparent", "00-"+traceID+"-00f067aa0ba902b7-01")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if got.TraceID != traceID {
		t.Fatalf("expected trace id %s, got %q", traceID, got.TraceID)
	}
	if got.ProjectID != "shop-prod" {
		t.Fatalf("expected project id, got %q", got.ProjectID)
	}
	if resource := loggingTraceResource(got); resource != "projects/shop-prod/traces/"+traceID {
		t.Fatalf("unexpected trace resource %q", resource)
	}
}

func TestTraceMiddlewareWithoutHeader(t *testing.T) {
	var seen bool
	handler := TraceMiddleware("")(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		_, seen = requestctx.Trace(r.Context())
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if !seen {
		t.Fatal("expected trace info on context")
	}
}

func TestRequestAttributesBoundUserAgent(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil)
	req.Header.Set("User-Agent", "shop-app/1.0\t"+strings.Repeat("x", 400))

	var ua string
	for _, attr := range requestAttributes(req) {
		if attr.Key == "user_agent.original" {
			ua = attr.Value.AsString()
		}
	}
	if !strings.HasPrefix(ua, "shop-app/1.0x") {
		t.Fatalf("expected tab dropped from user agent, got %q", ua)
	}
	if n := len([]rune(ua)); n != maxUserAgentRunes {
		t.Fatalf("expected user agent capped at %d runes, got %d", maxUserAgentRunes, n)
	}
}
