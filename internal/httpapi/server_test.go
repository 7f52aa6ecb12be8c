package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/hamed0406/proxyscore/internal/domain"
	"github.com/hamed0406/proxyscore/internal/metrics"
)

func get(t *testing.T, h http.Handler, path string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	b, _ := io.ReadAll(rec.Body)
	return rec.Code, string(b)
}

func TestHealthz(t *testing.T) {
	code, body := get(t, NewOpsServer(zap.NewNop(), nil).Router(), "/healthz")
	if code != http.StatusOK || body != "ok" {
		t.Fatalf("healthz: %d %q", code, body)
	}
}

func TestReadyz(t *testing.T) {
	s := NewOpsServer(zap.NewNop(), nil)
	if code, _ := get(t, s.Router(), "/readyz"); code != http.StatusOK {
		t.Fatalf("want 200 without check, got %d", code)
	}

	s.Ready = func(context.Context) error { return errors.New("db down") }
	if code, _ := get(t, s.Router(), "/readyz"); code != http.StatusServiceUnavailable {
		t.Fatalf("want 503, got %d", code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	m := metrics.New()
	m.ObserveRound(domain.Success(1))
	m.Candidate(metrics.ResultAlive)

	code, body := get(t, NewOpsServer(zap.NewNop(), m.Gatherer()).Router(), "/metrics")
	if code != http.StatusOK {
		t.Fatalf("metrics: %d", code)
	}
	for _, want := range []string{`proxyscore_probes_total{outcome="ok"} 1`, `proxyscore_candidates_total{result="alive"} 1`} {
		if !strings.Contains(body, want) {
			t.Fatalf("missing %q in metrics output", want)
		}
	}
}

func TestNoProxyDataRoutes(t *testing.T) {
	if code, _ := get(t, NewOpsServer(nil, nil).Router(), "/api/proxies"); code != http.StatusNotFound {
		t.Fatalf("want 404, got %d", code)
	}
}
