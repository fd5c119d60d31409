package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.SetGatewayStatus(3)
	m.GatewayReconnect()
	m.GatewayError("network")
	m.HeartbeatLatency(time.Millisecond)
	m.FrameSent("heartbeat")
	m.RateLimitWait()
	m.Dispatch("READY")
	m.Interaction("command", "forwarded")
	m.SetOverlayViewers(2)
	m.OverlayUpdate()
	m.HTTPRequest("GET", "/", 200, time.Millisecond)

	if New(nil) != nil {
		t.Error("New(nil) should return nil")
	}
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.SetGatewayStatus(3)
	m.FrameSent("presence_update")
	m.HTTPRequest("GET", "/health", 200, 5*time.Millisecond)

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{
		"draftbot_gateway_status 3",
		`draftbot_gateway_frames_sent_total{op="presence_update"} 1`,
		`draftbot_http_requests_total{code="200",method="GET",route="/health"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
