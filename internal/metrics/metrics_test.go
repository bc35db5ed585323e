package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Wyydra/meshcall/internal/core/domain"
	"github.com/Wyydra/meshcall/internal/core/port"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

var _ port.CallMetrics = (*PrometheusCollector)(nil)

func TestPeerLinkGauge(t *testing.T) {
	c := NewPrometheusCollector()

	c.PeerLinkOpened(domain.RoleCaller)
	c.PeerLinkOpened(domain.RoleCallee)
	c.PeerLinkClosed(domain.ReasonPeerLeft)

	if got := testutil.ToFloat64(c.activeLinks); got != 1 {
		t.Errorf("active links = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.linksOpened.WithLabelValues("caller")); got != 1 {
		t.Errorf("caller links opened = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.linksClosed.WithLabelValues("peer_left")); got != 1 {
		t.Errorf("links closed for peer_left = %v, want 1", got)
	}
}

func TestSignalCounters(t *testing.T) {
	c := NewPrometheusCollector()

	c.SignalSent(domain.TypeOffer)
	c.SignalReceived(domain.TypeAnswer)
	c.StaleSignalDropped(domain.TypeICE)
	c.CandidatesBuffered(3)
	c.MalformedDropped()

	if got := testutil.ToFloat64(c.messagesSent.WithLabelValues("webrtc_offer")); got != 1 {
		t.Errorf("offers sent = %v", got)
	}
	if got := testutil.ToFloat64(c.messagesStale.WithLabelValues("webrtc_ice")); got != 1 {
		t.Errorf("stale ice = %v", got)
	}
	if got := testutil.ToFloat64(c.malformed); got != 1 {
		t.Errorf("malformed = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.bufferedCands); got != 3 {
		t.Errorf("buffered candidates = %v, want 3", got)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	c := NewPrometheusCollector()
	c.TrackReplaced(domain.SourceScreen)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `meshcall_video_source_switches_total{source="screen"} 1`) {
		t.Fatalf("metrics output missing switch counter:\n%s", body)
	}
}
