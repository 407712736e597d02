package telemetry

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInstrumentCountsByStatusClass(t *testing.T) {
	h := Instrument("info", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	before := testutil.ToFloat64(RequestsTotal.WithLabelValues("info", "4xx"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/info", nil))
	after := testutil.ToFloat64(RequestsTotal.WithLabelValues("info", "4xx"))

	if after-before != 1 {
		t.Fatalf("requests_total{info,4xx} delta = %v, want 1", after-before)
	}
}

func TestMetricsHandlerExposesEventMetrics(t *testing.T) {
	EventsQueued.WithLabelValues(ClassGuaranteed).Inc()

	rec := httptest.NewRecorder()
	MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body := rec.Body.String()
	for _, name := range []string{"zephyrnet_events_queued_total", "zephyrnet_uptime_seconds"} {
		if !strings.Contains(body, name) {
			t.Fatalf("/metrics output missing %s", name)
		}
	}
}

func TestDeliveryClass(t *testing.T) {
	if DeliveryClass(true) != ClassGuaranteed || DeliveryClass(false) != ClassBestEffort {
		t.Fatal("DeliveryClass mislabels")
	}
}
