package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHandlerExposesCollectors(t *testing.T) {
	t.Parallel()
	m := New()
	m.ObserveRun("success", 2*time.Second)
	m.ObserveRun("error", time.Second)
	m.Skipped("abc")
	m.RegistrationFailed("register")
	m.NotificationFailed()
	m.SetArmed(3)

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rr.Body)
	for _, want := range []string{
		`cronkeep_runs_total{status="success"} 1`,
		`cronkeep_runs_skipped_total{job="abc"} 1`,
		`cronkeep_native_registration_failures_total{op="register"} 1`,
		`cronkeep_notification_failures_total 1`,
		`cronkeep_jobs_armed 3`,
	} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("missing %q in:\n%s", want, body)
		}
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	t.Parallel()
	var m *Metrics
	m.ObserveRun("success", time.Second)
	m.Skipped("x")
	m.SetArmed(1)
}
