package prometheus

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrEthical07/authflow"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type fakeSource struct {
	snapshot authflow.MetricsSnapshot
	dropped  uint64
}

func (f fakeSource) MetricsSnapshot() authflow.MetricsSnapshot { return f.snapshot }
func (f fakeSource) AuditDropped() uint64                      { return f.dropped }

func TestCollectOnlyAuditDroppedWhenMetricsDisabled(t *testing.T) {
	c := NewCollectorFromSource(fakeSource{snapshot: authflow.MetricsSnapshot{
		Counters:   map[authflow.MetricID]uint64{},
		Histograms: map[authflow.MetricID][]uint64{},
	}})
	if n := testutil.CollectAndCount(c); n != 1 {
		t.Fatalf("collected %d metrics, want 1", n)
	}
}

func TestCollectCountersAndHistogram(t *testing.T) {
	c := NewCollectorFromSource(fakeSource{
		snapshot: authflow.MetricsSnapshot{
			Counters: map[authflow.MetricID]uint64{
				authflow.MetricSignInSuccess: 7,
				authflow.MetricTOTPReplay:    1,
			},
			Histograms: map[authflow.MetricID][]uint64{
				authflow.MetricVerifyLatency: {1, 2, 3, 4, 5, 6, 7, 8},
			},
		},
		dropped: 2,
	})

	reg := prometheus.NewPedanticRegistry()
	reg.MustRegister(c)

	expected := `
# HELP authflow_sign_in_success_total Password sign-ins that issued a session.
# TYPE authflow_sign_in_success_total counter
authflow_sign_in_success_total 7
# HELP authflow_audit_dropped_total Audit events dropped under backpressure.
# TYPE authflow_audit_dropped_total counter
authflow_audit_dropped_total 2
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"authflow_sign_in_success_total", "authflow_audit_dropped_total"); err != nil {
		t.Fatal(err)
	}

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	for _, mf := range mfs {
		if mf.GetName() != "authflow_second_factor_verify_seconds" {
			continue
		}
		h := mf.GetMetric()[0].GetHistogram()
		if h.GetSampleCount() != 36 {
			t.Fatalf("sample count = %d, want 36", h.GetSampleCount())
		}
		if got := h.GetBucket()[0].GetCumulativeCount(); got != 1 {
			t.Fatalf("first bucket = %d", got)
		}
		return
	}
	t.Fatal("histogram not collected")
}

func TestHandlerServesTextFormat(t *testing.T) {
	c := NewCollectorFromSource(fakeSource{snapshot: authflow.MetricsSnapshot{
		Counters: map[authflow.MetricID]uint64{authflow.MetricEmailCodeSent: 3},
	}})
	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "authflow_email_code_sent_total 3") {
		t.Fatalf("body:\n%s", body)
	}
}
