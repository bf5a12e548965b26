package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestCollectorRegistersAllSeries(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordScan("accepted")
	c.RecordScan("rejected")
	c.RecordRejection("too_soon")
	c.RecordFailOpen()
	c.RecordDuration(3 * time.Millisecond)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	got := map[string]bool{}
	for _, mf := range families {
		got[mf.GetName()] = true
	}
	want := []string{
		"qrattend_scans_total",
		"qrattend_scan_rejections_total",
		"qrattend_dedupe_failopen_total",
		"qrattend_scan_duration_seconds",
	}
	for _, name := range want {
		if !got[name] {
			t.Errorf("metric %s not registered", name)
		}
	}
}
