package imxmetrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/imxengine/imxengine/internal/imxmetrics"
)

func gaugeValue(t *testing.T, name string) float64 {
	t.Helper()

	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}

	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}

		m := fam.GetMetric()[0]
		if m.GetGauge() != nil {
			return m.GetGauge().GetValue()
		}

		return m.GetCounter().GetValue()
	}

	t.Fatalf("metric %q not found", name)

	return 0
}

// Contract: recorders are no-ops until Enable(true) has been called, so a
// host that never opts in sees no counter movement.
func Test_Recorders_NoOpUntilEnabled(t *testing.T) {
	imxmetrics.Enable(false)

	before := gaugeValue(t, "imx_allocations_total")

	imxmetrics.RecordAllocation()

	after := gaugeValue(t, "imx_allocations_total")

	if after != before {
		t.Fatalf("allocations_total moved from %v to %v while disabled", before, after)
	}
}

// Contract: once enabled, Observe updates the snapshot gauges from a single
// snapshot's fields.
func Test_Observe_UpdatesGaugesWhenEnabled(t *testing.T) {
	imxmetrics.Enable(true)
	t.Cleanup(func() { imxmetrics.Enable(false) })

	imxmetrics.Observe(10, 20, 33, 50, 5, 2)

	if gaugeValue(t, "imx_sectors_used") != 10 {
		t.Fatalf("imx_sectors_used = %v, want 10", gaugeValue(t, "imx_sectors_used"))
	}

	if gaugeValue(t, "imx_usage_percent") != 33 {
		t.Fatalf("imx_usage_percent = %v, want 33", gaugeValue(t, "imx_usage_percent"))
	}

	if gaugeValue(t, "imx_pending_disk_writes") != 2 {
		t.Fatalf("imx_pending_disk_writes = %v, want 2", gaugeValue(t, "imx_pending_disk_writes"))
	}
}

// Contract: once enabled, per-event recorders increment their counters.
func Test_RecordAllocation_IncrementsWhenEnabled(t *testing.T) {
	imxmetrics.Enable(true)
	t.Cleanup(func() { imxmetrics.Enable(false) })

	before := gaugeValue(t, "imx_allocations_total")

	imxmetrics.RecordAllocation()

	after := gaugeValue(t, "imx_allocations_total")

	if after != before+1 {
		t.Fatalf("allocations_total = %v, want %v", after, before+1)
	}
}
