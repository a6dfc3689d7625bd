// Package imxmetrics exposes the engine's C10 statistics as Prometheus
// metrics. Every recorder is safe to call from hot paths and is a no-op
// until [Enable] has been called, so a host that never wants metrics pays
// nothing beyond a single atomic load per call.
package imxmetrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var enabled atomic.Bool

var (
	sectorsUsed          = newGauge("imx_sectors_used", "RAM sectors currently allocated.")
	sectorsFree          = newGauge("imx_sectors_free", "RAM sectors currently free.")
	usagePercent         = newGauge("imx_usage_percent", "RAM pool usage percentage.")
	peakUsagePercent     = newGauge("imx_peak_usage_percent", "Highest RAM pool usage percentage observed.")
	fragmentationPercent = newGauge("imx_fragmentation_percent", "Allocator fragmentation percentage.")
	pendingDiskWrites    = newGauge("imx_pending_disk_writes", "Disk writes the state machine has not yet performed.")
	flushProgress        = newGauge("imx_flush_progress", "Progress of the most recent flush-to-disk request, 0-101.")

	allocationsTotal        = newCounter("imx_allocations_total", "Sector allocations performed.")
	deallocationsTotal      = newCounter("imx_deallocations_total", "Sector frees performed.")
	allocationFailuresTotal = newCounter("imx_allocation_failures_total", "Allocation requests that found no free sector.")
	diskFilesCreatedTotal   = newCounter("imx_disk_files_created_total", "Disk files created by migration or disk-path fallback.")
	diskFilesDeletedTotal   = newCounter("imx_disk_files_deleted_total", "Disk files deleted.")
	diskFilesCorruptedTotal = newCounter("imx_disk_files_corrupted_total", "Disk files quarantined after failing checksum validation.")
	journalRecordsTotal     = newCounter("imx_journal_records_total", "Recovery journal records appended.")
)

func newGauge(name, help string) prometheus.Gauge {
	g := prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: help})
	prometheus.MustRegister(g)

	return g
}

func newCounter(name, help string) prometheus.Counter {
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: help})
	prometheus.MustRegister(c)

	return c
}

// Enable turns recording on or off. Hosts that never call Enable(true) get
// a fully inert package: every recorder below returns immediately.
func Enable(on bool) {
	enabled.Store(on)
}

// Enabled reports whether recording is currently turned on.
func Enabled() bool {
	return enabled.Load()
}

// Observe updates the six snapshot gauges (everything except
// imx_flush_progress, which [SetFlushProgress] sets) from the fields of a
// single [imxengine.Snapshot]. Call it
// once per tick, or whenever a host polls Engine.GetMemoryStatistics. It
// takes plain fields rather than imxengine.Snapshot directly so this
// package never needs to import the engine (engine.go imports this
// package to drive it, and Go doesn't allow the reverse).
func Observe(used, free, usagePct, peakUsagePct, fragmentationPct, pendingWrites int) {
	if !Enabled() {
		return
	}

	sectorsUsed.Set(float64(used))
	sectorsFree.Set(float64(free))
	usagePercent.Set(float64(usagePct))
	peakUsagePercent.Set(float64(peakUsagePct))
	fragmentationPercent.Set(float64(fragmentationPct))
	pendingDiskWrites.Set(float64(pendingWrites))
}

// RecordAllocation counts one successful sector allocation.
func RecordAllocation() {
	if !Enabled() {
		return
	}

	allocationsTotal.Inc()
}

// RecordDeallocation counts one sector free.
func RecordDeallocation() {
	if !Enabled() {
		return
	}

	deallocationsTotal.Inc()
}

// RecordAllocationFailure counts one allocation request that found no free
// sector (RAM exhausted before the disk-path fallback, or the fallback
// itself failing).
func RecordAllocationFailure() {
	if !Enabled() {
		return
	}

	allocationFailuresTotal.Inc()
}

// RecordDiskFileCreated counts one disk file created by migration (C9) or
// the disk-path fallback (C4).
func RecordDiskFileCreated() {
	if !Enabled() {
		return
	}

	diskFilesCreatedTotal.Inc()
}

// RecordDiskFileDeleted counts one disk file removed.
func RecordDiskFileDeleted() {
	if !Enabled() {
		return
	}

	diskFilesDeletedTotal.Inc()
}

// RecordDiskFileCorrupted counts one disk file quarantined to corrupted/
// after failing header or checksum validation.
func RecordDiskFileCorrupted() {
	if !Enabled() {
		return
	}

	diskFilesCorruptedTotal.Inc()
}

// RecordJournalRecord counts one recovery journal record appended.
func RecordJournalRecord() {
	if !Enabled() {
		return
	}

	journalRecordsTotal.Inc()
}

// SetFlushProgress mirrors [imxengine.Engine.GetFlushProgress] (0..100 in
// progress, 101 once a flush has completed) onto imx_flush_progress.
func SetFlushProgress(progress int) {
	if !Enabled() {
		return
	}

	flushProgress.Set(float64(progress))
}

// Serve starts a background HTTP server exposing /metrics via promhttp. An
// empty addr is a no-op: the host may already run its own registry-backed
// endpoint, and returns a stop func that does nothing and a nil error.
func Serve(addr string) (stop func() error, err error) {
	if addr == "" {
		return func() error { return nil }, nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)

	go func() {
		serveErr := srv.ListenAndServe()
		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			errCh <- serveErr
		}
	}()

	stop = func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		return srv.Shutdown(ctx)
	}

	select {
	case err = <-errCh:
		return nil, fmt.Errorf("imxmetrics: serve %s: %w", addr, err)
	case <-time.After(50 * time.Millisecond):
		return stop, nil
	}
}
