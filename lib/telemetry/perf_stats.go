package telemetry

import (
	"context"
	"log/slog"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"go.opentelemetry.io/otel"
)

var processMeter = otel.Meter("refwatch.process")

// InstrumentPerfStats samples process health every 30 seconds until
// ctx is cancelled.
func InstrumentPerfStats(ctx context.Context) {
	cpuGauge, _ := processMeter.Float64Gauge("cpu_usage")
	heapGauge, _ := processMeter.Int64Gauge("allocated_mb")
	objectsGauge, _ := processMeter.Int64Gauge("live_objects")
	goroutineGauge, _ := processMeter.Int64Gauge("goroutine_count")

	sample := func() {
		var stats runtime.MemStats
		runtime.ReadMemStats(&stats)
		heapGauge.Record(ctx, int64(stats.Alloc/1_000_000))
		objectsGauge.Record(ctx, int64(stats.Mallocs-stats.Frees))
		goroutineGauge.Record(ctx, int64(runtime.NumGoroutine()))

		usage, err := cpu.Percent(time.Minute, false)
		if err != nil {
			slog.WarnContext(ctx, "failed to sample cpu usage", "err", err)
			return
		}
		cpuGauge.Record(ctx, usage[0])
	}

	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				sample()
			case <-ctx.Done():
				return
			}
		}
	}()
}
