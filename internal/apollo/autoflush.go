package apollo

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// AutoFlusher is sugar over the explicit FlushAllRegionMeasurements
// API: it sums every region's per-step execution count on a fixed
// polling interval and triggers a flush once the total reaches a
// configured threshold, mirroring the original runtime's step-count-
// driven auto-flush cadence. The explicit API remains authoritative;
// nothing here bypasses it or changes its semantics.
type AutoFlusher struct {
	apollo    *Apollo
	threshold uint64
	interval  time.Duration
	logger    *zap.Logger

	flushing int32
}

// NewAutoFlusher builds an AutoFlusher that polls every interval and
// flushes once the sum of every region's ExecCountCurrentStep reaches
// threshold.
func NewAutoFlusher(a *Apollo, threshold uint64, interval time.Duration, logger *zap.Logger) *AutoFlusher {
	return &AutoFlusher{apollo: a, threshold: threshold, interval: interval, logger: logger}
}

// Run blocks, polling on Interval until ctx is canceled.
func (f *AutoFlusher) Run(ctx context.Context) {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.pollOnce(ctx)
		}
	}
}

func (f *AutoFlusher) pollOnce(ctx context.Context) {
	if !atomic.CompareAndSwapInt32(&f.flushing, 0, 1) {
		return
	}
	defer atomic.StoreInt32(&f.flushing, 0)

	var total uint64
	for _, name := range f.apollo.RegionNames() {
		if r := f.apollo.Region(name); r != nil {
			total += r.ExecCountCurrentStep()
		}
	}
	if total < f.threshold {
		return
	}

	if _, err := f.apollo.FlushAllRegionMeasurements(ctx); err != nil {
		f.logger.Warn("autoflush: flush failed", zap.Error(err))
	}
}
