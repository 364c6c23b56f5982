// Package apollo implements the facade (C8): the single process-wide
// entry point that owns every region, the shared feature bag, process
// topology, and the external handles (telemetry publisher, collective
// transport, history exporter). Application code talks to Apollo only
// through this package.
package apollo

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/apollo-rt/apollo/internal/feature"
	"github.com/apollo-rt/apollo/internal/history"
	"github.com/apollo-rt/apollo/internal/ingest"
	"github.com/apollo-rt/apollo/internal/model"
	"github.com/apollo-rt/apollo/internal/observability"
	"github.com/apollo-rt/apollo/internal/reduce"
	"github.com/apollo-rt/apollo/internal/region"
	"github.com/apollo-rt/apollo/internal/telemetry"
)

// Topology carries the process-placement facts a region's model may
// condition on (§2), sourced from config at startup.
type Topology struct {
	Rank              int
	Nodes             int
	Procs             int
	CPUsPerNode       int
	ThreadsPerProcCap int
}

// Apollo is the process-wide autotuning facade.
type Apollo struct {
	mu      sync.RWMutex
	regions map[string]*region.Region
	feature *feature.Bag

	topology Topology

	initKind   model.Kind
	initStatic int

	telemetry  telemetry.Publisher
	collective reduce.Collective
	flusher    *reduce.Flusher

	metrics *observability.Metrics
	logger  *zap.Logger
	history *history.Exporter

	runID string
}

// RunID is a process/run identifier generated once at construction and
// exposed for diagnostics. It is not written into exported history rows
// (each row carries its own ID and the rank) nor added to log lines.
func (a *Apollo) RunID() string { return a.runID }

var (
	instance *Apollo
	once     sync.Once
)

// Options configures a new Apollo instance. Zero-value fields fall
// back to single-process, no-telemetry, loopback-collective defaults.
type Options struct {
	Topology      Topology
	InitModelSpec string
	Telemetry     telemetry.Publisher
	Collective    reduce.Collective
	Metrics       *observability.Metrics
	Logger        *zap.Logger
	History       *history.Exporter
}

// Get returns the process-wide Apollo instance, constructing it on
// first call with default options. Most long-running daemons should
// call Init explicitly at startup instead; Get exists for callers
// (library-embedded use, tests) that just want a usable singleton.
func Get() *Apollo {
	once.Do(func() {
		instance = newApollo(Options{})
	})
	return instance
}

// Init constructs the process-wide Apollo instance with explicit
// options. It must be called at most once, before the first call to
// Get; calling it twice is a programming error and panics, matching
// the original's hard assumption of a single Apollo object per
// process.
func Init(opts Options) *Apollo {
	initialized := false
	once.Do(func() {
		instance = newApollo(opts)
		initialized = true
	})
	if !initialized {
		panic("apollo: Init called after the process-wide instance already exists")
	}
	return instance
}

func newApollo(opts Options) *Apollo {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	kind, staticIdx, err := model.ParseInitSpec(opts.InitModelSpec)
	if err != nil {
		logger.Warn("invalid init-model spec, defaulting to Random", zap.Error(err))
		kind, staticIdx = model.KindRandom, 0
	}

	collective := opts.Collective
	if collective == nil {
		collective = reduce.LoopbackCollective{}
	}
	pub := opts.Telemetry
	if pub == nil {
		pub = telemetry.NoopPublisher{}
	}

	a := &Apollo{
		regions:       make(map[string]*region.Region),
		feature:       feature.New(),
		topology:      opts.Topology,
		initKind:      kind,
		initStatic:    staticIdx,
		telemetry:     pub,
		collective:    collective,
		metrics:       opts.Metrics,
		logger:        logger.With(zap.String("component", "apollo")),
		history:       opts.History,
		runID:         uuid.NewString(),
	}
	a.flusher = reduce.NewFlusher(int32(opts.Topology.Rank), 0, collective, 8)
	return a
}

// Topology returns the process's topology as discovered at startup.
func (a *Apollo) Topology() Topology { return a.topology }

// NewRegion registers a new region by name. It is an error to register
// the same name twice (§4.5's "Region redefinition"). The initial
// model is built from the process's init-model spec (§2), applicable
// uniformly to every region since the original has no per-region
// override at construction time.
func (a *Apollo) NewRegion(name string, numPolicies int) (*region.Region, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, exists := a.regions[name]; exists {
		return nil, fmt.Errorf("apollo: region %q already registered", name)
	}

	cfg := model.Config{NumPolicies: numPolicies, StaticIndex: a.initStatic}
	m, err := model.New(a.initKind, cfg)
	if err != nil {
		return nil, fmt.Errorf("apollo: building initial model for region %q: %w", name, err)
	}

	r, err := region.New(name, numPolicies, m, a.feature)
	if err != nil {
		return nil, err
	}
	r.SetMetrics(a.metrics)
	a.regions[name] = r
	a.flusher.FeatureCount = len(a.feature.Names())
	a.logger.Info("region registered", zap.String("region", name), zap.Int("num_policies", numPolicies))
	return r, nil
}

// Region returns a previously registered region, or nil if none exists
// with that name.
func (a *Apollo) Region(name string) *region.Region {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.regions[name]
}

// SetFeature sets a value in the process-wide feature bag (§4.1). The
// bag is shared by every region: feature values are a property of the
// current point in the program's execution, not of any one region.
func (a *Apollo) SetFeature(name string, value float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.feature.Set(name, value)
	a.flusher.FeatureCount = len(a.feature.Names())
}

// GetFeature reads back a value previously set with SetFeature.
func (a *Apollo) GetFeature(name string) float64 {
	return a.feature.Get(name)
}

// AttachModel parses and dispatches a JSON model package (§6) to every
// region it targets. Per-region configuration failures are returned
// alongside successes; the overall error is non-nil only if the
// package itself could not be parsed.
func (a *Apollo) AttachModel(ctx context.Context, pkgBytes []byte) ([]ingest.Result, error) {
	a.mu.RLock()
	snapshot := make(map[string]*region.Region, len(a.regions))
	for k, v := range a.regions {
		snapshot[k] = v
	}
	a.mu.RUnlock()

	_, span := observability.Tracer().Start(ctx, "apollo.AttachModel")
	defer span.End()

	results, err := ingest.Dispatch(pkgBytes, snapshot)
	if err != nil {
		if a.metrics != nil {
			a.metrics.RecordIngestFailure("parse_error")
		}
		return nil, err
	}
	for _, res := range results {
		if res.Err != nil {
			if a.metrics != nil {
				a.metrics.RecordIngestFailure("configure_error")
			}
			continue
		}
		if a.metrics != nil {
			r := snapshot[res.RegionName]
			a.metrics.RecordModelSwap(res.RegionName, string(r.Model().Active()))
		}
	}

	if a.logger.Core().Enabled(zap.DebugLevel) {
		dispatched := make([]string, 0, len(results))
		for _, res := range results {
			if res.Err == nil {
				dispatched = append(dispatched, res.RegionName)
			}
		}
		if redacted, err := ingest.RedactForAudit(pkgBytes, dispatched); err == nil {
			a.logger.Debug("model package dispatched", zap.ByteString("package", redacted))
		}
	}

	return results, nil
}

// FlushAllRegionMeasurements runs the best-policy reduction (§4.6)
// across every registered region: local reduce, pack, collective
// all-gather, global re-reduce. Every region's best-policy table is
// refreshed by the local phase, before the collective runs. On success
// every region's per-step counter is reset and the global table is
// returned; the facade keeps no copy of it. On failure no counter is
// reset and no global table is returned, but a failure in the
// collective phase comes after the per-region tables were refreshed.
func (a *Apollo) FlushAllRegionMeasurements(ctx context.Context) ([]reduce.GlobalBestPolicy, error) {
	a.mu.RLock()
	snapshot := make(map[string]*region.Region, len(a.regions))
	for k, v := range a.regions {
		snapshot[k] = v
	}
	a.mu.RUnlock()

	ctx, span := observability.Tracer().Start(ctx, "apollo.FlushAllRegionMeasurements")
	defer span.End()

	flushStart := time.Now()
	global, err := a.flusher.Flush(ctx, snapshot)
	if a.metrics != nil {
		a.metrics.ObserveReduction(time.Since(flushStart).Seconds())
	}
	if err != nil {
		if a.metrics != nil {
			a.metrics.RecordReductionFailure()
		}
		return nil, fmt.Errorf("apollo: flush failed: %w", err)
	}

	for _, r := range snapshot {
		r.ResetStepCounter()
	}

	if pub := a.telemetry; pub != nil {
		for name, r := range snapshot {
			pub.PublishSnapshot(ctx, name, r.ExecCountTotal(), avgOf(global, name))
		}
		if !pub.Available() && a.metrics != nil {
			a.metrics.RecordTelemetryUnavailable()
		}
	}

	if a.history != nil {
		rows := make([]history.Snapshot, 0, len(global))
		recordedAt := time.Now()
		for _, g := range global {
			rows = append(rows, history.Snapshot{
				ID:         uuid.NewString(),
				Rank:       int32(a.topology.Rank),
				RegionName: g.RegionName,
				Policy:     g.Policy,
				AvgTimeSec: g.AvgTime,
				RecordedAt: recordedAt,
			})
		}
		if err := a.history.WriteSnapshots(rows); err != nil {
			a.logger.Warn("apollo: failed to export measurement history", zap.Error(err))
		}
	}

	return global, nil
}

func avgOf(global []reduce.GlobalBestPolicy, region string) float64 {
	for _, g := range global {
		if g.RegionName == region {
			return g.AvgTime
		}
	}
	return 0
}

// RegionNames returns every registered region's name, sorted, for
// diagnostics and the operator CLI.
func (a *Apollo) RegionNames() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	names := make([]string, 0, len(a.regions))
	for name := range a.regions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close tears down external handles in reverse acquisition order
// (collective has no close; telemetry and history do).
func (a *Apollo) Close() error {
	var err error
	if a.history != nil {
		if cerr := a.history.Close(); cerr != nil {
			err = cerr
		}
	}
	if a.telemetry != nil {
		if cerr := a.telemetry.Close(); cerr != nil {
			err = cerr
		}
	}
	return err
}
