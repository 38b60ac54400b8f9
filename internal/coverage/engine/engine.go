// Package engine drives coverage collection from host notifications: it
// builds the metadata model as modules load, instruments tracked methods as
// they compile and writes the report at shutdown.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/coral-mesh/jitcov/internal/coverage/filter"
	"github.com/coral-mesh/jitcov/internal/coverage/hooks"
	"github.com/coral-mesh/jitcov/internal/coverage/metadata"
	"github.com/coral-mesh/jitcov/internal/coverage/metrics"
	"github.com/coral-mesh/jitcov/internal/coverage/probe"
	"github.com/coral-mesh/jitcov/internal/coverage/report"
	"github.com/coral-mesh/jitcov/pkg/clrhost"
)

var (
	// ErrShutdown is returned for notifications delivered after Shutdown.
	ErrShutdown = fmt.Errorf("engine shut down: %w", clrhost.ErrUnexpected)
	// ErrNotInitialized is returned for notifications delivered before
	// Initialize.
	ErrNotInitialized = fmt.Errorf("engine not initialized: %w", clrhost.ErrUnexpected)
	// ErrAlreadyInitialized is returned by a second Initialize.
	ErrAlreadyInitialized = fmt.Errorf("engine already initialized: %w", clrhost.ErrUnexpected)
	// ErrNoInfo is returned when the host provides no profiler info.
	ErrNoInfo = errors.New("host provided no profiler info")
)

type state int32

const (
	stateCreated state = iota
	stateRunning
	stateShutdown
)

// shutdownTimeout bounds report synthesis.
const shutdownTimeout = 30 * time.Second

// Options configures an Engine.
type Options struct {
	// Filter selects the modules to track. Nil means the default allow-list.
	Filter *filter.Filter
	// Sinks receive the report at shutdown.
	Sinks []report.Sink
	// MetricsTextfile, when set, adds a sink writing engine metrics there.
	MetricsTextfile string
	// Addresses overrides the hook addresses handed to the rewriter. Nil
	// means the process-wide hooks.
	Addresses *hooks.Addresses
	Logger    zerolog.Logger
}

// Engine implements clrhost.Callbacks. Notifications it does not handle
// are accepted and ignored.
type Engine struct {
	clrhost.NopCallbacks

	logger zerolog.Logger
	filter *filter.Filter
	sinks  []report.Sink
	addrs  hooks.Addresses

	model *metadata.Model
	stats *metrics.Stats

	state   atomic.Int32
	mu      sync.RWMutex
	info    clrhost.ProfilerInfo
	coord   *probe.Coordinator
	counter atomic.Pointer[hooks.Counter]
	run     report.Run

	shutdownOnce sync.Once
	shutdownErr  error
	rows         []report.Row
}

// New creates an engine. It does nothing until Initialize.
func New(opts Options) *Engine {
	f := opts.Filter
	if f == nil {
		f = filter.New("")
	}
	addrs := hooks.ProcessAddresses()
	if opts.Addresses != nil {
		addrs = *opts.Addresses
	}

	model := metadata.New(opts.Logger.With().Str("component", "metadata").Logger())
	e := &Engine{
		logger: opts.Logger.With().Str("component", "engine").Logger(),
		filter: f,
		addrs:  addrs,
		model:  model,
		stats:  metrics.New(model),
	}
	e.sinks = append(e.sinks, opts.Sinks...)
	if opts.MetricsTextfile != "" {
		e.sinks = append(e.sinks, report.MetricsTextfile{Path: opts.MetricsTextfile, Gatherer: e.stats.Registry()})
	}
	return e
}

// Model returns the engine's metadata model.
func (e *Engine) Model() *metadata.Model { return e.model }

// Metrics returns the engine statistics.
func (e *Engine) Metrics() *metrics.Stats { return e.stats }

// Addresses returns the hook addresses instrumented bodies call.
func (e *Engine) Addresses() hooks.Addresses { return e.addrs }

// Report returns the rows written at shutdown, or nil before Shutdown.
func (e *Engine) Report() []report.Row {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.rows
}

// Initialize implements clrhost.Callbacks. It keeps the host capabilities
// and installs the engine's counter behind the process-wide hooks.
func (e *Engine) Initialize(host clrhost.Host) error {
	if host.Info == nil {
		return ErrNoInfo
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.state.CompareAndSwap(int32(stateCreated), int32(stateRunning)) {
		if state(e.state.Load()) == stateShutdown {
			return ErrShutdown
		}
		return ErrAlreadyInitialized
	}

	e.info = host.Info
	e.run = report.NewRun(context.Background())
	e.coord = probe.New(e.model, host, e.addrs,
		e.logger.With().Str("component", "probe").Logger(),
		probe.WithObserver(e.stats),
	)

	counter := hooks.NewCounter(e.model, host.Info)
	e.counter.Store(counter)
	if prev := hooks.Install(counter); prev != nil {
		e.logger.Warn().Msg("Replacing previously installed hook counter")
	}

	e.logger.Info().
		Str("run_id", e.run.ID.String()).
		Str("modules", e.filter.AllowList()).
		Msg("Profiler initialized")
	return nil
}

// active returns the host state, or the error to report for a notification
// delivered outside the running state.
func (e *Engine) active() (clrhost.ProfilerInfo, *probe.Coordinator, error) {
	switch state(e.state.Load()) {
	case stateCreated:
		return nil, nil, ErrNotInitialized
	case stateShutdown:
		return nil, nil, ErrShutdown
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.info, e.coord, nil
}

// ModuleLoadFinished implements clrhost.Callbacks. Modules on the
// allow-list are added to the model. Metadata failures are logged and the
// module keeps whatever could be discovered.
func (e *Engine) ModuleLoadFinished(id clrhost.ModuleID, status clrhost.Status) error {
	info, _, err := e.active()
	if err != nil {
		return err
	}
	if status.Failed() {
		return nil
	}

	mi, err := info.ModuleInfo(id)
	if err != nil {
		e.logger.Warn().Err(err).Uint64("module_id", uint64(id)).Msg("Failed to resolve module info")
		return nil
	}
	name := filter.BaseName(mi.Path)
	if !e.filter.Accept(mi.Path) {
		e.stats.ObserveModule(false)
		e.logger.Trace().Str("path", mi.Path).Msg("Module not tracked")
		return nil
	}
	e.stats.ObserveModule(true)

	md, err := info.ModuleMetadata(id, clrhost.OpenRead)
	if err != nil {
		e.logger.Warn().Err(err).Str("module", name).Msg("Failed to open module metadata")
		return nil
	}

	mod, err := e.model.Populate(id, mi.Path, name, md)
	if err != nil {
		if mod == nil {
			e.logger.Warn().Err(err).Str("module", name).Msg("Module not tracked")
			return nil
		}
		e.logger.Warn().Err(err).Str("module", name).Msg("Module metadata partially read")
	}

	methods := 0
	for _, t := range mod.Types {
		methods += len(t.Methods)
	}
	e.logger.Info().
		Str("module", name).
		Str("path", mi.Path).
		Int("types", len(mod.Types)).
		Int("methods", methods).
		Msg("Module loaded")
	return nil
}

// ModuleUnloadStarted implements clrhost.Callbacks. The module's records
// are retired: its counts stay in the report but its handle no longer
// resolves.
func (e *Engine) ModuleUnloadStarted(id clrhost.ModuleID) error {
	_, coord, err := e.active()
	if err != nil {
		return err
	}
	if !e.model.Unload(id) {
		return nil
	}
	coord.Forget(id)
	e.logger.Info().Uint64("module_id", uint64(id)).Msg("Module unloaded")
	return nil
}

// JITCompilationStarted implements clrhost.Callbacks. Tracked methods get
// entry and exit probes; a failure affects only fn.
func (e *Engine) JITCompilationStarted(fn clrhost.FunctionID, _ bool) error {
	_, coord, err := e.active()
	if err != nil {
		return err
	}
	_, err = coord.JITCompilationStarted(fn)
	return err
}

// Enter forwards an entry probe call to the engine's counter.
func (e *Engine) Enter(fn clrhost.FunctionID) {
	if c := e.counter.Load(); c != nil {
		c.Enter(fn)
	}
}

// Leave forwards an exit probe call to the engine's counter.
func (e *Engine) Leave(fn clrhost.FunctionID) {
	if c := e.counter.Load(); c != nil {
		c.Leave(fn)
	}
}

// Shutdown implements clrhost.Callbacks. The first call detaches the hooks,
// writes the report to every sink and releases the host; later calls return
// the first call's result.
func (e *Engine) Shutdown() error {
	e.shutdownOnce.Do(func() {
		e.shutdownErr = e.shutdown()
	})
	return e.shutdownErr
}

func (e *Engine) shutdown() error {
	prev := state(e.state.Swap(int32(stateShutdown)))

	if c := e.counter.Swap(nil); c != nil {
		hooks.Uninstall(c)
	}

	e.mu.Lock()
	info := e.info
	run := e.run
	e.info = nil
	e.mu.Unlock()

	if prev == stateCreated {
		run = report.NewRun(context.Background())
	}
	run.Finished = time.Now().UTC()

	rows := report.Collect(e.model)
	e.mu.Lock()
	e.rows = rows
	e.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := report.Synthesize(ctx, run, rows, e.sinks...)
	if err != nil {
		e.logger.Error().Err(err).Msg("Failed to write coverage report")
	}

	e.model.Release()
	if info != nil {
		info.Release()
	}

	sum := report.Summarize(rows)
	e.logger.Info().
		Str("run_id", run.ID.String()).
		Int("methods", sum.Methods).
		Int("covered", sum.Covered).
		Uint64("invocations", sum.Invocations).
		Msg("Profiler shut down")
	return err
}

var _ clrhost.Callbacks = (*Engine)(nil)
