package engine

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-mesh/jitcov/internal/config"
	"github.com/coral-mesh/jitcov/internal/coverage/filter"
	"github.com/coral-mesh/jitcov/internal/coverage/hooks"
	"github.com/coral-mesh/jitcov/internal/coverage/metadata"
	"github.com/coral-mesh/jitcov/internal/coverage/report"
	"github.com/coral-mesh/jitcov/internal/coverage/simhost"
	"github.com/coral-mesh/jitcov/pkg/clrhost"
)

const exampleScript = `
modules:
  - name: System.Private.CoreLib.dll
    types:
      - name: String
        methods: [{name: Concat}]
  - name: CodeCoverage.Example.dll
    types:
      - name: Foo
        methods: [{name: Bar}, {name: Baz}]
      - name: <PrivateImplementationDetails>
        methods: [{name: Init}]
events:
  - load: System.Private.CoreLib.dll
  - load: CodeCoverage.Example.dll
  - call: String::Concat
    module: System.Private.CoreLib.dll
    times: 3
  - jit: Foo::Baz
    module: CodeCoverage.Example.dll
  - call: Foo::Bar
    module: CodeCoverage.Example.dll
    times: 2
  - call: <PrivateImplementationDetails>::Init
    module: CodeCoverage.Example.dll
`

// bindHooks routes the runtime's calls to the process-wide hooks.
func bindHooks(rt *simhost.Runtime) hooks.Addresses {
	addrs := hooks.ProcessAddresses()
	rt.RegisterHook(addrs.Enter, hooks.Enter)
	rt.RegisterHook(addrs.Leave, hooks.Leave)
	return addrs
}

func newEngine(t *testing.T, sinks ...report.Sink) (*Engine, *simhost.Runtime) {
	t.Helper()
	rt := simhost.New()
	bindHooks(rt)
	e := New(Options{Sinks: sinks, Logger: zerolog.Nop()})
	require.NoError(t, e.Initialize(rt.Host()))
	t.Cleanup(func() { _ = e.Shutdown() })
	return e, rt
}

func play(t *testing.T, e *Engine, rt *simhost.Runtime, script string) *simhost.Result {
	t.Helper()
	s, err := simhost.ParseScript(strings.NewReader(script))
	require.NoError(t, err)
	res, err := simhost.NewPlayer(rt, e, zerolog.Nop()).Play(context.Background(), s)
	require.NoError(t, err)
	return res
}

func TestEngine_EndToEnd(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "coverage.csv")
	var console bytes.Buffer

	e, rt := newEngine(t, report.CSVFile{Path: path}, report.LogSink{W: &console, Logger: zerolog.Nop()})
	res := play(t, e, rt, exampleScript)
	assert.Empty(t, res.JITFailures)

	require.NoError(t, e.Shutdown())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "CodeCoverage.Example.dll,Foo,Bar,2\nCodeCoverage.Example.dll,Foo,Baz,0\n", string(data))
	assert.Equal(t, "Function Foo::Bar called 2 times\nFunction Foo::Baz called 0 times\n", console.String())

	assert.True(t, rt.Released(), "profiler info is released")
	assert.Nil(t, hooks.Installed(), "hooks are detached")
	assert.Zero(t, rt.OpenEnums())
	assert.Len(t, e.Report(), 2)

	// One signature per instrumented module.
	id := e.Model().Modules()[0].ID
	assert.Len(t, rt.Signatures(id), 1)
}

const overloadScript = `
modules:
  - name: CodeCoverage.Example.dll
    types:
      - name: Foo
        methods: [{name: .ctor}, {name: .ctor}, {name: Bar}]
events:
  - load: CodeCoverage.Example.dll
  - call: Foo::.ctor
    module: CodeCoverage.Example.dll
  - call: Foo::.ctor
    module: CodeCoverage.Example.dll
    token: 0x06000002
    times: 3
`

func TestEngine_OverloadsKeepSeparateCounts(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "coverage.csv")
	dbPath := filepath.Join(dir, "coverage.duckdb")

	e, rt := newEngine(t,
		report.CSVFile{Path: csvPath},
		report.DuckDBSink{Path: dbPath, Logger: zerolog.Nop()},
	)
	res := play(t, e, rt, overloadScript)
	assert.Empty(t, res.JITFailures)
	require.NoError(t, e.Shutdown())

	want := []report.Row{
		{Module: "CodeCoverage.Example.dll", Type: "Foo", Method: ".ctor", Invocations: 1},
		{Module: "CodeCoverage.Example.dll", Type: "Foo", Method: ".ctor", Invocations: 3},
		{Module: "CodeCoverage.Example.dll", Type: "Foo", Method: "Bar", Invocations: 0},
	}
	assert.Equal(t, want, e.Report())

	data, err := os.ReadFile(csvPath)
	require.NoError(t, err)
	assert.Equal(t,
		"CodeCoverage.Example.dll,Foo,.ctor,1\nCodeCoverage.Example.dll,Foo,.ctor,3\nCodeCoverage.Example.dll,Foo,Bar,0\n",
		string(data))

	_, rows, err := report.LoadRun(context.Background(), dbPath, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, want, rows)
}

func TestEngine_Metrics(t *testing.T) {
	e, rt := newEngine(t)
	play(t, e, rt, exampleScript)

	jit := e.Metrics().Registry()
	count, err := testutil.GatherAndCount(jit, "jitcov_jit_compilations_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count, "instrumented and skipped_untracked series")

	expected := `
# HELP jitcov_module_loads_total Module load notifications, by filter decision.
# TYPE jitcov_module_loads_total counter
jitcov_module_loads_total{decision="accepted"} 1
jitcov_module_loads_total{decision="rejected"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(jit, strings.NewReader(expected), "jitcov_module_loads_total"))
}

func TestEngine_MetricsTextfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jitcov.prom")
	rt := simhost.New()
	bindHooks(rt)
	e := New(Options{MetricsTextfile: path, Logger: zerolog.Nop()})
	require.NoError(t, e.Initialize(rt.Host()))
	play(t, e, rt, exampleScript)
	require.NoError(t, e.Shutdown())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "jitcov_invocations_total 2")
	assert.Contains(t, string(data), `jitcov_jit_compilations_total{outcome="instrumented"} 2`)
}

func TestEngine_UntrackedModulesLeaveNoRecords(t *testing.T) {
	e, rt := newEngine(t)
	play(t, e, rt, exampleScript)

	for _, m := range e.Model().Modules() {
		assert.Equal(t, "CodeCoverage.Example.dll", m.Name)
	}
	assert.Equal(t, 2, e.Model().Stats().Methods)
}

func TestEngine_SharedGenericCodeSkipped(t *testing.T) {
	e, rt := newEngine(t)
	script := exampleScript + `
  - call: Foo::Baz
    module: CodeCoverage.Example.dll
    shared: true
`
	play(t, e, rt, script)

	var baz uint64
	e.Model().Walk(func(_ *metadata.Module, _ *metadata.Type, m *metadata.Method) {
		if m.Name == "Baz" {
			baz = m.Invocations()
		}
	})
	assert.Zero(t, baz)
}

func TestEngine_RewriteFailureIsLocal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "coverage.csv")
	e, rt := newEngine(t, report.CSVFile{Path: path})

	script := strings.Replace(exampleScript, "  - name: CodeCoverage.Example.dll\n", "  - name: CodeCoverage.Example.dll\n    fail_rewrite: [Foo::Bar]\n", 1)
	res := play(t, e, rt, script)

	require.Len(t, res.JITFailures, 1)
	assert.Equal(t, "Foo::Bar", res.JITFailures[0].Method)
	assert.Equal(t, clrhost.EFail, res.JITFailures[0].Status)
	assert.Contains(t, res.JITFailures[0].Err.Error(), "Foo::Bar")

	require.NoError(t, e.Shutdown())
	rows, err := report.ReadCSV(path)
	require.NoError(t, err)
	assert.Equal(t, []report.Row{
		{Module: "CodeCoverage.Example.dll", Type: "Foo", Method: "Bar", Invocations: 0},
		{Module: "CodeCoverage.Example.dll", Type: "Foo", Method: "Baz", Invocations: 0},
	}, rows)
}

func TestEngine_PartialMetadata(t *testing.T) {
	e, rt := newEngine(t)
	script := strings.Replace(exampleScript, "  - name: CodeCoverage.Example.dll\n", "  - name: CodeCoverage.Example.dll\n    fail_method_props: [Foo::Bar]\n", 1)
	play(t, e, rt, script)

	require.NoError(t, e.Shutdown())
	assert.Equal(t, []report.Row{
		{Module: "CodeCoverage.Example.dll", Type: "Foo", Method: "Baz", Invocations: 0},
	}, e.Report())
}

func TestEngine_UnloadRetiresModule(t *testing.T) {
	e, rt := newEngine(t)
	script := exampleScript + `
  - unload: CodeCoverage.Example.dll
`
	play(t, e, rt, script)

	assert.Equal(t, 1, e.Model().Stats().Unloaded)
	require.NoError(t, e.Shutdown())
	assert.Equal(t, []report.Row{
		{Module: "CodeCoverage.Example.dll", Type: "Foo", Method: "Bar", Invocations: 2},
		{Module: "CodeCoverage.Example.dll", Type: "Foo", Method: "Baz", Invocations: 0},
	}, e.Report())
}

func TestEngine_Lifecycle(t *testing.T) {
	rt := simhost.New()
	e := New(Options{Logger: zerolog.Nop()})

	err := e.ModuleLoadFinished(1, clrhost.OK)
	assert.ErrorIs(t, err, ErrNotInitialized)
	assert.Equal(t, clrhost.EUnexpected, clrhost.StatusOf(err))

	assert.ErrorIs(t, e.Initialize(clrhost.Host{}), ErrNoInfo)
	require.NoError(t, e.Initialize(rt.Host()))
	assert.ErrorIs(t, e.Initialize(rt.Host()), ErrAlreadyInitialized)
	assert.Same(t, hooks.Installed(), e.counter.Load())

	require.NoError(t, e.Shutdown(), "no sinks configured")
	require.NoError(t, e.Shutdown(), "shutdown is idempotent")

	err = e.JITCompilationStarted(1, true)
	assert.ErrorIs(t, err, ErrShutdown)
	assert.Equal(t, clrhost.EUnexpected, clrhost.StatusOf(err))
	assert.ErrorIs(t, e.ModuleUnloadStarted(1), ErrShutdown)
	assert.ErrorIs(t, e.Initialize(rt.Host()), ErrShutdown)
	assert.True(t, rt.Released())
}

type failingSink struct{}

func (failingSink) Name() string                                          { return "failing" }
func (failingSink) Write(context.Context, report.Run, []report.Row) error { return errors.New("disk full") }

func TestEngine_ShutdownReportsSinkFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "coverage.csv")
	e, rt := newEngine(t, failingSink{}, report.CSVFile{Path: path})
	play(t, e, rt, exampleScript)

	err := e.Shutdown()
	assert.ErrorContains(t, err, "disk full")
	assert.Equal(t, err, e.Shutdown())

	_, statErr := os.Stat(path)
	assert.NoError(t, statErr, "other sinks still run")
}

func TestEngine_ForwardingHooks(t *testing.T) {
	rt := simhost.New()
	custom := hooks.Addresses{Enter: 0x1000, Leave: 0x2000}
	e := New(Options{Addresses: &custom, Logger: zerolog.Nop()})
	rt.RegisterHook(custom.Enter, e.Enter)
	rt.RegisterHook(custom.Leave, e.Leave)
	require.NoError(t, e.Initialize(rt.Host()))
	defer func() { _ = e.Shutdown() }()

	assert.Equal(t, custom, e.Addresses())
	play(t, e, rt, exampleScript)

	var bar uint64
	e.Model().Walk(func(_ *metadata.Module, _ *metadata.Type, m *metadata.Method) {
		if m.Name == "Bar" {
			bar = m.Invocations()
		}
	})
	assert.Equal(t, uint64(2), bar)
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Modules = "A.dll,B.dll"
	cfg.Report.DuckDB = "coverage.duckdb"
	cfg.Report.MetricsTextfile = "jitcov.prom"

	opts := OptionsFromConfig(cfg, io.Discard, zerolog.Nop())
	assert.Equal(t, "A.dll,B.dll", opts.Filter.AllowList())
	assert.Equal(t, "jitcov.prom", opts.MetricsTextfile)

	var names []string
	for _, s := range opts.Sinks {
		names = append(names, s.Name())
	}
	assert.Equal(t, []string{"csv", "console", "duckdb"}, names)

	cfg.Report.Console = false
	cfg.Report.DuckDB = ""
	opts = OptionsFromConfig(cfg, io.Discard, zerolog.Nop())
	require.Len(t, opts.Sinks, 1)
	assert.Equal(t, report.CSVFile{Path: "coverage.csv"}, opts.Sinks[0])
}

func TestNew_DefaultFilter(t *testing.T) {
	e := New(Options{Logger: zerolog.Nop()})
	assert.Equal(t, filter.DefaultAllowList, e.filter.AllowList())
	assert.Equal(t, hooks.ProcessAddresses(), e.Addresses())
}
