package probe

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-mesh/jitcov/internal/coverage/hooks"
	"github.com/coral-mesh/jitcov/internal/coverage/metadata"
	"github.com/coral-mesh/jitcov/internal/coverage/simhost"
	"github.com/coral-mesh/jitcov/pkg/clrhost"
)

var testAddrs = hooks.Addresses{Enter: 0x1000, Leave: 0x2000}

type recordingObserver struct {
	outcomes []Outcome
}

func (r *recordingObserver) ObserveJIT(o Outcome) { r.outcomes = append(r.outcomes, o) }

type fixture struct {
	rt    *simhost.Runtime
	model *metadata.Model
	coord *Coordinator
	obs   *recordingObserver
	mod   clrhost.ModuleID
}

func exampleModule() simhost.ModuleSpec {
	return simhost.ModuleSpec{
		Name: "CodeCoverage.Example.dll",
		Types: []simhost.TypeSpec{
			{Name: "Foo", Methods: []simhost.MethodSpec{{Name: "Bar"}, {Name: "Baz"}}},
			{Name: "<GeneratedClosure>", Methods: []simhost.MethodSpec{{Name: "Invoke"}}},
		},
	}
}

func newFixture(t *testing.T, faults simhost.Faults) *fixture {
	t.Helper()

	rt := simhost.New()
	model := metadata.New(zerolog.Nop())
	id := rt.LoadModule(exampleModule(), faults)

	md, err := rt.ModuleMetadata(id, clrhost.OpenRead)
	require.NoError(t, err)
	_, err = model.Populate(id, "/app/CodeCoverage.Example.dll", "CodeCoverage.Example.dll", md)
	require.NoError(t, err)

	obs := &recordingObserver{}
	return &fixture{
		rt:    rt,
		model: model,
		coord: New(model, rt.Host(), testAddrs, zerolog.Nop(), WithObserver(obs)),
		obs:   obs,
		mod:   id,
	}
}

func (f *fixture) function(t *testing.T, module clrhost.ModuleID, name string, shared bool) clrhost.FunctionID {
	t.Helper()
	md, err := f.rt.Resolve(module, name)
	require.NoError(t, err)
	fn, err := f.rt.Function(module, md, shared)
	require.NoError(t, err)
	return fn
}

func TestCoordinator_InstrumentsTrackedMethod(t *testing.T) {
	f := newFixture(t, simhost.Faults{})
	fn := f.function(t, f.mod, "Foo::Bar", false)

	outcome, err := f.coord.JITCompilationStarted(fn)
	require.NoError(t, err)
	assert.Equal(t, Instrumented, outcome)

	req, ok := f.rt.Rewritten(fn)
	require.True(t, ok)
	assert.Equal(t, f.mod, req.Module)
	assert.Equal(t, fn, req.Function)
	assert.Equal(t, testAddrs.Enter, req.Enter)
	assert.Equal(t, testAddrs.Leave, req.Leave)
	assert.Equal(t, clrhost.TableSignature, req.Signature.Table())
	assert.Equal(t, []Outcome{Instrumented}, f.obs.outcomes)
}

func TestCoordinator_ReusesSignatureToken(t *testing.T) {
	f := newFixture(t, simhost.Faults{})

	_, err := f.coord.JITCompilationStarted(f.function(t, f.mod, "Foo::Bar", false))
	require.NoError(t, err)
	_, err = f.coord.JITCompilationStarted(f.function(t, f.mod, "Foo::Baz", false))
	require.NoError(t, err)

	assert.Len(t, f.rt.Signatures(f.mod), 1)
	assert.Equal(t, 2, f.rt.Rewrites())
}

func TestCoordinator_Skips(t *testing.T) {
	f := newFixture(t, simhost.Faults{})

	t.Run("shared generic code", func(t *testing.T) {
		outcome, err := f.coord.JITCompilationStarted(f.function(t, f.mod, "Foo::Bar", true))
		require.NoError(t, err)
		assert.Equal(t, SkippedNoClass, outcome)
	})

	t.Run("compiler-generated type", func(t *testing.T) {
		outcome, err := f.coord.JITCompilationStarted(f.function(t, f.mod, "<GeneratedClosure>::Invoke", false))
		require.NoError(t, err)
		assert.Equal(t, SkippedUntracked, outcome)
	})

	t.Run("untracked module", func(t *testing.T) {
		other := f.rt.LoadModule(simhost.ModuleSpec{
			Name:  "System.Runtime.dll",
			Types: []simhost.TypeSpec{{Name: "Object", Methods: []simhost.MethodSpec{{Name: "ToString"}}}},
		}, simhost.Faults{})
		outcome, err := f.coord.JITCompilationStarted(f.function(t, other, "Object::ToString", false))
		require.NoError(t, err)
		assert.Equal(t, SkippedUntracked, outcome)
	})

	assert.Zero(t, f.rt.Rewrites())
}

func TestCoordinator_RewriteFailureIsLocal(t *testing.T) {
	boom := errors.New("rewriter exploded")

	rt := simhost.New()
	model := metadata.New(zerolog.Nop())
	id := rt.LoadModule(exampleModule(), simhost.Faults{})
	baz, err := rt.Resolve(id, "Foo::Baz")
	require.NoError(t, err)
	rt.SetFaults(id, simhost.Faults{Rewrite: map[clrhost.MethodDef]error{baz: boom}})

	md, err := rt.ModuleMetadata(id, clrhost.OpenRead)
	require.NoError(t, err)
	_, err = model.Populate(id, "/app/CodeCoverage.Example.dll", "CodeCoverage.Example.dll", md)
	require.NoError(t, err)
	coord := New(model, rt.Host(), testAddrs, zerolog.Nop())

	bazFn, err := rt.Function(id, baz, false)
	require.NoError(t, err)
	outcome, err := coord.JITCompilationStarted(bazFn)
	assert.Equal(t, Failed, outcome)
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "Foo::Baz")

	bar, err := rt.Resolve(id, "Foo::Bar")
	require.NoError(t, err)
	barFn, err := rt.Function(id, bar, false)
	require.NoError(t, err)
	outcome, err = coord.JITCompilationStarted(barFn)
	require.NoError(t, err)
	assert.Equal(t, Instrumented, outcome)
}

func TestCoordinator_SignatureFailure(t *testing.T) {
	boom := errors.New("emit failed")
	f := newFixture(t, simhost.Faults{TokenFromSig: boom})

	outcome, err := f.coord.JITCompilationStarted(f.function(t, f.mod, "Foo::Bar", false))
	assert.Equal(t, Failed, outcome)
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, f.rt.Rewrites())
}

func TestCoordinator_UnknownFunction(t *testing.T) {
	f := newFixture(t, simhost.Faults{})

	outcome, err := f.coord.JITCompilationStarted(clrhost.FunctionID(0xbad))
	assert.Equal(t, Failed, outcome)
	assert.ErrorIs(t, err, simhost.ErrUnknownHandle)
}

func TestCoordinator_NoRewriter(t *testing.T) {
	f := newFixture(t, simhost.Faults{})
	coord := New(f.model, clrhost.Host{Info: f.rt}, testAddrs, zerolog.Nop())

	_, err := coord.JITCompilationStarted(f.function(t, f.mod, "Foo::Bar", false))
	assert.ErrorIs(t, err, ErrNoRewriter)
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "instrumented", Instrumented.String())
	assert.Equal(t, "skipped_no_class", SkippedNoClass.String())
	assert.Equal(t, "skipped_untracked", SkippedUntracked.String())
	assert.Equal(t, "failed", Failed.String())
	assert.Equal(t, "outcome(42)", Outcome(42).String())
}
