package hooks

import (
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-mesh/jitcov/internal/coverage/metadata"
	"github.com/coral-mesh/jitcov/internal/coverage/simhost"
	"github.com/coral-mesh/jitcov/pkg/clrhost"
)

type fixture struct {
	rt     *simhost.Runtime
	model  *metadata.Model
	module clrhost.ModuleID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	rt := simhost.New()
	model := metadata.New(zerolog.Nop())
	id := rt.LoadModule(simhost.ModuleSpec{
		Name: "Mod.dll",
		Types: []simhost.TypeSpec{
			{Name: "Foo", Methods: []simhost.MethodSpec{{Name: "Bar"}, {Name: "Baz"}}},
		},
	}, simhost.Faults{})

	md, err := rt.ModuleMetadata(id, clrhost.OpenRead)
	require.NoError(t, err)
	_, err = model.Populate(id, "/app/Mod.dll", "Mod.dll", md)
	require.NoError(t, err)

	return &fixture{rt: rt, model: model, module: id}
}

func (f *fixture) function(t *testing.T, name string) (clrhost.FunctionID, *metadata.Method) {
	t.Helper()
	md, err := f.rt.Resolve(f.module, name)
	require.NoError(t, err)
	fn, err := f.rt.Function(f.module, md, false)
	require.NoError(t, err)
	m, ok := f.model.Find(f.module, md)
	require.True(t, ok)
	return fn, m
}

func TestCounter_Enter(t *testing.T) {
	f := newFixture(t)
	c := NewCounter(f.model, f.rt)

	fn, bar := f.function(t, "Foo::Bar")
	_, baz := f.function(t, "Foo::Baz")

	c.Enter(fn)
	c.Enter(fn)
	c.Leave(fn)

	assert.Equal(t, uint64(2), bar.Invocations())
	assert.Equal(t, uint64(0), baz.Invocations())
}

func TestCounter_EnterUnknownIsNoop(t *testing.T) {
	f := newFixture(t)
	c := NewCounter(f.model, f.rt)

	// Handle never issued by the runtime.
	c.Enter(clrhost.FunctionID(0xdead))

	// Method of a module the model does not track.
	other := f.rt.LoadModule(simhost.ModuleSpec{
		Name:  "Other.dll",
		Types: []simhost.TypeSpec{{Name: "Foo", Methods: []simhost.MethodSpec{{Name: "Bar"}}}},
	}, simhost.Faults{})
	md, err := f.rt.Resolve(other, "Foo::Bar")
	require.NoError(t, err)
	fn, err := f.rt.Function(other, md, false)
	require.NoError(t, err)
	c.Enter(fn)

	f.model.Walk(func(_ *metadata.Module, _ *metadata.Type, m *metadata.Method) {
		assert.Zero(t, m.Invocations(), m.FullName)
	})
}

func TestCounter_ConcurrentEnter(t *testing.T) {
	f := newFixture(t)
	c := NewCounter(f.model, f.rt)
	fn, bar := f.function(t, "Foo::Bar")

	const threads = 16
	const perThread = 5000

	var wg sync.WaitGroup
	for i := 0; i < threads; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perThread; j++ {
				c.Enter(fn)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, uint64(threads*perThread), bar.Invocations())
}

func TestCounter_EnterDoesNotAllocate(t *testing.T) {
	f := newFixture(t)
	c := NewCounter(f.model, f.rt)
	fn, _ := f.function(t, "Foo::Bar")

	allocs := testing.AllocsPerRun(1000, func() {
		c.Enter(fn)
	})
	assert.Zero(t, allocs)
}

func TestInstall(t *testing.T) {
	f := newFixture(t)
	c := NewCounter(f.model, f.rt)
	fn, bar := f.function(t, "Foo::Bar")

	// Hooks are no-ops while nothing is installed.
	Enter(fn)
	assert.Zero(t, bar.Invocations())

	prev := Install(c)
	t.Cleanup(func() { Install(prev) })

	Enter(fn)
	Leave(fn)
	assert.Equal(t, uint64(1), bar.Invocations())
	assert.Same(t, c, Installed())

	assert.False(t, Uninstall(NewCounter(f.model, f.rt)), "only the installed counter can be removed")
	assert.True(t, Uninstall(c))
	Enter(fn)
	assert.Equal(t, uint64(1), bar.Invocations())
}

func TestProcessAddresses(t *testing.T) {
	a := ProcessAddresses()
	assert.NotZero(t, a.Enter)
	assert.NotZero(t, a.Leave)
	assert.NotEqual(t, a.Enter, a.Leave)
	assert.Equal(t, a, ProcessAddresses(), "addresses are fixed for the process")

	_, ok := Dispatch(a.Enter)
	assert.True(t, ok)
	_, ok = Dispatch(a.Leave)
	assert.True(t, ok)
	_, ok = Dispatch(1)
	assert.False(t, ok)
}
