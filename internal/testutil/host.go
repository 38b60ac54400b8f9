package testutil

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coral-mesh/jitcov/internal/coverage/metadata"
	"github.com/coral-mesh/jitcov/internal/coverage/simhost"
	"github.com/coral-mesh/jitcov/pkg/clrhost"
)

// ExampleModule is the target module used across tests: type Foo with
// methods Bar and Baz.
func ExampleModule() simhost.ModuleSpec {
	return simhost.ModuleSpec{
		Name: "CodeCoverage.Example.dll",
		Types: []simhost.TypeSpec{
			{Name: "Foo", Methods: []simhost.MethodSpec{{Name: "Bar"}, {Name: "Baz"}}},
		},
	}
}

// Populate loads spec into rt and registers it in model.
func Populate(t *testing.T, rt *simhost.Runtime, model *metadata.Model, spec simhost.ModuleSpec) clrhost.ModuleID {
	t.Helper()
	id := rt.LoadModule(spec, simhost.Faults{})
	md, err := rt.ModuleMetadata(id, clrhost.OpenRead)
	require.NoError(t, err)
	_, err = model.Populate(id, "/app/"+spec.Name, spec.Name, md)
	require.NoError(t, err)
	return id
}

// Hit increments the counter of "Type::Method" in module id n times.
func Hit(t *testing.T, rt *simhost.Runtime, model *metadata.Model, id clrhost.ModuleID, qualified string, n int) {
	t.Helper()
	md, err := rt.Resolve(id, qualified)
	require.NoError(t, err)
	m, ok := model.Find(id, md)
	require.True(t, ok, "method %s not tracked", qualified)
	for i := 0; i < n; i++ {
		m.Increment()
	}
}
