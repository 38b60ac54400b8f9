// Package hooks implements the entry and exit probes called by instrumented
// method bodies.
//
// Enter and Leave run on application threads at every call of every
// instrumented method. They take no locks, do not allocate and never log:
// the identity is resolved through the host, the method record is found in
// the model's flat index and its counter is incremented atomically.
package hooks

import (
	"reflect"
	"sync/atomic"

	"github.com/coral-mesh/jitcov/internal/coverage/metadata"
	"github.com/coral-mesh/jitcov/pkg/clrhost"
)

// Counter resolves hook calls to method records.
type Counter struct {
	model *metadata.Model
	info  clrhost.ProfilerInfo
}

// NewCounter creates a counter over model, resolving identities with info.
func NewCounter(model *metadata.Model, info clrhost.ProfilerInfo) *Counter {
	return &Counter{model: model, info: info}
}

// Enter records one invocation of the function. Identities that do not
// resolve to a tracked method are ignored.
func (c *Counter) Enter(fn clrhost.FunctionID) {
	fi, err := c.info.FunctionInfo(fn)
	if err != nil {
		return
	}
	if m, ok := c.model.Find(fi.Module, fi.Token); ok {
		m.Increment()
	}
}

// Leave is called before every return of an instrumented method. It has no
// observable effect.
func (c *Counter) Leave(fn clrhost.FunctionID) {}

var active atomic.Pointer[Counter]

// Install makes c the target of the process-wide hooks and returns the
// previously installed counter.
func Install(c *Counter) *Counter {
	return active.Swap(c)
}

// Uninstall detaches c if it is the installed counter.
func Uninstall(c *Counter) bool {
	return active.CompareAndSwap(c, nil)
}

// Installed returns the counter the process-wide hooks dispatch to.
func Installed() *Counter {
	return active.Load()
}

// Enter is the process-wide entry hook.
func Enter(fn clrhost.FunctionID) {
	if c := active.Load(); c != nil {
		c.Enter(fn)
	}
}

// Leave is the process-wide exit hook.
func Leave(fn clrhost.FunctionID) {
	if c := active.Load(); c != nil {
		c.Leave(fn)
	}
}

// Addresses are the code addresses instrumented bodies call.
type Addresses struct {
	Enter uintptr
	Leave uintptr
}

// ProcessAddresses returns the addresses of the process-wide hooks. Native
// bindings that export their own trampolines pass those instead.
func ProcessAddresses() Addresses {
	return Addresses{
		Enter: reflect.ValueOf(Enter).Pointer(),
		Leave: reflect.ValueOf(Leave).Pointer(),
	}
}

// Dispatch returns the process-wide hook behind addr, if any.
func Dispatch(addr uintptr) (func(clrhost.FunctionID), bool) {
	a := ProcessAddresses()
	switch addr {
	case a.Enter:
		return Enter, true
	case a.Leave:
		return Leave, true
	}
	return nil, false
}
