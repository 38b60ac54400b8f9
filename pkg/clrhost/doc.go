// Package clrhost defines the capabilities a managed runtime host exposes to
// the coverage engine.
//
// The engine never talks to a runtime directly. A native binding (a profiler
// shim loaded by the runtime) implements these interfaces, forwards runtime
// notifications to a Callbacks implementation and calls the hook entry points
// from instrumented method bodies. The simhost package provides an in-memory
// implementation used by tests and by the replay command.
//
// Handles (ModuleID, ClassID, FunctionID, AssemblyID) are opaque values owned
// by the runtime and stay valid until the corresponding unload notification.
// Tokens identify metadata rows and are only unique within their module.
package clrhost
