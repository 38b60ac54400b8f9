// Package simhost is an in-memory managed runtime that implements the
// clrhost capabilities. It models loaded modules with their metadata,
// hands out class and function handles, records body rewrites and, when an
// instrumented function is called, invokes the hooks registered for the
// addresses the rewrite installed.
//
// Scripts (see Script) describe a recorded session in YAML so the same
// scenario can be replayed from tests and from the command line.
package simhost
