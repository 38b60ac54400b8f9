// Package metadata holds the engine's model of the tracked program: modules,
// the types they define and the methods of those types, each method carrying
// an invocation counter.
//
// Method records live in an append-only arena and are addressed by
// MethodIndex. Modules and types hold indices into the arena, and a flat
// index maps (module, method token) to the same arena slot so the entry hook
// can resolve a call without walking the hierarchy.
//
// Readers work on an immutable snapshot published with an atomic pointer.
// Populate and Unload build a new snapshot under a mutex and swap it in, so a
// module loading on one thread never races with hook calls for another.
package metadata
