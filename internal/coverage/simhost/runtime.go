package simhost

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/coral-mesh/jitcov/pkg/clrhost"
)

var (
	// ErrUnknownHandle is returned for handles the runtime never issued.
	ErrUnknownHandle = errors.New("unknown handle")
	// ErrReadOnly is returned when emitting into a scope opened for reading.
	ErrReadOnly = errors.New("metadata scope opened read-only")
	// ErrNoHook is returned when an instrumented body targets an address
	// with no registered hook.
	ErrNoHook = errors.New("no hook registered at address")
	// ErrReleased is returned after the engine released the runtime.
	ErrReleased = errors.New("profiler info released")
)

// MethodSpec describes a method definition.
type MethodSpec struct {
	Token clrhost.MethodDef `yaml:"token,omitempty"`
	Name  string            `yaml:"name"`
}

// TypeSpec describes a type definition.
type TypeSpec struct {
	Token   clrhost.TypeDef `yaml:"token,omitempty"`
	Name    string          `yaml:"name"`
	Methods []MethodSpec    `yaml:"methods"`
}

// ModuleSpec describes a module image.
type ModuleSpec struct {
	Name  string     `yaml:"name"`
	Path  string     `yaml:"path,omitempty"`
	Types []TypeSpec `yaml:"types"`
}

// Faults injects metadata and rewrite failures. Keys are tokens of the
// module the fault applies to; zero values inject nothing.
type Faults struct {
	// EnumTypeDefsAfter fails type enumeration once this many types were
	// returned. Zero disables the fault.
	EnumTypeDefsAfter int
	TypeDefProps      map[clrhost.TypeDef]error
	MethodProps       map[clrhost.MethodDef]error
	Rewrite           map[clrhost.MethodDef]error
	ModuleMetadata    error
	TokenFromSig      error
}

type module struct {
	id     clrhost.ModuleID
	spec   ModuleSpec
	types  map[clrhost.TypeDef]*TypeSpec
	owner  map[clrhost.MethodDef]clrhost.TypeDef
	names  map[clrhost.MethodDef]string
	class  map[clrhost.TypeDef]clrhost.ClassID
	faults Faults

	sigMu sync.Mutex
	sigs  map[string]clrhost.Signature
}

type function struct {
	info     clrhost.FunctionInfo
	rewrite  *clrhost.RewriteRequest
	compiled bool
}

// Runtime is a simulated managed runtime.
type Runtime struct {
	mu        sync.RWMutex
	modules   map[clrhost.ModuleID]*module
	classes   map[clrhost.ClassID]clrhost.ClassInfo
	functions map[clrhost.FunctionID]*function
	byMethod  map[methodRef]clrhost.FunctionID
	hooks     map[uintptr]func(clrhost.FunctionID)

	nextHandle atomic.Uint64
	openEnums  atomic.Int64
	released   atomic.Bool
	rewrites   atomic.Int64
}

type methodRef struct {
	module clrhost.ModuleID
	method clrhost.MethodDef
	shared bool
}

// New creates an empty runtime.
func New() *Runtime {
	r := &Runtime{
		modules:   make(map[clrhost.ModuleID]*module),
		classes:   make(map[clrhost.ClassID]clrhost.ClassInfo),
		functions: make(map[clrhost.FunctionID]*function),
		byMethod:  make(map[methodRef]clrhost.FunctionID),
		hooks:     make(map[uintptr]func(clrhost.FunctionID)),
	}
	r.nextHandle.Store(0x1000)
	return r
}

func (r *Runtime) handle() uintptr {
	return uintptr(r.nextHandle.Add(0x10))
}

// Host returns the capabilities to hand to an engine.
func (r *Runtime) Host() clrhost.Host {
	return clrhost.Host{Info: r, Rewriter: r}
}

// RegisterHook makes calls to addr dispatch to fn.
func (r *Runtime) RegisterHook(addr uintptr, fn func(clrhost.FunctionID)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks[addr] = fn
}

// LoadModule maps a module image and returns its handle. Missing tokens
// are assigned in declaration order.
func (r *Runtime) LoadModule(spec ModuleSpec, faults Faults) clrhost.ModuleID {
	id := clrhost.ModuleID(r.handle())
	if spec.Path == "" {
		spec.Path = "/app/" + spec.Name
	}

	m := &module{
		id:     id,
		spec:   spec,
		types:  make(map[clrhost.TypeDef]*TypeSpec),
		owner:  make(map[clrhost.MethodDef]clrhost.TypeDef),
		names:  make(map[clrhost.MethodDef]string),
		class:  make(map[clrhost.TypeDef]clrhost.ClassID),
		faults: faults,
		sigs:   make(map[string]clrhost.Signature),
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	nextMethod := clrhost.TableMethodDef | 1
	types := make([]TypeSpec, len(spec.Types))
	copy(types, spec.Types)
	for i := range types {
		ts := &types[i]
		if ts.Token == 0 {
			ts.Token = clrhost.TableTypeDef | clrhost.Token(i+2)
		}
		methods := make([]MethodSpec, len(ts.Methods))
		copy(methods, ts.Methods)
		for j := range methods {
			if methods[j].Token == 0 {
				methods[j].Token = nextMethod
			}
			if methods[j].Token >= nextMethod {
				nextMethod = methods[j].Token + 1
			}
			m.owner[methods[j].Token] = ts.Token
			m.names[methods[j].Token] = methods[j].Name
		}
		ts.Methods = methods
		m.types[ts.Token] = ts

		class := clrhost.ClassID(r.handle())
		m.class[ts.Token] = class
		r.classes[class] = clrhost.ClassInfo{Module: id, TypeDef: ts.Token}
	}
	m.spec.Types = types
	r.modules[id] = m
	return id
}

// UnloadModule forgets a module and every handle derived from it.
func (r *Runtime) UnloadModule(id clrhost.ModuleID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.modules[id]
	if !ok {
		return fmt.Errorf("module %#x: %w", uintptr(id), ErrUnknownHandle)
	}
	for _, class := range m.class {
		delete(r.classes, class)
	}
	for ref, fn := range r.byMethod {
		if ref.module == id {
			delete(r.byMethod, ref)
			delete(r.functions, fn)
		}
	}
	delete(r.modules, id)
	return nil
}

// Spec returns the module image with its assigned tokens.
func (r *Runtime) Spec(id clrhost.ModuleID) (ModuleSpec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.modules[id]
	if !ok {
		return ModuleSpec{}, false
	}
	return m.spec, true
}

// Resolve finds the token of "Type::Method" in a loaded module. Among
// overloads the first declared one is returned; use ResolveToken to pick
// another.
func (r *Runtime) Resolve(id clrhost.ModuleID, qualified string) (clrhost.MethodDef, error) {
	return r.ResolveToken(id, qualified, 0)
}

// ResolveToken finds "Type::Method" in a loaded module with the given
// token. A zero token matches the first method with that name.
func (r *Runtime) ResolveToken(id clrhost.ModuleID, qualified string, token clrhost.MethodDef) (clrhost.MethodDef, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.modules[id]
	if !ok {
		return 0, fmt.Errorf("module %#x: %w", uintptr(id), ErrUnknownHandle)
	}
	for _, ts := range m.spec.Types {
		for _, ms := range ts.Methods {
			if ts.Name+"::"+ms.Name == qualified && (token == 0 || ms.Token == token) {
				return ms.Token, nil
			}
		}
	}
	if token != 0 {
		return 0, fmt.Errorf("method %q (token %#x) in %s: %w", qualified, uint32(token), m.spec.Name, ErrUnknownHandle)
	}
	return 0, fmt.Errorf("method %q in %s: %w", qualified, m.spec.Name, ErrUnknownHandle)
}

// Function returns the function handle of a method, creating it on first
// use. Shared functions model generic code compiled once for many
// instantiations and report no class.
func (r *Runtime) Function(id clrhost.ModuleID, md clrhost.MethodDef, shared bool) (clrhost.FunctionID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ref := methodRef{module: id, method: md, shared: shared}
	if fn, ok := r.byMethod[ref]; ok {
		return fn, nil
	}
	m, ok := r.modules[id]
	if !ok {
		return 0, fmt.Errorf("module %#x: %w", uintptr(id), ErrUnknownHandle)
	}
	td, ok := m.owner[md]
	if !ok {
		return 0, fmt.Errorf("method %s: %w", md, ErrUnknownHandle)
	}

	class := m.class[td]
	if shared {
		class = clrhost.NilClass
	}
	fn := clrhost.FunctionID(r.handle())
	r.functions[fn] = &function{info: clrhost.FunctionInfo{Class: class, Module: id, Token: md}}
	r.byMethod[ref] = fn
	return fn, nil
}

// MarkCompiled records that the runtime finished compiling fn.
func (r *Runtime) MarkCompiled(fn clrhost.FunctionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if f, ok := r.functions[fn]; ok {
		f.compiled = true
	}
}

// Compiled reports whether fn was compiled.
func (r *Runtime) Compiled(fn clrhost.FunctionID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.functions[fn]
	return ok && f.compiled
}

// Rewritten returns the rewrite installed for fn.
func (r *Runtime) Rewritten(fn clrhost.FunctionID) (clrhost.RewriteRequest, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.functions[fn]
	if !ok || f.rewrite == nil {
		return clrhost.RewriteRequest{}, false
	}
	return *f.rewrite, true
}

// Rewrites returns the number of successful rewrites.
func (r *Runtime) Rewrites() int { return int(r.rewrites.Load()) }

// OpenEnums returns the number of enumeration cursors not yet closed.
func (r *Runtime) OpenEnums() int { return int(r.openEnums.Load()) }

// Released reports whether the engine released the runtime interface.
func (r *Runtime) Released() bool { return r.released.Load() }

// Call executes fn once. Instrumented bodies run the entry hook, then the
// original body, then the exit hook.
func (r *Runtime) Call(fn clrhost.FunctionID) error {
	r.mu.RLock()
	f, ok := r.functions[fn]
	if !ok {
		r.mu.RUnlock()
		return fmt.Errorf("function %#x: %w", uintptr(fn), ErrUnknownHandle)
	}
	rw := f.rewrite
	var enter, leave func(clrhost.FunctionID)
	if rw != nil {
		enter, leave = r.hooks[rw.Enter], r.hooks[rw.Leave]
	}
	r.mu.RUnlock()

	if rw == nil {
		return nil
	}
	if enter == nil {
		return fmt.Errorf("enter %#x: %w", rw.Enter, ErrNoHook)
	}
	if leave == nil {
		return fmt.Errorf("leave %#x: %w", rw.Leave, ErrNoHook)
	}
	enter(fn)
	leave(fn)
	return nil
}

// FunctionInfo implements clrhost.ProfilerInfo.
func (r *Runtime) FunctionInfo(fn clrhost.FunctionID) (clrhost.FunctionInfo, error) {
	r.mu.RLock()
	f, ok := r.functions[fn]
	r.mu.RUnlock()
	if !ok {
		return clrhost.FunctionInfo{}, ErrUnknownHandle
	}
	return f.info, nil
}

// ClassIDInfo implements clrhost.ProfilerInfo.
func (r *Runtime) ClassIDInfo(class clrhost.ClassID) (clrhost.ClassInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ci, ok := r.classes[class]
	if !ok {
		return clrhost.ClassInfo{}, fmt.Errorf("class %#x: %w", uintptr(class), ErrUnknownHandle)
	}
	return ci, nil
}

// ModuleInfo implements clrhost.ProfilerInfo.
func (r *Runtime) ModuleInfo(id clrhost.ModuleID) (clrhost.ModuleInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.modules[id]
	if !ok {
		return clrhost.ModuleInfo{}, fmt.Errorf("module %#x: %w", uintptr(id), ErrUnknownHandle)
	}
	return clrhost.ModuleInfo{Path: m.spec.Path, Base: uintptr(id)}, nil
}

// ModuleMetadata implements clrhost.ProfilerInfo.
func (r *Runtime) ModuleMetadata(id clrhost.ModuleID, flags clrhost.OpenFlags) (clrhost.Metadata, error) {
	if r.released.Load() {
		return nil, ErrReleased
	}
	r.mu.RLock()
	m, ok := r.modules[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("module %#x: %w", uintptr(id), ErrUnknownHandle)
	}
	if m.faults.ModuleMetadata != nil {
		return nil, m.faults.ModuleMetadata
	}
	return &scope{rt: r, mod: m, writable: flags&clrhost.OpenWrite != 0, enums: make(map[clrhost.Enum]int)}, nil
}

// Release implements clrhost.ProfilerInfo.
func (r *Runtime) Release() { r.released.Store(true) }

// Rewrite implements clrhost.Rewriter.
func (r *Runtime) Rewrite(req clrhost.RewriteRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.modules[req.Module]
	if !ok {
		return fmt.Errorf("module %#x: %w", uintptr(req.Module), ErrUnknownHandle)
	}
	if err := m.faults.Rewrite[req.Method]; err != nil {
		return err
	}
	f, ok := r.functions[req.Function]
	if !ok {
		return fmt.Errorf("function %#x: %w", uintptr(req.Function), ErrUnknownHandle)
	}
	if f.info.Token != req.Method || f.info.Module != req.Module {
		return fmt.Errorf("function %#x is not %s: %w", uintptr(req.Function), req.Method, clrhost.Errorf("rewrite", clrhost.EInvalidArg))
	}
	if req.Signature.Table() != clrhost.TableSignature {
		return clrhost.Errorf("rewrite: bad signature token", clrhost.EInvalidArg)
	}
	cp := req
	f.rewrite = &cp
	r.rewrites.Add(1)
	return nil
}

// scope is an opened metadata scope of one module.
type scope struct {
	rt       *Runtime
	mod      *module
	writable bool

	mu       sync.Mutex
	enums    map[clrhost.Enum]int
	nextEnum clrhost.Enum
}

func (s *scope) cursor(e *clrhost.Enum) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if *e == 0 {
		s.nextEnum++
		*e = s.nextEnum
		s.enums[*e] = 0
		s.rt.openEnums.Add(1)
	}
	return s.enums[*e]
}

func (s *scope) advance(e clrhost.Enum, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enums[e] += n
}

func (s *scope) typeTokens() []clrhost.TypeDef {
	out := make([]clrhost.TypeDef, 0, len(s.mod.spec.Types))
	for _, ts := range s.mod.spec.Types {
		out = append(out, ts.Token)
	}
	return out
}

func (s *scope) EnumTypeDefs(e *clrhost.Enum, buf []clrhost.TypeDef) (int, error) {
	pos := s.cursor(e)
	tokens := s.typeTokens()
	if after := s.mod.faults.EnumTypeDefsAfter; after > 0 && pos >= after {
		return 0, clrhost.Errorf("EnumTypeDefs", clrhost.EFail)
	}
	if pos >= len(tokens) {
		return 0, nil
	}
	end := len(tokens)
	if after := s.mod.faults.EnumTypeDefsAfter; after > 0 && end > after {
		end = after
	}
	n := copy(buf, tokens[pos:end])
	s.advance(*e, n)
	return n, nil
}

func (s *scope) EnumMethods(e *clrhost.Enum, td clrhost.TypeDef, buf []clrhost.MethodDef) (int, error) {
	ts, ok := s.mod.types[td]
	if !ok {
		return 0, fmt.Errorf("type %s: %w", td, ErrUnknownHandle)
	}
	pos := s.cursor(e)
	if pos >= len(ts.Methods) {
		return 0, nil
	}
	n := 0
	for _, ms := range ts.Methods[pos:] {
		if n == len(buf) {
			break
		}
		buf[n] = ms.Token
		n++
	}
	s.advance(*e, n)
	return n, nil
}

func (s *scope) CloseEnum(e clrhost.Enum) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.enums[e]; ok {
		delete(s.enums, e)
		s.rt.openEnums.Add(-1)
	}
}

func (s *scope) TypeDefProps(td clrhost.TypeDef) (clrhost.TypeDefProps, error) {
	if err := s.mod.faults.TypeDefProps[td]; err != nil {
		return clrhost.TypeDefProps{}, err
	}
	ts, ok := s.mod.types[td]
	if !ok {
		return clrhost.TypeDefProps{}, fmt.Errorf("type %s: %w", td, ErrUnknownHandle)
	}
	return clrhost.TypeDefProps{Name: ts.Name}, nil
}

func (s *scope) MethodProps(md clrhost.MethodDef) (clrhost.MethodProps, error) {
	if err := s.mod.faults.MethodProps[md]; err != nil {
		return clrhost.MethodProps{}, err
	}
	td, ok := s.mod.owner[md]
	if !ok {
		return clrhost.MethodProps{}, fmt.Errorf("method %s: %w", md, ErrUnknownHandle)
	}
	return clrhost.MethodProps{Class: td, Name: s.mod.names[md]}, nil
}

func (s *scope) TokenFromSig(sig []byte) (clrhost.Signature, error) {
	if !s.writable {
		return 0, ErrReadOnly
	}
	if err := s.mod.faults.TokenFromSig; err != nil {
		return 0, err
	}
	s.mod.sigMu.Lock()
	defer s.mod.sigMu.Unlock()
	key := string(sig)
	if tok, ok := s.mod.sigs[key]; ok {
		return tok, nil
	}
	tok := clrhost.TableSignature | clrhost.Token(len(s.mod.sigs)+1)
	s.mod.sigs[key] = tok
	return tok, nil
}

// Signatures returns the standalone signature tokens created in a module,
// sorted.
func (r *Runtime) Signatures(id clrhost.ModuleID) []clrhost.Signature {
	r.mu.RLock()
	m, ok := r.modules[id]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	m.sigMu.Lock()
	defer m.sigMu.Unlock()
	out := make([]clrhost.Signature, 0, len(m.sigs))
	for _, tok := range m.sigs {
		out = append(out, tok)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// SetFaults replaces the faults injected into a loaded module. Call it
// before the module's load notification is delivered.
func (r *Runtime) SetFaults(id clrhost.ModuleID, f Faults) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.modules[id]; ok {
		m.faults = f
	}
}
