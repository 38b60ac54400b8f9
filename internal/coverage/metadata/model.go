package metadata

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/coral-mesh/jitcov/pkg/clrhost"
)

// SyntheticPrefix marks compiler-generated type names. Such types are never
// tracked.
const SyntheticPrefix = "<"

var (
	// ErrDuplicateModule is returned when a module handle is populated twice.
	ErrDuplicateModule = errors.New("module already tracked")
	// ErrReleased is returned when the model is used after Release.
	ErrReleased = errors.New("model released")
)

// IsSynthetic reports whether a type name denotes a compiler-generated type.
func IsSynthetic(name string) bool {
	return strings.HasPrefix(name, SyntheticPrefix)
}

// MethodIndex addresses a method record in the model's arena.
type MethodIndex int32

// Key identifies a method in the flat index.
type Key struct {
	Module clrhost.ModuleID
	Method clrhost.MethodDef
}

// Method is the record of one method definition.
type Method struct {
	Index    MethodIndex
	Token    clrhost.MethodDef
	Name     string
	FullName string

	invocations atomic.Uint64
}

// Increment records one invocation. It is called from the entry hook only.
func (m *Method) Increment() {
	m.invocations.Add(1)
}

// Invocations returns the number of recorded invocations.
func (m *Method) Invocations() uint64 {
	return m.invocations.Load()
}

// Type is the record of one tracked type definition.
type Type struct {
	Token   clrhost.TypeDef
	Name    string
	Methods []MethodIndex

	byToken map[clrhost.MethodDef]MethodIndex
}

// Method returns the arena index of the method with token md.
func (t *Type) Method(md clrhost.MethodDef) (MethodIndex, bool) {
	idx, ok := t.byToken[md]
	return idx, ok
}

// Module is the record of one tracked module.
type Module struct {
	ID    clrhost.ModuleID
	Name  string
	Path  string
	Types []*Type

	byToken  map[clrhost.TypeDef]*Type
	unloaded atomic.Bool
}

// Type returns the tracked type with token td.
func (m *Module) Type(td clrhost.TypeDef) (*Type, bool) {
	t, ok := m.byToken[td]
	return t, ok
}

// Unloaded reports whether the runtime has unloaded the module.
func (m *Module) Unloaded() bool { return m.unloaded.Load() }

type snapshot struct {
	arena   []*Method
	modules map[clrhost.ModuleID]*Module
	index   map[Key]MethodIndex
}

var emptySnapshot = &snapshot{
	modules: map[clrhost.ModuleID]*Module{},
	index:   map[Key]MethodIndex{},
}

// Stats summarizes the model.
type Stats struct {
	Modules  int
	Unloaded int
	Types    int
	Methods  int
}

// Model is the in-memory graph of tracked modules, types and methods.
type Model struct {
	logger zerolog.Logger

	mu       sync.Mutex
	arena    []*Method
	order    []*Module
	types    int
	released bool

	snap atomic.Pointer[snapshot]
}

// New creates an empty model.
func New(logger zerolog.Logger) *Model {
	m := &Model{logger: logger}
	m.snap.Store(emptySnapshot)
	return m
}

// Populate discovers the types and methods of a module and registers them.
//
// Metadata failures do not abort discovery: whatever could be read is kept
// and published, and the failures are returned joined. The returned module
// is non-nil whenever the module was registered.
func (m *Model) Populate(id clrhost.ModuleID, path, name string, imp clrhost.MetadataImport) (*Module, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.released {
		return nil, ErrReleased
	}
	cur := m.snap.Load()
	if _, exists := cur.modules[id]; exists {
		return nil, fmt.Errorf("module %#x: %w", uintptr(id), ErrDuplicateModule)
	}

	mod := &Module{
		ID:      id,
		Name:    name,
		Path:    path,
		byToken: make(map[clrhost.TypeDef]*Type),
	}
	index := make(map[Key]MethodIndex, len(cur.index))
	for k, v := range cur.index {
		index[k] = v
	}

	var errs []error
	for td, err := range TypeDefs(imp) {
		if err != nil {
			errs = append(errs, fmt.Errorf("enumerate types: %w", err))
			break
		}
		if _, seen := mod.byToken[td]; seen {
			continue
		}
		props, err := imp.TypeDefProps(td)
		if err != nil {
			errs = append(errs, fmt.Errorf("type %s props: %w", td, err))
			continue
		}
		if IsSynthetic(props.Name) {
			m.logger.Debug().Str("module", name).Str("type", props.Name).Msg("Skipping compiler-generated type")
			continue
		}

		typ := &Type{
			Token:   td,
			Name:    props.Name,
			byToken: make(map[clrhost.MethodDef]MethodIndex),
		}
		mod.Types = append(mod.Types, typ)
		mod.byToken[td] = typ
		m.types++
		m.logger.Debug().Str("module", name).Str("type", typ.Name).Msg("Found type")

		if err := m.addMethods(mod, typ, imp, index); err != nil {
			errs = append(errs, err)
		}
	}

	m.order = append(m.order, mod)

	modules := make(map[clrhost.ModuleID]*Module, len(cur.modules)+1)
	for k, v := range cur.modules {
		modules[k] = v
	}
	modules[id] = mod
	m.snap.Store(&snapshot{arena: m.arena, modules: modules, index: index})

	return mod, errors.Join(errs...)
}

// addMethods enumerates the methods of typ. Caller must hold m.mu.
func (m *Model) addMethods(mod *Module, typ *Type, imp clrhost.MetadataImport, index map[Key]MethodIndex) error {
	var errs []error
	for md, err := range Methods(imp, typ.Token) {
		if err != nil {
			errs = append(errs, fmt.Errorf("enumerate methods of %s: %w", typ.Name, err))
			break
		}
		key := Key{Module: mod.ID, Method: md}
		if _, dup := index[key]; dup {
			continue
		}
		props, err := imp.MethodProps(md)
		if err != nil {
			errs = append(errs, fmt.Errorf("method %s props: %w", md, err))
			continue
		}

		meth := &Method{
			Index:    MethodIndex(len(m.arena)),
			Token:    md,
			Name:     props.Name,
			FullName: typ.Name + "::" + props.Name,
		}
		m.arena = append(m.arena, meth)
		typ.Methods = append(typ.Methods, meth.Index)
		typ.byToken[md] = meth.Index
		index[key] = meth.Index

		m.logger.Debug().Str("module", mod.Name).Str("method", meth.FullName).Msg("Found method")
	}
	return errors.Join(errs...)
}

// Unload retires a module: it disappears from every lookup while its records
// stay available to Walk. It returns false if the module was not tracked.
func (m *Model) Unload(id clrhost.ModuleID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur := m.snap.Load()
	mod, ok := cur.modules[id]
	if !ok {
		return false
	}

	modules := make(map[clrhost.ModuleID]*Module, len(cur.modules))
	for k, v := range cur.modules {
		if k != id {
			modules[k] = v
		}
	}
	index := make(map[Key]MethodIndex, len(cur.index))
	for k, v := range cur.index {
		if k.Module != id {
			index[k] = v
		}
	}
	mod.unloaded.Store(true)
	m.snap.Store(&snapshot{arena: cur.arena, modules: modules, index: index})
	return true
}

// Module returns the live module registered under id.
func (m *Model) Module(id clrhost.ModuleID) (*Module, bool) {
	mod, ok := m.snap.Load().modules[id]
	return mod, ok
}

// Lookup resolves a method through the module → type → method hierarchy.
func (m *Model) Lookup(module clrhost.ModuleID, td clrhost.TypeDef, md clrhost.MethodDef) (*Method, bool) {
	s := m.snap.Load()
	mod, ok := s.modules[module]
	if !ok {
		return nil, false
	}
	typ, ok := mod.byToken[td]
	if !ok {
		return nil, false
	}
	idx, ok := typ.byToken[md]
	if !ok {
		return nil, false
	}
	return s.arena[idx], true
}

// Find resolves a method through the flat index.
func (m *Model) Find(module clrhost.ModuleID, md clrhost.MethodDef) (*Method, bool) {
	s := m.snap.Load()
	idx, ok := s.index[Key{Module: module, Method: md}]
	if !ok {
		return nil, false
	}
	return s.arena[idx], true
}

// Method returns the arena record at idx.
func (m *Model) Method(idx MethodIndex) *Method {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.arena[idx]
}

// Modules returns every module ever registered, in load order, including
// unloaded ones.
func (m *Model) Modules() []*Module {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Module, len(m.order))
	copy(out, m.order)
	return out
}

// Walk calls fn for every method record in module, type and discovery order,
// including records of unloaded modules.
func (m *Model) Walk(fn func(mod *Module, typ *Type, meth *Method)) {
	m.mu.Lock()
	order := make([]*Module, len(m.order))
	copy(order, m.order)
	arena := m.arena
	m.mu.Unlock()

	for _, mod := range order {
		for _, typ := range mod.Types {
			for _, idx := range typ.Methods {
				fn(mod, typ, arena[idx])
			}
		}
	}
}

// Stats returns a summary of the model.
func (m *Model) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := Stats{Types: m.types, Methods: len(m.arena)}
	for _, mod := range m.order {
		if mod.Unloaded() {
			st.Unloaded++
		} else {
			st.Modules++
		}
	}
	return st
}

// Release detaches every module from lookups and refuses further
// population. Records remain readable through Walk.
func (m *Model) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.released = true
	m.snap.Store(&snapshot{
		arena:   m.arena,
		modules: map[clrhost.ModuleID]*Module{},
		index:   map[Key]MethodIndex{},
	})
}
