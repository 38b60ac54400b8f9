package simhost

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/coral-mesh/jitcov/pkg/clrhost"
)

// Script is a recorded runtime session.
//
//	modules:
//	  - name: CodeCoverage.Example.dll
//	    types:
//	      - name: Foo
//	        methods: [{name: Bar}, {name: Baz}]
//	events:
//	  - load: CodeCoverage.Example.dll
//	  - call: Foo::Bar
//	    module: CodeCoverage.Example.dll
//	    times: 2
type Script struct {
	Modules []ScriptModule `yaml:"modules"`
	Events  []Event        `yaml:"events"`
}

// ScriptModule is a module image plus the failures to inject into it.
type ScriptModule struct {
	ModuleSpec `yaml:",inline"`

	// FailRewrite lists "Type::Method" names whose rewrite fails.
	FailRewrite []string `yaml:"fail_rewrite,omitempty"`
	// FailMethodProps lists "Type::Method" names whose properties cannot
	// be read.
	FailMethodProps []string `yaml:"fail_method_props,omitempty"`
	// FailTypeEnumAfter aborts type enumeration after that many types.
	FailTypeEnumAfter int `yaml:"fail_type_enum_after,omitempty"`
}

// Event is one step of a script. Exactly one of Load, Unload, JIT or Call
// is set.
type Event struct {
	Load   string `yaml:"load,omitempty"`
	Unload string `yaml:"unload,omitempty"`
	JIT    string `yaml:"jit,omitempty"`
	Call   string `yaml:"call,omitempty"`

	// Module names the module of a JIT or Call event.
	Module string `yaml:"module,omitempty"`
	// Token selects one of several overloads sharing the method name.
	Token clrhost.MethodDef `yaml:"token,omitempty"`
	// Times is the number of calls (default 1).
	Times int `yaml:"times,omitempty"`
	// Threads spreads the calls across that many goroutines (default 1).
	Threads int `yaml:"threads,omitempty"`
	// Shared compiles the method as shared generic code without a class.
	Shared bool `yaml:"shared,omitempty"`
}

// ParseScript decodes a YAML script.
func ParseScript(r io.Reader) (*Script, error) {
	var s Script
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("decode script: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks that every event references a declared module.
func (s *Script) Validate() error {
	declared := make(map[string]bool, len(s.Modules))
	for _, m := range s.Modules {
		if m.Name == "" {
			return errors.New("module without name")
		}
		if declared[m.Name] {
			return fmt.Errorf("module %q declared twice", m.Name)
		}
		declared[m.Name] = true
	}
	for i, ev := range s.Events {
		kinds := 0
		for _, v := range []string{ev.Load, ev.Unload, ev.JIT, ev.Call} {
			if v != "" {
				kinds++
			}
		}
		if kinds != 1 {
			return fmt.Errorf("event %d: exactly one of load, unload, jit, call must be set", i)
		}
		name := ev.Module
		switch {
		case ev.Load != "":
			name = ev.Load
		case ev.Unload != "":
			name = ev.Unload
		}
		if !declared[name] {
			return fmt.Errorf("event %d: unknown module %q", i, name)
		}
		if ev.Times < 0 || ev.Threads < 0 {
			return fmt.Errorf("event %d: times and threads must not be negative", i)
		}
	}
	return nil
}

// JITFailure records a compilation the engine refused.
type JITFailure struct {
	Method string
	Status clrhost.Status
	Err    error
}

// Result summarizes a played script.
type Result struct {
	Calls       int
	Compiled    int
	JITFailures []JITFailure
}

// Player drives a Callbacks implementation through a script.
type Player struct {
	rt     *Runtime
	cb     clrhost.Callbacks
	logger zerolog.Logger

	loaded map[string]clrhost.ModuleID
	specs  map[string]ScriptModule
}

// NewPlayer creates a player over rt delivering notifications to cb.
func NewPlayer(rt *Runtime, cb clrhost.Callbacks, logger zerolog.Logger) *Player {
	return &Player{
		rt:     rt,
		cb:     cb,
		logger: logger,
		loaded: make(map[string]clrhost.ModuleID),
		specs:  make(map[string]ScriptModule),
	}
}

// Play runs every event of s in order. Initialization and shutdown are left
// to the caller.
func (p *Player) Play(ctx context.Context, s *Script) (*Result, error) {
	for _, m := range s.Modules {
		p.specs[m.Name] = m
	}

	res := &Result{}
	for i, ev := range s.Events {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		var err error
		switch {
		case ev.Load != "":
			err = p.load(ev.Load)
		case ev.Unload != "":
			err = p.unload(ev.Unload)
		case ev.JIT != "":
			_, err = p.compile(ev.Module, ev.JIT, ev.Token, ev.Shared, res)
		case ev.Call != "":
			err = p.call(ctx, ev, res)
		}
		if err != nil {
			return res, fmt.Errorf("event %d: %w", i, err)
		}
	}
	return res, nil
}

func (p *Player) load(name string) error {
	if _, ok := p.loaded[name]; ok {
		return fmt.Errorf("module %q already loaded", name)
	}
	sm := p.specs[name]
	id := p.rt.LoadModule(sm.ModuleSpec, Faults{})

	faults, err := p.faults(id, sm)
	if err != nil {
		return err
	}
	p.rt.SetFaults(id, faults)
	p.loaded[name] = id

	if err := p.cb.ModuleLoadStarted(id); err != nil {
		return err
	}
	return p.cb.ModuleLoadFinished(id, clrhost.OK)
}

func (p *Player) faults(id clrhost.ModuleID, sm ScriptModule) (Faults, error) {
	f := Faults{EnumTypeDefsAfter: sm.FailTypeEnumAfter}
	if len(sm.FailRewrite) > 0 {
		f.Rewrite = make(map[clrhost.MethodDef]error)
		for _, name := range sm.FailRewrite {
			md, err := p.rt.Resolve(id, name)
			if err != nil {
				return f, err
			}
			f.Rewrite[md] = clrhost.Errorf("rewrite "+name, clrhost.EFail)
		}
	}
	if len(sm.FailMethodProps) > 0 {
		f.MethodProps = make(map[clrhost.MethodDef]error)
		for _, name := range sm.FailMethodProps {
			md, err := p.rt.Resolve(id, name)
			if err != nil {
				return f, err
			}
			f.MethodProps[md] = clrhost.Errorf("method props "+name, clrhost.EFail)
		}
	}
	return f, nil
}

func (p *Player) unload(name string) error {
	id, ok := p.loaded[name]
	if !ok {
		return fmt.Errorf("module %q not loaded", name)
	}
	if err := p.cb.ModuleUnloadStarted(id); err != nil {
		return err
	}
	if err := p.rt.UnloadModule(id); err != nil {
		return err
	}
	delete(p.loaded, name)
	return p.cb.ModuleUnloadFinished(id, clrhost.OK)
}

// compile returns the function handle of a method, delivering the JIT
// notifications the first time it is used.
func (p *Player) compile(module, method string, token clrhost.MethodDef, shared bool, res *Result) (clrhost.FunctionID, error) {
	id, ok := p.loaded[module]
	if !ok {
		return 0, fmt.Errorf("module %q not loaded", module)
	}
	md, err := p.rt.ResolveToken(id, method, token)
	if err != nil {
		return 0, err
	}
	fn, err := p.rt.Function(id, md, shared)
	if err != nil {
		return 0, err
	}
	if p.rt.Compiled(fn) {
		return fn, nil
	}

	jitErr := p.cb.JITCompilationStarted(fn, true)
	status := clrhost.StatusOf(jitErr)
	if jitErr != nil {
		res.JITFailures = append(res.JITFailures, JITFailure{Method: method, Status: status, Err: jitErr})
		p.logger.Debug().Err(jitErr).Str("method", method).Msg("JIT compilation started returned failure")
	}
	p.rt.MarkCompiled(fn)
	res.Compiled++
	return fn, p.cb.JITCompilationFinished(fn, status, true)
}

func (p *Player) call(ctx context.Context, ev Event, res *Result) error {
	fn, err := p.compile(ev.Module, ev.Call, ev.Token, ev.Shared, res)
	if err != nil {
		return err
	}

	times := max(ev.Times, 1)
	threads := min(max(ev.Threads, 1), times)

	g, _ := errgroup.WithContext(ctx)
	for t := 0; t < threads; t++ {
		n := times / threads
		if t < times%threads {
			n++
		}
		g.Go(func() error {
			for i := 0; i < n; i++ {
				if err := p.rt.Call(fn); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	res.Calls += times
	return nil
}
