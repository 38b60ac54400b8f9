// Package probe decides, at JIT time, whether a method gets entry and exit
// probes, and asks the host's rewriter to install them.
package probe

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/coral-mesh/jitcov/internal/coverage/hooks"
	"github.com/coral-mesh/jitcov/internal/coverage/metadata"
	"github.com/coral-mesh/jitcov/pkg/clrhost"
)

// Outcome is the result of handling one compilation.
type Outcome int

const (
	// Instrumented means the rewrite was installed.
	Instrumented Outcome = iota
	// SkippedNoClass means the compilation unit has no concrete class.
	SkippedNoClass
	// SkippedUntracked means the method is not in the model.
	SkippedUntracked
	// Failed means resolution, metadata or rewrite failed.
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Instrumented:
		return "instrumented"
	case SkippedNoClass:
		return "skipped_no_class"
	case SkippedUntracked:
		return "skipped_untracked"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Observer receives one outcome per handled compilation.
type Observer interface {
	ObserveJIT(outcome Outcome)
}

// ErrNoRewriter is returned when the host provided no rewriter.
var ErrNoRewriter = errors.New("no body rewriter")

// Coordinator installs probes into tracked methods.
type Coordinator struct {
	model    *metadata.Model
	info     clrhost.ProfilerInfo
	rewriter clrhost.Rewriter
	addrs    hooks.Addresses
	logger   zerolog.Logger
	observer Observer

	mu   sync.Mutex
	sigs map[clrhost.ModuleID]clrhost.Signature
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithObserver reports every outcome to o.
func WithObserver(o Observer) Option {
	return func(c *Coordinator) { c.observer = o }
}

// New creates a coordinator that installs calls to addrs.
func New(model *metadata.Model, host clrhost.Host, addrs hooks.Addresses, logger zerolog.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		model:    model,
		info:     host.Info,
		rewriter: host.Rewriter,
		addrs:    addrs,
		logger:   logger,
		sigs:     make(map[clrhost.ModuleID]clrhost.Signature),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// JITCompilationStarted handles the compilation of fn. Methods that are not
// tracked compile unmodified and yield a nil error; failures concern fn only.
func (c *Coordinator) JITCompilationStarted(fn clrhost.FunctionID) (Outcome, error) {
	outcome, err := c.handle(fn)
	if c.observer != nil {
		c.observer.ObserveJIT(outcome)
	}
	return outcome, err
}

func (c *Coordinator) handle(fn clrhost.FunctionID) (Outcome, error) {
	fi, err := c.info.FunctionInfo(fn)
	if err != nil {
		return Failed, fmt.Errorf("function info %#x: %w", uintptr(fn), err)
	}
	if fi.Class == clrhost.NilClass {
		return SkippedNoClass, nil
	}

	if _, tracked := c.model.Module(fi.Module); !tracked {
		return SkippedUntracked, nil
	}
	ci, err := c.info.ClassIDInfo(fi.Class)
	if err != nil {
		return Failed, fmt.Errorf("class info %#x: %w", uintptr(fi.Class), err)
	}
	meth, ok := c.model.Lookup(fi.Module, ci.TypeDef, fi.Token)
	if !ok {
		return SkippedUntracked, nil
	}

	sig, err := c.signature(fi.Module)
	if err != nil {
		c.logger.Error().Err(err).Str("method", meth.FullName).Msg("Failed to define hook signature")
		return Failed, fmt.Errorf("hook signature for %s: %w", meth.FullName, err)
	}
	if c.rewriter == nil {
		return Failed, fmt.Errorf("rewrite %s: %w", meth.FullName, ErrNoRewriter)
	}

	c.logger.Debug().
		Str("method", meth.FullName).
		Uint64("function_id", uint64(fn)).
		Msg("Function JIT compilation started")

	err = c.rewriter.Rewrite(clrhost.RewriteRequest{
		Module:    fi.Module,
		Method:    fi.Token,
		Function:  fn,
		Enter:     c.addrs.Enter,
		Leave:     c.addrs.Leave,
		Signature: sig,
	})
	if err != nil {
		c.logger.Error().Err(err).Str("method", meth.FullName).Msg("Failed to rewrite method body")
		return Failed, fmt.Errorf("rewrite %s: %w", meth.FullName, err)
	}
	return Instrumented, nil
}

// signature returns the module's token for the hook call signature,
// defining it on first use.
func (c *Coordinator) signature(module clrhost.ModuleID) (clrhost.Signature, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if sig, ok := c.sigs[module]; ok {
		return sig, nil
	}
	md, err := c.info.ModuleMetadata(module, clrhost.OpenRead|clrhost.OpenWrite)
	if err != nil {
		return 0, fmt.Errorf("open metadata for write: %w", err)
	}
	sig, err := md.TokenFromSig(clrhost.HookSignature)
	if err != nil {
		return 0, fmt.Errorf("token from signature: %w", err)
	}
	c.sigs[module] = sig
	return sig, nil
}

// Forget drops per-module state of an unloaded module.
func (c *Coordinator) Forget(module clrhost.ModuleID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sigs, module)
}
