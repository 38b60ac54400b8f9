package engine

import (
	"sync"
	"sync/atomic"
)

var (
	defaultOnce   sync.Once
	defaultEngine atomic.Pointer[Engine]
)

// Default returns the process-wide engine, constructing it with factory on
// first use. Later calls ignore factory.
func Default(factory func() *Engine) *Engine {
	defaultOnce.Do(func() {
		defaultEngine.Store(factory())
	})
	return defaultEngine.Load()
}

// Current returns the process-wide engine, or nil if Default was never
// called.
func Current() *Engine {
	return defaultEngine.Load()
}
