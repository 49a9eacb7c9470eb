package common

import (
	"errors"
	"sync/atomic"
)

var ErrModulePaused = errors.New("module paused")

// ErrReentrantCall is returned when a mutating entry point is invoked while
// another mutating call behind the same guard is still in flight.
var ErrReentrantCall = errors.New("reentrant call")

type PauseView interface {
	IsPaused(module string) bool
}

func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// EntryGuard is the mutual-exclusion flag wrapped around every state-mutating
// entry point. Enter refuses nested invocations instead of blocking: the
// caller receives ErrReentrantCall and the in-flight operation is unaffected.
// The returned release must run on every exit path, success or failure.
type EntryGuard struct {
	busy atomic.Bool
}

func (g *EntryGuard) Enter() (func(), error) {
	if g == nil {
		return func() {}, nil
	}
	if !g.busy.CompareAndSwap(false, true) {
		return nil, ErrReentrantCall
	}
	return func() { g.busy.Store(false) }, nil
}

// Held reports whether a guarded call is currently in flight.
func (g *EntryGuard) Held() bool {
	return g != nil && g.busy.Load()
}
