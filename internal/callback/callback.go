// Package callback carries typed Go state and a typed Go function through a
// driver API that only accepts one pointer-sized opaque value.
//
// Go pointers cannot be stored in C memory, so a Wrapper is registered in a
// process-wide table and the driver is given the table key (a Handle). Exactly
// one party has custody of a Wrapper at any instant: either the table (the
// driver "holds the pointer") or the trampoline that Took it for the duration
// of one callback.
package callback

import (
	"fmt"
	"io"
	"sync"
)

// Handle is the opaque value handed to the driver as callback user data.
type Handle uintptr

// Wrapper boxes one piece of caller state together with the function that
// operates on it.
type Wrapper[S any, F any] struct {
	State S
	Func  F
}

type entry struct {
	box     any
	taken   bool // a trampoline has custody
	dropped bool // the owner released the handle while it was taken
}

var (
	mu      sync.Mutex
	entries = make(map[Handle]*entry)
	nextID  Handle = 1
)

// Wrap boxes state and fn and registers the box. Custody passes to whoever
// holds the returned Handle.
func Wrap[S any, F any](state S, fn F) Handle {
	w := &Wrapper[S, F]{State: state, Func: fn}
	mu.Lock()
	defer mu.Unlock()
	h := nextID
	nextID++
	entries[h] = &entry{box: w}
	return h
}

// Take reclaims the box behind h for one invocation. The caller must name the
// same S and F that were given to Wrap; a mismatch, an unknown handle or a
// handle already taken is a programming error and panics.
func Take[S any, F any](h Handle) *Wrapper[S, F] {
	mu.Lock()
	defer mu.Unlock()
	e, ok := entries[h]
	if !ok {
		panic(fmt.Sprintf("callback: handle %d is not registered", h))
	}
	if e.taken {
		panic(fmt.Sprintf("callback: handle %d is already taken", h))
	}
	w, ok := e.box.(*Wrapper[S, F])
	if !ok {
		panic(fmt.Sprintf("callback: handle %d holds %T, not %T", h, e.box, w))
	}
	e.taken = true
	return w
}

// Return hands custody of w back to the table under the same handle so the
// next invocation can Take it again. If the owner dropped h while it was taken,
// the state is released instead and Return reports false.
func Return[S any, F any](h Handle, w *Wrapper[S, F]) bool {
	mu.Lock()
	e, ok := entries[h]
	if !ok || !e.taken {
		mu.Unlock()
		panic(fmt.Sprintf("callback: handle %d was not taken", h))
	}
	if e.dropped {
		delete(entries, h)
		mu.Unlock()
		release(w.State)
		return false
	}
	e.taken = false
	mu.Unlock()
	return true
}

// Discard permanently ends a taken box: no further invocation can Take it.
func Discard[S any, F any](h Handle, w *Wrapper[S, F]) {
	mu.Lock()
	delete(entries, h)
	mu.Unlock()
	release(w.State)
}

// Drop is the owner-side release of h, used once the driver can no longer
// invoke the callback. If a trampoline currently holds the box, the release
// happens when that trampoline Returns or Discards it. Unknown handles are
// ignored: the trampoline already discarded them.
func Drop(h Handle) {
	mu.Lock()
	e, ok := entries[h]
	if !ok {
		mu.Unlock()
		return
	}
	if e.taken {
		e.dropped = true
		mu.Unlock()
		return
	}
	delete(entries, h)
	mu.Unlock()
	releaseBox(e.box)
}

// Count returns the number of registered handles.
func Count() int {
	mu.Lock()
	defer mu.Unlock()
	return len(entries)
}

func release(state any) {
	if c, ok := state.(io.Closer); ok {
		c.Close()
	}
}

// stateHolder lets Drop release a box without knowing its type parameters.
type stateHolder interface {
	state() any
}

func (w *Wrapper[S, F]) state() any { return w.State }

func releaseBox(box any) {
	if sh, ok := box.(stateHolder); ok {
		release(sh.state())
	}
}
