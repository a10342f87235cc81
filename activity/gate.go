// Package activity combines page, suspend and visibility signals into the
// single "camera should run" predicate.
package activity

import (
	"sync"

	"scanqr/logs"
)

// State describes the three independent activity switches.
type State struct {
	PageActive    bool
	Suspending    bool
	WindowVisible bool
}

// Active reports whether the camera should be running.
func (s State) Active() bool {
	return s.PageActive && !s.Suspending && s.WindowVisible
}

// Gate holds the activity switches. Listeners are notified only when the
// combined Active value flips.
type Gate struct {
	mu    sync.Mutex
	state State

	listenerMu sync.Mutex
	listeners  map[int]func(State)
	nextID     int
}

// NewGate returns a gate for a visible window with no active page.
func NewGate() *Gate {
	return &Gate{
		state:     State{WindowVisible: true},
		listeners: make(map[int]func(State)),
	}
}

// State returns a copy of the current switches.
func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Active reports the combined predicate.
func (g *Gate) Active() bool {
	return g.State().Active()
}

// SetPageActive records navigation to (true) or away from (false) the scan page.
func (g *Gate) SetPageActive(active bool) {
	g.update(func(s *State) { s.PageActive = active })
}

// SetSuspending records the application suspending (true) or resuming (false).
func (g *Gate) SetSuspending(suspending bool) {
	g.update(func(s *State) { s.Suspending = suspending })
}

// SetWindowVisible records a window visibility change.
func (g *Gate) SetWindowVisible(visible bool) {
	g.update(func(s *State) { s.WindowVisible = visible })
}

func (g *Gate) update(fn func(*State)) {
	g.mu.Lock()
	before := g.state.Active()
	fn(&g.state)
	after := g.state
	g.mu.Unlock()
	if after.Active() != before {
		g.notifyListeners(after)
	}
}

// Subscribe registers fn for edges of the combined predicate.
// It returns a function that removes the listener.
func (g *Gate) Subscribe(fn func(State)) func() {
	if fn == nil {
		return func() {}
	}
	g.listenerMu.Lock()
	id := g.nextID
	g.nextID++
	g.listeners[id] = fn
	g.listenerMu.Unlock()
	return func() {
		g.listenerMu.Lock()
		delete(g.listeners, id)
		g.listenerMu.Unlock()
	}
}

func (g *Gate) notifyListeners(state State) {
	g.listenerMu.Lock()
	snapshot := make([]func(State), 0, len(g.listeners))
	for _, fn := range g.listeners {
		snapshot = append(snapshot, fn)
	}
	g.listenerMu.Unlock()
	for _, fn := range snapshot {
		func(cb func(State)) {
			defer func() {
				if r := recover(); r != nil {
					logs.LogV("[activity] listener panic: %v", r)
				}
			}()
			cb(state)
		}(fn)
	}
}
