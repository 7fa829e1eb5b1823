package syncengine

import "sync"

// pauseGate is the deferred handle a paused stream waits on. resume closes
// the current gate's channel, releasing every waiter; pause installs a fresh
// channel so each pause has its own gate.
// The gate starts open (resumed) so streams only block after an explicit
// pause.
type pauseGate struct {
	mu     sync.Mutex
	ch     chan struct{}
	paused bool
}

func newPauseGate() *pauseGate {
	g := &pauseGate{ch: make(chan struct{})}
	close(g.ch) // starts open
	return g
}

// pause makes callers that wait on channel() block until resume is called.
// A no-op if already paused.
func (g *pauseGate) pause() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.paused {
		return
	}
	g.paused = true
	g.ch = make(chan struct{})
}

// resume releases any waiter blocked on channel(). A no-op if not paused.
func (g *pauseGate) resume() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.paused {
		return
	}
	g.paused = false
	close(g.ch)
}

// channel returns the current gate channel to wait on. Stop must close this
// gate (via resume) before signalling cancellation so a paused waiter
// observes the abort on its next boundary check rather than hanging forever.
func (g *pauseGate) channel() chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ch
}

func (g *pauseGate) isPaused() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.paused
}
