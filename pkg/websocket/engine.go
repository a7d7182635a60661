package websocket

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Engine tracks every connection dialed through it, so a process that
// manages many concurrent WebSocket clients can enumerate them and
// shut them all down together, instead of every caller keeping its
// own bookkeeping.
//
// The zero value is not usable; construct one with NewEngine.
type Engine struct {
	mu    sync.Mutex
	conns map[uuid.UUID]*Conn
}

// NewEngine returns an empty Engine ready to Dial connections through.
func NewEngine() *Engine {
	return &Engine{conns: make(map[uuid.UUID]*Conn)}
}

// Dial establishes a connection exactly like the package-level Dial,
// and additionally registers it with the engine so it shows up in
// Connections and is closed by Shutdown.
func (e *Engine) Dial(ctx context.Context, rawURL string, opts ...Option) (*Conn, error) {
	conn, err := Dial(ctx, rawURL, opts...)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.conns[conn.ID()] = conn
	e.mu.Unlock()

	go func() {
		<-conn.done
		e.mu.Lock()
		delete(e.conns, conn.ID())
		e.mu.Unlock()
	}()
	return conn, nil
}

// Connections returns a snapshot of the connections currently tracked
// by the engine. The returned slice is the caller's own copy.
func (e *Engine) Connections() []*Conn {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Conn, 0, len(e.conns))
	for _, c := range e.conns {
		out = append(out, c)
	}
	return out
}

// Lookup returns the connection registered under id, if any.
func (e *Engine) Lookup(id uuid.UUID) (*Conn, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.conns[id]
	return c, ok
}

// Shutdown closes every connection currently tracked by the engine
// with a "going away" status, waiting for each close handshake to
// finish or ctx to be done, whichever comes first. It returns the
// first error any of those Close calls reported.
func (e *Engine) Shutdown(ctx context.Context) error {
	var firstErr error
	for _, conn := range e.Connections() {
		if err := conn.Close(ctx, StatusGoingAway, "server shutting down"); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
