package delivery

import (
	"context"
	"sync"
)

// Gate is a one-shot readiness barrier. It starts closed and, once opened,
// stays open for the life of the process.
type Gate struct {
	once  sync.Once
	ready chan struct{}
}

func NewGate() *Gate {
	return &Gate{ready: make(chan struct{})}
}

// MarkReady opens the gate. Later calls are no-ops.
func (g *Gate) MarkReady() {
	g.once.Do(func() { close(g.ready) })
}

// Ready is closed once the gate opens.
func (g *Gate) Ready() <-chan struct{} {
	return g.ready
}

func (g *Gate) IsReady() bool {
	select {
	case <-g.ready:
		return true
	default:
		return false
	}
}

// Wait blocks until the gate opens or ctx is done.
func (g *Gate) Wait(ctx context.Context) error {
	select {
	case <-g.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
