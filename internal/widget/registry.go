package widget

import (
	"sync"

	"github.com/chadiek/sahayak/internal/metrics"
)

// Registry tracks live widget connections by session id.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*Conn
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]*Conn)}
}

func (r *Registry) add(c *Conn) {
	r.mu.Lock()
	r.conns[c.id] = c
	r.mu.Unlock()
	metrics.WidgetSessions.Inc()
}

func (r *Registry) remove(c *Conn) {
	r.mu.Lock()
	_, ok := r.conns[c.id]
	if ok {
		delete(r.conns, c.id)
	}
	r.mu.Unlock()
	if ok {
		metrics.WidgetSessions.Dec()
	}
}

// Get returns the live connection for id.
func (r *Registry) Get(id string) (*Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	return c, ok
}

// Len reports how many connections are live.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// CloseAll disconnects every live connection and disposes its session.
// Hijacked websockets are not tracked by http.Server.Shutdown.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	conns := make([]*Conn, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	r.mu.RUnlock()
	for _, c := range conns {
		c.close()
	}
}
