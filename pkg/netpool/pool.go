package netpool

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/taskgrid/corepool/internal/clock"
)

// Connection is one pooled, reusable upstream connection slot. It does
// not itself hold a live socket — callers bind it to whatever transport
// they use (an *http.Client, a gRPC channel, …) via Endpoint and reuse
// it across requests for the connection-affinity and pool-reuse
// accounting the Optimizer tracks.
type Connection struct {
	ID        string
	Endpoint  string
	CreatedAt time.Time
	closed    atomic.Bool
}

func (c *Connection) Close() { c.closed.Store(true) }
func (c *Connection) Closed() bool { return c.closed.Load() }

// Pool is the Connection Pool (C3): bounded reusable connections with
// idle/active accounting, per §4.10.
type Pool struct {
	mu        sync.Mutex
	clk       clock.Clock
	maxSize   int
	all       []*Connection
	idle      []*Connection
	active    map[string]*Connection
}

func NewPool(maxSize int, clk clock.Clock) *Pool {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Pool{
		clk:     clk,
		maxSize: maxSize,
		active:  make(map[string]*Connection),
	}
}

// Acquire returns an idle connection if one exists, otherwise creates a
// new one if below maxSize, otherwise returns nil (pool exhausted).
func (p *Pool) Acquire(endpoint string) *Connection {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.idle) > 0 {
		conn := p.idle[len(p.idle)-1]
		p.idle = p.idle[:len(p.idle)-1]
		conn.Endpoint = endpoint
		p.active[conn.ID] = conn
		return conn
	}

	if len(p.all) < p.maxSize {
		conn := &Connection{ID: uuid.NewString(), Endpoint: endpoint, CreatedAt: p.clk.Now()}
		p.all = append(p.all, conn)
		p.active[conn.ID] = conn
		return conn
	}

	return nil
}

// Release returns conn to the idle set.
func (p *Pool) Release(conn *Connection) {
	if conn == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.active[conn.ID]; ok {
		delete(p.active, conn.ID)
		p.idle = append(p.idle, conn)
	}
}

// Resize grows or shrinks the pool's capacity, closing idle connections
// first when shrinking.
func (p *Pool) Resize(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if n >= p.maxSize {
		p.maxSize = n
		return
	}

	excess := len(p.all) - n
	for excess > 0 && len(p.idle) > 0 {
		conn := p.idle[len(p.idle)-1]
		p.idle = p.idle[:len(p.idle)-1]
		conn.Close()
		p.all = removeConnection(p.all, conn)
		excess--
	}
	p.maxSize = n
}

func removeConnection(all []*Connection, target *Connection) []*Connection {
	out := all[:0]
	for _, c := range all {
		if c != target {
			out = append(out, c)
		}
	}
	return out
}

// AvailableConnections reports the idle count.
func (p *Pool) AvailableConnections() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle)
}

// ActiveConnections reports the in-use count.
func (p *Pool) ActiveConnections() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.active)
}

// Health reports total/healthy/unhealthy connections, per
// ConnectionHealth in the Python optimizer.
type Health struct {
	TotalConnections     int
	HealthyConnections   int
	UnhealthyConnections int
	LastCheck            time.Time
}

func (p *Pool) CheckHealth() Health {
	p.mu.Lock()
	defer p.mu.Unlock()

	total := len(p.all)
	healthy := 0
	for _, c := range p.all {
		if !c.Closed() {
			healthy++
		}
	}
	return Health{
		TotalConnections:     total,
		HealthyConnections:   healthy,
		UnhealthyConnections: total - healthy,
		LastCheck:            p.clk.Now(),
	}
}
