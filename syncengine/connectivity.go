package syncengine

import (
	"context"
	"net"
	"sync"
	"time"
)

// Connectivity reports network reachability and notifies on changes.
type Connectivity interface {
	Online() bool
	// Subscribe calls fn with the new state on every transition and returns the
	// function that removes it.
	Subscribe(fn func(online bool)) (unsubscribe func())
}

// StaticConnectivity is toggled by its owner, e.g. from OS network callbacks.
type StaticConnectivity struct {
	mu     sync.Mutex
	online bool
	subs   map[int]func(bool)
	next   int
}

func NewStaticConnectivity(online bool) *StaticConnectivity {
	return &StaticConnectivity{online: online, subs: make(map[int]func(bool))}
}

func (c *StaticConnectivity) Online() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.online
}

// Set updates the state and notifies subscribers when it changed.
func (c *StaticConnectivity) Set(online bool) {
	c.mu.Lock()
	if c.online == online {
		c.mu.Unlock()
		return
	}
	c.online = online
	subs := make([]func(bool), 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	c.mu.Unlock()

	for _, fn := range subs {
		fn(online)
	}
}

func (c *StaticConnectivity) Subscribe(fn func(online bool)) func() {
	c.mu.Lock()
	id := c.next
	c.next++
	c.subs[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

// ProbeMonitor derives connectivity from periodic TCP dials to addr.
type ProbeMonitor struct {
	*StaticConnectivity
	addr     string
	interval time.Duration
	timeout  time.Duration
	dial     func(ctx context.Context, network, address string) (net.Conn, error)

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewProbeMonitor(addr string, interval time.Duration) *ProbeMonitor {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	d := &net.Dialer{}
	return &ProbeMonitor{
		StaticConnectivity: NewStaticConnectivity(false),
		addr:               addr,
		interval:           interval,
		timeout:            3 * time.Second,
		dial:               d.DialContext,
	}
}

// Start probes once synchronously, then keeps probing until Stop or ctx ends.
func (m *ProbeMonitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	done := m.done
	m.mu.Unlock()

	m.Set(m.probe(ctx))
	go func() {
		defer close(done)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Set(m.probe(ctx))
			}
		}
	}()
}

func (m *ProbeMonitor) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (m *ProbeMonitor) probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	conn, err := m.dial(ctx, "tcp", m.addr)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}
