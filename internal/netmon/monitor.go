// Package netmon provides the process-wide connectivity signal.
//
// A Monitor is created once at process start. Platform code (or Watch, which
// probes the sync server) flips it with SetOnline; components read IsOnline
// or Subscribe to transitions.
package netmon

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/logging"
)

const pingTimeout = 3 * time.Second

// Pinger probes the server.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingerFunc adapts a function to Pinger.
type PingerFunc func(ctx context.Context) error

func (f PingerFunc) Ping(ctx context.Context) error { return f(ctx) }

type Monitor struct {
	online atomic.Bool
	log    logging.Logger

	mu   sync.Mutex
	next int
	subs map[int]func(online bool)
}

func New(initial bool, log logging.Logger) *Monitor {
	m := &Monitor{log: log, subs: make(map[int]func(bool))}
	m.online.Store(initial)
	return m
}

func (m *Monitor) IsOnline() bool {
	return m.online.Load()
}

// SetOnline records the current connectivity and notifies subscribers when
// it changed. Subscribers run synchronously on the caller's goroutine.
func (m *Monitor) SetOnline(online bool) {
	if m.online.Swap(online) == online {
		return
	}

	m.log.Info(context.Background(), "connectivity changed", "online", online)

	m.mu.Lock()
	fns := make([]func(bool), 0, len(m.subs))
	for _, fn := range m.subs {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn(online)
	}
}

// Subscribe registers fn for connectivity transitions and returns a func
// that removes it.
func (m *Monitor) Subscribe(fn func(online bool)) (unsubscribe func()) {
	m.mu.Lock()
	id := m.next
	m.next++
	m.subs[id] = fn
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
		})
	}
}

// Watch probes p immediately and then every interval until ctx is done.
func (m *Monitor) Watch(ctx context.Context, interval time.Duration, p Pinger) {
	probe := func() {
		pctx, cancel := context.WithTimeout(ctx, pingTimeout)
		err := p.Ping(pctx)
		cancel()
		if err != nil && ctx.Err() == nil {
			m.log.Debug(ctx, "server unreachable", "error", err)
		}
		if ctx.Err() == nil {
			m.SetOnline(err == nil)
		}
	}

	probe()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			probe()
		case <-ctx.Done():
			return
		}
	}
}
