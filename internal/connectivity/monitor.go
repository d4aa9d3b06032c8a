// Package connectivity reports whether the remote backend can currently be
// reached and notifies subscribers about online/offline transitions.
//
// The monitor is an owned instance, not process-wide state: components that
// care about connectivity hold a reference and register a subscription that
// returns an explicit unsubscribe handle.
package connectivity

import (
	"context"
	"log"
	"sync"
	"time"
)

// Monitor is the connectivity contract consumed by the sync engine.
type Monitor interface {
	// IsOnline reports the last observed connectivity state.
	IsOnline() bool

	// IsRemoteReachable actively probes the backend, a deeper check than
	// raw network presence.
	IsRemoteReachable(ctx context.Context) bool

	// Subscribe registers fn to be called on every online/offline
	// transition. The returned handle removes the subscription; calling
	// it more than once is safe.
	Subscribe(fn func(online bool)) (unsubscribe func())
}

// Pinger is the probe the monitor uses to decide reachability. The remote
// store satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ProbeMonitor determines connectivity by periodically pinging the backend.
type ProbeMonitor struct {
	pinger   Pinger
	interval time.Duration
	timeout  time.Duration
	logger   *log.Logger

	mu     sync.Mutex
	online bool
	subs   map[int]func(online bool)
	nextID int

	cancel context.CancelFunc
	done   chan struct{}
}

// NewProbeMonitor creates a monitor that probes via pinger every interval.
// The monitor starts pessimistic (offline) until the first probe succeeds.
func NewProbeMonitor(pinger Pinger, interval time.Duration, logger *log.Logger) *ProbeMonitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if logger == nil {
		logger = log.Default()
	}
	return &ProbeMonitor{
		pinger:   pinger,
		interval: interval,
		timeout:  5 * time.Second,
		logger:   logger,
		subs:     make(map[int]func(online bool)),
	}
}

// Start launches the probe loop. An immediate probe runs before the first
// tick so callers get a real state promptly.
func (m *ProbeMonitor) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})

	go func() {
		defer close(m.done)

		m.probe(ctx)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.probe(ctx)
			}
		}
	}()
}

// Stop halts the probe loop and waits for it to finish.
func (m *ProbeMonitor) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
}

// IsOnline implements Monitor.
func (m *ProbeMonitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// IsRemoteReachable implements Monitor with a fresh probe.
func (m *ProbeMonitor) IsRemoteReachable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	reachable := m.pinger.Ping(ctx) == nil
	m.setOnline(reachable)
	return reachable
}

// Subscribe implements Monitor.
func (m *ProbeMonitor) Subscribe(fn func(online bool)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	m.subs[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			delete(m.subs, id)
		})
	}
}

func (m *ProbeMonitor) probe(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	m.setOnline(m.pinger.Ping(ctx) == nil)
}

// setOnline records the new state and notifies subscribers on transitions.
// Callbacks run outside the lock so a subscriber may call back into the
// monitor.
func (m *ProbeMonitor) setOnline(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	subs := make([]func(bool), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.mu.Unlock()

	if online {
		m.logger.Printf("Connectivity restored")
	} else {
		m.logger.Printf("Connectivity lost")
	}
	for _, fn := range subs {
		fn(online)
	}
}

// Static is a Monitor with a manually controlled state, for tests and for
// deployments that disable offline mode entirely.
type Static struct {
	mu     sync.Mutex
	online bool
	subs   map[int]func(online bool)
	nextID int
}

// NewStatic creates a Static monitor in the given state.
func NewStatic(online bool) *Static {
	return &Static{
		online: online,
		subs:   make(map[int]func(online bool)),
	}
}

// IsOnline implements Monitor.
func (s *Static) IsOnline() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

// IsRemoteReachable implements Monitor.
func (s *Static) IsRemoteReachable(ctx context.Context) bool {
	return s.IsOnline()
}

// Subscribe implements Monitor.
func (s *Static) Subscribe(fn func(online bool)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	s.subs[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subs, id)
		})
	}
}

// SetOnline flips the state, notifying subscribers on a transition.
func (s *Static) SetOnline(online bool) {
	s.mu.Lock()
	if s.online == online {
		s.mu.Unlock()
		return
	}
	s.online = online
	subs := make([]func(bool), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(online)
	}
}
