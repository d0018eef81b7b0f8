// ABOUTME: Network reachability monitor with a probe loop and change subscriptions.
// ABOUTME: Exposes a process-wide connected boolean; assumes online until proven otherwise.
package netmon

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Probe reports whether outbound network access currently works.
type Probe func(ctx context.Context) bool

// Options configures a Monitor.
type Options struct {
	// Addr is the host:port the default probe dials. Ignored when Probe is set.
	Addr string
	// Probe overrides the default TCP dial probe.
	Probe Probe
	// Interval between background probes. Defaults to 30s.
	Interval time.Duration
	// MinProbeGap caps how often any probe may run, including manual
	// Refresh calls. Defaults to 1s.
	MinProbeGap time.Duration
	Logger      zerolog.Logger
}

// Monitor tracks reachability of the remote endpoint. Before the first probe
// completes it reports connected, so first-run flows are never spuriously
// blocked by an unknown network state.
type Monitor struct {
	probe    Probe
	interval time.Duration
	limiter  *rate.Limiter
	log      zerolog.Logger

	mu        sync.Mutex
	connected bool
	subs      map[int]chan bool
	nextSub   int
	closed    bool

	cancel context.CancelFunc
	done   chan struct{}
}

// New builds a Monitor. Call Start to begin probing.
func New(opts Options) *Monitor {
	probe := opts.Probe
	if probe == nil {
		addr := opts.Addr
		probe = func(ctx context.Context) bool {
			d := net.Dialer{Timeout: 3 * time.Second}
			conn, err := d.DialContext(ctx, "tcp", addr)
			if err != nil {
				return false
			}
			_ = conn.Close()
			return true
		}
	}
	interval := opts.Interval
	if interval == 0 {
		interval = 30 * time.Second
	}
	gap := opts.MinProbeGap
	if gap == 0 {
		gap = time.Second
	}
	return &Monitor{
		probe:     probe,
		interval:  interval,
		limiter:   rate.NewLimiter(rate.Every(gap), 1),
		log:       opts.Logger,
		connected: true,
		subs:      make(map[int]chan bool),
	}
}

// Start runs one probe synchronously, then probes on an interval until ctx is
// cancelled or Close is called. Safe to call once per Monitor.
func (m *Monitor) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})

	m.probeOnce(ctx)

	go func() {
		defer close(m.done)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.probeOnce(ctx)
			}
		}
	}()
}

// Connected reports the last observed reachability state.
func (m *Monitor) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// Refresh runs an immediate probe, subject to the probe-gap limit.
func (m *Monitor) Refresh(ctx context.Context) {
	m.probeOnce(ctx)
}

// Subscribe registers for change notifications. The returned channel receives
// the new state whenever reachability flips; sends never block and slow
// consumers may miss intermediate flips. cancel unregisters the subscriber
// and closes the channel.
func (m *Monitor) Subscribe() (<-chan bool, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextSub
	m.nextSub++
	ch := make(chan bool, 4)
	m.subs[id] = ch

	cancel := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if sub, ok := m.subs[id]; ok {
			delete(m.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Close stops probing and closes all subscriber channels.
func (m *Monitor) Close() {
	if m.cancel != nil {
		m.cancel()
		<-m.done
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	for id, ch := range m.subs {
		delete(m.subs, id)
		close(ch)
	}
}

func (m *Monitor) probeOnce(ctx context.Context) {
	if !m.limiter.Allow() {
		return
	}
	up := m.probe(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	if up == m.connected {
		return
	}
	m.connected = up
	m.log.Debug().Bool("connected", up).Msg("reachability changed")
	// Sends happen under the lock, so no observer is ever notified
	// concurrently from two probes.
	for _, ch := range m.subs {
		select {
		case ch <- up:
		default:
		}
	}
}
