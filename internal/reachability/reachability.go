// Package reachability is the single-subscriber network-status
// monitor: one probe target pinged on a ticker, with each status
// change pushed to exactly one subscriber channel.
package reachability

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Status is one of the three reachability states.
type Status string

const (
	Unreachable       Status = "unreachable"
	ReachableWiFi     Status = "reachable-wifi"
	ReachableCellular Status = "reachable-cellular"
)

// IsReachable reports whether s represents any connected state.
func (s Status) IsReachable() bool { return s != Unreachable }

// Prober performs one reachability check against a target and
// classifies the result. The default implementation is httpProber;
// tests substitute a fake.
type Prober interface {
	Probe(ctx context.Context, target string) Status
}

// Monitor polls a Prober on a ticker and publishes status changes to
// its single subscriber, coalescing consecutive duplicates so a
// subscriber never sees the same status twice in a row.
type Monitor struct {
	prober Prober
	target string

	mu       sync.Mutex
	current  Status
	sub      chan Status
	stopCh   chan struct{}
	stopped  bool
}

// New constructs a Monitor against target using prober. The initial
// status is Unreachable until the first probe completes.
func New(target string, prober Prober) *Monitor {
	if prober == nil {
		prober = NewHTTPProber(3 * time.Second)
	}
	return &Monitor{
		prober:  prober,
		target:  target,
		current: Unreachable,
	}
}

// Subscribe installs the sole listener channel. A second call panics:
// this monitor is single-subscriber by design, and silently replacing
// the manager's channel would hide a wiring bug.
func (m *Monitor) Subscribe() <-chan Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sub != nil {
		panic("reachability: Subscribe called more than once")
	}
	m.sub = make(chan Status, 1)
	return m.sub
}

// Current returns the most recently observed status without probing.
func (m *Monitor) Current() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Start launches the ticker-driven probe loop, mirroring
// PeerRegistry.StartMonitor. Stop cancels it.
func (m *Monitor) Start(interval time.Duration) {
	m.mu.Lock()
	if m.stopCh != nil {
		m.mu.Unlock()
		return
	}
	m.stopCh = make(chan struct{})
	stopCh := m.stopCh
	m.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stopCh:
				return
			case <-ticker.C:
				m.probeOnce()
			}
		}
	}()
}

func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped || m.stopCh == nil {
		return
	}
	close(m.stopCh)
	m.stopped = true
}

func (m *Monitor) probeOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	status := m.prober.Probe(ctx, m.target)
	m.publish(status)
}

// publish applies the duplicate-coalescing policy: only a genuine
// change reaches the subscriber.
func (m *Monitor) publish(status Status) {
	m.mu.Lock()
	changed := status != m.current
	m.current = status
	sub := m.sub
	stopCh := m.stopCh
	m.mu.Unlock()

	if !changed || sub == nil {
		return
	}
	select {
	case sub <- status:
	default:
		// subscriber hasn't drained the previous event yet; wait for it
		// (or for Stop) instead of dropping this change, so the last
		// status the subscriber receives is always the latest one.
		logrus.Debug("reachability: subscriber channel full, waiting to deliver status")
		select {
		case sub <- status:
		case <-stopCh:
		}
	}
}

// httpProber is the default Prober: an HTTP HEAD against target,
// classified reachable-wifi on success. It cannot distinguish WiFi
// from cellular from inside a server process, so every reachable
// result reports reachable-wifi; a platform-specific Prober
// (mobile client bindings) is expected to supply the cellular variant.
type httpProber struct {
	client *http.Client
}

// NewHTTPProber returns the default Prober with the given timeout.
func NewHTTPProber(timeout time.Duration) Prober {
	return &httpProber{client: &http.Client{Timeout: timeout}}
}

func (p *httpProber) Probe(ctx context.Context, target string) Status {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, target, nil)
	if err != nil {
		return Unreachable
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return Unreachable
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return Unreachable
	}
	return ReachableWiFi
}
