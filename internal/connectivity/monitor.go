// Package connectivity implements a polling network monitor. A [Prober]
// answers "is the network up, and is the internet actually reachable" as a
// tri-state; the [Monitor] polls it at a fixed interval and notifies
// subscribers only when the answer changes.
package connectivity

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// DefaultInterval matches the polling cadence the mobile app used.
const DefaultInterval = 3 * time.Second

// Status is one observation of the network.
type Status struct {
	// Connected reports whether a network link is present.
	Connected bool

	// InternetReachable is nil when reachability could not be determined.
	// Only a confirmed false forces offline behaviour while Connected.
	InternetReachable *bool
}

// Online derives the effective online flag: connected, and reachability
// either confirmed or unknown. Unknown counts as online because reachability
// probing itself is unreliable on some networks.
func (s Status) Online() bool {
	return s.Connected && (s.InternetReachable == nil || *s.InternetReachable)
}

// Equal compares two statuses including the tri-state reachability.
func (s Status) Equal(o Status) bool {
	if s.Connected != o.Connected {
		return false
	}
	if (s.InternetReachable == nil) != (o.InternetReachable == nil) {
		return false
	}
	return s.InternetReachable == nil || *s.InternetReachable == *o.InternetReachable
}

// Bool returns a pointer suitable for Status.InternetReachable.
func Bool(v bool) *bool { return &v }

// Prober performs a single reachability check.
type Prober interface {
	Probe(ctx context.Context) Status
}

// HTTPProber checks reachability with a HEAD request against a probe URL,
// typically the appointment API itself.
type HTTPProber struct {
	URL     string
	Timeout time.Duration
	hc      *http.Client
}

// NewHTTPProber creates a prober for the given URL.
func NewHTTPProber(url string, timeout time.Duration) *HTTPProber {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &HTTPProber{URL: url, Timeout: timeout, hc: &http.Client{}}
}

// Probe issues the HEAD request. Any transport failure counts as confirmed
// unreachable; an HTTP response of any status means the network path works.
func (p *HTTPProber) Probe(ctx context.Context) Status {
	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.URL, nil)
	if err != nil {
		return Status{Connected: false, InternetReachable: Bool(false)}
	}

	resp, err := p.hc.Do(req)
	if err != nil {
		return Status{Connected: false, InternetReachable: Bool(false)}
	}
	_ = resp.Body.Close()

	return Status{Connected: true, InternetReachable: Bool(true)}
}

// Monitor polls a Prober and fans out change events. Create one with
// [NewMonitor], register handlers with [Monitor.Subscribe], then call
// [Monitor.Run].
type Monitor struct {
	prober   Prober
	interval time.Duration
	log      *slog.Logger

	mu     sync.Mutex
	status Status
	subs   []func(Status)
}

// NewMonitor creates a Monitor. Until the first probe completes the status is
// optimistic: connected with unknown reachability, mirroring the app's
// initial state.
func NewMonitor(prober Prober, interval time.Duration, logger *slog.Logger) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Monitor{
		prober:   prober,
		interval: interval,
		log:      logger,
		status:   Status{Connected: true},
	}
}

// Status returns the last observed status.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Subscribe registers fn to be called on every status change. Handlers run
// on the monitor's goroutine and must not block for long.
func (m *Monitor) Subscribe(fn func(Status)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs = append(m.subs, fn)
}

// Run probes immediately and then at the configured interval, blocking until
// ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	m.check(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.log.Info("connectivity monitor shutting down")
			return ctx.Err()
		case <-ticker.C:
			m.check(ctx)
		}
	}
}

// check runs one probe and notifies subscribers if the status changed.
func (m *Monitor) check(ctx context.Context) {
	status := m.prober.Probe(ctx)

	m.mu.Lock()
	changed := !status.Equal(m.status)
	m.status = status
	subs := make([]func(Status), len(m.subs))
	copy(subs, m.subs)
	m.mu.Unlock()

	if !changed {
		return
	}

	m.log.Info("connectivity changed", "connected", status.Connected, "online", status.Online())
	for _, fn := range subs {
		fn(status)
	}
}
