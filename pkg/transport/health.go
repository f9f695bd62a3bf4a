package transport

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Health check defaults.
const (
	// DefaultPingIdleTime is how long the link must be silent before probing.
	DefaultPingIdleTime = 5 * time.Second

	// DefaultPingInterval is the interval between health checks.
	DefaultPingInterval = 1 * time.Second

	// DefaultPingProbes is the number of unanswered probes before the
	// link is declared dead.
	DefaultPingProbes = 3

	// DefaultSocketConnectTimeout bounds one socket-connect probe.
	DefaultSocketConnectTimeout = 2 * time.Second

	// DefaultSocketConnectCount bounds the extra probe cycles granted by
	// successful socket-connect probes.
	DefaultSocketConnectCount = 10
)

// HealthMode selects who initiates probes.
type HealthMode uint8

const (
	// HealthProbe sends PINGs when idle and declares the link dead after
	// PingProbes missed replies.
	HealthProbe HealthMode = iota

	// HealthEcho never initiates probes; it only answers PINGs.
	HealthEcho
)

// String returns the mode name.
func (m HealthMode) String() string {
	switch m {
	case HealthProbe:
		return "probe"
	case HealthEcho:
		return "echo"
	default:
		return "unknown"
	}
}

// ParseHealthMode parses "probe" or "echo".
func ParseHealthMode(s string) (HealthMode, error) {
	switch strings.ToLower(s) {
	case "probe", "":
		return HealthProbe, nil
	case "echo":
		return HealthEcho, nil
	default:
		return 0, fmt.Errorf("%w: unknown health mode %q", ErrInvalidConfig, s)
	}
}

// HealthConfig configures a HealthChecker.
type HealthConfig struct {
	Mode HealthMode

	// PingIdleTime is the receive silence after which probing starts.
	PingIdleTime time.Duration

	// PingInterval is the tick at which idleness is checked and probes sent.
	PingInterval time.Duration

	// PingProbes is the number of outstanding probes that marks the link dead.
	PingProbes int

	// SocketConnect enables a dial to the peer when probes are exhausted.
	// A successful dial grants another probe cycle.
	SocketConnect        bool
	SocketConnectTimeout time.Duration
	SocketConnectCount   int
}

// DefaultHealthConfig returns the default health check configuration.
func DefaultHealthConfig() HealthConfig {
	return HealthConfig{
		Mode:                 HealthProbe,
		PingIdleTime:         DefaultPingIdleTime,
		PingInterval:         DefaultPingInterval,
		PingProbes:           DefaultPingProbes,
		SocketConnectTimeout: DefaultSocketConnectTimeout,
		SocketConnectCount:   DefaultSocketConnectCount,
	}
}

// Validate rejects negative and inconsistent settings.
func (c HealthConfig) Validate() error {
	switch {
	case c.Mode != HealthProbe && c.Mode != HealthEcho:
		return fmt.Errorf("%w: unknown health mode %d", ErrInvalidConfig, c.Mode)
	case c.PingIdleTime < 0, c.PingInterval < 0, c.SocketConnectTimeout < 0:
		return fmt.Errorf("%w: negative health check duration", ErrInvalidConfig)
	case c.PingProbes < 0, c.SocketConnectCount < 0:
		return fmt.Errorf("%w: negative health check count", ErrInvalidConfig)
	case c.PingIdleTime > 0 && c.PingInterval > c.PingIdleTime:
		return fmt.Errorf("%w: PingInterval %v exceeds PingIdleTime %v", ErrInvalidConfig, c.PingInterval, c.PingIdleTime)
	}
	return nil
}

// DetectionDelay returns the worst-case time from the last received frame
// until the link is declared dead, ignoring socket-connect extensions.
func (c HealthConfig) DetectionDelay() time.Duration {
	c = c.withDefaults()
	return c.PingIdleTime + c.PingInterval*time.Duration(c.PingProbes+1)
}

func (c HealthConfig) withDefaults() HealthConfig {
	if c.PingIdleTime == 0 {
		c.PingIdleTime = DefaultPingIdleTime
	}
	if c.PingInterval == 0 {
		c.PingInterval = min(DefaultPingInterval, c.PingIdleTime)
	}
	if c.PingProbes == 0 {
		c.PingProbes = DefaultPingProbes
	}
	if c.SocketConnectTimeout == 0 {
		c.SocketConnectTimeout = DefaultSocketConnectTimeout
	}
	if c.SocketConnectCount == 0 {
		c.SocketConnectCount = DefaultSocketConnectCount
	}
	return c
}

// HealthState is the probe state of one health check session.
type HealthState uint8

const (
	HealthIdle HealthState = iota
	HealthProbing
	HealthAlive
	HealthDead
)

// String returns the state name.
func (s HealthState) String() string {
	switch s {
	case HealthIdle:
		return "IDLE"
	case HealthProbing:
		return "PROBING"
	case HealthAlive:
		return "ALIVE"
	case HealthDead:
		return "DEAD"
	default:
		return "UNKNOWN"
	}
}

// HealthStats is a snapshot of a health check session.
type HealthStats struct {
	State          HealthState
	LastActivity   time.Time
	Outstanding    int
	ProbesSent     uint64
	SocketConnects int
}

// HealthChecker monitors one physical connection. It is started when a
// link is attached and stopped when it is detached; every received frame
// must be reported through Touch.
type HealthChecker struct {
	config HealthConfig

	sendPing    func(seq uint64) error
	onDead      func()
	socketProbe func(ctx context.Context) error
	onState     func(oldState, newState HealthState)

	seq atomic.Uint64

	mu             sync.Mutex
	state          HealthState
	lastActivity   time.Time
	outstanding    int
	probesSent     uint64
	socketConnects int
	running        bool
	stopCh         chan struct{}
}

// NewHealthChecker creates a health checker. sendPing writes a PING with the
// given probe number; onDead is called once when the link is declared dead.
func NewHealthChecker(config HealthConfig, sendPing func(seq uint64) error, onDead func()) *HealthChecker {
	return &HealthChecker{
		config:       config.withDefaults(),
		sendPing:     sendPing,
		onDead:       onDead,
		lastActivity: time.Now(),
		stopCh:       make(chan struct{}),
	}
}

// SetSocketProbe sets the dial used by the socket-connect extension.
// Without one, SocketConnect has no effect.
func (h *HealthChecker) SetSocketProbe(fn func(ctx context.Context) error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.socketProbe = fn
}

// SetStateCallback sets a callback for health state transitions.
func (h *HealthChecker) SetStateCallback(fn func(oldState, newState HealthState)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onState = fn
}

// Start begins the check loop. Echo mode has no loop.
func (h *HealthChecker) Start(ctx context.Context) {
	h.mu.Lock()
	if h.running || h.config.Mode == HealthEcho {
		h.mu.Unlock()
		return
	}
	h.running = true
	h.lastActivity = time.Now()
	stopCh := h.stopCh
	h.mu.Unlock()

	go h.loop(ctx, stopCh)
}

// Stop stops the check loop. It does not wait, so it is safe to call from
// the onDead callback.
func (h *HealthChecker) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.running {
		return
	}
	h.running = false
	close(h.stopCh)
	h.stopCh = make(chan struct{})
}

// Touch records received traffic and resets outstanding probes.
func (h *HealthChecker) Touch() {
	h.mu.Lock()
	h.lastActivity = time.Now()
	h.outstanding = 0
	h.socketConnects = 0
	old := h.state
	if old == HealthProbing {
		h.state = HealthAlive
	}
	cb := h.onState
	h.mu.Unlock()

	if cb != nil && old == HealthProbing {
		cb(old, HealthAlive)
	}
}

// IsRunning returns true if the check loop is active.
func (h *HealthChecker) IsRunning() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.running
}

// Stats returns a snapshot of the session counters.
func (h *HealthChecker) Stats() HealthStats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return HealthStats{
		State:          h.state,
		LastActivity:   h.lastActivity,
		Outstanding:    h.outstanding,
		ProbesSent:     h.probesSent,
		SocketConnects: h.socketConnects,
	}
}

func (h *HealthChecker) loop(ctx context.Context, stopCh chan struct{}) {
	ticker := time.NewTicker(h.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case now := <-ticker.C:
			h.tick(ctx, now)
		}
	}
}

// tick runs one health check at time now.
func (h *HealthChecker) tick(ctx context.Context, now time.Time) {
	if h.config.Mode == HealthEcho {
		return
	}

	h.mu.Lock()
	if h.state == HealthDead {
		h.mu.Unlock()
		return
	}

	if now.Sub(h.lastActivity) < h.config.PingIdleTime {
		h.setStateLocked(HealthIdle)
		return
	}

	if h.outstanding >= h.config.PingProbes {
		probe := h.socketProbe
		if h.config.SocketConnect && probe != nil && h.socketConnects < h.config.SocketConnectCount {
			h.socketConnects++
			h.mu.Unlock()

			pctx, cancel := context.WithTimeout(ctx, h.config.SocketConnectTimeout)
			err := probe(pctx)
			cancel()

			h.mu.Lock()
			if h.state == HealthDead {
				h.mu.Unlock()
				return
			}
			if err == nil {
				// Peer host is reachable; allow another round of probes.
				h.outstanding = 0
				h.mu.Unlock()
				return
			}
		}

		h.setStateLocked(HealthDead)
		if h.onDead != nil {
			h.onDead()
		}
		return
	}

	h.outstanding++
	h.probesSent++
	seq := h.seq.Add(1)
	h.setStateLocked(HealthProbing)

	// Send errors are counted as missed replies.
	_ = h.sendPing(seq)
}

// setStateLocked changes state and releases h.mu before notifying.
func (h *HealthChecker) setStateLocked(s HealthState) {
	old := h.state
	h.state = s
	cb := h.onState
	h.mu.Unlock()

	if cb != nil && old != s {
		cb(old, s)
	}
}
