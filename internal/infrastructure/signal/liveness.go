package signal

import (
	"sync"
	"time"
)

// LivenessMonitor probes one connection on a fixed interval and reports it
// dead after maxMissed consecutive unacknowledged probes. Start and Stop
// are each called once, from connection accept and teardown.
type LivenessMonitor struct {
	interval  time.Duration
	maxMissed int

	mu      sync.Mutex
	missed  int
	stopped bool
	stop    chan struct{}
	done    chan struct{}
}

func NewLivenessMonitor(interval time.Duration, maxMissed int) *LivenessMonitor {
	if maxMissed < 1 {
		maxMissed = 1
	}
	return &LivenessMonitor{
		interval:  interval,
		maxMissed: maxMissed,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start runs the probe loop in its own goroutine. probe sends a heartbeat
// and reports whether it was queued; onDead is called at most once.
func (m *LivenessMonitor) Start(probe func() bool, onDead func()) {
	go m.run(probe, onDead)
}

func (m *LivenessMonitor) run(probe func() bool, onDead func()) {
	defer close(m.done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			if dead := m.tick(probe); dead {
				onDead()
				return
			}
		}
	}
}

// tick holds mu across the probe so Stop cannot return while a tick is
// deciding the connection's fate.
func (m *LivenessMonitor) tick(probe func() bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return false
	}
	if m.missed >= m.maxMissed {
		m.stopped = true
		return true
	}
	m.missed++
	if !probe() {
		m.stopped = true
		return true
	}
	return false
}

// Ack records activity from the peer.
func (m *LivenessMonitor) Ack() {
	m.mu.Lock()
	m.missed = 0
	m.mu.Unlock()
}

// Stop cancels the monitor. After Stop returns no probe is sent and onDead
// is not called unless it had already been chosen.
func (m *LivenessMonitor) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	m.mu.Unlock()
	close(m.stop)
}

func (m *LivenessMonitor) Missed() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.missed
}

// Done is closed once the probe loop has exited.
func (m *LivenessMonitor) Done() <-chan struct{} {
	return m.done
}
