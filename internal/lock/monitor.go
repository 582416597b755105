package lock

import (
	"sync"
	"time"

	"github.com/pvnzki/eventbn-seatlock/internal/config"
	"github.com/pvnzki/eventbn-seatlock/internal/model"
)

// Route is where the engine sends a hybrid lock request.
type Route int

const (
	RouteDirect Route = iota
	RouteQueued
)

func (r Route) String() string {
	if r == RouteQueued {
		return model.PathQueued
	}
	return model.PathDirect
}

type eventWindow struct {
	// buckets[i] counts attempts in the second stamps[i].
	buckets  []int
	stamps   []int64
	lastSeen time.Time
}

// LoadMonitor tracks the request rate per event over a sliding window of
// one-second buckets.  Its classification is advisory: correctness never
// depends on it, only the choice between the direct and the queued path.
type LoadMonitor struct {
	cfg config.LoadConfig
	now func() time.Time

	mu     sync.Mutex
	events map[string]*eventWindow
}

func NewLoadMonitor(cfg config.LoadConfig, now func() time.Time) *LoadMonitor {
	if now == nil {
		now = time.Now
	}
	if cfg.Window < time.Second {
		cfg.Window = time.Second
	}
	return &LoadMonitor{cfg: cfg, now: now, events: make(map[string]*eventWindow)}
}

func (m *LoadMonitor) size() int {
	return int(m.cfg.Window / time.Second)
}

// Record counts one lock attempt against eventID.
func (m *LoadMonitor) Record(eventID string) {
	now := m.now()
	sec := now.Unix()

	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.events[eventID]
	if !ok {
		n := m.size()
		w = &eventWindow{buckets: make([]int, n), stamps: make([]int64, n)}
		m.events[eventID] = w
	}
	i := int(sec % int64(len(w.buckets)))
	if w.stamps[i] != sec {
		w.stamps[i] = sec
		w.buckets[i] = 0
	}
	w.buckets[i]++
	w.lastSeen = now
}

// attemptsLocked sums the buckets that still fall inside the window.
func (m *LoadMonitor) attemptsLocked(eventID string, now time.Time) int {
	w, ok := m.events[eventID]
	if !ok {
		return 0
	}
	oldest := now.Unix() - int64(len(w.buckets)) + 1
	total := 0
	for i, c := range w.buckets {
		if w.stamps[i] >= oldest {
			total += c
		}
	}
	return total
}

// Sample returns the current load view of eventID.
func (m *LoadMonitor) Sample(eventID string, queueDepth int) model.LoadSample {
	now := m.now()
	m.mu.Lock()
	attempts := m.attemptsLocked(eventID, now)
	m.mu.Unlock()

	rate := float64(attempts) / m.cfg.Window.Seconds()
	s := model.LoadSample{
		EventID:       eventID,
		Attempts:      attempts,
		RatePerSecond: rate,
		QueueDepth:    queueDepth,
		Class:         model.LoadNormal,
	}
	if m.overloaded(rate, queueDepth) {
		s.Class = model.LoadOverloaded
	}
	return s
}

func (m *LoadMonitor) overloaded(rate float64, eventDepth int) bool {
	if m.cfg.RateThreshold > 0 && rate >= m.cfg.RateThreshold {
		return true
	}
	return m.cfg.DepthThreshold > 0 && eventDepth >= m.cfg.DepthThreshold
}

// Classify picks the path for a new request.  A seat that already has
// waiters always goes to the queue so nobody overtakes them.
func (m *LoadMonitor) Classify(eventID string, seatDepth, eventDepth int) (Route, model.LoadClass) {
	s := m.Sample(eventID, eventDepth)
	if seatDepth > 0 || s.Class == model.LoadOverloaded {
		return RouteQueued, s.Class
	}
	return RouteDirect, s.Class
}

// Prune forgets events with no attempts for longer than idle.
func (m *LoadMonitor) Prune(idle time.Duration) int {
	cutoff := m.now().Add(-idle)
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, w := range m.events {
		if w.lastSeen.Before(cutoff) {
			delete(m.events, id)
			n++
		}
	}
	return n
}

// Tracked is the number of events with a live window.
func (m *LoadMonitor) Tracked() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}
