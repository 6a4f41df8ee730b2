package worker

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pccr10001/jinglegw/internal/calling"
	"github.com/pccr10001/jinglegw/internal/config"
	"github.com/pccr10001/jinglegw/internal/metrics"
	"github.com/pccr10001/jinglegw/internal/signaling"
	"github.com/pccr10001/jinglegw/pkg/logger"
)

const (
	drainPolls    = 10
	drainInterval = 100 * time.Millisecond
)

// HandlerSource hands out the per-profile signaling handler.
type HandlerSource interface {
	HandlerFor(p *calling.Profile) signaling.Handler
}

// Manager owns one worker per configured profile and the process-wide count
// of running signaling handles.
type Manager struct {
	workers map[string]*ProfileWorker
	mu      sync.RWMutex
	handles atomic.Int64
	metrics *metrics.Metrics
	running atomic.Bool
}

// NewManager validates the profiles and builds their workers. Invalid
// profiles are logged and skipped.
func NewManager(profiles []config.ProfileConfig, m *metrics.Metrics) *Manager {
	mgr := &Manager{
		workers: make(map[string]*ProfileWorker),
		metrics: m,
	}
	for _, p := range profiles {
		if err := p.Validate(); err != nil {
			logger.Log.Errorf("Skipping profile %q: %v", p.Name, err)
			continue
		}
		if _, dup := mgr.workers[p.Name]; dup {
			logger.Log.Errorf("Skipping duplicate profile %q", p.Name)
			continue
		}
		mgr.workers[p.Name] = NewProfileWorker(p, mgr)
		logger.Log.Infof("Loaded profile %s (%s)", p.Name, p.Login)
	}
	return mgr
}

// Start wires each worker to the call endpoint and starts it.
func (m *Manager) Start(src HandlerSource) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.running.Swap(true) {
		return
	}
	for _, w := range m.workers {
		w.SetHandler(src.HandlerFor(w.Profile()))
		w.Start()
	}
	logger.Log.Infof("Worker Manager started with %d profiles", len(m.workers))
}

// Stop stops every worker and waits briefly for their connections to close.
func (m *Manager) Stop() {
	if !m.running.Swap(false) {
		return
	}
	m.mu.RLock()
	for _, w := range m.workers {
		w.Stop()
	}
	m.mu.RUnlock()

	for i := 0; i < drainPolls && m.handles.Load() > 0; i++ {
		time.Sleep(drainInterval)
	}
	if n := m.handles.Load(); n > 0 {
		logger.Log.Warnf("Worker Manager stopped with %d handles still open", n)
		return
	}
	logger.Log.Infof("Worker Manager stopped")
}

// Handles is the number of signaling connections currently running.
func (m *Manager) Handles() int64 {
	return m.handles.Load()
}

func (m *Manager) handleUp() {
	m.handles.Add(1)
	m.metrics.HandleUp()
}

func (m *Manager) handleDown() {
	m.handles.Add(-1)
	m.metrics.HandleDown()
}

// Profile implements calling.ProfileSource.
func (m *Manager) Profile(name string) (*calling.Profile, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.workers[name]
	if !ok {
		return nil, false
	}
	return w.Profile(), true
}

func (m *Manager) Worker(name string) *ProfileWorker {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.workers[name]
}

// Statuses lists profile connections sorted by name.
func (m *Manager) Statuses() []Status {
	m.mu.RLock()
	out := make([]Status, 0, len(m.workers))
	for _, w := range m.workers {
		out = append(out, w.Status())
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
