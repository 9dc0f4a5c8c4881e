// Package session maps browser sessions to image controllers. Controllers
// live in memory on the instance that created them; their snapshots are
// persisted so a session survives a restart or a hop to another instance.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/autsav/backgroundRemover/internal/controller"
	"github.com/autsav/backgroundRemover/internal/imageprocessor"
	"github.com/autsav/backgroundRemover/internal/logging"
)

const saveTimeout = 3 * time.Second

type liveEntry struct {
	ctrl     *controller.Controller
	lastSeen time.Time
}

// Manager hands out one controller per session identifier.
type Manager struct {
	mu   sync.Mutex
	live map[string]*liveEntry

	store     Store
	processor imageprocessor.Client
	opts      controller.Options
	ttl       time.Duration
	now       func() time.Time
	logger    *zap.Logger
}

// NewManager builds controllers around processor using opts. The Observer in
// opts is replaced by one that persists into store.
func NewManager(store Store, processor imageprocessor.Client, opts controller.Options, ttl time.Duration, logger *zap.Logger) *Manager {
	return &Manager{
		live:      make(map[string]*liveEntry),
		store:     store,
		processor: processor,
		opts:      opts,
		ttl:       ttl,
		now:       time.Now,
		logger:    logger.Named("session"),
	}
}

// NewID returns a fresh session identifier.
func NewID() string {
	return uuid.NewString()
}

// Get returns the controller for id, restoring it from the store when this
// instance has not seen the session yet.
func (m *Manager) Get(ctx context.Context, id string) (*controller.Controller, error) {
	if id == "" {
		return nil, errors.New("empty session id")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.live[id]; ok {
		e.lastSeen = m.now()
		return e.ctrl, nil
	}

	opLogger := logging.WithOperation(m.logger, "session.get", logging.RequestIDFrom(ctx)).With(zap.String("session_id", id))

	ctrl := controller.New(m.processor, m.logger, m.controllerOptions(id))
	snap, err := m.store.Load(ctx, id)
	switch {
	case errors.Is(err, ErrNotFound):
	case err != nil:
		opLogger.Warn("failed to load session, starting empty", zap.Error(err))
	default:
		if err := ctrl.Restore(snap); err != nil {
			opLogger.Warn("discarding unreadable session", zap.Error(err))
			if delErr := m.store.Delete(ctx, id); delErr != nil {
				opLogger.Warn("failed to delete session", zap.Error(delErr))
			}
		}
	}

	m.live[id] = &liveEntry{ctrl: ctrl, lastSeen: m.now()}
	return ctrl, nil
}

func (m *Manager) controllerOptions(id string) controller.Options {
	opts := m.opts
	p := &persister{id: id, manager: m}
	opts.Observer = p.save
	return opts
}

// persister writes one session's snapshots in version order, dropping any
// that arrive after a newer one was saved.
type persister struct {
	mu      sync.Mutex
	id      string
	saved   uint64
	manager *Manager
}

func (p *persister) save(snap controller.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if snap.Version <= p.saved {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()
	if err := p.manager.store.Save(ctx, p.id, snap, p.manager.ttl); err != nil {
		p.manager.logger.Warn("failed to persist session", zap.String("session_id", p.id), zap.Error(err))
		return
	}
	p.saved = snap.Version
}

// Len reports how many controllers are held in memory.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.live)
}

// Evict drops in-memory controllers idle for longer than the session TTL.
// Their snapshots stay in the store until it expires them.
func (m *Manager) Evict() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-m.ttl)
	evicted := 0
	for id, e := range m.live {
		if e.lastSeen.Before(cutoff) && e.ctrl.State().Phase() != controller.PhaseProcessing {
			delete(m.live, id)
			evicted++
		}
	}
	if sweeper, ok := m.store.(interface{ Sweep() int }); ok {
		sweeper.Sweep()
	}
	return evicted
}

// Run evicts idle sessions every interval until ctx is done.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Evict(); n > 0 {
				m.logger.Debug("evicted idle sessions", zap.Int("count", n))
			}
		}
	}
}
