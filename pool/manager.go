package pool

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/LeadPages/gcloud-requests/logger"
)

// Default manager limits.
const (
	DefaultMaxWorkers      = 256
	DefaultIdleTTL         = 30 * time.Minute
	DefaultCleanupInterval = 5 * time.Minute
)

// Manager caches one Connection per worker key.
// It provides lazy initialization, LRU eviction, and cleanup of idle workers' connections.
type Manager struct {
	logger  logger.Logger
	factory Factory
	connOpt ConnectionOptions

	mu    sync.RWMutex
	conns map[string]*connEntry

	lru     *list.List
	maxSize int

	idleTTL   time.Duration
	now       func() time.Time
	cleanupMu sync.Mutex
	cleanupCh chan struct{}

	sfg singleflight.Group
}

type connEntry struct {
	conn     Connection
	element  *list.Element
	lastUsed time.Time
}

// ManagerOptions configures the Manager
type ManagerOptions struct {
	MaxWorkers int           // Maximum number of cached connections
	IdleTTL    time.Duration // Idle time after which a worker's connection is closed
	Connection ConnectionOptions
	Factory    Factory // Defaults to NewConnection
}

// NewManager creates a connection manager.
func NewManager(log logger.Logger, opts ManagerOptions) *Manager {
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = DefaultMaxWorkers
	}
	if opts.IdleTTL <= 0 {
		opts.IdleTTL = DefaultIdleTTL
	}
	if opts.Factory == nil {
		opts.Factory = NewConnection
	}

	return &Manager{
		logger:  log,
		factory: opts.Factory,
		connOpt: opts.Connection,
		conns:   make(map[string]*connEntry),
		lru:     list.New(),
		maxSize: opts.MaxWorkers,
		idleTTL: opts.IdleTTL,
		now:     time.Now,
	}
}

// Get returns the connection owned by the worker key, creating it on first use.
func (m *Manager) Get(_ context.Context, key string) (Connection, error) {
	if conn := m.getExisting(key); conn != nil {
		return conn, nil
	}

	result, err, _ := m.sfg.Do(key, func() (any, error) {
		if conn := m.getExisting(key); conn != nil {
			return conn, nil
		}
		return m.createConnection(key)
	})
	if err != nil {
		return nil, err
	}
	return result.(Connection), nil
}

// ForContext returns the connection of the worker carried by ctx.
func (m *Manager) ForContext(ctx context.Context) (Connection, error) {
	return m.Get(ctx, WorkerFromContext(ctx))
}

func (m *Manager) getExisting(key string) Connection {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.conns[key]
	if !exists {
		return nil
	}
	entry.lastUsed = m.now()
	m.lru.MoveToFront(entry.element)
	return entry.conn
}

func (m *Manager) createConnection(key string) (Connection, error) {
	conn, err := m.factory(m.connOpt, m.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection for worker %q: %w", key, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, exists := m.conns[key]; exists {
		_ = conn.Close()
		existing.lastUsed = m.now()
		m.lru.MoveToFront(existing.element)
		return existing.conn, nil
	}

	m.evictIfNeeded()

	m.conns[key] = &connEntry{
		conn:     conn,
		element:  m.lru.PushFront(key),
		lastUsed: m.now(),
	}

	m.logger.Debug().
		Str("worker", key).
		Int("workers", len(m.conns)).
		Msg("Created pooled connection")

	return conn, nil
}

// evictIfNeeded removes the least recently used connection if at capacity
func (m *Manager) evictIfNeeded() {
	if len(m.conns) < m.maxSize {
		return
	}
	oldest := m.lru.Back()
	if oldest == nil {
		return
	}
	key := oldest.Value.(string)
	m.closeLocked(key, "Evicted pooled connection due to worker limit")
}

// closeLocked closes and forgets the connection for key. m.mu must be held.
func (m *Manager) closeLocked(key, reason string) {
	entry, ok := m.conns[key]
	if !ok {
		return
	}
	if err := entry.conn.Close(); err != nil {
		m.logger.Error().Err(err).Str("worker", key).Msg("Error closing pooled connection")
	}
	delete(m.conns, key)
	m.lru.Remove(entry.element)
	m.logger.Debug().Str("worker", key).Msg(reason)
}

// Release closes the connection of a worker that is shutting down.
func (m *Manager) Release(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeLocked(key, "Released pooled connection")
}

// StartCleanup starts the background cleanup routine for idle connections
func (m *Manager) StartCleanup(interval time.Duration) {
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}

	m.cleanupMu.Lock()
	if m.cleanupCh != nil {
		m.cleanupMu.Unlock()
		return
	}
	done := make(chan struct{})
	m.cleanupCh = done
	m.cleanupMu.Unlock()

	go m.cleanupLoop(interval, done)
}

// StopCleanup stops the background cleanup routine
func (m *Manager) StopCleanup() {
	m.cleanupMu.Lock()
	defer m.cleanupMu.Unlock()
	if m.cleanupCh == nil {
		return
	}
	close(m.cleanupCh)
	m.cleanupCh = nil
}

func (m *Manager) cleanupLoop(interval time.Duration, done <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.cleanupIdle()
		case <-done:
			return
		}
	}
}

// cleanupIdle closes connections idle for longer than idleTTL.
func (m *Manager) cleanupIdle() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var idle []string
	for key, entry := range m.conns {
		if now.Sub(entry.lastUsed) > m.idleTTL {
			idle = append(idle, key)
		}
	}
	for _, key := range idle {
		m.closeLocked(key, "Cleaned up idle pooled connection")
	}
}

// Close closes all connections and stops cleanup.
func (m *Manager) Close() error {
	m.StopCleanup()

	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for key, entry := range m.conns {
		if err := entry.conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("error closing connection for worker %q: %w", key, err))
		}
	}
	m.conns = make(map[string]*connEntry)
	m.lru.Init()

	return errors.Join(errs...)
}

// Size returns the number of cached connections
func (m *Manager) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conns)
}

// Stats returns statistics about the connection cache
func (m *Manager) Stats() map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := m.now()
	workers := make([]map[string]any, 0, len(m.conns))
	for key, entry := range m.conns {
		workers = append(workers, map[string]any{
			"worker":        key,
			"idle_duration": int(now.Sub(entry.lastUsed).Seconds()),
		})
	}
	return map[string]any{
		"active_connections": len(m.conns),
		"max_workers":        m.maxSize,
		"idle_ttl_seconds":   int(m.idleTTL.Seconds()),
		"workers":            workers,
	}
}
