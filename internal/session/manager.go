package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"moviestream/searchgateway/internal/lastquery"
	"moviestream/searchgateway/internal/metrics"
)

// ManagerConfig carries everything a new controller inherits from the
// process. InFlight is shared by all sessions so the backend sees one
// global concurrency bound, not one per session.
type ManagerConfig struct {
	Searcher        Searcher
	History         HistorySink
	LastQuery       lastquery.Store
	Logger          *slog.Logger
	DispatchTimeout time.Duration
	DebounceDelay   time.Duration
	EditingQuiet    time.Duration
	SuggestionLimit int
	PageSize        int
	IdleTTL         time.Duration
	MaxInFlight     int64
}

// Manager owns the live sessions, addressing controllers by id and evicting
// ones that have gone quiet.
type Manager struct {
	cfg      ManagerConfig
	logger   *slog.Logger
	inFlight *semaphore.Weighted

	mu       sync.Mutex
	sessions map[string]*Controller
}

func NewManager(cfg ManagerConfig) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 30 * time.Minute
	}
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = 16
	}
	return &Manager{
		cfg:      cfg,
		logger:   cfg.Logger,
		inFlight: semaphore.NewWeighted(cfg.MaxInFlight),
		sessions: make(map[string]*Controller),
	}
}

// Create registers a fresh controller for the given owner and returns it.
func (m *Manager) Create(owner string) *Controller {
	id := uuid.NewString()
	ctrl := NewController(Config{
		ID:              id,
		Owner:           owner,
		Searcher:        m.cfg.Searcher,
		History:         m.cfg.History,
		LastQuery:       m.cfg.LastQuery,
		Logger:          m.logger.With(slog.String("session", id)),
		DispatchTimeout: m.cfg.DispatchTimeout,
		DebounceDelay:   m.cfg.DebounceDelay,
		EditingQuiet:    m.cfg.EditingQuiet,
		SuggestionLimit: m.cfg.SuggestionLimit,
		PageSize:        m.cfg.PageSize,
		InFlight:        m.inFlight,
	})

	m.mu.Lock()
	m.sessions[id] = ctrl
	count := len(m.sessions)
	m.mu.Unlock()

	metrics.ActiveSessions.Set(float64(count))
	m.logger.Debug("session created", slog.String("session", id), slog.Int("active", count))
	return ctrl
}

func (m *Manager) Get(id string) (*Controller, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ctrl, ok := m.sessions[id]
	return ctrl, ok
}

// Delete closes and removes a session. Returns false if it was not present.
func (m *Manager) Delete(id string) bool {
	m.mu.Lock()
	ctrl, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	count := len(m.sessions)
	m.mu.Unlock()

	if !ok {
		return false
	}
	ctrl.Close()
	metrics.ActiveSessions.Set(float64(count))
	return true
}

// StartJanitor evicts sessions idle beyond the TTL until ctx is cancelled.
func (m *Manager) StartJanitor(ctx context.Context) {
	interval := m.cfg.IdleTTL / 4
	if interval < time.Minute {
		interval = time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.evictIdle()
			}
		}
	}()
}

func (m *Manager) evictIdle() {
	cutoff := time.Now().Add(-m.cfg.IdleTTL)

	m.mu.Lock()
	var expired []*Controller
	for id, ctrl := range m.sessions {
		if ctrl.LastActivity().Before(cutoff) {
			expired = append(expired, ctrl)
			delete(m.sessions, id)
		}
	}
	count := len(m.sessions)
	m.mu.Unlock()

	if len(expired) == 0 {
		return
	}
	for _, ctrl := range expired {
		ctrl.Close()
		m.logger.Info("session evicted", slog.String("session", ctrl.ID()))
	}
	metrics.ActiveSessions.Set(float64(count))
}

// Shutdown closes every session. Used on process exit.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	sessions := make([]*Controller, 0, len(m.sessions))
	for _, ctrl := range m.sessions {
		sessions = append(sessions, ctrl)
	}
	m.sessions = make(map[string]*Controller)
	m.mu.Unlock()

	for _, ctrl := range sessions {
		ctrl.Close()
	}
	metrics.ActiveSessions.Set(0)
}
