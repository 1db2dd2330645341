// Package history is the search-history side channel. It is a convenience
// feature, never a blocking dependency of search: every operation is
// best-effort, failures are logged and degrade to an empty or no-op result.
package history

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/cases"

	"moviestream/searchgateway/internal/domain"
	"moviestream/searchgateway/internal/metrics"
)

// VisibleLimit bounds the locally cached view. The backend remains the
// source of truth for full history.
const VisibleLimit = 8

// Backend is the slice of the catalog client the manager needs.
type Backend interface {
	SaveHistory(ctx context.Context, query string, filters domain.Filters) (domain.HistoryEntry, error)
	ListHistory(ctx context.Context, limit int) ([]domain.HistoryEntry, error)
	DeleteHistory(ctx context.Context, id string) error
	ClearHistory(ctx context.Context) error
}

type Manager struct {
	backend Backend
	logger  *slog.Logger
	fold    cases.Caser

	mu    sync.Mutex
	local []domain.HistoryEntry
}

func NewManager(backend Backend, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		backend: backend,
		logger:  logger,
		fold:    cases.Fold(),
	}
}

// Save records a submitted query. Repeat saves of the same query text
// (case-insensitive) move the entry to the front with a fresh timestamp
// instead of creating a second one.
func (m *Manager) Save(ctx context.Context, query string, filters domain.Filters) domain.HistoryEntry {
	query = strings.TrimSpace(query)
	if query == "" {
		return domain.HistoryEntry{}
	}

	saved, err := m.backend.SaveHistory(ctx, query, filters)
	if err != nil {
		metrics.HistoryOperations.WithLabelValues("save", "error").Inc()
		m.logger.Warn("history save failed",
			slog.String("query", query),
			slog.String("error", err.Error()),
		)
		return domain.HistoryEntry{}
	}
	metrics.HistoryOperations.WithLabelValues("save", "ok").Inc()

	if saved.Query == "" {
		saved.Query = query
	}
	if saved.Filters.IsZero() {
		saved.Filters = filters
	}
	if saved.CreatedAt.IsZero() {
		saved.CreatedAt = time.Now().UTC()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.local = m.insertFrontLocked(saved)
	return saved
}

// List returns the most recent entries, newest first. The backend is the
// source of truth, so a caller-supplied limit is passed through as-is; only
// an unset limit defaults to the visible bound. Backend failures fall back
// to the locally cached view.
func (m *Manager) List(ctx context.Context, limit int) []domain.HistoryEntry {
	if limit <= 0 {
		limit = VisibleLimit
	}

	entries, err := m.backend.ListHistory(ctx, limit)
	if err != nil {
		metrics.HistoryOperations.WithLabelValues("list", "error").Inc()
		m.logger.Warn("history list failed", slog.String("error", err.Error()))
		return m.localView(limit)
	}
	metrics.HistoryOperations.WithLabelValues("list", "ok").Inc()

	m.mu.Lock()
	m.local = capEntries(entries, VisibleLimit)
	m.mu.Unlock()
	return capEntries(entries, limit)
}

func (m *Manager) DeleteOne(ctx context.Context, id string) {
	id = strings.TrimSpace(id)
	if id == "" {
		return
	}
	if err := m.backend.DeleteHistory(ctx, id); err != nil {
		metrics.HistoryOperations.WithLabelValues("delete", "error").Inc()
		m.logger.Warn("history delete failed",
			slog.String("id", id),
			slog.String("error", err.Error()),
		)
		return
	}
	metrics.HistoryOperations.WithLabelValues("delete", "ok").Inc()

	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.local[:0]
	for _, entry := range m.local {
		if entry.ID != id {
			kept = append(kept, entry)
		}
	}
	m.local = kept
}

func (m *Manager) ClearAll(ctx context.Context) {
	if err := m.backend.ClearHistory(ctx); err != nil {
		metrics.HistoryOperations.WithLabelValues("clear", "error").Inc()
		m.logger.Warn("history clear failed", slog.String("error", err.Error()))
		return
	}
	metrics.HistoryOperations.WithLabelValues("clear", "ok").Inc()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.local = nil
}

func (m *Manager) localView(limit int) []domain.HistoryEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return capEntries(append([]domain.HistoryEntry(nil), m.local...), limit)
}

// insertFrontLocked applies most-recent-wins: an entry with the same folded
// query text is removed before the new one goes to the front.
func (m *Manager) insertFrontLocked(entry domain.HistoryEntry) []domain.HistoryEntry {
	folded := m.fold.String(entry.Query)
	out := make([]domain.HistoryEntry, 0, len(m.local)+1)
	out = append(out, entry)
	for _, existing := range m.local {
		if m.fold.String(existing.Query) == folded {
			continue
		}
		out = append(out, existing)
	}
	return capEntries(out, VisibleLimit)
}

func capEntries(entries []domain.HistoryEntry, limit int) []domain.HistoryEntry {
	if limit > 0 && len(entries) > limit {
		return entries[:limit]
	}
	return entries
}
