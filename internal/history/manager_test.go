package history

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"moviestream/searchgateway/internal/domain"
)

type fakeBackend struct {
	saveErr   error
	listErr   error
	saved     []domain.HistoryEntry
	listed    []domain.HistoryEntry
	deleted   []string
	clearErr  error
	cleared   int
	nextID    int
	listLimit int
}

func (b *fakeBackend) SaveHistory(_ context.Context, query string, filters domain.Filters) (domain.HistoryEntry, error) {
	if b.saveErr != nil {
		return domain.HistoryEntry{}, b.saveErr
	}
	b.nextID++
	entry := domain.HistoryEntry{
		ID:        fmt.Sprintf("h%d", b.nextID),
		Query:     query,
		Filters:   filters,
		CreatedAt: time.Now().UTC(),
	}
	b.saved = append(b.saved, entry)
	return entry, nil
}

func (b *fakeBackend) ListHistory(_ context.Context, limit int) ([]domain.HistoryEntry, error) {
	b.listLimit = limit
	if b.listErr != nil {
		return nil, b.listErr
	}
	entries := append([]domain.HistoryEntry(nil), b.listed...)
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (b *fakeBackend) DeleteHistory(_ context.Context, id string) error {
	b.deleted = append(b.deleted, id)
	return nil
}

func (b *fakeBackend) ClearHistory(_ context.Context) error {
	if b.clearErr != nil {
		return b.clearErr
	}
	b.cleared++
	return nil
}

func TestSaveRecordsEntry(t *testing.T) {
	backend := &fakeBackend{}
	manager := NewManager(backend, nil)

	entry := manager.Save(context.Background(), "dune", domain.Filters{Year: "2021"})
	if entry.ID == "" || entry.Query != "dune" {
		t.Fatalf("unexpected saved entry: %+v", entry)
	}
	if len(backend.saved) != 1 {
		t.Fatalf("expected one backend save, got %d", len(backend.saved))
	}
}

func TestSaveFailureIsSilent(t *testing.T) {
	backend := &fakeBackend{saveErr: errors.New("backend down")}
	manager := NewManager(backend, nil)

	entry := manager.Save(context.Background(), "dune", domain.Filters{})
	if entry != (domain.HistoryEntry{}) {
		t.Fatalf("failed save must return a zero entry, got %+v", entry)
	}

	// The local view must not have picked up the failed save.
	backend.listErr = errors.New("still down")
	if got := manager.List(context.Background(), 0); len(got) != 0 {
		t.Fatalf("local view contains entries after a failed save: %+v", got)
	}
}

func TestSaveEmptyQueryIsNoop(t *testing.T) {
	backend := &fakeBackend{}
	manager := NewManager(backend, nil)

	manager.Save(context.Background(), "   ", domain.Filters{})
	if len(backend.saved) != 0 {
		t.Fatalf("blank query must not reach the backend")
	}
}

func TestRepeatSaveMostRecentWins(t *testing.T) {
	backend := &fakeBackend{}
	manager := NewManager(backend, nil)
	ctx := context.Background()

	manager.Save(ctx, "Dune", domain.Filters{})
	manager.Save(ctx, "arrival", domain.Filters{})
	manager.Save(ctx, "DUNE", domain.Filters{})

	backend.listErr = errors.New("force local view")
	got := manager.List(ctx, 0)
	if len(got) != 2 {
		t.Fatalf("case-insensitive repeat must collapse, got %d entries", len(got))
	}
	if got[0].Query != "DUNE" || got[1].Query != "arrival" {
		t.Fatalf("expected most recent spelling first, got %+v", got)
	}
}

func TestLocalViewCapped(t *testing.T) {
	backend := &fakeBackend{}
	manager := NewManager(backend, nil)
	ctx := context.Background()

	for i := 0; i < VisibleLimit+4; i++ {
		manager.Save(ctx, fmt.Sprintf("query %d", i), domain.Filters{})
	}

	backend.listErr = errors.New("force local view")
	got := manager.List(ctx, 0)
	if len(got) != VisibleLimit {
		t.Fatalf("expected view capped at %d, got %d", VisibleLimit, len(got))
	}
	if got[0].Query != fmt.Sprintf("query %d", VisibleLimit+3) {
		t.Fatalf("expected newest entry first, got %q", got[0].Query)
	}
}

func TestListPrefersBackend(t *testing.T) {
	backend := &fakeBackend{listed: []domain.HistoryEntry{
		{ID: "h1", Query: "dune"},
		{ID: "h2", Query: "arrival"},
	}}
	manager := NewManager(backend, nil)

	got := manager.List(context.Background(), 0)
	if len(got) != 2 || got[0].ID != "h1" {
		t.Fatalf("expected backend entries, got %+v", got)
	}
}

func TestListPassesLargeLimitThrough(t *testing.T) {
	backend := &fakeBackend{}
	for i := 0; i < 20; i++ {
		backend.listed = append(backend.listed, domain.HistoryEntry{
			ID:    fmt.Sprintf("h%d", i),
			Query: fmt.Sprintf("query %d", i),
		})
	}
	manager := NewManager(backend, nil)

	got := manager.List(context.Background(), 20)
	if backend.listLimit != 20 {
		t.Fatalf("expected limit 20 forwarded to the backend, got %d", backend.listLimit)
	}
	if len(got) != 20 {
		t.Fatalf("expected the full backend history, got %d entries", len(got))
	}

	// Only the cached view is bounded; a later fallback serves at most that.
	backend.listErr = errors.New("backend down")
	if fallback := manager.List(context.Background(), 20); len(fallback) != VisibleLimit {
		t.Fatalf("expected cached fallback capped at %d, got %d", VisibleLimit, len(fallback))
	}
}

func TestListFallsBackToLocalOnError(t *testing.T) {
	backend := &fakeBackend{}
	manager := NewManager(backend, nil)
	ctx := context.Background()

	manager.Save(ctx, "dune", domain.Filters{})
	backend.listErr = errors.New("backend down")

	got := manager.List(ctx, 0)
	if len(got) != 1 || got[0].Query != "dune" {
		t.Fatalf("expected local fallback, got %+v", got)
	}
}

func TestDeleteOneRemovesLocally(t *testing.T) {
	backend := &fakeBackend{}
	manager := NewManager(backend, nil)
	ctx := context.Background()

	entry := manager.Save(ctx, "dune", domain.Filters{})
	manager.DeleteOne(ctx, entry.ID)

	if len(backend.deleted) != 1 || backend.deleted[0] != entry.ID {
		t.Fatalf("expected backend delete of %s, got %v", entry.ID, backend.deleted)
	}
	backend.listErr = errors.New("force local view")
	if got := manager.List(ctx, 0); len(got) != 0 {
		t.Fatalf("entry still present locally: %+v", got)
	}
}

func TestClearAllFailureKeepsLocal(t *testing.T) {
	backend := &fakeBackend{}
	manager := NewManager(backend, nil)
	ctx := context.Background()

	manager.Save(ctx, "dune", domain.Filters{})
	backend.clearErr = errors.New("backend down")
	manager.ClearAll(ctx)

	backend.listErr = errors.New("force local view")
	if got := manager.List(ctx, 0); len(got) != 1 {
		t.Fatalf("failed clear must keep the local view, got %+v", got)
	}
}

func TestClearAll(t *testing.T) {
	backend := &fakeBackend{}
	manager := NewManager(backend, nil)
	ctx := context.Background()

	manager.Save(ctx, "dune", domain.Filters{})
	manager.ClearAll(ctx)

	backend.listErr = errors.New("force local view")
	if got := manager.List(ctx, 0); len(got) != 0 {
		t.Fatalf("expected empty view after clear, got %+v", got)
	}
}
