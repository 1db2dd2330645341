package apihttp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"moviestream/searchgateway/internal/domain"
	"moviestream/searchgateway/internal/normalize"
	"moviestream/searchgateway/internal/session"
)

type stubSearcher struct {
	mu    sync.Mutex
	pages map[int]domain.ResultPage
}

func (s *stubSearcher) Search(_ context.Context, query domain.SearchQuery) (domain.ResultPage, normalize.Shape, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if page, ok := s.pages[query.Page]; ok {
		return page, normalize.ShapeHits, nil
	}
	return domain.ResultPage{Items: []domain.MovieSummary{}}, normalize.ShapeEmpty, nil
}

func (s *stubSearcher) Suggestions(_ context.Context, text string, _ int) ([]string, error) {
	return []string{text + " suggestion"}, nil
}

type stubHistory struct {
	mu      sync.Mutex
	entries []domain.HistoryEntry
	cleared bool
}

func (h *stubHistory) Save(_ context.Context, query string, filters domain.Filters) domain.HistoryEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	entry := domain.HistoryEntry{ID: fmt.Sprintf("h%d", len(h.entries)+1), Query: query, Filters: filters}
	h.entries = append([]domain.HistoryEntry{entry}, h.entries...)
	return entry
}

func (h *stubHistory) List(_ context.Context, _ int) []domain.HistoryEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]domain.HistoryEntry(nil), h.entries...)
}

func (h *stubHistory) DeleteOne(_ context.Context, id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	kept := h.entries[:0]
	for _, entry := range h.entries {
		if entry.ID != id {
			kept = append(kept, entry)
		}
	}
	h.entries = kept
}

func (h *stubHistory) ClearAll(_ context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = nil
	h.cleared = true
}

type testEnv struct {
	server   *httptest.Server
	searcher *stubSearcher
	history  *stubHistory
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	searcher := &stubSearcher{pages: map[int]domain.ResultPage{
		1: {Items: []domain.MovieSummary{{ID: "m1", Name: "Dune"}, {ID: "m2", Name: "Arrival"}}, Total: 5},
		2: {Items: []domain.MovieSummary{{ID: "m2"}, {ID: "m3"}}, Total: 5},
	}}
	history := &stubHistory{}
	manager := session.NewManager(session.ManagerConfig{
		Searcher:        searcher,
		History:         history,
		DispatchTimeout: 2 * time.Second,
		DebounceDelay:   10 * time.Millisecond,
		EditingQuiet:    30 * time.Millisecond,
		PageSize:        2,
	})
	t.Cleanup(manager.Shutdown)

	server := httptest.NewServer(NewServer(manager,
		WithHistory(history),
		WithRateLimit(10000, 10000),
	).Handler())
	t.Cleanup(server.Close)

	return &testEnv{server: server, searcher: searcher, history: history}
}

func (e *testEnv) post(t *testing.T, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
	}
	resp, err := http.Post(e.server.URL+path, "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()
	var out bytes.Buffer
	_, _ = out.ReadFrom(resp.Body)
	return resp, out.Bytes()
}

func (e *testEnv) get(t *testing.T, path string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(e.server.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	var out bytes.Buffer
	_, _ = out.ReadFrom(resp.Body)
	return resp, out.Bytes()
}

func (e *testEnv) del(t *testing.T, path string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodDelete, e.server.URL+path, nil)
	if err != nil {
		t.Fatalf("build DELETE %s: %v", path, err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE %s: %v", path, err)
	}
	resp.Body.Close()
	return resp
}

func (e *testEnv) createSession(t *testing.T) string {
	t.Helper()
	resp, body := e.post(t, "/sessions", map[string]any{"owner": "tester"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create session: HTTP %d: %s", resp.StatusCode, body)
	}
	var snapshot domain.QuerySnapshot
	if err := json.Unmarshal(body, &snapshot); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snapshot.SessionID == "" {
		t.Fatalf("missing session id in %s", body)
	}
	return snapshot.SessionID
}

func (e *testEnv) waitStatus(t *testing.T, id string, want domain.QueryStatus) domain.QuerySnapshot {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	var snapshot domain.QuerySnapshot
	for time.Now().Before(deadline) {
		resp, body := e.get(t, "/sessions/"+id)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("get session: HTTP %d", resp.StatusCode)
		}
		if err := json.Unmarshal(body, &snapshot); err != nil {
			t.Fatalf("decode snapshot: %v", err)
		}
		if snapshot.Status == want {
			return snapshot
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("session %s never reached %q, last status %q (%s)", id, want, snapshot.Status, snapshot.Error)
	return snapshot
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	resp, body := env.get(t, "/health")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("HTTP %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), `"status":"ok"`) {
		t.Fatalf("unexpected health body: %s", body)
	}
}

func TestSearchFlowEndToEnd(t *testing.T) {
	env := newTestEnv(t)
	id := env.createSession(t)

	resp, _ := env.post(t, "/sessions/"+id+"/input", map[string]any{"text": "dune"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("input: HTTP %d", resp.StatusCode)
	}
	resp, _ = env.post(t, "/sessions/"+id+"/submit", nil)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("submit: HTTP %d", resp.StatusCode)
	}

	snapshot := env.waitStatus(t, id, domain.StatusReady)
	if len(snapshot.Items) != 2 || snapshot.Total != 5 || snapshot.TotalPages != 3 {
		t.Fatalf("unexpected ready state: items=%d total=%d pages=%d",
			len(snapshot.Items), snapshot.Total, snapshot.TotalPages)
	}

	resp, _ = env.post(t, "/sessions/"+id+"/more", nil)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("more: HTTP %d", resp.StatusCode)
	}
	deadline := time.Now().Add(3 * time.Second)
	for {
		snapshot = env.waitStatus(t, id, domain.StatusReady)
		if len(snapshot.Items) == 3 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("merge never landed, items=%d", len(snapshot.Items))
		}
		time.Sleep(5 * time.Millisecond)
	}
	if snapshot.Items[2].ID != "m3" {
		t.Fatalf("expected deduplicated merge, got %+v", snapshot.Items)
	}
}

func TestSubmitRecordsHistory(t *testing.T) {
	env := newTestEnv(t)
	id := env.createSession(t)

	env.post(t, "/sessions/"+id+"/input", map[string]any{"text": "dune"})
	env.post(t, "/sessions/"+id+"/submit", nil)
	env.waitStatus(t, id, domain.StatusReady)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(env.history.List(context.Background(), 0)) == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	resp, body := env.get(t, "/search-history")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("history list: HTTP %d", resp.StatusCode)
	}
	var payload struct {
		Items []domain.HistoryEntry `json:"items"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(payload.Items) != 1 || payload.Items[0].Query != "dune" {
		t.Fatalf("unexpected history: %+v", payload.Items)
	}
}

func TestFilterChange(t *testing.T) {
	env := newTestEnv(t)
	id := env.createSession(t)

	env.post(t, "/sessions/"+id+"/input", map[string]any{"text": "dune"})
	env.post(t, "/sessions/"+id+"/submit", nil)
	env.waitStatus(t, id, domain.StatusReady)

	resp, _ := env.post(t, "/sessions/"+id+"/filters", map[string]any{"field": "year", "value": "2021"})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("filter: HTTP %d", resp.StatusCode)
	}
	snapshot := env.waitStatus(t, id, domain.StatusReady)
	if snapshot.Query.Filters.Year != "2021" || snapshot.Query.Page != 1 {
		t.Fatalf("unexpected query after filter: %+v", snapshot.Query)
	}

	resp, _ = env.post(t, "/sessions/"+id+"/filters", map[string]any{"field": "rating", "value": "5"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown filter field: expected 400, got %d", resp.StatusCode)
	}
}

func TestSessionURL(t *testing.T) {
	env := newTestEnv(t)
	id := env.createSession(t)

	env.post(t, "/sessions/"+id+"/input", map[string]any{"text": "dune"})
	env.post(t, "/sessions/"+id+"/submit", nil)
	env.waitStatus(t, id, domain.StatusReady)
	env.post(t, "/sessions/"+id+"/filters", map[string]any{"field": "year", "value": "2021"})
	env.waitStatus(t, id, domain.StatusReady)

	resp, body := env.get(t, "/sessions/"+id+"/url")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("url: HTTP %d", resp.StatusCode)
	}
	var payload struct {
		Params string `json:"params"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("decode url payload: %v", err)
	}
	if payload.Params != "q=dune&year=2021" {
		t.Fatalf("unexpected url params %q", payload.Params)
	}
}

func TestSessionCreateFromParams(t *testing.T) {
	env := newTestEnv(t)
	resp, body := env.post(t, "/sessions", map[string]any{
		"owner":  "tester",
		"params": "?q=dune&year=2021&page=2",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create: HTTP %d: %s", resp.StatusCode, body)
	}
	var snapshot domain.QuerySnapshot
	if err := json.Unmarshal(body, &snapshot); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snapshot.Query.Text != "dune" || snapshot.Query.Filters.Year != "2021" || snapshot.Query.Page != 2 {
		t.Fatalf("params not applied: %+v", snapshot.Query)
	}
	env.waitStatus(t, snapshot.SessionID, domain.StatusReady)
}

func TestSessionEventsStream(t *testing.T) {
	env := newTestEnv(t)
	id := env.createSession(t)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, env.server.URL+"/sessions/"+id+"/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	defer resp.Body.Close()

	if got := resp.Header.Get("Content-Type"); !strings.HasPrefix(got, "text/event-stream") {
		t.Fatalf("unexpected content type %q", got)
	}

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("read first event: %v", err)
	}
	if !strings.HasPrefix(line, "event: snapshot") {
		t.Fatalf("expected snapshot event first, got %q", line)
	}
}

func TestUnknownSessionIs404(t *testing.T) {
	env := newTestEnv(t)
	resp, _ := env.get(t, "/sessions/nope")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	resp, _ = env.post(t, "/sessions/nope/submit", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 on submit, got %d", resp.StatusCode)
	}
}

func TestSessionDelete(t *testing.T) {
	env := newTestEnv(t)
	id := env.createSession(t)

	if resp := env.del(t, "/sessions/"+id); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete: HTTP %d", resp.StatusCode)
	}
	resp, _ := env.get(t, "/sessions/"+id)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", resp.StatusCode)
	}
}

func TestOverlongInputRejected(t *testing.T) {
	env := newTestEnv(t)
	id := env.createSession(t)

	resp, _ := env.post(t, "/sessions/"+id+"/input", map[string]any{
		"text": strings.Repeat("a", maxQueryLength+1),
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestHistoryPassthrough(t *testing.T) {
	env := newTestEnv(t)
	env.history.Save(context.Background(), "dune", domain.Filters{})
	env.history.Save(context.Background(), "arrival", domain.Filters{})

	if resp := env.del(t, "/search-history/h1"); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete entry: HTTP %d", resp.StatusCode)
	}
	if got := env.history.List(context.Background(), 0); len(got) != 1 {
		t.Fatalf("expected one entry left, got %+v", got)
	}

	if resp := env.del(t, "/search-history"); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("clear: HTTP %d", resp.StatusCode)
	}
	if !env.history.cleared {
		t.Fatalf("clear did not reach the history service")
	}
}

func TestMalformedBodyRejected(t *testing.T) {
	env := newTestEnv(t)
	id := env.createSession(t)

	resp, err := http.Post(env.server.URL+"/sessions/"+id+"/input", "application/json",
		strings.NewReader(`{"text": `))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestPosterProxyRejectsBadTargets(t *testing.T) {
	env := newTestEnv(t)
	cases := map[string]string{
		"missing url":  "/posters",
		"bad scheme":   "/posters?url=ftp%3A%2F%2Fexample.com%2Fposter.jpg",
		"loopback":     "/posters?url=http%3A%2F%2F127.0.0.1%2Fposter.jpg",
		"private ip":   "/posters?url=http%3A%2F%2F10.0.0.5%2Fposter.jpg",
		"docker alias": "/posters?url=http%3A%2F%2Fredis%2Fposter.jpg",
	}
	for name, path := range cases {
		resp, _ := env.get(t, path)
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", name, resp.StatusCode)
		}
	}
}

func TestNormalizeRoute(t *testing.T) {
	cases := map[string]string{
		"/health":                  "/health",
		"/sessions":                "/sessions",
		"/sessions/abc":            "/sessions/{id}",
		"/sessions/abc/input":      "/sessions/{id}/input",
		"/sessions/abc/events":     "/sessions/{id}/events",
		"/search-history":          "/search-history",
		"/search-history/h1":       "/search-history",
		"/completely/unknown/path": "/other",
	}
	for path, want := range cases {
		if got := normalizeRoute(path); got != want {
			t.Fatalf("normalizeRoute(%q): expected %q, got %q", path, want, got)
		}
	}
}
