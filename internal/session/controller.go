// Package session owns the query lifecycle. Each Controller is the single
// authoritative state machine for one active search session: it holds the
// current query text, filters, page and accumulated results, drives the
// debounce/suggestion/history components, and publishes immutable snapshots
// to the presentation layer.
package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/semaphore"

	"moviestream/searchgateway/internal/debounce"
	"moviestream/searchgateway/internal/domain"
	"moviestream/searchgateway/internal/lastquery"
	"moviestream/searchgateway/internal/metrics"
	"moviestream/searchgateway/internal/normalize"
)

var (
	ErrSearchInFlight = errors.New("a search for this session is already in flight")
	ErrNoMorePages    = errors.New("no further pages to load")
	ErrNotReady       = errors.New("load-more is only valid on a settled result set")
	ErrSessionClosed  = errors.New("session is closed")
)

// minSuggestionRunes is the threshold below which suggestions are cleared
// instead of fetched.
const minSuggestionRunes = 2

const (
	channelSuggest = "suggest"
	channelEditing = "editing"
)

// Searcher is the slice of the backend client the controller dispatches to.
type Searcher interface {
	Search(ctx context.Context, query domain.SearchQuery) (domain.ResultPage, normalize.Shape, error)
	Suggestions(ctx context.Context, text string, limit int) ([]string, error)
}

// HistorySink is the side channel written on explicit submits and read for
// the empty-input history display. Both directions are best-effort.
type HistorySink interface {
	Save(ctx context.Context, query string, filters domain.Filters) domain.HistoryEntry
	List(ctx context.Context, limit int) []domain.HistoryEntry
}

type Config struct {
	ID              string
	Owner           string
	Searcher        Searcher
	History         HistorySink
	LastQuery       lastquery.Store
	Logger          *slog.Logger
	DispatchTimeout time.Duration
	DebounceDelay   time.Duration
	EditingQuiet    time.Duration
	SuggestionLimit int
	PageSize        int
	InFlight        *semaphore.Weighted
}

type Controller struct {
	id              string
	owner           string
	searcher        Searcher
	history         HistorySink
	lastQuery       lastquery.Store
	logger          *slog.Logger
	dispatchTimeout time.Duration
	debounceDelay   time.Duration
	editingQuiet    time.Duration
	suggestionLimit int
	inFlight        *semaphore.Weighted
	scheduler       *debounce.Scheduler

	mu             sync.Mutex
	status         domain.QueryStatus
	query          domain.SearchQuery
	items          []domain.MovieSummary
	deduper        *normalize.Deduper
	total          int
	totalPages     int
	suggestions    []string
	historyView    []domain.HistoryEntry
	errMsg         string
	editing        bool
	lastDispatched uint64
	searching      bool
	lastActivity   time.Time
	closed         bool
	subscribers    map[chan domain.QuerySnapshot]struct{}
}

func NewController(cfg Config) *Controller {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.DispatchTimeout <= 0 {
		cfg.DispatchTimeout = 15 * time.Second
	}
	if cfg.DebounceDelay <= 0 {
		cfg.DebounceDelay = 800 * time.Millisecond
	}
	if cfg.EditingQuiet <= 0 {
		cfg.EditingQuiet = 1500 * time.Millisecond
	}
	if cfg.SuggestionLimit <= 0 {
		cfg.SuggestionLimit = 8
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = domain.DefaultPageSize
	}

	return &Controller{
		id:              cfg.ID,
		owner:           cfg.Owner,
		searcher:        cfg.Searcher,
		history:         cfg.History,
		lastQuery:       cfg.LastQuery,
		logger:          cfg.Logger,
		dispatchTimeout: cfg.DispatchTimeout,
		debounceDelay:   cfg.DebounceDelay,
		editingQuiet:    cfg.EditingQuiet,
		suggestionLimit: cfg.SuggestionLimit,
		inFlight:        cfg.InFlight,
		scheduler:       debounce.NewScheduler(),
		status:          domain.StatusIdle,
		query:           domain.SearchQuery{Page: 1, PageSize: pageSize},
		deduper:         normalize.NewDeduper(),
		lastActivity:    time.Now(),
		subscribers:     make(map[chan domain.QuerySnapshot]struct{}),
	}
}

func (c *Controller) ID() string { return c.id }

// OnTextInput records a keystroke. Short text clears suggestions; empty text
// clears the persisted last query and, for authenticated callers, swaps the
// suggestion panel for recent history. Longer text arms the suggestion
// debounce.
func (c *Controller) OnTextInput(text string, authenticated bool) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrSessionClosed
	}
	c.touchLocked()
	text = strings.TrimSpace(text)
	c.query.Text = text
	c.status = domain.StatusTyping
	c.editing = true

	// The editing flag used to be a process-global; here it is session state
	// cleared after a quiet period or on submit.
	c.scheduler.Schedule(channelEditing, c.editingQuiet, c.clearEditing)

	if utf8.RuneCountInString(text) < minSuggestionRunes {
		c.suggestions = nil
		c.scheduler.Cancel(channelSuggest)
		empty := text == ""
		c.publishLocked()
		c.mu.Unlock()

		if empty {
			c.clearLastQuery()
			if authenticated {
				c.loadHistoryView()
			}
		}
		return nil
	}

	c.status = domain.StatusDebouncing
	debounced := text
	c.scheduler.Schedule(channelSuggest, c.debounceDelay, func() {
		c.onDebounceFired(debounced)
	})
	c.publishLocked()
	c.mu.Unlock()
	return nil
}

// onDebounceFired runs when the suggestion debounce elapses. The debounced
// value must still match the live input; if another keystroke arrived the
// fetch is skipped entirely.
func (c *Controller) onDebounceFired(debounced string) {
	c.mu.Lock()
	if c.closed || c.searching || c.query.Text != debounced {
		c.mu.Unlock()
		return
	}
	if utf8.RuneCountInString(debounced) < minSuggestionRunes {
		c.mu.Unlock()
		return
	}
	c.status = domain.StatusSuggesting
	// Suggestions observe the dispatch counter without advancing it: any
	// search dispatched later invalidates this fetch, but a suggestion fetch
	// can never invalidate an in-flight search.
	requestID := c.lastDispatched
	limit := c.suggestionLimit
	c.publishLocked()
	c.mu.Unlock()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.dispatchTimeout)
		defer cancel()
		suggestions, err := c.searcher.Suggestions(ctx, debounced, limit)
		c.onSuggestionsResolved(requestID, debounced, suggestions, err)
	}()
}

func (c *Controller) onSuggestionsResolved(requestID uint64, debounced string, suggestions []string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	// Stale if a search was dispatched since, or the input moved on (including
	// being shortened or cleared) while the fetch was in flight.
	if requestID != c.lastDispatched || c.query.Text != debounced {
		metrics.StaleResponsesDropped.Inc()
		return
	}
	if err != nil {
		// Suggestion failures are silent: logged, degraded to an empty list,
		// never an error state.
		c.logger.Debug("suggestion fetch failed", slog.String("error", err.Error()))
		c.suggestions = nil
		c.publishLocked()
		return
	}
	c.suggestions = suggestions
	c.publishLocked()
}

// OnFilterChange replaces one filter field immutably, resets pagination and
// dispatches immediately. Filter changes are explicit user actions and are
// not debounced.
func (c *Controller) OnFilterChange(field, value string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrSessionClosed
	}
	c.touchLocked()
	c.scheduler.Cancel(channelSuggest)
	c.suggestions = nil
	c.query.Filters = c.query.Filters.With(field, value)
	c.resetResultsLocked()
	c.beginSearchLocked()
	query := c.query
	requestID := c.nextRequestIDLocked()
	c.publishLocked()
	c.mu.Unlock()

	c.dispatch(requestID, query, false, false, "filter")
	return nil
}

// OnSubmit takes the currently staged text and filters, resets to page 1 and
// dispatches. A successful dispatch asynchronously records the query in the
// history side channel; history failure never touches search state.
func (c *Controller) OnSubmit() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrSessionClosed
	}
	c.touchLocked()
	c.editing = false
	c.scheduler.Cancel(channelEditing)
	c.scheduler.Cancel(channelSuggest)
	c.suggestions = nil
	c.resetResultsLocked()
	c.beginSearchLocked()
	query := c.query
	requestID := c.nextRequestIDLocked()
	c.publishLocked()
	c.mu.Unlock()

	if query.Text != "" {
		c.storeLastQuery(query.Text)
	}
	c.dispatch(requestID, query, false, true, "submit")
	return nil
}

// OnLoadMore extends the accumulated set with the next page. It is valid
// only on a settled result set with pages remaining, and never overlaps an
// in-flight search for the same query.
func (c *Controller) OnLoadMore() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrSessionClosed
	}
	c.touchLocked()
	if c.searching {
		c.mu.Unlock()
		return ErrSearchInFlight
	}
	if c.status != domain.StatusReady {
		c.mu.Unlock()
		return ErrNotReady
	}
	if c.query.Page >= c.totalPages {
		c.mu.Unlock()
		return ErrNoMorePages
	}
	c.query.Page++
	c.beginSearchLocked()
	query := c.query
	requestID := c.nextRequestIDLocked()
	c.publishLocked()
	c.mu.Unlock()

	c.dispatch(requestID, query, true, false, "more")
	return nil
}

// ApplyExternal drives the controller from a navigation event (shared link,
// back/forward). While the user has live unsubmitted keystrokes the read
// path is suppressed so a URL write cannot fight an in-progress keystroke.
func (c *Controller) ApplyExternal(query domain.SearchQuery, trigger string) bool {
	c.mu.Lock()
	if c.closed || c.editing {
		c.mu.Unlock()
		return false
	}
	c.touchLocked()
	query = domain.NormalizeSearchQuery(query)
	if query.PageSize <= 0 || query.PageSize == domain.DefaultPageSize {
		query.PageSize = c.query.PageSize
	}
	c.query = query
	c.resetKeepPageLocked()
	c.beginSearchLocked()
	requestID := c.nextRequestIDLocked()
	c.publishLocked()
	c.mu.Unlock()

	c.dispatch(requestID, query, false, false, trigger)
	return true
}

// RestoreLastQuery is the first-load fallback: when no address parameters
// are present, the last submitted query may be replayed from the persisted
// cache. Never fires while the user is editing.
func (c *Controller) RestoreLastQuery(ctx context.Context) bool {
	if c.lastQuery == nil {
		return false
	}
	text, ok, err := c.lastQuery.Get(ctx, c.owner)
	if err != nil {
		c.logger.Warn("last-query restore failed", slog.String("error", err.Error()))
		return false
	}
	if !ok || strings.TrimSpace(text) == "" {
		return false
	}

	c.mu.Lock()
	if c.closed || c.editing {
		c.mu.Unlock()
		return false
	}
	c.touchLocked()
	c.query.Text = strings.TrimSpace(text)
	c.resetResultsLocked()
	c.beginSearchLocked()
	query := c.query
	requestID := c.nextRequestIDLocked()
	c.publishLocked()
	c.mu.Unlock()

	c.dispatch(requestID, query, false, false, "restore")
	return true
}

// dispatch runs one tagged backend search. The request is raced against the
// dispatch deadline; either outcome resolves through the staleness guard, so
// an overtaken request can complete but its result is ignored.
func (c *Controller) dispatch(requestID uint64, query domain.SearchQuery, appendPage, recordHistory bool, trigger string) {
	metrics.SearchesDispatched.WithLabelValues(trigger).Inc()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.dispatchTimeout)
		defer cancel()

		if c.inFlight != nil {
			if err := c.inFlight.Acquire(ctx, 1); err != nil {
				c.onSearchFailed(requestID, err)
				return
			}
			defer c.inFlight.Release(1)
		}

		page, shape, err := c.searcher.Search(ctx, query)
		if err != nil {
			c.onSearchFailed(requestID, err)
			return
		}
		c.logger.Debug("search resolved",
			slog.String("session", c.id),
			slog.Uint64("requestId", requestID),
			slog.String("shape", string(shape)),
			slog.Int("items", len(page.Items)),
			slog.Int("total", page.Total),
		)
		c.onSearchResolved(requestID, query, page, appendPage, recordHistory)
	}()
}

// onSearchResolved applies a successful page under the staleness guard: a
// response for anything but the most recently dispatched request is
// discarded unconditionally.
func (c *Controller) onSearchResolved(requestID uint64, query domain.SearchQuery, page domain.ResultPage, appendPage, recordHistory bool) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if requestID != c.lastDispatched {
		metrics.StaleResponsesDropped.Inc()
		c.mu.Unlock()
		return
	}

	if !appendPage {
		c.deduper = normalize.NewDeduper()
		c.items = nil
	}
	before := len(c.items)
	c.items = c.deduper.Merge(c.items, page.Items)
	if dropped := len(page.Items) - (len(c.items) - before); dropped > 0 {
		metrics.DuplicatesDropped.Add(float64(dropped))
	}

	c.total = page.Total
	c.totalPages = domain.TotalPages(page.Total, query.PageSize)
	c.status = domain.StatusReady
	c.searching = false
	c.errMsg = ""
	c.publishLocked()
	c.mu.Unlock()

	if recordHistory && c.history != nil && query.Text != "" {
		// Fire-and-forget; the side channel logs its own failures.
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), c.dispatchTimeout)
			defer cancel()
			c.history.Save(ctx, query.Text, query.Filters)
		}()
	}
}

// onSearchFailed moves to the error state, keeping accumulated results so a
// transient failure does not wipe what the user already has.
func (c *Controller) onSearchFailed(requestID uint64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if requestID != c.lastDispatched {
		metrics.StaleResponsesDropped.Inc()
		return
	}
	c.status = domain.StatusError
	c.searching = false
	c.errMsg = err.Error()
	c.logger.Warn("search failed",
		slog.String("session", c.id),
		slog.Uint64("requestId", requestID),
		slog.String("error", err.Error()),
	)
	c.publishLocked()
}

// Snapshot returns an immutable copy of the controller state.
func (c *Controller) Snapshot() domain.QuerySnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Subscribe registers a snapshot listener. The returned cancel must be
// called; slow listeners miss intermediate snapshots rather than block the
// controller.
func (c *Controller) Subscribe() (<-chan domain.QuerySnapshot, func()) {
	ch := make(chan domain.QuerySnapshot, 8)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	c.subscribers[ch] = struct{}{}
	c.mu.Unlock()

	return ch, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if _, ok := c.subscribers[ch]; ok {
			delete(c.subscribers, ch)
			close(ch)
		}
	}
}

// Close tears the session down; all subscriber channels are closed.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.scheduler.Stop()
	for ch := range c.subscribers {
		close(ch)
	}
	c.subscribers = make(map[chan domain.QuerySnapshot]struct{})
}

func (c *Controller) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivity
}

// Query returns the current search query value.
func (c *Controller) Query() domain.SearchQuery {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.query
}

func (c *Controller) clearEditing() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || !c.editing {
		return
	}
	c.editing = false
	c.publishLocked()
}

func (c *Controller) clearLastQuery() {
	if c.lastQuery == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := c.lastQuery.Clear(ctx, c.owner); err != nil {
			c.logger.Warn("last-query clear failed", slog.String("error", err.Error()))
		}
	}()
}

func (c *Controller) storeLastQuery(text string) {
	if c.lastQuery == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := c.lastQuery.Set(ctx, c.owner, text); err != nil {
			c.logger.Warn("last-query store failed", slog.String("error", err.Error()))
		}
	}()
}

// loadHistoryView fetches recent history for the empty-input display.
// Best-effort: applied only if the input is still empty when it lands.
func (c *Controller) loadHistoryView() {
	if c.history == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.dispatchTimeout)
		defer cancel()
		entries := c.history.List(ctx, 0)

		c.mu.Lock()
		defer c.mu.Unlock()
		if c.closed || c.query.Text != "" {
			return
		}
		c.historyView = entries
		c.publishLocked()
	}()
}

func (c *Controller) nextRequestIDLocked() uint64 {
	c.lastDispatched++
	return c.lastDispatched
}

func (c *Controller) beginSearchLocked() {
	c.status = domain.StatusSearching
	c.searching = true
	c.historyView = nil
}

func (c *Controller) resetResultsLocked() {
	c.query.Page = 1
	c.items = nil
	c.deduper = normalize.NewDeduper()
	c.total = 0
	c.totalPages = 0
}

func (c *Controller) resetKeepPageLocked() {
	c.items = nil
	c.deduper = normalize.NewDeduper()
	c.total = 0
	c.totalPages = 0
}

func (c *Controller) touchLocked() {
	c.lastActivity = time.Now()
}

func (c *Controller) snapshotLocked() domain.QuerySnapshot {
	return domain.QuerySnapshot{
		SessionID:     c.id,
		Query:         c.query,
		Status:        c.status,
		Items:         append([]domain.MovieSummary(nil), c.items...),
		Total:         c.total,
		TotalPages:    c.totalPages,
		Suggestions:   append([]string(nil), c.suggestions...),
		History:       append([]domain.HistoryEntry(nil), c.historyView...),
		Error:         c.errMsg,
		Editing:       c.editing,
		LastRequestID: c.lastDispatched,
	}
}

func (c *Controller) publishLocked() {
	snapshot := c.snapshotLocked()
	for ch := range c.subscribers {
		select {
		case ch <- snapshot:
		default:
			// Listener is behind; it will catch up on the next snapshot.
		}
	}
}
