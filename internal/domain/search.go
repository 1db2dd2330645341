package domain

import (
	"strconv"
	"strings"
	"time"
)

type DurationBucket string

const (
	DurationAny    DurationBucket = ""
	DurationShort  DurationBucket = "short"
	DurationMedium DurationBucket = "medium"
	DurationLong   DurationBucket = "long"
)

func NormalizeDurationBucket(raw string) DurationBucket {
	switch DurationBucket(strings.ToLower(strings.TrimSpace(raw))) {
	case DurationShort:
		return DurationShort
	case DurationMedium:
		return DurationMedium
	case DurationLong:
		return DurationLong
	default:
		return DurationAny
	}
}

// Filters is an immutable value object; any change produces a new value.
// A zero field means "no constraint".
type Filters struct {
	Category string         `json:"category,omitempty"`
	Country  string         `json:"country,omitempty"`
	Year     string         `json:"year,omitempty"`
	Duration DurationBucket `json:"duration,omitempty"`
}

func (f Filters) IsZero() bool {
	return f == Filters{}
}

// With returns a copy of f with one field replaced. Unknown fields are ignored
// and leave the value unchanged, matching dropdown-driven filter selection.
func (f Filters) With(field, value string) Filters {
	value = strings.TrimSpace(value)
	switch strings.ToLower(strings.TrimSpace(field)) {
	case "category":
		f.Category = value
	case "country":
		f.Country = value
	case "year":
		f.Year = value
	case "duration":
		f.Duration = NormalizeDurationBucket(value)
	}
	return f
}

// SearchQuery uniquely determines one backend request.
type SearchQuery struct {
	Text     string  `json:"text"`
	Filters  Filters `json:"filters"`
	Page     int     `json:"page"`
	PageSize int     `json:"pageSize"`
}

const DefaultPageSize = 24

func NormalizeSearchQuery(query SearchQuery) SearchQuery {
	query.Text = strings.TrimSpace(query.Text)
	if query.Page < 1 {
		query.Page = 1
	}
	if query.PageSize <= 0 {
		query.PageSize = DefaultPageSize
	}
	return query
}

// Equal reports field-by-field equivalence, filters compared by value.
func (q SearchQuery) Equal(other SearchQuery) bool {
	return q == other
}

// SameResultSet reports whether two queries address the same accumulated
// result set, i.e. differ at most by page.
func (q SearchQuery) SameResultSet(other SearchQuery) bool {
	q.Page = other.Page
	return q == other
}

// FlexInt decodes from either a JSON number or a numeric string. Backend
// payloads are not consistent about which one they send for years.
type FlexInt int

func (v *FlexInt) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "" || raw == "null" {
		*v = 0
		return nil
	}
	raw = strings.Trim(raw, `"`)
	if raw == "" {
		*v = 0
		return nil
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		*v = 0
		return nil
	}
	*v = FlexInt(parsed)
	return nil
}

func (v FlexInt) Int() int { return int(v) }

// MovieSummary is the externally-defined catalog record. Everything except the
// identity fields is carried opaquely for display.
type MovieSummary struct {
	ID             string  `json:"id,omitempty"`
	MongoID        string  `json:"_id,omitempty"`
	Slug           string  `json:"slug,omitempty"`
	Name           string  `json:"name,omitempty"`
	OriginName     string  `json:"origin_name,omitempty"`
	ThumbURL       string  `json:"thumb_url,omitempty"`
	PosterURL      string  `json:"poster_url,omitempty"`
	Year           FlexInt `json:"year,omitempty"`
	Lang           string  `json:"lang,omitempty"`
	Type           string  `json:"type,omitempty"`
	Quality        string  `json:"quality,omitempty"`
	EpisodeCurrent string  `json:"episode_current,omitempty"`
	EpisodeTotal   string  `json:"episode_total,omitempty"`
}

// IdentityKey picks the deduplication key: id, then _id, then slug, then the
// name+year+origin composite as a last resort.
func (m MovieSummary) IdentityKey() string {
	if id := strings.TrimSpace(m.ID); id != "" {
		return "id:" + id
	}
	if id := strings.TrimSpace(m.MongoID); id != "" {
		return "id:" + id
	}
	if slug := strings.TrimSpace(m.Slug); slug != "" {
		return "slug:" + strings.ToLower(slug)
	}
	return "composite:" + strings.ToLower(strings.TrimSpace(m.Name)) + "-" +
		strconv.Itoa(m.Year.Int()) + "-" + strings.ToLower(strings.TrimSpace(m.OriginName))
}

// ResultPage is one normalized backend page.
type ResultPage struct {
	Items    []MovieSummary `json:"items"`
	Total    int            `json:"total"`
	MaxScore float64        `json:"maxScore"`
}

// HistoryEntry is owned by the history side channel.
type HistoryEntry struct {
	ID        string    `json:"id"`
	Query     string    `json:"query"`
	Filters   Filters   `json:"filters"`
	CreatedAt time.Time `json:"createdAt"`
}

type QueryStatus string

const (
	StatusIdle       QueryStatus = "idle"
	StatusTyping     QueryStatus = "typing"
	StatusSuggesting QueryStatus = "suggesting"
	StatusDebouncing QueryStatus = "debouncing"
	StatusSearching  QueryStatus = "searching"
	StatusReady      QueryStatus = "ready"
	StatusError      QueryStatus = "error"
)

// QuerySnapshot is the controller-owned state as seen by the presentation
// layer. Snapshots are immutable copies.
type QuerySnapshot struct {
	SessionID     string         `json:"sessionId"`
	Query         SearchQuery    `json:"query"`
	Status        QueryStatus    `json:"status"`
	Items         []MovieSummary `json:"items"`
	Total         int            `json:"total"`
	TotalPages    int            `json:"totalPages"`
	Suggestions   []string       `json:"suggestions"`
	History       []HistoryEntry `json:"history,omitempty"`
	Error         string         `json:"error,omitempty"`
	Editing       bool           `json:"editing"`
	LastRequestID uint64         `json:"lastRequestId"`
}

// TotalPages computes ceil(total / pageSize).
func TotalPages(total, pageSize int) int {
	if total <= 0 || pageSize <= 0 {
		return 0
	}
	return (total + pageSize - 1) / pageSize
}
