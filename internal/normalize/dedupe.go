package normalize

import (
	"strconv"
	"strings"

	"moviestream/searchgateway/internal/domain"
)

// Deduper drops movies already seen under any of their available identity
// keys. First occurrence wins so the backend's relevance ordering survives.
// It runs twice per load-more: once inside the freshly fetched page and again
// against the accumulated set, so pagination drift between backend calls
// never produces visible duplicates.
type Deduper struct {
	seen map[string]struct{}
}

func NewDeduper() *Deduper {
	return &Deduper{seen: make(map[string]struct{})}
}

// Add reports whether the movie is new and records every identity key it
// carries.
func (d *Deduper) Add(item domain.MovieSummary) bool {
	keys := identityKeys(item)
	for _, key := range keys {
		if _, ok := d.seen[key]; ok {
			return false
		}
	}
	for _, key := range keys {
		d.seen[key] = struct{}{}
	}
	return true
}

// Merge appends the new items onto accumulated, dropping anything the deduper
// has already seen. Passing the same deduper across calls gives cross-page
// deduplication for the accumulated result set.
func (d *Deduper) Merge(accumulated, items []domain.MovieSummary) []domain.MovieSummary {
	if accumulated == nil {
		accumulated = make([]domain.MovieSummary, 0, len(items))
	}
	for _, item := range items {
		if d.Add(item) {
			accumulated = append(accumulated, item)
		}
	}
	return accumulated
}

// DedupePage removes accidental repeats inside one fetched page.
func DedupePage(items []domain.MovieSummary) []domain.MovieSummary {
	return NewDeduper().Merge(nil, items)
}

// identityKeys lists every key the movie can be recognized by, in priority
// order. The composite fallback is heuristic and inherited as-is.
func identityKeys(item domain.MovieSummary) []string {
	keys := make([]string, 0, 3)
	if id := strings.TrimSpace(item.ID); id != "" {
		keys = append(keys, "id:"+id)
	}
	if id := strings.TrimSpace(item.MongoID); id != "" {
		keys = append(keys, "id:"+id)
	}
	if slug := strings.TrimSpace(item.Slug); slug != "" {
		keys = append(keys, "slug:"+strings.ToLower(slug))
	}
	if len(keys) == 0 {
		keys = append(keys, "composite:"+strings.ToLower(strings.TrimSpace(item.Name))+"-"+
			strconv.Itoa(item.Year.Int())+"-"+strings.ToLower(strings.TrimSpace(item.OriginName)))
	}
	return keys
}
