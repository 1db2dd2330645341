// Package normalize turns heterogeneous backend payloads into one canonical
// result page. The backend's response envelope is not contractually fixed
// across endpoints, so decoding degrades through an ordered fallback chain
// instead of failing on the first unexpected shape.
package normalize

import (
	"bytes"
	"encoding/json"
	"sort"

	"moviestream/searchgateway/internal/domain"
)

// Shape tags which decode variant produced a page, mostly for logging and
// metrics.
type Shape string

const (
	ShapeHits            Shape = "hits"
	ShapeArray           Shape = "array"
	ShapeMoviesField     Shape = "movies"
	ShapeDataField       Shape = "data"
	ShapeExplicitFailure Shape = "explicit_failure"
	ShapeFirstArrayFound Shape = "first_array"
	ShapeSingleWrap      Shape = "single_wrap"
	ShapeEmpty           Shape = "empty"
)

type hitsEnvelope struct {
	Hits     []json.RawMessage `json:"hits"`
	Total    domain.FlexInt    `json:"total"`
	MaxScore float64           `json:"max_score"`
}

type listEnvelope struct {
	Success *bool             `json:"success"`
	Movies  []json.RawMessage `json:"movies"`
	Data    []json.RawMessage `json:"data"`
	Total   domain.FlexInt    `json:"total"`
}

// Page decodes a raw search payload. It never returns an error: only total
// structural failure (nothing array-shaped and nothing object-shaped) yields
// an empty page.
func Page(payload []byte) (domain.ResultPage, Shape) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return domain.ResultPage{Items: []domain.MovieSummary{}}, ShapeEmpty
	}

	if trimmed[0] == '[' {
		var raw []json.RawMessage
		if err := json.Unmarshal(trimmed, &raw); err == nil {
			items := decodeItems(raw)
			return domain.ResultPage{Items: items, Total: len(items)}, ShapeArray
		}
		return domain.ResultPage{Items: []domain.MovieSummary{}}, ShapeEmpty
	}

	var hits hitsEnvelope
	if err := json.Unmarshal(trimmed, &hits); err == nil && hits.Hits != nil {
		items := decodeItems(hits.Hits)
		total := hits.Total.Int()
		if total < len(items) {
			total = len(items)
		}
		return domain.ResultPage{Items: items, Total: total, MaxScore: hits.MaxScore}, ShapeHits
	}

	var list listEnvelope
	if err := json.Unmarshal(trimmed, &list); err == nil {
		if list.Movies != nil {
			return pageFromList(list.Movies, list.Total.Int()), ShapeMoviesField
		}
		if list.Data != nil {
			return pageFromList(list.Data, list.Total.Int()), ShapeDataField
		}
		// An explicit success:false is an empty result, not an error.
		if list.Success != nil && !*list.Success {
			return domain.ResultPage{Items: []domain.MovieSummary{}}, ShapeExplicitFailure
		}
	}

	var generic map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &generic); err == nil {
		if raw, ok := firstArrayField(generic); ok {
			items := decodeItems(raw)
			return domain.ResultPage{Items: items, Total: len(items)}, ShapeFirstArrayFound
		}
		var single domain.MovieSummary
		if err := json.Unmarshal(trimmed, &single); err == nil {
			return domain.ResultPage{
				Items: []domain.MovieSummary{single},
				Total: 1,
			}, ShapeSingleWrap
		}
	}

	return domain.ResultPage{Items: []domain.MovieSummary{}}, ShapeEmpty
}

func pageFromList(raw []json.RawMessage, total int) domain.ResultPage {
	items := decodeItems(raw)
	if total < len(items) {
		total = len(items)
	}
	return domain.ResultPage{Items: items, Total: total}
}

// firstArrayField scans object fields in a stable order and returns the first
// array-valued one.
func firstArrayField(fields map[string]json.RawMessage) ([]json.RawMessage, bool) {
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	// Stable iteration so repeated calls on the same payload pick the same
	// field.
	sort.Strings(keys)
	for _, key := range keys {
		value := bytes.TrimSpace(fields[key])
		if len(value) == 0 || value[0] != '[' {
			continue
		}
		var raw []json.RawMessage
		if err := json.Unmarshal(value, &raw); err == nil {
			return raw, true
		}
	}
	return nil, false
}

func decodeItems(raw []json.RawMessage) []domain.MovieSummary {
	items := make([]domain.MovieSummary, 0, len(raw))
	for _, entry := range raw {
		var item domain.MovieSummary
		if err := json.Unmarshal(entry, &item); err != nil {
			continue
		}
		items = append(items, item)
	}
	return items
}
