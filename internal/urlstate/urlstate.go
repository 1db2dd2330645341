// Package urlstate maps a search query to and from address-bar parameters.
// The encoding is minimal: fields at their defaults are omitted so shared
// links carry only what the user actually chose.
package urlstate

import (
	"net/url"
	"strconv"
	"strings"

	"moviestream/searchgateway/internal/domain"
)

const (
	paramQuery    = "q"
	paramCategory = "category"
	paramCountry  = "country"
	paramYear     = "year"
	paramDuration = "duration"
	paramPage     = "page"
)

// Encode serializes a query into URL parameters. Empty filters and page 1
// are omitted; page size is a client concern and is never serialized.
func Encode(query domain.SearchQuery) url.Values {
	values := url.Values{}
	if text := strings.TrimSpace(query.Text); text != "" {
		values.Set(paramQuery, text)
	}
	if query.Filters.Category != "" {
		values.Set(paramCategory, query.Filters.Category)
	}
	if query.Filters.Country != "" {
		values.Set(paramCountry, query.Filters.Country)
	}
	if query.Filters.Year != "" {
		values.Set(paramYear, query.Filters.Year)
	}
	if query.Filters.Duration != "" {
		values.Set(paramDuration, string(query.Filters.Duration))
	}
	if query.Page > 1 {
		values.Set(paramPage, strconv.Itoa(query.Page))
	}
	return values
}

// Decode reads URL parameters back into a query. Unknown parameters are
// ignored; a malformed or out-of-range page falls back to 1.
func Decode(values url.Values) domain.SearchQuery {
	query := domain.SearchQuery{
		Text: strings.TrimSpace(values.Get(paramQuery)),
		Filters: domain.Filters{
			Category: strings.TrimSpace(values.Get(paramCategory)),
			Country:  strings.TrimSpace(values.Get(paramCountry)),
			Year:     strings.TrimSpace(values.Get(paramYear)),
			Duration: domain.NormalizeDurationBucket(values.Get(paramDuration)),
		},
		Page: 1,
	}
	if raw := values.Get(paramPage); raw != "" {
		if page, err := strconv.Atoi(raw); err == nil && page > 1 {
			query.Page = page
		}
	}
	return domain.NormalizeSearchQuery(query)
}

// HasSearchState reports whether the parameters carry anything worth
// dispatching: any text, filter, or explicit page beyond the first. A
// page=1 parameter decodes to the default and counts as absent.
func HasSearchState(values url.Values) bool {
	query := Decode(values)
	return query.Text != "" || !query.Filters.IsZero() || query.Page > 1
}
