// Package backend is the HTTP client for the catalog search backend. The
// backend is a black box: ranking, tokenization and storage live there, this
// client only shapes requests and hands responses to the normalizer.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"moviestream/searchgateway/internal/domain"
	"moviestream/searchgateway/internal/metrics"
	"moviestream/searchgateway/internal/normalize"
)

const (
	defaultUserAgent = "moviestream-search-gateway/1.0"
	maxBodyBytes     = 4 * 1024 * 1024
)

// StatusError is a non-2xx backend reply. It counts as a transport failure
// for the controller's error taxonomy.
type StatusError struct {
	Endpoint string
	Code     int
	Body     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend %s: HTTP %d: %s", e.Endpoint, e.Code, e.Body)
}

type Config struct {
	BaseURL   string
	UserAgent string
	Client    *http.Client
	Limiter   *rate.Limiter
}

type Client struct {
	base      *url.URL
	userAgent string
	client    *http.Client
	limiter   *rate.Limiter
}

func NewClient(cfg Config) (*Client, error) {
	raw := strings.TrimSpace(cfg.BaseURL)
	if raw == "" {
		return nil, fmt.Errorf("backend base url is required")
	}
	base, err := url.Parse(raw)
	if err != nil || base.Scheme == "" || base.Host == "" {
		if err == nil {
			err = fmt.Errorf("missing scheme or host")
		}
		return nil, fmt.Errorf("invalid backend base url: %w", err)
	}

	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = defaultUserAgent
	}

	return &Client{
		base:      base,
		userAgent: userAgent,
		client:    client,
		limiter:   cfg.Limiter,
	}, nil
}

// Search fetches one result page. Responses are normalized through the
// fallback chain, so any 2xx body yields a usable page.
func (c *Client) Search(ctx context.Context, query domain.SearchQuery) (domain.ResultPage, normalize.Shape, error) {
	query = domain.NormalizeSearchQuery(query)

	params := url.Values{}
	params.Set("q", query.Text)
	params.Set("page", strconv.Itoa(query.Page))
	params.Set("size", strconv.Itoa(query.PageSize))
	if query.Filters.Category != "" {
		params.Set("category", query.Filters.Category)
	}
	if query.Filters.Country != "" {
		params.Set("country", query.Filters.Country)
	}
	if query.Filters.Year != "" {
		params.Set("year", query.Filters.Year)
	}
	if query.Filters.Duration != domain.DurationAny {
		params.Set("duration", string(query.Filters.Duration))
	}
	params.Set("search_description", "true")
	params.Set("search_all_fields", "true")

	payload, err := c.get(ctx, "search", "/search", params)
	if err != nil {
		return domain.ResultPage{}, normalize.ShapeEmpty, err
	}

	page, shape := normalize.Page(payload)
	return page, shape, nil
}

type suggestionsEnvelope struct {
	Success     bool     `json:"success"`
	Suggestions []string `json:"suggestions"`
}

// Suggestions fetches lightweight term suggestions for a partially typed
// query. Failures degrade to an empty list at the call site.
func (c *Client) Suggestions(ctx context.Context, text string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 8
	}
	params := url.Values{}
	params.Set("q", strings.TrimSpace(text))
	params.Set("limit", strconv.Itoa(limit))

	payload, err := c.get(ctx, "suggestions", "/search/suggestions", params)
	if err != nil {
		return nil, err
	}

	var envelope suggestionsEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, fmt.Errorf("decode suggestions: %w", err)
	}
	if !envelope.Success {
		return []string{}, nil
	}
	if len(envelope.Suggestions) > limit {
		envelope.Suggestions = envelope.Suggestions[:limit]
	}
	return envelope.Suggestions, nil
}

type historyListEnvelope struct {
	Success bool `json:"success"`
	Data    struct {
		SearchHistory []domain.HistoryEntry `json:"searchHistory"`
	} `json:"data"`
}

type historySaveEnvelope struct {
	Success   bool                `json:"success"`
	SavedItem domain.HistoryEntry `json:"savedItem"`
}

type ackEnvelope struct {
	Success bool `json:"success"`
}

func (c *Client) ListHistory(ctx context.Context, limit int) ([]domain.HistoryEntry, error) {
	params := url.Values{}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	payload, err := c.get(ctx, "history_list", "/search-history", params)
	if err != nil {
		return nil, err
	}

	var envelope historyListEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	if !envelope.Success {
		return []domain.HistoryEntry{}, nil
	}
	return envelope.Data.SearchHistory, nil
}

func (c *Client) SaveHistory(ctx context.Context, query string, filters domain.Filters) (domain.HistoryEntry, error) {
	body, err := json.Marshal(map[string]any{
		"query":   query,
		"filters": filters,
	})
	if err != nil {
		return domain.HistoryEntry{}, err
	}

	var saved domain.HistoryEntry
	err = retryWithBackoff(ctx, historyRetryConfig(), func() error {
		payload, reqErr := c.do(ctx, "history_save", http.MethodPost, "/search-history", nil, body)
		if reqErr != nil {
			return reqErr
		}
		var envelope historySaveEnvelope
		if decodeErr := json.Unmarshal(payload, &envelope); decodeErr != nil {
			return fmt.Errorf("decode saved history: %w", decodeErr)
		}
		if !envelope.Success {
			return fmt.Errorf("backend declined history save")
		}
		saved = envelope.SavedItem
		return nil
	})
	return saved, err
}

func (c *Client) DeleteHistory(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("history id is required")
	}
	return retryWithBackoff(ctx, historyRetryConfig(), func() error {
		payload, err := c.do(ctx, "history_delete", http.MethodDelete, "/search-history/"+url.PathEscape(id), nil, nil)
		if err != nil {
			return err
		}
		return decodeAck(payload, "history delete")
	})
}

func (c *Client) ClearHistory(ctx context.Context) error {
	return retryWithBackoff(ctx, historyRetryConfig(), func() error {
		payload, err := c.do(ctx, "history_clear", http.MethodDelete, "/search-history", nil, nil)
		if err != nil {
			return err
		}
		return decodeAck(payload, "history clear")
	})
}

func decodeAck(payload []byte, op string) error {
	var envelope ackEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return fmt.Errorf("decode %s ack: %w", op, err)
	}
	if !envelope.Success {
		return fmt.Errorf("backend declined %s", op)
	}
	return nil
}

func (c *Client) get(ctx context.Context, endpoint, path string, params url.Values) ([]byte, error) {
	return c.do(ctx, endpoint, http.MethodGet, path, params, nil)
}

func (c *Client) do(ctx context.Context, endpoint, method, path string, params url.Values, body []byte) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	// Path segments may arrive pre-escaped, so the URL is assembled as a
	// string and re-parsed rather than going through url.URL.Path.
	uri := strings.TrimSuffix(c.base.String(), "/") + path
	if len(params) > 0 {
		uri += "?" + params.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, uri, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	startedAt := time.Now()
	resp, err := c.client.Do(req)
	metrics.BackendRequestDuration.WithLabelValues(endpoint).Observe(time.Since(startedAt).Seconds())
	if err != nil {
		metrics.BackendRequestsTotal.WithLabelValues(endpoint, "error").Inc()
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		metrics.BackendRequestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()
		return nil, &StatusError{
			Endpoint: endpoint,
			Code:     resp.StatusCode,
			Body:     strings.TrimSpace(string(snippet)),
		}
	}

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		metrics.BackendRequestsTotal.WithLabelValues(endpoint, "error").Inc()
		return nil, err
	}
	metrics.BackendRequestsTotal.WithLabelValues(endpoint, "ok").Inc()
	return payload, nil
}
