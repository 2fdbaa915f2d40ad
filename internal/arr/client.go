// Package arr is the HTTP facade for the upstream *arr servers. One Client
// per connector; all requests carry the connector API key and honour a
// shared, process-wide dispatch limiter.
package arr

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

	"github.com/fetcharr/fetcharr/internal/log"
	"github.com/fetcharr/fetcharr/internal/timeutil"
	"golang.org/x/time/rate"
)

const (
	defaultTimeout = 30 * time.Second
	userAgent      = "fetcharr/1.0"

	retryMaxAttempts = 3
	retryBaseDelay   = 1 * time.Second
	retryMaxDelay    = 30 * time.Second
)

// sharedLimiter caps outbound request rate across every connector client.
// This is transport hygiene; the per-connector search budgets live in the
// throttle enforcer.
var sharedLimiter = rate.NewLimiter(rate.Limit(20), 40)

// SetGlobalRateLimit replaces the shared limiter. Test and bootstrap hook.
func SetGlobalRateLimit(rps float64, burst int) {
	sharedLimiter = rate.NewLimiter(rate.Limit(rps), burst)
}

// Options tune a Client beyond its defaults.
type Options struct {
	Timeout    time.Duration
	HTTPClient *http.Client // overrides Timeout when set
}

// Client talks to one upstream server.
type Client struct {
	base   string
	apiKey string
	http   *http.Client
}

// New builds a Client for the given base URL and API key. Trailing slashes
// are stripped from the base.
func New(base, apiKey string, opts Options) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &Client{
		base:   strings.TrimRight(strings.TrimSpace(base), "/"),
		apiKey: apiKey,
		http:   hc,
	}
}

// BaseURL returns the normalized base URL.
func (c *Client) BaseURL() string { return c.base }

// do issues one request with the automatic retry policy: up to three
// attempts, exponential 1s -> 2s -> 4s with ±25% jitter capped at 30s, and a
// Retry-After override on 429. Non-retryable categories fail immediately.
func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, body, out any) error {
	var lastErr error
	for attempt := 1; attempt <= retryMaxAttempts; attempt++ {
		if err := sharedLimiter.Wait(ctx); err != nil {
			return classifyTransportError(op, err)
		}
		err := c.doOnce(ctx, op, method, path, query, body, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if !IsRetryable(err) || attempt == retryMaxAttempts {
			return err
		}

		delay := timeutil.Backoff(retryBaseDelay, 2, retryMaxDelay, attempt)
		var aerr *Error
		if asErr(err, &aerr) && aerr.RetryAfter > 0 {
			delay = aerr.RetryAfter
		}
		logger := log.WithComponentFromContext(ctx, "arr")
		logger.Debug().
			Str("event", "client.retry").
			Str("op", op).
			Int("attempt", attempt).
			Dur("delay", delay).
			Err(err).
			Msg("retrying upstream request")

		select {
		case <-ctx.Done():
			return classifyTransportError(op, ctx.Err())
		case <-time.After(delay):
		}
	}
	return lastErr
}

func (c *Client) doOnce(ctx context.Context, op, method, path string, query url.Values, body, out any) error {
	u := c.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var rdr io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return &Error{Sentinel: ErrBadResponse, Category: CategoryUnknown, Operation: op, Err: err, Timestamp: time.Now().UTC()}
		}
		rdr = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, rdr)
	if err != nil {
		return &Error{Sentinel: ErrBadResponse, Category: CategoryUnknown, Operation: op, Err: err, Timestamp: time.Now().UTC()}
	}
	req.Header.Set("X-Api-Key", c.apiKey)
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.http.Do(req)
	if err != nil {
		return classifyTransportError(op, err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 4096))
		return newStatusError(op, res.StatusCode, parseRetryAfter(res.Header.Get("Retry-After")))
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, res.Body)
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return &Error{Sentinel: ErrBadResponse, Category: CategoryUnknown, Operation: op, StatusCode: res.StatusCode, Err: err, Timestamp: time.Now().UTC()}
	}
	return nil
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

func asErr(err error, target **Error) bool {
	e, ok := err.(*Error)
	if ok {
		*target = e
	}
	return ok
}

// Ping checks basic reachability and API key validity.
func (c *Client) Ping(ctx context.Context) error {
	var out struct {
		Status string `json:"status"`
	}
	return c.do(ctx, "ping", http.MethodGet, "/ping", nil, nil, &out)
}

// SystemStatus fetches the upstream identity block.
func (c *Client) SystemStatus(ctx context.Context) (*SystemStatus, error) {
	var out SystemStatus
	if err := c.do(ctx, "system_status", http.MethodGet, "/api/v3/system/status", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Health fetches the upstream health items.
func (c *Client) Health(ctx context.Context) ([]HealthItem, error) {
	var out []HealthItem
	if err := c.do(ctx, "health", http.MethodGet, "/api/v3/health", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Series lists the full series catalog.
func (c *Client) Series(ctx context.Context) ([]SeriesResource, error) {
	var out []SeriesResource
	if err := c.do(ctx, "series", http.MethodGet, "/api/v3/series", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Episodes lists every episode of one series.
func (c *Client) Episodes(ctx context.Context, seriesID int64) ([]EpisodeResource, error) {
	q := url.Values{"seriesId": {strconv.FormatInt(seriesID, 10)}}
	var out []EpisodeResource
	if err := c.do(ctx, "episodes", http.MethodGet, "/api/v3/episode", q, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Movies lists the full movie catalog.
func (c *Client) Movies(ctx context.Context) ([]MovieResource, error) {
	var out []MovieResource
	if err := c.do(ctx, "movies", http.MethodGet, "/api/v3/movie", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// WantedMissing fetches one page of missing items.
func (c *Client) WantedMissing(ctx context.Context, page, pageSize int) (*WantedPage, error) {
	return c.wanted(ctx, "wanted_missing", "/api/v3/wanted/missing", page, pageSize)
}

// WantedCutoff fetches one page of cutoff-unmet items.
func (c *Client) WantedCutoff(ctx context.Context, page, pageSize int) (*WantedPage, error) {
	return c.wanted(ctx, "wanted_cutoff", "/api/v3/wanted/cutoff", page, pageSize)
}

func (c *Client) wanted(ctx context.Context, op, path string, page, pageSize int) (*WantedPage, error) {
	q := url.Values{
		"page":     {strconv.Itoa(page)},
		"pageSize": {strconv.Itoa(pageSize)},
	}
	var raw struct {
		Page         int               `json:"page"`
		PageSize     int               `json:"pageSize"`
		TotalRecords int               `json:"totalRecords"`
		Records      []json.RawMessage `json:"records"`
	}
	if err := c.do(ctx, op, http.MethodGet, path, q, nil, &raw); err != nil {
		return nil, err
	}
	out := &WantedPage{Page: raw.Page, PageSize: raw.PageSize, TotalRecords: raw.TotalRecords}
	logger := log.WithComponentFromContext(ctx, "arr")
	for _, msg := range raw.Records {
		rec, ok := parseWantedRecord(msg)
		if !ok {
			out.Skipped++
			logger.Warn().
				Str("event", "page.record_skipped").
				Str("op", op).
				Int("page", raw.Page).
				Msg("skipping malformed wanted record")
			continue
		}
		out.Records = append(out.Records, rec)
	}
	return out, nil
}

// parseWantedRecord is the lenient per-record parser: a record with missing
// or invalid required fields is skipped rather than failing the page.
func parseWantedRecord(msg json.RawMessage) (WantedRecord, bool) {
	var rec WantedRecord
	if err := json.Unmarshal(msg, &rec); err != nil {
		return WantedRecord{}, false
	}
	if rec.ID <= 0 {
		return WantedRecord{}, false
	}
	return rec, true
}

// DispatchSearch posts a search command for the given content ids and
// returns the upstream command id.
func (c *Client) DispatchSearch(ctx context.Context, name CommandName, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, fmt.Errorf("arr: dispatch %s: no content ids", name)
	}
	body := map[string]any{"name": string(name)}
	switch name {
	case CommandMoviesSearch:
		body["movieIds"] = ids
	case CommandSeasonSearch:
		body["seriesId"] = ids[0]
	default:
		body["episodeIds"] = ids
	}
	var out CommandResource
	if err := c.do(ctx, "dispatch_search", http.MethodPost, "/api/v3/command", nil, body, &out); err != nil {
		return 0, err
	}
	if out.ID <= 0 {
		return 0, &Error{Sentinel: ErrBadResponse, Category: CategoryUnknown, Operation: "dispatch_search",
			Err: fmt.Errorf("command id missing in response"), Timestamp: time.Now().UTC()}
	}
	return out.ID, nil
}

// CommandStatus fetches the state of a previously dispatched command.
func (c *Client) CommandStatus(ctx context.Context, id int64) (*CommandResource, error) {
	var out CommandResource
	path := "/api/v3/command/" + strconv.FormatInt(id, 10)
	if err := c.do(ctx, "command_status", http.MethodGet, path, nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
