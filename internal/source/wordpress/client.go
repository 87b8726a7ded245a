package wordpress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/sha1n/blog-archiver/internal/domain"
)

// maxPageBytes caps a single listing response.
const maxPageBytes = 64 << 20

// errPastLastPage is returned when the API reports the requested page does not exist.
var errPastLastPage = errors.New("page past the end of the listing")

// pacer enforces a minimum delay between consecutive requests.
type pacer struct {
	delay time.Duration
	last  time.Time
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func newPacer(delay time.Duration) *pacer {
	return &pacer{delay: delay, now: time.Now, sleep: sleepContext}
}

// Wait blocks until the delay since the previous request has elapsed.
func (p *pacer) Wait(ctx context.Context) error {
	if !p.last.IsZero() && p.delay > 0 {
		if remaining := p.delay - p.now().Sub(p.last); remaining > 0 {
			if err := p.sleep(ctx, remaining); err != nil {
				return err
			}
		}
	}
	p.last = p.now()
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// page is one decoded listing response.
type page struct {
	items      []json.RawMessage
	totalPages int
}

// client issues paced, retried GET requests against the REST API.
type client struct {
	http       *http.Client
	pacer      *pacer
	username   string
	password   string
	userAgent  string
	maxRetries int
	backoff    time.Duration
	sleep      func(ctx context.Context, d time.Duration) error
}

// getPage fetches one listing page, retrying transient failures with
// exponential backoff. Non-retryable statuses fail on the first attempt.
func (c *client) getPage(ctx context.Context, url string) (*page, error) {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			wait := c.backoff << (attempt - 1)
			if ra := retryAfter(lastErr); ra > wait {
				wait = ra
			}
			slog.Warn("Retrying request", "url", url, "attempt", attempt, "wait", wait, "error", lastErr)
			if err := c.sleep(ctx, wait); err != nil {
				return nil, err
			}
		}

		p, retryable, err := c.do(ctx, url)
		if err == nil || errors.Is(err, errPastLastPage) {
			return p, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
		if !retryable {
			break
		}
	}
	return nil, lastErr
}

// retryError carries a server-provided Retry-After hint.
type retryError struct {
	after time.Duration
	err   error
}

func (e *retryError) Error() string { return e.err.Error() }
func (e *retryError) Unwrap() error { return e.err }

func retryAfter(err error) time.Duration {
	var re *retryError
	if errors.As(err, &re) {
		return re.after
	}
	return 0
}

func (c *client) do(ctx context.Context, url string) (*page, bool, error) {
	if err := c.pacer.Wait(ctx); err != nil {
		return nil, false, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false, &domain.FetchError{URL: url, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if c.username != "" && c.password != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, true, &domain.FetchError{URL: url, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, true, &domain.FetchError{URL: url, StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr apiError
		_ = json.Unmarshal(body, &apiErr)
		if resp.StatusCode == http.StatusBadRequest && apiErr.Code == codeInvalidPage {
			return nil, false, errPastLastPage
		}
		reason := errors.New(http.StatusText(resp.StatusCode))
		if apiErr.Message != "" {
			reason = fmt.Errorf("%s: %s", apiErr.Code, apiErr.Message)
		}
		fe := &domain.FetchError{URL: url, StatusCode: resp.StatusCode, Err: reason}
		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			secs, _ := strconv.Atoi(resp.Header.Get("Retry-After"))
			return nil, true, &retryError{after: time.Duration(secs) * time.Second, err: fe}
		case resp.StatusCode >= 500:
			return nil, true, fe
		default:
			return nil, false, fe
		}
	}

	var items []json.RawMessage
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, false, &domain.ParseError{Ref: url, Err: fmt.Errorf("listing is not a JSON array: %w", err)}
	}

	total, _ := strconv.Atoi(resp.Header.Get("X-WP-TotalPages"))
	return &page{items: items, totalPages: total}, false, nil
}
