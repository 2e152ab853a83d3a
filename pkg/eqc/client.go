// Package eqc provides a client for the EQC company registry API: keyword
// search plus business detail and label lookups, behind a bearer token,
// a per-minute sliding-window rate limit, and retry with jittered
// exponential backoff.
package eqc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Client defines the registry operations the resolver composes.
type Client interface {
	// Search returns candidate companies for a free-text keyword, best
	// match first. A registry with no match returns ErrNotFound.
	Search(ctx context.Context, keyword string) ([]Candidate, error)
	// Detail fetches the business detail for a company returned by Search.
	Detail(ctx context.Context, companyID string) (*CompanyDetail, error)
	// Labels fetches the registry's classification labels for a company.
	Labels(ctx context.Context, companyID string) ([]Label, error)
}

// Candidate is one search hit. Score is the registry's own similarity
// measure when it exposes one, else 0.
type Candidate struct {
	CompanyID string  `json:"companyId"`
	Name      string  `json:"name"`
	Score     float64 `json:"score,omitempty"`
}

// CompanyDetail holds the registry's business record for one company.
type CompanyDetail struct {
	CompanyID    string `json:"companyId"`
	Name         string `json:"name"`
	FormerNames  []string `json:"formerNames,omitempty"`
	Status       string `json:"status,omitempty"`
	RegisteredAt string `json:"registeredAt,omitempty"`
}

// Label is a registry classification tag.
type Label struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Option configures the registry client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(base string) Option {
	return func(c *httpClient) {
		c.baseURL = base
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithTimeout sets the per-call HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *httpClient) {
		c.http.Timeout = d
	}
}

// WithRetryMax sets the number of retries after the initial attempt.
func WithRetryMax(n int) Option {
	return func(c *httpClient) {
		c.retryMax = n
	}
}

// WithRateLimit caps calls per minute with a sliding 60-second window.
func WithRateLimit(perMinute int) Option {
	return func(c *httpClient) {
		c.limiter = newSlidingWindow(perMinute, time.Minute)
	}
}

// WithBackoff sets the base backoff delay (doubled per attempt, ±20%
// jitter, capped at 60s).
func WithBackoff(base time.Duration) Option {
	return func(c *httpClient) {
		c.backoffBase = base
	}
}

type httpClient struct {
	token       string
	baseURL     string
	http        *http.Client
	limiter     *slidingWindow
	retryMax    int
	backoffBase time.Duration
}

const backoffCap = 60 * time.Second

// NewClient creates a registry client. The token is required: resolution
// without a credential must fail at construction, not midway through a batch.
func NewClient(token string, opts ...Option) (Client, error) {
	if token == "" {
		return nil, eris.Wrap(ErrAuthentication, "eqc: token is required")
	}

	c := &httpClient{
		token:   token,
		baseURL: "https://api.eqc-registry.net",
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		retryMax:    3,
		backoffBase: 500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// retryableStatus reports whether the HTTP status should trigger a retry.
func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

// get issues one GET with rate limiting and retries, returning the body.
// The credential travels only in the Authorization header, so request URLs
// are safe to log as-is.
func (c *httpClient) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	reqURL := c.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	var lastStatus int
	var lastErr error

	attempts := c.retryMax + 1
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(c.backoffBase, attempt-1)
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, eris.Wrap(ctx.Err(), "eqc: cancelled")
			case <-timer.C:
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "eqc: rate limit wait")
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return nil, eris.Wrap(err, "eqc: create request")
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			lastStatus = 0
			zap.L().Debug("eqc: transport error",
				zap.String("url", reqURL),
				zap.Int("attempt", attempt+1),
				zap.Error(err),
			)
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return nil, eris.Wrap(readErr, "eqc: read response body")
		}

		switch {
		case resp.StatusCode == http.StatusOK:
			return body, nil
		case resp.StatusCode == http.StatusUnauthorized:
			return nil, eris.Wrapf(ErrAuthentication, "eqc: GET %s", path)
		case resp.StatusCode == http.StatusNotFound:
			return nil, eris.Wrapf(ErrNotFound, "eqc: GET %s", path)
		case retryableStatus(resp.StatusCode):
			lastStatus = resp.StatusCode
			lastErr = fmt.Errorf("status %d: %s", resp.StatusCode, string(body))
			zap.L().Debug("eqc: retryable status",
				zap.String("url", reqURL),
				zap.Int("status", resp.StatusCode),
				zap.Int("attempt", attempt+1),
			)
			continue
		default:
			return nil, &ClientError{StatusCode: resp.StatusCode, Body: string(body)}
		}
	}

	switch {
	case lastStatus == http.StatusTooManyRequests:
		return nil, eris.Wrapf(ErrRateLimitExceeded, "eqc: GET %s after %d attempts", path, attempts)
	case lastStatus >= 500:
		return nil, eris.Wrapf(ErrServer, "eqc: GET %s after %d attempts: %v", path, attempts, lastErr)
	default:
		return nil, eris.Wrapf(ErrRequestFailed, "eqc: GET %s after %d attempts: %v", path, attempts, lastErr)
	}
}

func backoffDelay(base time.Duration, attempt int) time.Duration {
	delay := float64(base) * math.Pow(2, float64(attempt))
	if delay > float64(backoffCap) {
		delay = float64(backoffCap)
	}
	// ±20% jitter.
	jitter := (rand.Float64()*2 - 1) * 0.2 * delay
	delay += jitter
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

func (c *httpClient) Search(ctx context.Context, keyword string) ([]Candidate, error) {
	body, err := c.get(ctx, "/api/v1/search", url.Values{"keyword": {keyword}})
	if err != nil {
		return nil, err
	}

	var result struct {
		Data []Candidate `json:"data"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, eris.Wrap(err, "eqc: unmarshal search response")
	}
	return result.Data, nil
}

func (c *httpClient) Detail(ctx context.Context, companyID string) (*CompanyDetail, error) {
	body, err := c.get(ctx, "/api/v1/business/"+url.PathEscape(companyID), nil)
	if err != nil {
		return nil, err
	}

	var result struct {
		Data CompanyDetail `json:"data"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, eris.Wrap(err, "eqc: unmarshal detail response")
	}
	return &result.Data, nil
}

func (c *httpClient) Labels(ctx context.Context, companyID string) ([]Label, error) {
	body, err := c.get(ctx, "/api/v1/labels/"+url.PathEscape(companyID), nil)
	if err != nil {
		return nil, err
	}

	var result struct {
		Data []Label `json:"data"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, eris.Wrap(err, "eqc: unmarshal labels response")
	}
	return result.Data, nil
}
