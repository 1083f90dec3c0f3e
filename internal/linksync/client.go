package linksync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/chiampee/SmarTrack-sub004/internal/smartrack"
)

var (
	// ErrUnauthorized means the session expired; interactive flows redirect
	// to login, background flows skip the cycle.
	ErrUnauthorized = errors.New("session expired")
	// ErrRateLimited survives the in-call retry budget; callers fall back to
	// cached data where they have any.
	ErrRateLimited = errors.New("rate limited")
	// ErrConflict is terminal for the item that caused it (e.g. duplicate
	// save); it is not retried automatically.
	ErrConflict = errors.New("conflict")
)

type HTTPError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("http %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

func (e *HTTPError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized
	case ErrRateLimited:
		return e.StatusCode == http.StatusTooManyRequests
	case ErrConflict:
		return e.StatusCode == http.StatusConflict
	}
	return false
}

// Client is the backend REST contract the reconciliation core consumes.
type Client interface {
	SaveLink(ctx context.Context, payload smartrack.SavePayload) (smartrack.Link, error)
	UpdateLink(ctx context.Context, id string, patch smartrack.LinkPatch) (smartrack.Link, error)
	DeleteLink(ctx context.Context, id string) error
	ListLinks(ctx context.Context) ([]smartrack.Link, error)
	ListCollections(ctx context.Context) ([]smartrack.Collection, error)
	CreateCollection(ctx context.Context, name string) (smartrack.Collection, error)
	ListContentTypes(ctx context.Context) ([]string, error)
	Stats(ctx context.Context) (smartrack.Stats, error)
}

type TokenProvider func(ctx context.Context) (string, error)

type HTTPClient struct {
	baseURL    string
	tokens     TokenProvider
	httpClient *http.Client
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

func NewHTTPClient(baseURL string, tokens TokenProvider, httpClient *http.Client) *HTTPClient {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8080"
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &HTTPClient{
		baseURL:    baseURL,
		tokens:     tokens,
		httpClient: httpClient,
		maxRetries: 3,
		baseDelay:  100 * time.Millisecond,
		maxDelay:   2 * time.Second,
	}
}

func (c *HTTPClient) SaveLink(ctx context.Context, payload smartrack.SavePayload) (smartrack.Link, error) {
	var out smartrack.Link
	err := c.doJSON(ctx, http.MethodPost, "/links", payload, &out)
	return out, err
}

func (c *HTTPClient) UpdateLink(ctx context.Context, id string, patch smartrack.LinkPatch) (smartrack.Link, error) {
	var out smartrack.Link
	if strings.TrimSpace(id) == "" {
		return out, smartrack.ErrInvalidInput
	}
	err := c.doJSON(ctx, http.MethodPut, "/links/"+url.PathEscape(id), patch, &out)
	return out, err
}

func (c *HTTPClient) DeleteLink(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return smartrack.ErrInvalidInput
	}
	return c.doJSON(ctx, http.MethodDelete, "/links/"+url.PathEscape(id), nil, nil)
}

func (c *HTTPClient) ListLinks(ctx context.Context) ([]smartrack.Link, error) {
	var out []smartrack.Link
	err := c.doJSON(ctx, http.MethodGet, "/links", nil, &out)
	return out, err
}

func (c *HTTPClient) ListCollections(ctx context.Context) ([]smartrack.Collection, error) {
	var out []smartrack.Collection
	err := c.doJSON(ctx, http.MethodGet, "/folders", nil, &out)
	return out, err
}

func (c *HTTPClient) CreateCollection(ctx context.Context, name string) (smartrack.Collection, error) {
	var out smartrack.Collection
	if strings.TrimSpace(name) == "" {
		return out, smartrack.ErrInvalidInput
	}
	err := c.doJSON(ctx, http.MethodPost, "/folders", map[string]string{"name": name}, &out)
	return out, err
}

func (c *HTTPClient) ListContentTypes(ctx context.Context) ([]string, error) {
	var out []string
	err := c.doJSON(ctx, http.MethodGet, "/types", nil, &out)
	return out, err
}

func (c *HTTPClient) Stats(ctx context.Context) (smartrack.Stats, error) {
	var out smartrack.Stats
	err := c.doJSON(ctx, http.MethodGet, "/users/stats", nil, &out)
	return out, err
}

func (c *HTTPClient) doJSON(ctx context.Context, method, requestPath string, body any, out any) error {
	token := ""
	if c.tokens != nil {
		var err error
		token, err = c.tokens(ctx)
		if err != nil {
			return err
		}
	}
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return err
		}
	}
	for attempt := 0; ; attempt++ {
		var bodyReader io.Reader
		if bodyBytes != nil {
			bodyReader = bytes.NewReader(bodyBytes)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+requestPath, bodyReader)
		if err != nil {
			return err
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if attempt < c.maxRetries {
				if waitErr := sleepContext(ctx, c.retryDelay(attempt+1, "")); waitErr != nil {
					return waitErr
				}
				continue
			}
			return err
		}
		payloadBytes, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return readErr
		}

		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			if out == nil || len(payloadBytes) == 0 {
				return nil
			}
			return json.Unmarshal(payloadBytes, out)
		}

		if (resp.StatusCode == http.StatusTooManyRequests || (resp.StatusCode >= 500 && resp.StatusCode <= 599)) && attempt < c.maxRetries {
			if waitErr := sleepContext(ctx, c.retryDelay(attempt+1, resp.Header.Get("Retry-After"))); waitErr != nil {
				return waitErr
			}
			continue
		}

		var errPayload struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		_ = json.Unmarshal(payloadBytes, &errPayload)
		return &HTTPError{
			StatusCode: resp.StatusCode,
			Code:       errPayload.Code,
			Message:    errPayload.Message,
		}
	}
}

func (c *HTTPClient) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	maxDelay := c.maxDelay
	if maxDelay <= 0 {
		maxDelay = 2 * time.Second
	}
	if retryAfter := parseRetryAfter(retryAfterHeader); retryAfter > 0 {
		if retryAfter > maxDelay {
			return maxDelay
		}
		return retryAfter
	}
	delay := c.baseDelay
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxDelay {
			return maxDelay
		}
	}
	if delay > maxDelay {
		return maxDelay
	}
	return delay
}

func parseRetryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	if ts, err := time.Parse(time.RFC1123, header); err == nil {
		delta := time.Until(ts)
		if delta > 0 {
			return delta
		}
	}
	return 0
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
