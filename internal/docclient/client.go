// Package docclient talks to mimiserver and exposes it as a docstore.Store.
package docclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/dukerupert/mimitask/internal/auth"
	"github.com/dukerupert/mimitask/internal/docstore"
	"github.com/dukerupert/mimitask/internal/middleware"
)

// HTTPError is a non-2xx reply from the server. It unwraps to the matching
// docstore sentinel so callers can use errors.Is.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

func (e *HTTPError) Unwrap() error {
	return classify(e.StatusCode)
}

func classify(status int) error {
	switch {
	case status == http.StatusNotFound:
		return docstore.ErrNotFound
	case status == http.StatusForbidden, status == http.StatusUnauthorized:
		return docstore.ErrPermissionDenied
	case status == http.StatusBadRequest:
		return docstore.ErrInvalidWrite
	case status == http.StatusTooManyRequests, status >= 500:
		return docstore.ErrUnavailable
	}
	return nil
}

type Client struct {
	baseURL    string
	clientID   string
	httpClient *http.Client
	maxRetries uint64
	baseDelay  time.Duration
	maxDelay   time.Duration
	logger     *slog.Logger

	mu    sync.RWMutex
	creds auth.Credentials
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithClientID fixes the id attached to writes. Listeners compare it with
// the origin of change events.
func WithClientID(id string) Option {
	return func(c *Client) { c.clientID = id }
}

func WithRetry(maxRetries uint64, base, maxDelay time.Duration) Option {
	return func(c *Client) {
		c.maxRetries = maxRetries
		c.baseDelay = base
		c.maxDelay = maxDelay
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

func New(baseURL string, opts ...Option) *Client {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8080"
	}
	c := &Client{
		baseURL:    baseURL,
		clientID:   uuid.NewString(),
		httpClient: &http.Client{Timeout: 15 * time.Second},
		maxRetries: 3,
		baseDelay:  100 * time.Millisecond,
		maxDelay:   2 * time.Second,
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) ClientID() string {
	return c.clientID
}

func (c *Client) SetCredentials(creds auth.Credentials) {
	c.mu.Lock()
	c.creds = creds
	c.mu.Unlock()
}

func (c *Client) token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.creds.Token
}

func (c *Client) SignInAnonymously(ctx context.Context) (auth.Credentials, error) {
	var creds auth.Credentials
	if err := c.doJSON(ctx, http.MethodPost, "/v1/auth/anonymous", nil, &creds); err != nil {
		return auth.Credentials{}, fmt.Errorf("sign in: %w", err)
	}
	c.SetCredentials(creds)
	return creds, nil
}

func escapePath(path string) string {
	segs := strings.Split(strings.Trim(path, "/"), "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.Join(segs, "/")
}

func (c *Client) Get(ctx context.Context, path string) (docstore.Document, error) {
	if err := docstore.ValidateDocPath(path); err != nil {
		return docstore.Document{}, err
	}
	var doc docstore.Document
	if err := c.doJSON(ctx, http.MethodGet, "/v1/docs/"+escapePath(path), nil, &doc); err != nil {
		return docstore.Document{}, fmt.Errorf("get %s: %w", path, err)
	}
	return doc, nil
}

func (c *Client) List(ctx context.Context, collection string) ([]docstore.Document, error) {
	if err := docstore.ValidateCollectionPath(collection); err != nil {
		return nil, err
	}
	var out struct {
		Documents []docstore.Document `json:"documents"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v1/docs/"+escapePath(collection), nil, &out); err != nil {
		return nil, fmt.Errorf("list %s: %w", collection, err)
	}
	return out.Documents, nil
}

func (c *Client) Commit(ctx context.Context, writes []docstore.Write) ([]docstore.Change, error) {
	if len(writes) == 0 {
		return nil, nil
	}
	var out struct {
		Changes []docstore.Change `json:"changes"`
	}
	body := map[string]any{"writes": writes}
	if err := c.doJSON(ctx, http.MethodPost, "/v1/commit", body, &out); err != nil {
		return nil, fmt.Errorf("commit %d writes: %w", len(writes), err)
	}
	return out.Changes, nil
}

func (c *Client) header() http.Header {
	h := http.Header{}
	if tok := c.token(); tok != "" {
		h.Set("Authorization", "Bearer "+tok)
	}
	h.Set(middleware.ClientIDHeader, c.clientID)
	return h
}

// doJSON sends one request, retrying transport failures, 429 and 5xx
// with capped exponential backoff.
func (c *Client) doJSON(ctx context.Context, method, requestPath string, body, out any) error {
	var bodyBytes []byte
	if body != nil {
		var err error
		if bodyBytes, err = json.Marshal(body); err != nil {
			return err
		}
	}

	b := retry.NewExponential(c.baseDelay)
	b = retry.WithCappedDuration(c.maxDelay, b)
	b = retry.WithMaxRetries(c.maxRetries, b)

	return retry.Do(ctx, b, func(ctx context.Context) error {
		var bodyReader io.Reader
		if bodyBytes != nil {
			bodyReader = bytes.NewReader(bodyBytes)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+requestPath, bodyReader)
		if err != nil {
			return err
		}
		req.Header = c.header()
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Debug("request failed", "method", method, "path", requestPath, "error", err)
			return retry.RetryableError(fmt.Errorf("%w: %v", docstore.ErrUnavailable, err))
		}
		payload, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return retry.RetryableError(fmt.Errorf("%w: %v", docstore.ErrUnavailable, readErr))
		}

		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			if out == nil || len(payload) == 0 {
				return nil
			}
			return json.Unmarshal(payload, out)
		}

		var errPayload struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(payload, &errPayload)
		httpErr := &HTTPError{StatusCode: resp.StatusCode, Message: errPayload.Error}
		if errors.Is(httpErr, docstore.ErrUnavailable) {
			return retry.RetryableError(httpErr)
		}
		return httpErr
	})
}
