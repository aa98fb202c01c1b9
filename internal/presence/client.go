package presence

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/tablekit/schemahub/internal/protocol"
)

// APIError represents an error response from a collaborator service.
type APIError struct {
	StatusCode int
	Body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("presence api error %d", e.StatusCode)
}

// IsRetryable returns true if the error should trigger a retry.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == 429
}

// Client posts presence and persistence calls to the collaborator REST API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger

	maxRetries   int
	retryBackoff time.Duration

	queue   chan func(ctx context.Context)
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
	mu      sync.Mutex
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// NewClient creates a presence client. Start must be called before use.
func NewClient(baseURL, apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger:       slog.Default(),
		maxRetries:   2,
		retryBackoff: 500 * time.Millisecond,
		queue:        make(chan func(ctx context.Context), 256),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithRetries sets the retry configuration.
func WithRetries(max int, backoff time.Duration) ClientOption {
	return func(c *Client) {
		c.maxRetries = max
		c.retryBackoff = backoff
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// Start launches the dispatch worker.
func (c *Client) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return
	}
	c.started = true
	c.ctx, c.cancel = context.WithCancel(ctx)

	c.wg.Add(1)
	go c.dispatchLoop()
}

// Stop drains nothing: pending calls are abandoned, matching their
// fire-and-forget contract.
func (c *Client) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return
	}
	c.started = false
	c.cancel()
	c.wg.Wait()
}

// MarkOnline records a user as online in a room.
func (c *Client) MarkOnline(roomID string, user protocol.UserInfo) {
	c.enqueue(func(ctx context.Context) {
		c.post(ctx, "/presence/online", map[string]any{
			"roomId": roomID,
			"user":   user,
		})
	})
}

// MarkOffline records a user as offline in a room.
func (c *Client) MarkOffline(roomID, userID string) {
	c.enqueue(func(ctx context.Context) {
		c.post(ctx, "/presence/offline", map[string]any{
			"roomId": roomID,
			"userId": userID,
		})
	})
}

// UpdatePresence records a user's activity status.
func (c *Client) UpdatePresence(roomID, userID, status string) {
	c.enqueue(func(ctx context.Context) {
		c.post(ctx, "/presence/update", map[string]any{
			"roomId": roomID,
			"userId": userID,
			"status": status,
		})
	})
}

// PersistChange records a schema change for durable history.
func (c *Client) PersistChange(roomID string, change protocol.SchemaChange) {
	c.enqueue(func(ctx context.Context) {
		c.post(ctx, "/changes", map[string]any{
			"roomId":     roomID,
			"changeType": change.ChangeType,
			"data":       change.Data,
			"userId":     change.UserID,
			"timestamp":  change.Timestamp,
		})
	})
}

// PersistOperation records a schema operation for durable history.
func (c *Client) PersistOperation(roomID string, op protocol.SchemaOperation) {
	c.enqueue(func(ctx context.Context) {
		c.post(ctx, "/operations", map[string]any{
			"roomId":    roomID,
			"operation": op.Operation,
			"data":      op.Data,
			"userId":    op.UserID,
			"timestamp": op.Timestamp,
		})
	})
}

// enqueue hands a call to the worker without blocking the caller.
func (c *Client) enqueue(call func(ctx context.Context)) {
	c.mu.Lock()
	started := c.started
	c.mu.Unlock()
	if !started {
		return
	}

	select {
	case c.queue <- call:
	default:
		c.logger.Warn("presence queue full, dropping call")
	}
}

func (c *Client) dispatchLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.ctx.Done():
			return
		case call := <-c.queue:
			call(c.ctx)
		}
	}
}

// post sends one JSON request with bounded retries. Failures are logged and
// otherwise discarded.
func (c *Client) post(ctx context.Context, path string, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		c.logger.Error("marshal presence payload", "path", path, "error", err)
		return
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.retryBackoff * time.Duration(attempt)):
			}
		}

		lastErr = c.doPost(ctx, path, body)
		if lastErr == nil {
			return
		}
		if apiErr, ok := lastErr.(*APIError); ok && !apiErr.IsRetryable() {
			break
		}
	}

	c.logger.Warn("presence call failed", "path", path, "error", lastErr)
}

func (c *Client) doPost(ctx context.Context, path string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		return fmt.Errorf("drain response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return &APIError{StatusCode: resp.StatusCode}
	}
	return nil
}
