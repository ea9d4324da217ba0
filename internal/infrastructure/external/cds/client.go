package cds

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
	"strconv"
	"strings"
	"time"

	"github.com/cosmicds/story-session-hub/pkg/circuitbreaker"
	"github.com/cosmicds/story-session-hub/pkg/retry"
)

// ErrNotFound is returned when the portal responds with 404 for a resource
// that can legitimately be absent (saved options, saved story state).
var ErrNotFound = errors.New("resource not found")

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// RequestHook observes an outgoing request before it is sent.
type RequestHook func(method, path string)

// ResponseHook observes a completed request, successful or not.
type ResponseHook func(method, path string, statusCode int, elapsed time.Duration)

// ClientConfig contains configuration for the portal API client.
type ClientConfig struct {
	// BaseURL is the portal API base URL
	BaseURL string

	// APIKey is sent as a bearer token when set
	APIKey string

	// Timeout is the HTTP request timeout
	Timeout time.Duration

	// RateLimiterConfig for client-side request smoothing
	RateLimiterConfig RateLimiterConfig

	// Breaker protects against a failing portal. When nil a default
	// breaker is created.
	Breaker *circuitbreaker.CircuitBreaker

	// Retrier drives retry behavior. When nil a default retrier is
	// created.
	Retrier *retry.Retrier

	// OnRequest and OnResponse feed the loading status surface. Either
	// may be nil.
	OnRequest  RequestHook
	OnResponse ResponseHook

	// Logger for structured logging
	Logger *slog.Logger

	// Debug enables per-request debug logging
	Debug bool
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig(baseURL string) ClientConfig {
	return ClientConfig{
		BaseURL:           baseURL,
		Timeout:           30 * time.Second,
		RateLimiterConfig: DefaultRateLimiterConfig(),
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// Client is the portal API client.
type Client struct {
	config      ClientConfig
	httpClient  *http.Client
	logger      *slog.Logger
	rateLimiter *RateLimiter
	breaker     *circuitbreaker.CircuitBreaker
	retrier     *retry.Retrier
}

// NewClient creates a new portal API client.
func NewClient(config ClientConfig) *Client {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Breaker == nil {
		config.Breaker = circuitbreaker.PortalAPIBreaker(nil)
	}
	if config.Retrier == nil {
		config.Retrier = retry.PortalAPIRetrier()
	}

	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		logger:      config.Logger,
		rateLimiter: NewRateLimiter(config.RateLimiterConfig),
		breaker:     config.Breaker,
		retrier:     config.Retrier,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// STUDENT OPERATIONS
// ══════════════════════════════════════════════════════════════════════════════

// GetStudent fetches a student record by username. A nil record with a nil
// error means the portal does not know the username; callers decide whether
// to sign the student up.
func (c *Client) GetStudent(ctx context.Context, username string) (*StudentDTO, error) {
	path := "/student/" + url.PathEscape(username)

	var envelope StudentEnvelope
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &envelope); err != nil {
		return nil, fmt.Errorf("get student %s: %w", username, err)
	}

	return envelope.Student, nil
}

// SignUpStudent creates a student account.
func (c *Client) SignUpStudent(ctx context.Context, req SignUpRequestDTO) error {
	if err := c.doRequest(ctx, http.MethodPost, "/student-sign-up", req, nil); err != nil {
		return fmt.Errorf("sign up student %s: %w", req.Username, err)
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// CLASSROOM OPERATIONS
// ══════════════════════════════════════════════════════════════════════════════

// GetClassForStudentStory fetches the classroom a student belongs to for a
// story, along with its size. A nil class with a nil error means the
// student has no classroom for this story.
func (c *Client) GetClassForStudentStory(ctx context.Context, studentID int, story string) (*ClassDTO, int, error) {
	path := fmt.Sprintf("/class-for-student-story/%d/%s", studentID, url.PathEscape(story))

	var envelope ClassEnvelope
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &envelope); err != nil {
		return nil, 0, fmt.Errorf("get class for student %d story %s: %w", studentID, story, err)
	}

	return envelope.Class, envelope.Size, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// OPTIONS OPERATIONS
// ══════════════════════════════════════════════════════════════════════════════

// GetOptions fetches the saved option values for a student. A nil map with
// a nil error means the student has no saved options yet.
func (c *Client) GetOptions(ctx context.Context, studentID int) (map[string]interface{}, error) {
	path := "/options/" + strconv.Itoa(studentID)

	var options map[string]interface{}
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &options); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get options for student %d: %w", studentID, err)
	}

	return options, nil
}

// SetOption writes a single option value for a student.
func (c *Client) SetOption(ctx context.Context, studentID int, option string, value interface{}) error {
	path := "/options/" + strconv.Itoa(studentID)
	body := OptionWriteDTO{Option: option, Value: value}

	if err := c.doRequest(ctx, http.MethodPut, path, body, nil); err != nil {
		return fmt.Errorf("set option %s for student %d: %w", option, studentID, err)
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// STORY STATE OPERATIONS
// ══════════════════════════════════════════════════════════════════════════════

// GetStoryState fetches the saved story state for a student and story.
// A nil map with a nil error means no saved state exists.
func (c *Client) GetStoryState(ctx context.Context, studentID int, story string) (map[string]interface{}, error) {
	path := fmt.Sprintf("/story-state/%d/%s", studentID, url.PathEscape(story))

	var envelope StoryStateEnvelope
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &envelope); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get story state for student %d story %s: %w", studentID, story, err)
	}

	return envelope.State, nil
}

// UpdateStoryState writes the serialized story state for a student and
// story. The state mapping is sent as the request body unwrapped.
func (c *Client) UpdateStoryState(ctx context.Context, studentID int, story string, state map[string]interface{}) error {
	path := fmt.Sprintf("/story-state/%d/%s", studentID, url.PathEscape(story))

	if err := c.doRequest(ctx, http.MethodPut, path, state, nil); err != nil {
		return fmt.Errorf("update story state for student %d story %s: %w", studentID, story, err)
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HTTP REQUEST HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// doRequest performs an HTTP request guarded by the circuit breaker, with
// rate limiting and retries inside the breaker window so that a sustained
// outage is counted as one failure, not one per attempt.
func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	return c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.retrier.Do(ctx, func(ctx context.Context) error {
			if err := c.rateLimiter.Allow(ctx); err != nil {
				return retry.Permanent(err)
			}

			err := c.doSingleRequest(ctx, method, path, body, result)
			if err == nil {
				return nil
			}

			var rateLimitErr *RateLimitError
			if errors.As(err, &rateLimitErr) {
				c.rateLimiter.RecordRateLimitHit(rateLimitErr.RetryAfter)
				return retry.Retryable(err)
			}

			if c.isRetryable(err) {
				return retry.Retryable(err)
			}
			return retry.Permanent(err)
		})
	})
}

// doSingleRequest performs a single HTTP request.
func (c *Client) doSingleRequest(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	fullURL := c.config.BaseURL + path

	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	if c.config.OnRequest != nil {
		c.config.OnRequest(method, path)
	}
	if c.config.Debug {
		c.logger.Debug("portal api request", "method", method, "path", path)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if c.config.OnResponse != nil {
			c.config.OnResponse(method, path, 0, time.Since(start))
		}
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if c.config.OnResponse != nil {
		c.config.OnResponse(method, path, resp.StatusCode, time.Since(start))
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := 60 * time.Second
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if seconds, err := strconv.Atoi(ra); err == nil {
				retryAfter = time.Duration(seconds) * time.Second
			}
		}
		return &RateLimitError{
			RetryAfter: retryAfter,
			Message:    "rate limit exceeded",
		}
	}

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s %s: %w", method, path, ErrNotFound)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIErrorDTO{StatusCode: resp.StatusCode}
		_ = json.Unmarshal(respBody, apiErr)
		return apiErr
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}

	return nil
}

// isRetryable reports whether a failed request is worth retrying.
func (c *Client) isRetryable(err error) bool {
	if err == nil {
		return false
	}

	var apiErr *APIErrorDTO
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500
	}

	if errors.Is(err, ErrNotFound) {
		return false
	}

	// Transport-level failures are generally transient.
	errStr := err.Error()
	for _, sub := range []string{"timeout", "connection refused", "temporary", "reset", "EOF"} {
		if strings.Contains(errStr, sub) {
			return true
		}
	}
	return false
}

// ══════════════════════════════════════════════════════════════════════════════
// STATUS
// ══════════════════════════════════════════════════════════════════════════════

// ClientStatus is a point-in-time view of the client's protective layers.
type ClientStatus struct {
	RateLimiter    RateLimiterStatus
	CircuitBreaker circuitbreaker.State
}

// Status returns the current status of the client.
func (c *Client) Status() ClientStatus {
	return ClientStatus{
		RateLimiter:    c.rateLimiter.Status(),
		CircuitBreaker: c.breaker.State(),
	}
}

// Reset resets the rate limiter and circuit breaker.
func (c *Client) Reset() {
	c.rateLimiter.Reset()
	c.breaker.Reset()
}
