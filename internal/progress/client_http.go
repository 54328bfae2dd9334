package progress

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const maxResponseBytes = 1 << 20

// HTTPClient implements API against an upstream progress REST service.
type HTTPClient struct {
	baseURL string
	token   string
	client  *http.Client
}

// HTTPOption configures an HTTPClient.
type HTTPOption func(*HTTPClient)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) HTTPOption {
	return func(c *HTTPClient) {
		c.client = client
	}
}

// WithTimeout sets the request timeout of the default HTTP client.
func WithTimeout(d time.Duration) HTTPOption {
	return func(c *HTTPClient) {
		c.client = &http.Client{Timeout: d}
	}
}

// WithBearerToken sends token in the Authorization header of every request.
func WithBearerToken(token string) HTTPOption {
	return func(c *HTTPClient) {
		c.token = token
	}
}

// NewHTTPClient creates a client for the progress service at baseURL.
func NewHTTPClient(baseURL string, opts ...HTTPOption) *HTTPClient {
	c := &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *HTTPClient) FetchProgress(ctx context.Context, studentID, courseID string) (Snapshot, error) {
	if studentID == "" {
		return Snapshot{}, ErrNotAuthenticated
	}

	endpoint := fmt.Sprintf("%s/students/%s/courses/%s/progress",
		c.baseURL, url.PathEscape(studentID), url.PathEscape(courseID))

	body, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Snapshot{}, err
	}
	return DecodeSnapshot(body), nil
}

type completeRequest struct {
	LessonID string `json:"lesson_id"`
}

func (c *HTTPClient) CompleteLesson(ctx context.Context, studentID, lessonID string) (Receipt, error) {
	if studentID == "" {
		return Receipt{}, ErrNotAuthenticated
	}

	payload, err := json.Marshal(completeRequest{LessonID: lessonID})
	if err != nil {
		return Receipt{}, fmt.Errorf("marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/students/%s/lessons/%s/complete",
		c.baseURL, url.PathEscape(studentID), url.PathEscape(lessonID))

	body, err := c.do(ctx, http.MethodPost, endpoint, payload)
	if err != nil {
		return Receipt{}, err
	}

	var receipt Receipt
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &receipt); err != nil {
			return Receipt{}, fmt.Errorf("unmarshal response: %w", err)
		}
	}
	if receipt.LessonID == "" {
		receipt.LessonID = lessonID
	}
	return receipt, nil
}

func (c *HTTPClient) do(ctx context.Context, method, endpoint string, payload []byte) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if len(body) > maxResponseBytes {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrResponseTooLarge, maxResponseBytes)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("progress api (status %d): %w", resp.StatusCode, ErrUpstreamUnauthorized)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, fmt.Errorf("progress api error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}
