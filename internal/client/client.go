// Package client talks to the visionq HTTP API: it submits jobs and polls the
// result store until the processor has published an answer.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/vnmchuo/visionq/internal/auditlog"
	"github.com/vnmchuo/visionq/internal/job"
)

var ErrNotReady = errors.New("result not ready")

// APIError is any non-success response other than a pending result.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api returned %d: %s", e.StatusCode, e.Message)
}

type Client struct {
	baseURL  string
	http     *http.Client
	interval time.Duration
	attempts int
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// WithPolling sets how often and how many times Poll asks for a result.
func WithPolling(interval time.Duration, attempts int) Option {
	return func(cl *Client) {
		cl.interval = interval
		cl.attempts = attempts
	}
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		http:     &http.Client{Timeout: 30 * time.Second},
		interval: 2 * time.Second,
		attempts: 15,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

func (c *Client) Submit(ctx context.Context, req job.Request) (*job.Receipt, error) {
	var receipt job.Receipt
	if err := c.do(ctx, http.MethodPost, "/submit_task", req, &receipt); err != nil {
		return nil, err
	}
	return &receipt, nil
}

// Get returns ErrNotReady while the result document does not exist.
func (c *Client) Get(ctx context.Context, id int64) (*job.Result, error) {
	var body struct {
		Status string      `json:"status"`
		Result *job.Result `json:"result"`
	}
	err := c.do(ctx, http.MethodGet, resultPath(id), nil, &body)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		return nil, ErrNotReady
	}
	if err != nil {
		return nil, err
	}
	if body.Result == nil {
		return nil, ErrNotReady
	}
	return body.Result, nil
}

// Poll calls Get until a described result appears, the attempts run out or
// ctx is done. A 404 means keep waiting; any other failure stops polling.
func (c *Client) Poll(ctx context.Context, id int64) (*job.Result, error) {
	for i := 0; i < c.attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.interval):
			}
		}

		res, err := c.Get(ctx, id)
		if errors.Is(err, ErrNotReady) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if res.Description != "" {
			return res, nil
		}
	}
	return nil, fmt.Errorf("record %d after %d attempts: %w", id, c.attempts, ErrNotReady)
}

func (c *Client) Update(ctx context.Context, id int64, description string) (*job.Result, error) {
	var body struct {
		Result *job.Result `json:"result"`
	}
	payload := map[string]string{"description": description}
	if err := c.do(ctx, http.MethodPut, resultPath(id), payload, &body); err != nil {
		return nil, err
	}
	return body.Result, nil
}

func (c *Client) Delete(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, resultPath(id), nil, nil)
}

func (c *Client) Record(ctx context.Context, id int64) (*auditlog.Record, error) {
	var rec auditlog.Record
	if err := c.do(ctx, http.MethodGet, "/records/"+strconv.FormatInt(id, 10), nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var e struct {
			Error string `json:"error"`
		}
		raw, _ := io.ReadAll(resp.Body)
		msg := string(raw)
		if json.Unmarshal(raw, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func resultPath(id int64) string {
	return "/results/" + strconv.FormatInt(id, 10)
}
