// Package labapi provides an HTTP client for the LabTrack review API.
package labapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/labtracksimple/labtrack/internal/domain"
	"github.com/labtracksimple/labtrack/internal/domain/extraction"
	"github.com/labtracksimple/labtrack/internal/domain/result"
	"github.com/labtracksimple/labtrack/internal/domain/review"
	"github.com/labtracksimple/labtrack/internal/resilience"
)

// Client talks to the LabTrack API on behalf of one signed-in user.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	breaker    *resilience.Breaker
}

// NewClient creates a client for baseURL authenticating with a bearer token.
// An empty token sends unauthenticated requests.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// SetBreaker attaches a circuit breaker to all outgoing HTTP calls. Only
// transport errors and 5xx responses count as failures.
func (c *Client) SetBreaker(b *resilience.Breaker) {
	c.breaker = b
}

// LoadReview fetches the review snapshot of a report.
func (c *Client) LoadReview(ctx context.Context, reportID string) (*review.Snapshot, error) {
	var snap review.Snapshot
	if err := c.do(ctx, http.MethodGet, "/api/v1/reports/"+url.PathEscape(reportID)+"/review", nil, &snap); err != nil {
		return nil, fmt.Errorf("load review: %w", err)
	}
	return &snap, nil
}

// SaveResult persists an edit of one result row and returns the stored row.
func (c *Client) SaveResult(ctx context.Context, resultID string, edit result.Edit) (*result.Result, error) {
	var row result.Result
	if err := c.do(ctx, http.MethodPatch, "/api/v1/results/"+url.PathEscape(resultID), edit, &row); err != nil {
		return nil, fmt.Errorf("save result: %w", err)
	}
	return &row, nil
}

// Confirm calls the confirmation endpoint.
func (c *Client) Confirm(ctx context.Context, req extraction.ConfirmRequest) (*extraction.Confirmation, error) {
	var out extraction.Confirmation
	if err := c.do(ctx, http.MethodPost, "/api/v1/functions/confirm", req, &out); err != nil {
		return nil, fmt.Errorf("confirm: %w", err)
	}
	return &out, nil
}

// Reject flags the report's current run as not correct.
func (c *Client) Reject(ctx context.Context, reportID string) (*extraction.Rejection, error) {
	var out extraction.Rejection
	if err := c.do(ctx, http.MethodPost, "/api/v1/reports/"+url.PathEscape(reportID)+"/reject", nil, &out); err != nil {
		return nil, fmt.Errorf("reject: %w", err)
	}
	return &out, nil
}

// APIError is a non-2xx response. It unwraps to the domain error kind that
// matches the status code.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string { return e.Message }

func (e *APIError) Unwrap() error {
	return &domain.Error{Kind: kindForStatus(e.StatusCode), Msg: e.Message}
}

func kindForStatus(code int) error {
	switch code {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return domain.ErrValidation
	case http.StatusUnauthorized:
		return domain.ErrUnauthenticated
	case http.StatusForbidden:
		return domain.ErrForbidden
	case http.StatusNotFound:
		return domain.ErrNotFound
	case http.StatusConflict:
		return domain.ErrConflict
	}
	return errors.New(http.StatusText(code))
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}

	var apiErr *APIError
	var data []byte
	call := func(ctx context.Context) error {
		var bodyReader io.Reader
		if body != nil {
			bodyReader = bytes.NewReader(body)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("http request: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}

		if resp.StatusCode >= 400 {
			apiErr = &APIError{StatusCode: resp.StatusCode, Message: errorMessage(raw, resp.StatusCode)}
			if resp.StatusCode >= 500 {
				return apiErr
			}
			return nil
		}
		data = raw
		return nil
	}

	var err error
	if c.breaker != nil {
		err = c.breaker.Execute(ctx, call)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return err
	}
	if apiErr != nil {
		return apiErr
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

func errorMessage(raw []byte, code int) string {
	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &body) == nil && body.Error != "" {
		return body.Error
	}
	return fmt.Sprintf("labtrack API error %d", code)
}
