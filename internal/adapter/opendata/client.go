package opendata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/couchcryptid/air-quality-etl/internal/domain"
)

// StatusError reports a non-success response from the source. It matches
// domain.ErrNoData.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("open data API error: status %d: %s", e.StatusCode, e.Body)
}

func (e *StatusError) Unwrap() error { return domain.ErrNoData }

// Client fetches station records from the open-data records endpoint.
// It implements pipeline.Fetcher.
type Client struct {
	url        string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a client for url whose requests are bounded by timeout.
func NewClient(url string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		url: url,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// Fetch issues a single GET for the current records. Non-success statuses and
// timeouts return errors matching domain.ErrNoData; any other transport error
// is returned as is. A body without a "results" array matches domain.ErrSchema.
func (c *Client) Fetch(ctx context.Context) (domain.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return domain.Response{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return domain.Response{}, fmt.Errorf("%w: request timed out: %v", domain.ErrNoData, err)
		}
		return domain.Response{}, fmt.Errorf("open data request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return domain.Response{}, &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var payload struct {
		TotalCount int                `json:"total_count"`
		Results    []domain.RawRecord `json:"results"`
	}
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(&payload); err != nil {
		if isTimeout(err) {
			return domain.Response{}, fmt.Errorf("%w: reading body timed out: %v", domain.ErrNoData, err)
		}
		return domain.Response{}, fmt.Errorf("%w: decode response: %v", domain.ErrSchema, err)
	}
	if payload.Results == nil {
		return domain.Response{}, fmt.Errorf("%w: response has no %q array", domain.ErrSchema, "results")
	}

	c.logger.Debug("open data fetched", "records", len(payload.Results), "total_count", payload.TotalCount)
	return domain.Response{TotalCount: payload.TotalCount, Results: payload.Results}, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
