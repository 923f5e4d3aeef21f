package carrier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/orderlanelabs/orderlane/pkg/retry"
)

// Tracker is the surface the tracking poller depends on.
type Tracker interface {
	Track(ctx context.Context, carrierCode, trackingNo string) (*TrackingStatus, error)
}

// LabelIssuer is the surface the after-sales service depends on.
type LabelIssuer interface {
	IssueLabels(ctx context.Context, reqs []LabelRequest) ([]LabelResult, error)
	CancelLabels(ctx context.Context, carrierCode string, trackingNos []string) error
}

type Client struct {
	cfg     Config
	http    *http.Client
	retry   retry.Policy
	limiter *RateLimiter
	breaker CircuitBreaker
}

func NewFromEnv() *Client {
	return New(LoadFromEnv())
}

func New(cfg Config) *Client {
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		retry: retry.Policy{
			MaxAttempts:  cfg.RetryCount + 1,
			InitialDelay: cfg.RetryDelay,
			Multiplier:   2.0,
			MaxDelay:     cfg.Timeout,
		},
		limiter: NewRateLimiter(cfg.RateLimit, cfg.RateBurst),
		breaker: NewCircuitBreaker(cfg),
	}
}

func (c *Client) doRequest(ctx context.Context, method, path string, body any, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("carrier: rate limit wait: %w", err)
	}

	return c.breaker.Execute(func() error {
		return c.retry.Do(ctx, func() error {
			return c.doOnce(ctx, method, path, body, out)
		}, nil)
	})
}

func (c *Client) doOnce(ctx context.Context, method, path string, body any, out any) error {
	url := c.cfg.BaseURL + path

	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewBuffer(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return err
	}

	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		bodyBytes, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return &APIError{Status: resp.StatusCode, Message: resp.Status}
		}
		return &APIError{Status: resp.StatusCode, Message: string(bodyBytes)}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return err
		}
	}

	return nil
}
