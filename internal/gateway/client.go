// Package gateway talks to the external payment gateway over HTTP: charge
// creation at checkout and verify-by-id during reconciliation.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"
)

var (
	// ErrGatewayUnavailable signals a transient transport failure. Callers must
	// leave the order pending; only an authoritative gateway response may settle it.
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	// ErrChargeRejected is an authoritative rejection of charge creation.
	ErrChargeRejected = errors.New("payment gateway rejected charge")
)

type Client struct {
	baseURL    string
	secretKey  string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[[]byte]
}

func NewClient(baseURL, secretKey string, timeout time.Duration) *Client {
	settings := gobreaker.Settings{
		Name:    "payment-gateway",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	}

	return &Client{
		baseURL:    baseURL,
		secretKey:  secretKey,
		httpClient: &http.Client{Timeout: timeout},
		breaker:    gobreaker.NewCircuitBreaker[[]byte](settings),
	}
}

// CreateCharge asks the gateway to host a payment page for the given amount
// and returns the redirect link the client should be sent to.
func (c *Client) CreateCharge(ctx context.Context, req ChargeRequest) (*ChargeResponse, error) {
	body, err := c.do(ctx, http.MethodPost, "/payments", req)
	if err != nil {
		return nil, err
	}

	var resp ChargeResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode charge response: %w", err)
	}
	if resp.Status != "success" {
		return nil, fmt.Errorf("%w: %s", ErrChargeRejected, resp.Message)
	}
	if resp.Data.Link == "" {
		return nil, fmt.Errorf("%w: charge accepted without redirect link", ErrChargeRejected)
	}
	return &resp, nil
}

// VerifyTransaction fetches the authoritative status of a transaction by its
// gateway id. Redirect query parameters are advisory only; this is the truth.
func (c *Client) VerifyTransaction(ctx context.Context, transactionID string) (*VerifyResponse, error) {
	path := fmt.Sprintf("/transactions/%s/verify", transactionID)
	body, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	var resp VerifyResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode verify response: %w", err)
	}
	if resp.Status != "success" {
		return nil, fmt.Errorf("%w: %s", ErrGatewayUnavailable, resp.Message)
	}
	return &resp, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload interface{}) ([]byte, error) {
	body, err := c.breaker.Execute(func() ([]byte, error) {
		var reader io.Reader
		if payload != nil {
			data, err := json.Marshal(payload)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal request: %w", err)
			}
			reader = bytes.NewReader(data)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return nil, fmt.Errorf("failed to build request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.secretKey)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("%w: reading response: %v", ErrGatewayUnavailable, err)
		}

		if resp.StatusCode >= 500 {
			return nil, fmt.Errorf("%w: status %d", ErrGatewayUnavailable, resp.StatusCode)
		}
		if resp.StatusCode >= 400 {
			return nil, fmt.Errorf("gateway returned status %d: %s", resp.StatusCode, data)
		}
		return data, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: circuit open", ErrGatewayUnavailable)
		}
		return nil, err
	}
	return body, nil
}
