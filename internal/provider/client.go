// Package provider wraps the external payment provider's BasicAuth JSON API:
// create-payment, get-payment, and create-refund.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/paygateway/server/internal/circuitbreaker"
	"github.com/paygateway/server/internal/config"
	"github.com/paygateway/server/internal/httputil"
	"github.com/paygateway/server/internal/metrics"
	"github.com/paygateway/server/internal/rpcutil"
)

// TransportError wraps a connection-level failure (refused, reset, timeout,
// DNS) talking to the provider. Otherwise GetPayment and CreateRefund convey
// the outcome via status code and decoded body so callers can branch the way
// the per-endpoint contract requires, returning a plain error only when a
// body fails to decode; CreatePayment also returns a plain error for any
// status other than 200.
type TransportError struct {
	Endpoint string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("provider: transport failure calling %s: %v", e.Endpoint, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Confirmation is the redirect confirmation the provider returns for a
// newly created payment.
type Confirmation struct {
	Type            string `json:"type"`
	ConfirmationURL string `json:"confirmation_url"`
}

// CancellationDetails carries the provider's reason for a cancelled
// payment or refund.
type CancellationDetails struct {
	Reason string `json:"reason"`
}

// PaymentResponse is the provider's representation of a payment.
type PaymentResponse struct {
	ID                  string               `json:"id"`
	Status              string               `json:"status"`
	Confirmation        *Confirmation        `json:"confirmation,omitempty"`
	CancellationDetails *CancellationDetails `json:"cancellation_details,omitempty"`
}

// RefundResponse is the provider's representation of a refund.
type RefundResponse struct {
	ID                  string               `json:"id"`
	Status              string               `json:"status"`
	CancellationDetails *CancellationDetails `json:"cancellation_details,omitempty"`
}

// DomainErrorBody is the provider's 400-response shape.
type DomainErrorBody struct {
	Type        string `json:"type"`
	Code        string `json:"code"`
	Parameter   string `json:"parameter"`
	Description string `json:"description"`
}

// GetPaymentResult carries the raw status alongside the decoded body so
// callers can apply the per-endpoint branch-aware handling the contract
// requires instead of the client collapsing non-2xx into an error.
type GetPaymentResult struct {
	StatusCode int
	Payment    PaymentResponse
}

// CreateRefundResult carries the raw status and whichever body shape
// applies: a successful refund, a domain error, or neither for an
// unexpected status.
type CreateRefundResult struct {
	StatusCode int
	Refund     *RefundResponse
	Domain     *DomainErrorBody
}

// Client is a thin BasicAuth HTTP client for the provider's payments API.
type Client struct {
	cfg        config.ProviderConfig
	httpClient *http.Client
	breaker    *circuitbreaker.Manager
	metrics    *metrics.Metrics
}

// NewClient builds a Client from configuration.
func NewClient(cfg config.ProviderConfig, breaker *circuitbreaker.Manager, m *metrics.Metrics) *Client {
	return &Client{
		cfg:        cfg,
		httpClient: httputil.NewClient(cfg.Timeout.Duration),
		breaker:    breaker,
		metrics:    m,
	}
}

// CreatePayment creates a payment with immediate capture and a redirect
// confirmation. The idempotency key is freshly generated per call: charge
// creation is not resumable across a crash (a client retry without the
// original key may produce a duplicate Payment).
func (c *Client) CreatePayment(ctx context.Context, amountValue, currency, returnURL string) (*PaymentResponse, error) {
	body := map[string]any{
		"amount": map[string]string{
			"value":    amountValue,
			"currency": currency,
		},
		"confirmation": map[string]string{
			"type":       "redirect",
			"return_url": returnURL,
		},
		"capture": true,
	}

	var result PaymentResponse
	statusCode, err := c.do(ctx, "create_payment", http.MethodPost, "/payments", uuid.NewString(), body, &result)
	if err != nil {
		return nil, err
	}
	if statusCode != http.StatusOK {
		return nil, fmt.Errorf("provider: create payment returned unexpected status %d", statusCode)
	}
	return &result, nil
}

// GetPayment fetches the current state of a payment by the provider's id.
func (c *Client) GetPayment(ctx context.Context, externalID string) (*GetPaymentResult, error) {
	var result PaymentResponse
	statusCode, err := c.do(ctx, "get_payment", http.MethodGet, "/payments/"+externalID, "", nil, &result)
	if err != nil {
		return nil, err
	}
	return &GetPaymentResult{StatusCode: statusCode, Payment: result}, nil
}

// CreateRefund requests a refund. idempotencyKey MUST be the owning
// RefundRequest's id so that replays after a crash collapse to the same
// provider-side effect.
func (c *Client) CreateRefund(ctx context.Context, idempotencyKey, paymentExternalID, amountValue, currency, refundID string) (*CreateRefundResult, error) {
	body := map[string]any{
		"payment_id": paymentExternalID,
		"amount": map[string]string{
			"value":    amountValue,
			"currency": currency,
		},
		"metadata": map[string]string{
			"refund_id": refundID,
		},
	}

	raw, statusCode, err := c.doRaw(ctx, "create_refund", http.MethodPost, "/refunds", idempotencyKey, body)
	if err != nil {
		return nil, err
	}

	result := &CreateRefundResult{StatusCode: statusCode}
	switch statusCode {
	case http.StatusOK:
		var refund RefundResponse
		if err := json.Unmarshal(raw, &refund); err != nil {
			return nil, fmt.Errorf("provider: decode refund response: %w", err)
		}
		result.Refund = &refund
	case http.StatusBadRequest:
		var domainErr DomainErrorBody
		if err := json.Unmarshal(raw, &domainErr); err != nil {
			return nil, fmt.Errorf("provider: decode domain error: %w", err)
		}
		result.Domain = &domainErr
	}
	return result, nil
}

// do performs a request and decodes any non-empty JSON body into out,
// whatever its status code, returning the status code.
func (c *Client) do(ctx context.Context, endpoint, method, path, idempotencyKey string, body any, out any) (int, error) {
	raw, statusCode, err := c.doRaw(ctx, endpoint, method, path, idempotencyKey, body)
	if err != nil {
		return 0, err
	}
	if len(raw) > 0 && out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return statusCode, fmt.Errorf("provider: decode %s response: %w", endpoint, err)
		}
	}
	return statusCode, nil
}

func (c *Client) doRaw(ctx context.Context, endpoint, method, path, idempotencyKey string, body any) ([]byte, int, error) {
	start := time.Now()

	result, err := rpcutil.WithRetry(ctx, func() (rawResponse, error) {
		return c.execute(ctx, endpoint, method, path, idempotencyKey, body)
	})

	if c.metrics != nil {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		c.metrics.ObserveProviderCall(endpoint, outcome, time.Since(start))
	}

	if err != nil {
		var transportErr *TransportError
		if errors.As(err, &transportErr) {
			return nil, 0, transportErr
		}
		return nil, 0, &TransportError{Endpoint: endpoint, Err: err}
	}
	return result.body, result.statusCode, nil
}

type rawResponse struct {
	statusCode int
	body       []byte
}

func (c *Client) execute(ctx context.Context, endpoint, method, path, idempotencyKey string, body any) (rawResponse, error) {
	exec := func() (interface{}, error) {
		return c.doHTTP(ctx, method, path, idempotencyKey, body)
	}

	var result interface{}
	var err error
	if c.breaker != nil {
		result, err = c.breaker.Execute(circuitbreaker.ServiceProvider, exec)
	} else {
		result, err = exec()
	}
	if err != nil {
		return rawResponse{}, err
	}
	return result.(rawResponse), nil
}

func (c *Client) doHTTP(ctx context.Context, method, path, idempotencyKey string, body any) (rawResponse, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return rawResponse{}, fmt.Errorf("provider: encode request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return rawResponse{}, fmt.Errorf("provider: build request: %w", err)
	}
	req.SetBasicAuth(c.cfg.ShopID, c.cfg.SecretKey)
	req.Header.Set("Content-Type", "application/json")
	if idempotencyKey != "" {
		req.Header.Set("Idempotence-Key", idempotencyKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return rawResponse{}, err // connection-level failure; wrapped by the caller into TransportError
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return rawResponse{}, fmt.Errorf("provider: read response body: %w", err)
	}

	return rawResponse{statusCode: resp.StatusCode, body: raw}, nil
}
