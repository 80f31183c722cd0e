package payment

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

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// DefaultPaystackBaseURL is the Paystack REST API root.
const DefaultPaystackBaseURL = "https://api.paystack.co"

// DefaultProviderTimeout bounds every outbound provider call.
const DefaultProviderTimeout = 10 * time.Second

// maxProviderResponseBytes caps how much of a provider response is read.
const maxProviderResponseBytes = 1 << 20

// PaystackConfig configures a PaystackClient.
type PaystackConfig struct {
	SecretKey string
	BaseURL   string        // Defaults to DefaultPaystackBaseURL
	Timeout   time.Duration // Defaults to DefaultProviderTimeout
	// HTTPClient overrides the instrumented default client (tests).
	HTTPClient *http.Client
}

// APIError is a non-success response from a provider API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("provider api error (status %d): %s", e.StatusCode, e.Message)
}

// PaystackClient implements Provider against the Paystack REST API.
type PaystackClient struct {
	secretKey  string
	baseURL    string
	httpClient *http.Client
}

// NewPaystackClient creates a Paystack client. The secret key is sent as a bearer token.
func NewPaystackClient(cfg PaystackConfig) *PaystackClient {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultPaystackBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultProviderTimeout
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	return &PaystackClient{
		secretKey:  cfg.SecretKey,
		baseURL:    baseURL,
		httpClient: client,
	}
}

// Name returns "paystack".
func (c *PaystackClient) Name() string {
	return ProviderPaystack
}

type paystackInitializeRequest struct {
	Amount      int64    `json:"amount"`
	Email       string   `json:"email"`
	Currency    string   `json:"currency,omitempty"`
	CallbackURL string   `json:"callback_url,omitempty"`
	Metadata    Metadata `json:"metadata"`
}

type paystackInitializeResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    struct {
		AuthorizationURL string `json:"authorization_url"`
		AccessCode       string `json:"access_code"`
		Reference        string `json:"reference"`
	} `json:"data"`
}

type paystackVerifyResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    struct {
		Status    string   `json:"status"`
		Reference string   `json:"reference"`
		Metadata  Metadata `json:"metadata"`
	} `json:"data"`
}

// InitializeTransaction starts a Paystack hosted checkout.
// POST /transaction/initialize
func (c *PaystackClient) InitializeTransaction(ctx context.Context, params InitializeParams) (*Checkout, error) {
	reqBody := paystackInitializeRequest{
		Amount:      params.AmountMinor,
		Email:       params.Email,
		Currency:    params.Currency,
		CallbackURL: params.CallbackURL,
		Metadata:    params.Metadata,
	}

	var resp paystackInitializeResponse
	if err := c.do(ctx, http.MethodPost, "/transaction/initialize", reqBody, &resp); err != nil {
		return nil, fmt.Errorf("initialize transaction: %w", err)
	}
	if !resp.Status {
		return nil, fmt.Errorf("initialize transaction: %w", &APIError{StatusCode: http.StatusOK, Message: resp.Message})
	}

	return &Checkout{
		AuthorizationURL: resp.Data.AuthorizationURL,
		Reference:        resp.Data.Reference,
	}, nil
}

// VerifyTransaction fetches the authoritative transaction status.
// GET /transaction/verify/{reference}
func (c *PaystackClient) VerifyTransaction(ctx context.Context, reference string) (*Transaction, error) {
	if reference == "" {
		return nil, fmt.Errorf("%w: empty reference", ErrVerificationFailed)
	}

	var resp paystackVerifyResponse
	if err := c.do(ctx, http.MethodGet, "/transaction/verify/"+url.PathEscape(reference), nil, &resp); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrVerificationFailed, err)
	}
	if !resp.Status {
		return nil, fmt.Errorf("%w: %s", ErrVerificationFailed, resp.Message)
	}

	ref := resp.Data.Reference
	if ref == "" {
		ref = reference
	}
	return &Transaction{
		Reference: ref,
		Status:    resp.Data.Status,
		Metadata:  resp.Data.Metadata,
	}, nil
}

// do sends an authenticated JSON request and decodes a 2xx JSON response into out.
func (c *PaystackClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	data, err := io.ReadAll(io.LimitReader(res.Body, maxProviderResponseBytes))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		var envelope struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(data, &envelope)
		if envelope.Message == "" {
			envelope.Message = http.StatusText(res.StatusCode)
		}
		return &APIError{StatusCode: res.StatusCode, Message: envelope.Message}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
