package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/onnwee/fxacademy/internal/api"
	"github.com/onnwee/fxacademy/internal/auth"
	"github.com/onnwee/fxacademy/internal/idempotency"
	"github.com/onnwee/fxacademy/internal/middleware"
	"github.com/onnwee/fxacademy/internal/payment"
)

const (
	testJWTSecret      = "test-jwt-secret-with-enough-entropy"
	testPaystackSecret = "sk_test_router"
)

// recordingProvider confirms every transaction and counts checkouts.
type recordingProvider struct {
	checkouts atomic.Int32
	metadata  payment.Metadata
}

func (p *recordingProvider) Name() string { return payment.ProviderPaystack }

func (p *recordingProvider) InitializeTransaction(ctx context.Context, params payment.InitializeParams) (*payment.Checkout, error) {
	n := p.checkouts.Add(1)
	return &payment.Checkout{
		AuthorizationURL: "https://checkout.paystack.test/" + params.Metadata.PlanID,
		Reference:        "ref_" + string(rune('0'+n)),
	}, nil
}

func (p *recordingProvider) VerifyTransaction(ctx context.Context, reference string) (*payment.Transaction, error) {
	return &payment.Transaction{Reference: reference, Status: payment.TransactionStatusSuccess, Metadata: p.metadata}, nil
}

type testServer struct {
	handler  http.Handler
	provider *recordingProvider
	subs     *payment.InMemorySubscriptionStore
	events   *payment.InMemoryEventStore
	tokens   *auth.JWTService
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	registry := prometheus.NewRegistry()
	httpMetrics := middleware.NewMetrics()
	paymentMetrics := payment.NewMetrics()
	if err := httpMetrics.Register(registry); err != nil {
		t.Fatalf("register http metrics: %v", err)
	}
	if err := paymentMetrics.Register(registry); err != nil {
		t.Fatalf("register payment metrics: %v", err)
	}

	plans := payment.NewInMemoryPlanStore(
		payment.Plan{ID: "monthly", Name: "Monthly", Interval: payment.IntervalMonthly, AmountMinor: 2500000, Currency: "NGN", Active: true},
	)
	subs := payment.NewInMemorySubscriptionStore()
	events := payment.NewInMemoryEventStore()
	provider := &recordingProvider{metadata: payment.Metadata{UserID: "user-42", PlanID: "monthly"}}

	processor := payment.NewProcessor(payment.ProcessorConfig{Logger: logger, Metrics: paymentMetrics},
		events, subs, plans, provider)
	tokens := auth.NewJWTService(testJWTSecret, "")

	handler := newRouter(routerDeps{
		Logger:   logger,
		Registry: registry,
		Metrics:  httpMetrics,
		Webhooks: api.NewWebhookHandlers(processor, testPaystackSecret, ""),
		Payments: api.NewPaymentHandlers(api.PaymentHandlersConfig{
			Plans:         plans,
			Subscriptions: subs,
			Providers:     []payment.Provider{provider},
			Currency:      "NGN",
		}),
		Plans:           api.NewPlanHandlers(plans),
		Health:          api.NewHealthHandlers(nil, time.Second),
		Tokens:          tokens,
		RateLimitStore:  middleware.NewInMemoryRateLimitStore(),
		RateLimit:       middleware.RateLimitConfig{RequestsPerWindow: 5, WindowDuration: time.Minute},
		IdempotencyRepo: idempotency.NewInMemoryRepository(),
	})

	return &testServer{handler: handler, provider: provider, subs: subs, events: events, tokens: tokens}
}

func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	return w
}

func (s *testServer) bearer(t *testing.T, userID string) string {
	t.Helper()
	token, err := s.tokens.GenerateAccessToken(userID, userID+"@example.com")
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	return "Bearer " + token
}

func TestRouter_WebhookActivatesSubscription(t *testing.T) {
	s := newTestServer(t)

	body := []byte(`{"event":"charge.success","data":{"reference":"ref_abc","status":"success","metadata":{"userId":"user-42","planId":"monthly"}}}`)
	sig := payment.NewSignatureVerifier(testPaystackSecret).Sign(body)

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/payments/webhook", bytes.NewReader(body))
		req.Header.Set(payment.PaystackSignatureHeader, sig)
		if w := s.do(req); w.Code != http.StatusOK {
			t.Fatalf("delivery %d: expected status 200, got %d: %s", i+1, w.Code, w.Body.String())
		}
	}
	if s.events.Count() != 1 {
		t.Errorf("expected 1 recorded event, got %d", s.events.Count())
	}

	req := httptest.NewRequest(http.MethodGet, "/payments/subscription", nil)
	req.Header.Set("Authorization", s.bearer(t, "user-42"))
	w := s.do(req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Status    string `json:"status"`
		HasAccess bool   `json:"has_access"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != payment.StatusActive || !resp.HasAccess {
		t.Errorf("expected active subscription with access, got %+v", resp)
	}
}

func TestRouter_WebhookRejectsBadSignature(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/payments/webhook", strings.NewReader(`{"event":"charge.success"}`))
	req.Header.Set(payment.PaystackSignatureHeader, "deadbeef")
	if w := s.do(req); w.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", w.Code)
	}
	if s.events.Count() != 0 {
		t.Errorf("expected no recorded events, got %d", s.events.Count())
	}
}

func TestRouter_StripeWebhookNotRoutedWhenDisabled(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/payments/webhook/stripe", strings.NewReader(`{}`))
	if w := s.do(req); w.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", w.Code)
	}
}

func TestRouter_InitializeRequiresAuth(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/payments/initialize", strings.NewReader(`{"plan_id":"monthly"}`))
	req.Header.Set(middleware.IdempotencyKeyHeader, "key-1")
	if w := s.do(req); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", w.Code)
	}
	if s.provider.checkouts.Load() != 0 {
		t.Error("expected no checkout")
	}
}

func TestRouter_InitializeIdempotentReplay(t *testing.T) {
	s := newTestServer(t)
	authHeader := s.bearer(t, "user-42")

	newReq := func(key, body string) *http.Request {
		req := httptest.NewRequest(http.MethodPost, "/payments/initialize", strings.NewReader(body))
		req.Header.Set("Authorization", authHeader)
		req.Header.Set(middleware.IdempotencyKeyHeader, key)
		return req
	}

	first := s.do(newReq("checkout-1", `{"plan_id":"monthly"}`))
	if first.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", first.Code, first.Body.String())
	}

	second := s.do(newReq("checkout-1", `{"plan_id":"monthly"}`))
	if second.Code != http.StatusOK {
		t.Fatalf("expected replayed status 200, got %d", second.Code)
	}
	if second.Header().Get(middleware.IdempotentReplayHeader) != "true" {
		t.Error("expected replay header on second response")
	}
	if first.Body.String() != second.Body.String() {
		t.Errorf("replayed body differs: %s vs %s", first.Body.String(), second.Body.String())
	}
	if got := s.provider.checkouts.Load(); got != 1 {
		t.Errorf("expected 1 checkout, got %d", got)
	}

	conflict := s.do(newReq("checkout-1", `{"plan_id":"lifetime"}`))
	if conflict.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected status 422 for reused key, got %d", conflict.Code)
	}

	missing := s.do(newReq("", `{"plan_id":"monthly"}`))
	if missing.Code != http.StatusBadRequest {
		t.Errorf("expected status 400 without key, got %d", missing.Code)
	}
}

func TestRouter_InitializeRateLimited(t *testing.T) {
	s := newTestServer(t)
	authHeader := s.bearer(t, "user-7")

	var last *httptest.ResponseRecorder
	for i := 0; i < 6; i++ {
		req := httptest.NewRequest(http.MethodPost, "/payments/initialize", strings.NewReader(`{"plan_id":"monthly"}`))
		req.Header.Set("Authorization", authHeader)
		req.Header.Set(middleware.IdempotencyKeyHeader, "rl-"+string(rune('a'+i)))
		last = s.do(req)
	}
	if last.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status 429 after limit, got %d", last.Code)
	}
	if last.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
}

func TestRouter_PublicEndpoints(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		path       string
		wantStatus int
		contains   string
	}{
		{path: "/health", wantStatus: http.StatusOK, contains: "healthy"},
		{path: "/ready", wantStatus: http.StatusOK, contains: `"ready":true`},
		{path: "/plans", wantStatus: http.StatusOK, contains: `"monthly"`},
		{path: "/nope", wantStatus: http.StatusNotFound, contains: api.ErrCodeNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w := s.do(httptest.NewRequest(http.MethodGet, tt.path, nil))
			if w.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d", tt.wantStatus, w.Code)
			}
			if !strings.Contains(w.Body.String(), tt.contains) {
				t.Errorf("expected body to contain %q, got %s", tt.contains, w.Body.String())
			}
			if w.Header().Get(middleware.RequestIDHeader) == "" {
				t.Error("expected request id header")
			}
		})
	}
}

func TestRouter_MetricsExposed(t *testing.T) {
	s := newTestServer(t)

	body := []byte(`{"event":"transfer.success","data":{"reference":"ref_m"}}`)
	req := httptest.NewRequest(http.MethodPost, "/payments/webhook", bytes.NewReader(body))
	req.Header.Set(payment.PaystackSignatureHeader, payment.NewSignatureVerifier(testPaystackSecret).Sign(body))
	s.do(req)

	w := s.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	for _, want := range []string{"http_requests_total", `path="/payments/webhook"`} {
		if !strings.Contains(w.Body.String(), want) {
			t.Errorf("expected metrics output to contain %s", want)
		}
	}
}
