package api

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/onnwee/fxacademy/internal/payment"
)

const testPaystackSecret = "sk_test_webhook"

var testPlans = []payment.Plan{
	{ID: "monthly", Name: "Monthly", Interval: payment.IntervalMonthly, AmountMinor: 2500000, Currency: "NGN", Active: true},
	{ID: "lifetime", Name: "Lifetime", Interval: payment.IntervalOneTime, AmountMinor: 15000000, Currency: "NGN", Active: true},
	{ID: "retired", Name: "Retired", Interval: payment.IntervalMonthly, AmountMinor: 1000, Currency: "NGN", Active: false},
}

// stubProvider is a scripted payment provider.
type stubProvider struct {
	name        string
	status      string
	metadata    payment.Metadata
	verifyErr   error
	initErr     error
	verifyCalls atomic.Int32
	lastInit    payment.InitializeParams
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) InitializeTransaction(ctx context.Context, params payment.InitializeParams) (*payment.Checkout, error) {
	s.lastInit = params
	if s.initErr != nil {
		return nil, s.initErr
	}
	return &payment.Checkout{AuthorizationURL: "https://checkout.example.com/abc", Reference: "ref_init"}, nil
}

func (s *stubProvider) VerifyTransaction(ctx context.Context, reference string) (*payment.Transaction, error) {
	s.verifyCalls.Add(1)
	if s.verifyErr != nil {
		return nil, s.verifyErr
	}
	return &payment.Transaction{Reference: reference, Status: s.status, Metadata: s.metadata}, nil
}

// failingRecordStore fails every insert with a storage error.
type failingRecordStore struct{ *payment.InMemoryEventStore }

func (f failingRecordStore) RecordEvent(ctx context.Context, event *payment.PaymentEvent) error {
	return errors.New("connection refused")
}

type webhookFixture struct {
	handlers *WebhookHandlers
	events   *payment.InMemoryEventStore
	subs     *payment.InMemorySubscriptionStore
	provider *stubProvider
	now      time.Time
}

func newWebhookFixture(t *testing.T, provider *stubProvider, events payment.EventStore) *webhookFixture {
	t.Helper()

	mem := payment.NewInMemoryEventStore()
	if events == nil {
		events = mem
	}
	subs := payment.NewInMemorySubscriptionStore()
	now := time.Date(2026, time.March, 15, 10, 0, 0, 0, time.UTC)

	processor := payment.NewProcessor(payment.ProcessorConfig{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:    func() time.Time { return now },
	}, events, subs, payment.NewInMemoryPlanStore(testPlans...), provider)

	return &webhookFixture{
		handlers: NewWebhookHandlers(processor, testPaystackSecret, "whsec_test"),
		events:   mem,
		subs:     subs,
		provider: provider,
		now:      now,
	}
}

func paystackBody(event, reference, userID, planID string) []byte {
	return []byte(fmt.Sprintf(
		`{"event":%q,"data":{"reference":%q,"status":"success","metadata":{"userId":%q,"planId":%q}}}`,
		event, reference, userID, planID))
}

func signedPaystackRequest(body []byte, secret string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/payments/webhook", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if secret != "" {
		req.Header.Set(payment.PaystackSignatureHeader, payment.NewSignatureVerifier(secret).Sign(body))
	}
	return req
}

func decodeWebhookResponse(t *testing.T, w *httptest.ResponseRecorder) WebhookResponse {
	t.Helper()
	var resp WebhookResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode webhook response: %v", err)
	}
	return resp
}

func TestHandlePaystackWebhook_ActivatesSubscription(t *testing.T) {
	provider := &stubProvider{
		name:     payment.ProviderPaystack,
		status:   payment.TransactionStatusSuccess,
		metadata: payment.Metadata{UserID: "user-1", PlanID: "monthly"},
	}
	f := newWebhookFixture(t, provider, nil)

	w := httptest.NewRecorder()
	f.handlers.HandlePaystackWebhook(w, signedPaystackRequest(paystackBody("charge.success", "ref_1", "user-1", "monthly"), testPaystackSecret))

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	if resp := decodeWebhookResponse(t, w); !resp.Success {
		t.Errorf("expected success response, got %+v", resp)
	}

	sub, err := f.subs.GetByUserID(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("expected subscription, got error: %v", err)
	}
	if sub.Status != payment.StatusActive {
		t.Errorf("expected status active, got %s", sub.Status)
	}
	want := f.now.AddDate(0, 1, 0)
	if sub.CurrentPeriodEnd == nil || !sub.CurrentPeriodEnd.Equal(want) {
		t.Errorf("expected period end %v, got %v", want, sub.CurrentPeriodEnd)
	}
}

func TestHandlePaystackWebhook_DuplicateDelivery(t *testing.T) {
	provider := &stubProvider{
		name:     payment.ProviderPaystack,
		status:   payment.TransactionStatusSuccess,
		metadata: payment.Metadata{UserID: "user-1", PlanID: "lifetime"},
	}
	f := newWebhookFixture(t, provider, nil)
	body := paystackBody("charge.success", "ref_dup", "user-1", "lifetime")

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		f.handlers.HandlePaystackWebhook(w, signedPaystackRequest(body, testPaystackSecret))
		if w.Code != http.StatusOK {
			t.Fatalf("delivery %d: expected status 200, got %d", i+1, w.Code)
		}
		resp := decodeWebhookResponse(t, w)
		if i > 0 && resp.Message != "Already processed" {
			t.Errorf("delivery %d: expected duplicate acknowledgement, got %q", i+1, resp.Message)
		}
	}

	if got := f.events.Count(); got != 1 {
		t.Errorf("expected 1 payment event, got %d", got)
	}
	if got := provider.verifyCalls.Load(); got != 1 {
		t.Errorf("expected 1 verification call, got %d", got)
	}
	sub, err := f.subs.GetByUserID(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("expected subscription, got error: %v", err)
	}
	if sub.CurrentPeriodEnd == nil || !sub.CurrentPeriodEnd.Equal(payment.SentinelPeriodEnd) {
		t.Errorf("expected sentinel period end, got %v", sub.CurrentPeriodEnd)
	}
}

func TestHandlePaystackWebhook_Rejections(t *testing.T) {
	body := paystackBody("charge.success", "ref_2", "user-2", "monthly")
	tampered := bytes.Replace(body, []byte("user-2"), []byte("user-3"), 1)

	tests := []struct {
		name    string
		req     func() *http.Request
		message string
	}{
		{
			name:    "missing signature",
			req:     func() *http.Request { return signedPaystackRequest(body, "") },
			message: "Missing signature",
		},
		{
			name:    "wrong secret",
			req:     func() *http.Request { return signedPaystackRequest(body, "sk_test_other") },
			message: "Invalid signature",
		},
		{
			name: "body altered after signing",
			req: func() *http.Request {
				req := signedPaystackRequest(body, testPaystackSecret)
				signed := req.Header.Get(payment.PaystackSignatureHeader)
				req = httptest.NewRequest(http.MethodPost, "/payments/webhook", bytes.NewReader(tampered))
				req.Header.Set(payment.PaystackSignatureHeader, signed)
				return req
			},
			message: "Invalid signature",
		},
		{
			name: "empty body",
			req: func() *http.Request {
				req := httptest.NewRequest(http.MethodPost, "/payments/webhook", http.NoBody)
				req.Header.Set(payment.PaystackSignatureHeader, "abc")
				return req
			},
			message: "Empty body",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := &stubProvider{name: payment.ProviderPaystack, status: payment.TransactionStatusSuccess}
			f := newWebhookFixture(t, provider, nil)

			w := httptest.NewRecorder()
			f.handlers.HandlePaystackWebhook(w, tt.req())

			if w.Code != http.StatusBadRequest {
				t.Fatalf("expected status 400, got %d", w.Code)
			}
			resp := decodeWebhookResponse(t, w)
			if resp.Success || resp.Message != tt.message {
				t.Errorf("expected {false %q}, got %+v", tt.message, resp)
			}
			if f.events.Count() != 0 {
				t.Errorf("expected no payment events, got %d", f.events.Count())
			}
			if provider.verifyCalls.Load() != 0 {
				t.Error("expected no verification call")
			}
			if _, err := f.subs.GetByUserID(context.Background(), "user-2"); !errors.Is(err, payment.ErrSubscriptionNotFound) {
				t.Errorf("expected no subscription, got err=%v", err)
			}
		})
	}
}

func TestHandlePaystackWebhook_UnknownEventRecordedWithoutMutation(t *testing.T) {
	provider := &stubProvider{name: payment.ProviderPaystack, status: payment.TransactionStatusSuccess}
	f := newWebhookFixture(t, provider, nil)

	w := httptest.NewRecorder()
	f.handlers.HandlePaystackWebhook(w, signedPaystackRequest(paystackBody("transfer.success", "ref_3", "user-4", "monthly"), testPaystackSecret))

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if f.events.Count() != 1 {
		t.Errorf("expected 1 payment event, got %d", f.events.Count())
	}
	if _, err := f.subs.GetByUserID(context.Background(), "user-4"); !errors.Is(err, payment.ErrSubscriptionNotFound) {
		t.Errorf("expected no subscription, got err=%v", err)
	}
}

func TestHandlePaystackWebhook_VerificationFailureAcknowledged(t *testing.T) {
	provider := &stubProvider{name: payment.ProviderPaystack, verifyErr: errors.New("gateway timeout")}
	f := newWebhookFixture(t, provider, nil)

	w := httptest.NewRecorder()
	f.handlers.HandlePaystackWebhook(w, signedPaystackRequest(paystackBody("charge.success", "ref_4", "user-5", "monthly"), testPaystackSecret))

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if !decodeWebhookResponse(t, w).Success {
		t.Error("expected success acknowledgement")
	}
	if f.events.Count() != 1 {
		t.Errorf("expected event to be recorded, got %d", f.events.Count())
	}
	if _, err := f.subs.GetByUserID(context.Background(), "user-5"); !errors.Is(err, payment.ErrSubscriptionNotFound) {
		t.Errorf("expected no subscription, got err=%v", err)
	}
}

func TestHandlePaystackWebhook_RecordFailureReturns500(t *testing.T) {
	provider := &stubProvider{name: payment.ProviderPaystack, status: payment.TransactionStatusSuccess}
	f := newWebhookFixture(t, provider, failingRecordStore{payment.NewInMemoryEventStore()})

	w := httptest.NewRecorder()
	f.handlers.HandlePaystackWebhook(w, signedPaystackRequest(paystackBody("charge.success", "ref_5", "user-6", "monthly"), testPaystackSecret))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d", w.Code)
	}
	if decodeWebhookResponse(t, w).Success {
		t.Error("expected failure response")
	}
	if provider.verifyCalls.Load() != 0 {
		t.Error("expected no verification call when the event is not recorded")
	}
}

func TestHandlePaystackWebhook_UndecodableBodyRecorded(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantType string
	}{
		{name: "not json", body: "not json at all", wantType: payment.EventTypeUnparseable},
		{name: "truncated json", body: `{"data":`, wantType: payment.EventTypeUnparseable},
		{name: "no id and no reference", body: `{"event":"subscription.create","data":{"subscription_code":"SUB_x"}}`, wantType: "subscription.create"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := &stubProvider{name: payment.ProviderPaystack}
			f := newWebhookFixture(t, provider, nil)
			body := []byte(tt.body)

			for i := 0; i < 2; i++ {
				w := httptest.NewRecorder()
				f.handlers.HandlePaystackWebhook(w, signedPaystackRequest(body, testPaystackSecret))
				if w.Code != http.StatusOK {
					t.Fatalf("delivery %d: expected status 200, got %d: %s", i+1, w.Code, w.Body.String())
				}
				if resp := decodeWebhookResponse(t, w); !resp.Success {
					t.Errorf("delivery %d: expected success acknowledgement, got %+v", i+1, resp)
				}
			}

			if f.events.Count() != 1 {
				t.Fatalf("expected 1 payment event, got %d", f.events.Count())
			}
			recorded, err := f.events.HasProcessed(context.Background(), payment.ProviderPaystack, tt.wantType, payment.BodyDigest(body))
			if err != nil || !recorded {
				t.Errorf("expected event keyed by body digest with type %q, recorded=%v err=%v", tt.wantType, recorded, err)
			}
			if provider.verifyCalls.Load() != 0 {
				t.Error("expected no provider verification")
			}
			if _, err := f.subs.GetByUserID(context.Background(), "user-42"); !errors.Is(err, payment.ErrSubscriptionNotFound) {
				t.Errorf("expected no subscription, got err=%v", err)
			}
		})
	}
}

func TestHandlePaystackWebhook_BodyTooLarge(t *testing.T) {
	f := newWebhookFixture(t, &stubProvider{name: payment.ProviderPaystack}, nil)
	body := []byte(`{"event":"charge.success","pad":"` + strings.Repeat("a", MaxWebhookBodyBytes) + `"}`)

	w := httptest.NewRecorder()
	f.handlers.HandlePaystackWebhook(w, signedPaystackRequest(body, testPaystackSecret))

	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected status 413, got %d", w.Code)
	}
}

// stripeSignature builds a Stripe-Signature header value for payload.
func stripeSignature(payload []byte, secret string, timestamp int64) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(fmt.Sprintf("%d.%s", timestamp, payload)))
	return fmt.Sprintf("t=%d,v1=%s", timestamp, hex.EncodeToString(mac.Sum(nil)))
}

func TestHandleStripeWebhook(t *testing.T) {
	body := []byte(`{"id":"evt_1","object":"event","type":"checkout.session.completed","data":{"object":{"id":"cs_1","object":"checkout.session","metadata":{"userId":"user-7","planId":"lifetime"}}}}`)

	tests := []struct {
		name       string
		signature  string
		wantStatus int
		wantActive bool
	}{
		{
			name:       "valid signature activates",
			signature:  stripeSignature(body, "whsec_test", time.Now().Unix()),
			wantStatus: http.StatusOK,
			wantActive: true,
		},
		{
			name:       "wrong secret rejected",
			signature:  stripeSignature(body, "whsec_other", time.Now().Unix()),
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "missing signature rejected",
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := &stubProvider{
				name:     payment.ProviderStripe,
				status:   payment.TransactionStatusSuccess,
				metadata: payment.Metadata{UserID: "user-7", PlanID: "lifetime"},
			}
			f := newWebhookFixture(t, provider, nil)

			req := httptest.NewRequest(http.MethodPost, "/payments/webhook/stripe", bytes.NewReader(body))
			if tt.signature != "" {
				req.Header.Set(payment.StripeSignatureHeader, tt.signature)
			}
			w := httptest.NewRecorder()
			f.handlers.HandleStripeWebhook(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d: %s", tt.wantStatus, w.Code, w.Body.String())
			}
			_, err := f.subs.GetByUserID(context.Background(), "user-7")
			if tt.wantActive && err != nil {
				t.Errorf("expected active subscription, got error: %v", err)
			}
			if !tt.wantActive && !errors.Is(err, payment.ErrSubscriptionNotFound) {
				t.Errorf("expected no subscription, got err=%v", err)
			}
		})
	}
}

func TestHandleStripeWebhook_UndecodableSessionRecorded(t *testing.T) {
	body := []byte(`{"id":"evt_2","object":"event","type":"checkout.session.completed","data":{"object":{"id":42}}}`)
	f := newWebhookFixture(t, &stubProvider{name: payment.ProviderStripe}, nil)

	req := httptest.NewRequest(http.MethodPost, "/payments/webhook/stripe", bytes.NewReader(body))
	req.Header.Set(payment.StripeSignatureHeader, stripeSignature(body, "whsec_test", time.Now().Unix()))
	w := httptest.NewRecorder()
	f.handlers.HandleStripeWebhook(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	recorded, err := f.events.HasProcessed(context.Background(), payment.ProviderStripe, payment.EventTypeUnparseable, payment.BodyDigest(body))
	if err != nil || !recorded {
		t.Errorf("expected unparseable event recorded, recorded=%v err=%v", recorded, err)
	}
}
