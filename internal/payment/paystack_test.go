package payment

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestPaystackClient_InitializeTransaction(t *testing.T) {
	var gotBody paystackInitializeRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/transaction/initialize" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk_test_abc" {
			t.Errorf("Authorization = %q, want bearer secret", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":true,"message":"Authorization URL created","data":{"authorization_url":"https://checkout.paystack.com/abc","access_code":"abc","reference":"ref_abc"}}`))
	}))
	defer server.Close()

	client := NewPaystackClient(PaystackConfig{SecretKey: "sk_test_abc", BaseURL: server.URL})
	checkout, err := client.InitializeTransaction(context.Background(), InitializeParams{
		AmountMinor: 500000,
		Email:       "trader@example.com",
		Currency:    "NGN",
		CallbackURL: "https://academy.example.com/payments/callback",
		Metadata:    Metadata{UserID: "u1", PlanID: "monthly-pro"},
	})
	if err != nil {
		t.Fatalf("InitializeTransaction() error = %v", err)
	}

	if checkout.AuthorizationURL != "https://checkout.paystack.com/abc" || checkout.Reference != "ref_abc" {
		t.Errorf("checkout = %+v", checkout)
	}
	if gotBody.Amount != 500000 || gotBody.Email != "trader@example.com" || gotBody.Currency != "NGN" {
		t.Errorf("request body = %+v", gotBody)
	}
	if gotBody.Metadata.UserID != "u1" || gotBody.Metadata.PlanID != "monthly-pro" {
		t.Errorf("request metadata = %+v", gotBody.Metadata)
	}
}

func TestPaystackClient_VerifyTransaction(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantErr    bool
		wantStatus string
		wantMeta   Metadata
	}{
		{
			name:       "successful transaction",
			status:     http.StatusOK,
			body:       `{"status":true,"message":"Verification successful","data":{"status":"success","reference":"ref_1","metadata":{"userId":"u1","planId":"p1"}}}`,
			wantStatus: "success",
			wantMeta:   Metadata{UserID: "u1", PlanID: "p1"},
		},
		{
			name:       "abandoned transaction",
			status:     http.StatusOK,
			body:       `{"status":true,"message":"Verification successful","data":{"status":"abandoned","reference":"ref_1","metadata":""}}`,
			wantStatus: "abandoned",
		},
		{
			name:    "api reports failure",
			status:  http.StatusOK,
			body:    `{"status":false,"message":"Transaction reference not found"}`,
			wantErr: true,
		},
		{
			name:    "server error",
			status:  http.StatusBadGateway,
			body:    `{"status":false,"message":"upstream"}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/transaction/verify/ref_1" {
					t.Errorf("path = %q, want /transaction/verify/ref_1", r.URL.Path)
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client := NewPaystackClient(PaystackConfig{SecretKey: "sk_test", BaseURL: server.URL})
			txn, err := client.VerifyTransaction(context.Background(), "ref_1")
			if tt.wantErr {
				if !errors.Is(err, ErrVerificationFailed) {
					t.Fatalf("VerifyTransaction() error = %v, want ErrVerificationFailed", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("VerifyTransaction() error = %v", err)
			}
			if txn.Status != tt.wantStatus {
				t.Errorf("Status = %q, want %q", txn.Status, tt.wantStatus)
			}
			if txn.Metadata != tt.wantMeta {
				t.Errorf("Metadata = %+v, want %+v", txn.Metadata, tt.wantMeta)
			}
		})
	}
}

func TestPaystackClient_VerifyTransaction_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	client := NewPaystackClient(PaystackConfig{
		SecretKey: "sk_test",
		BaseURL:   server.URL,
		Timeout:   50 * time.Millisecond,
	})

	start := time.Now()
	_, err := client.VerifyTransaction(context.Background(), "ref_slow")
	if !errors.Is(err, ErrVerificationFailed) {
		t.Fatalf("VerifyTransaction() error = %v, want ErrVerificationFailed", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("VerifyTransaction() took %v, want timeout near 50ms", elapsed)
	}
}

func TestPaystackClient_EmptyReference(t *testing.T) {
	client := NewPaystackClient(PaystackConfig{SecretKey: "sk_test"})
	if _, err := client.VerifyTransaction(context.Background(), ""); !errors.Is(err, ErrVerificationFailed) {
		t.Errorf("VerifyTransaction(\"\") error = %v, want ErrVerificationFailed", err)
	}
}
