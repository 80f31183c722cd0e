package payment

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestInMemorySubscriptionStore_UpsertKeyedByUser(t *testing.T) {
	store := NewInMemorySubscriptionStore()
	ctx := context.Background()

	end := time.Now().Add(time.Hour)
	first := &Subscription{UserID: "u1", PlanID: "monthly-pro", Status: StatusActive, ProviderRef: "ref_1", CurrentPeriodEnd: &end}
	if err := store.Upsert(ctx, first); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if first.ID == "" || first.CreatedAt == nil {
		t.Fatal("Upsert() should assign ID and timestamps")
	}

	second := &Subscription{UserID: "u1", PlanID: "lifetime", Status: StatusActive, ProviderRef: "ref_2", CurrentPeriodEnd: &SentinelPeriodEnd}
	if err := store.Upsert(ctx, second); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("second upsert ID = %s, want %s", second.ID, first.ID)
	}

	got, err := store.GetByUserID(ctx, "u1")
	if err != nil {
		t.Fatalf("GetByUserID() error = %v", err)
	}
	if got.PlanID != "lifetime" || got.ProviderRef != "ref_2" {
		t.Errorf("GetByUserID() = %+v, want overwritten row", got)
	}
}

func TestInMemorySubscriptionStore_GetNotFound(t *testing.T) {
	store := NewInMemorySubscriptionStore()
	if _, err := store.GetByUserID(context.Background(), "nobody"); !errors.Is(err, ErrSubscriptionNotFound) {
		t.Errorf("GetByUserID() error = %v, want ErrSubscriptionNotFound", err)
	}
}

func TestInMemorySubscriptionStore_MarkPastDue(t *testing.T) {
	store := NewInMemorySubscriptionStore()
	ctx := context.Background()

	if err := store.Upsert(ctx, &Subscription{UserID: "u1", Status: StatusActive, ProviderRef: "ref_1"}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	tests := []struct {
		name        string
		userID      string
		ref         string
		wantUpdated bool
	}{
		{name: "reference mismatch", userID: "u1", ref: "ref_other", wantUpdated: false},
		{name: "unknown user", userID: "u2", ref: "ref_1", wantUpdated: false},
		{name: "matching row", userID: "u1", ref: "ref_1", wantUpdated: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			updated, err := store.MarkPastDue(ctx, tt.userID, tt.ref)
			if err != nil {
				t.Fatalf("MarkPastDue() error = %v", err)
			}
			if updated != tt.wantUpdated {
				t.Errorf("MarkPastDue() = %v, want %v", updated, tt.wantUpdated)
			}
		})
	}

	got, _ := store.GetByUserID(ctx, "u1")
	if got.Status != StatusPastDue {
		t.Errorf("Status = %q, want %q", got.Status, StatusPastDue)
	}
	if _, err := store.GetByUserID(ctx, "u2"); !errors.Is(err, ErrSubscriptionNotFound) {
		t.Error("MarkPastDue must not create rows")
	}
}

func TestSubscription_GrantsAccess(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	future := now.Add(time.Hour)
	past := now.Add(-time.Hour)

	tests := []struct {
		name string
		sub  *Subscription
		want bool
	}{
		{name: "nil subscription", sub: nil, want: false},
		{name: "active lifetime", sub: &Subscription{Status: StatusActive}, want: true},
		{name: "active sentinel", sub: &Subscription{Status: StatusActive, CurrentPeriodEnd: &SentinelPeriodEnd}, want: true},
		{name: "active future", sub: &Subscription{Status: StatusActive, CurrentPeriodEnd: &future}, want: true},
		{name: "active expired", sub: &Subscription{Status: StatusActive, CurrentPeriodEnd: &past}, want: false},
		{name: "past due", sub: &Subscription{Status: StatusPastDue, CurrentPeriodEnd: &future}, want: false},
		{name: "inactive", sub: &Subscription{Status: StatusInactive}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.sub.GrantsAccess(now); got != tt.want {
				t.Errorf("GrantsAccess() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPlan_PeriodEnd(t *testing.T) {
	now := time.Date(2026, 1, 31, 10, 0, 0, 0, time.UTC)

	monthly := &Plan{Interval: IntervalMonthly}
	if got, want := monthly.PeriodEnd(now), now.AddDate(0, 1, 0); !got.Equal(want) {
		t.Errorf("monthly PeriodEnd() = %v, want %v", got, want)
	}

	for _, interval := range []string{IntervalOneTime, "yearly", ""} {
		p := &Plan{Interval: interval}
		if got := p.PeriodEnd(now); !got.Equal(SentinelPeriodEnd) {
			t.Errorf("%q PeriodEnd() = %v, want sentinel", interval, got)
		}
	}
}

func TestInMemoryPlanStore(t *testing.T) {
	store := NewInMemoryPlanStore(
		Plan{ID: "b", AmountMinor: 200, Active: true},
		Plan{ID: "a", AmountMinor: 100, Active: true},
		Plan{ID: "retired", AmountMinor: 50, Active: false},
	)
	ctx := context.Background()

	plans, err := store.ListActive(ctx)
	if err != nil {
		t.Fatalf("ListActive() error = %v", err)
	}
	if len(plans) != 2 || plans[0].ID != "a" || plans[1].ID != "b" {
		t.Errorf("ListActive() = %+v, want [a b]", plans)
	}

	if _, err := store.GetByID(ctx, "retired"); err != nil {
		t.Errorf("GetByID(retired) error = %v, inactive plans remain readable", err)
	}
	if _, err := store.GetByID(ctx, "missing"); !errors.Is(err, ErrPlanNotFound) {
		t.Errorf("GetByID(missing) error = %v, want ErrPlanNotFound", err)
	}
}
