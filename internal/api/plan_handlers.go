package api

import (
	"log/slog"
	"net/http"

	"github.com/onnwee/fxacademy/internal/payment"
)

// PlanHandlers serves the plan catalogue.
type PlanHandlers struct {
	plans payment.PlanStore
}

// NewPlanHandlers creates a new PlanHandlers instance.
func NewPlanHandlers(plans payment.PlanStore) *PlanHandlers {
	return &PlanHandlers{plans: plans}
}

// ListPlansResponse wraps the active plans.
type ListPlansResponse struct {
	Plans []payment.Plan `json:"plans"`
}

// ListPlans handles GET /plans.
func (h *PlanHandlers) ListPlans(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	plans, err := h.plans.ListActive(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to list plans", "error", err)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to list plans")
		return
	}
	if plans == nil {
		plans = []payment.Plan{}
	}

	writeJSON(w, ctx, http.StatusOK, ListPlansResponse{Plans: plans})
}
