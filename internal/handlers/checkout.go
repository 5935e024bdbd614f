package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/sugarbloom/api/internal/platform/httpx"
	"github.com/sugarbloom/api/internal/services"
)

// CheckoutHandlers exposes the post-payment confirmation endpoint called by
// the storefront after the provider redirect.
type CheckoutHandlers struct {
	fulfillment services.FulfillmentService
}

// NewCheckoutHandlers constructs a new CheckoutHandlers instance.
func NewCheckoutHandlers(fulfillment services.FulfillmentService) *CheckoutHandlers {
	return &CheckoutHandlers{fulfillment: fulfillment}
}

// Routes registers the /checkout endpoints.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/confirm", h.confirmCheckout)
}

func (h *CheckoutHandlers) confirmCheckout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.fulfillment == nil {
		httpx.WriteError(ctx, w, httpx.NewError("fulfillment_unavailable", "fulfillment service unavailable", http.StatusServiceUnavailable))
		return
	}

	sessionRef := strings.TrimSpace(r.URL.Query().Get("session_id"))

	result, err := h.fulfillment.ConfirmCheckout(ctx, sessionRef)
	if err != nil {
		writeConfirmationError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, result)
}

func writeConfirmationError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrMissingReference):
		httpx.WriteError(ctx, w, httpx.NewError("missing_session_reference", "session_id query parameter is required", http.StatusBadRequest))
	case errors.Is(err, services.ErrPaymentNotCompleted):
		httpx.WriteError(ctx, w, httpx.NewError("payment_not_completed", "payment for this session was not completed", http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderDataNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_data_not_found", "no order data found for this session", http.StatusNotFound))
	case errors.Is(err, services.ErrConfirmationLookupFailed):
		httpx.WriteError(ctx, w, httpx.NewError("confirmation_lookup_failed", "could not verify the payment session", http.StatusInternalServerError))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_server_error", "could not finalise the checkout", http.StatusInternalServerError))
	}
}
