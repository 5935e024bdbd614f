package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sugarbloom/api/internal/domain"
	"github.com/sugarbloom/api/internal/platform/auth"
	"github.com/sugarbloom/api/internal/platform/httpx"
	"github.com/sugarbloom/api/internal/services"
)

const maxBookingBodySize = 4 * 1024

type updateStatusRequest struct {
	Status string `json:"status"`
}

type rescheduleRequest struct {
	Date string `json:"date"`
	Time string `json:"time"`
}

type customerPayload struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

type addOnPayload struct {
	Name  string  `json:"name"`
	Price float64 `json:"price"`
}

type fulfillmentPayload struct {
	Mode    string `json:"mode"`
	Date    string `json:"date"`
	Time    string `json:"time,omitempty"`
	Address string `json:"address,omitempty"`
}

type paymentPayload struct {
	SessionID  string  `json:"sessionId"`
	IntentID   string  `json:"intentId,omitempty"`
	AmountPaid float64 `json:"amountPaid"`
	Status     string  `json:"status"`
}

type bookingPayload struct {
	ID          string          `json:"id"`
	OrderNumber string          `json:"orderNumber"`
	Status      string          `json:"status"`
	DueDate     string          `json:"dueDate"`
	CreatedAt   string          `json:"createdAt"`
	Customer    customerPayload `json:"customer"`
	ProductRef  *string         `json:"productRef,omitempty"`
	Name        string          `json:"name"`
	Size        string          `json:"size,omitempty"`
	Flavor      string          `json:"flavor,omitempty"`
	Notes       string          `json:"notes,omitempty"`
	AddOns      []addOnPayload  `json:"addOns,omitempty"`
	Price       float64         `json:"price"`

	PrintImage           string `json:"printImage,omitempty"`
	InspirationImage     string `json:"inspirationImage,omitempty"`
	ReproduceInspiration bool   `json:"reproduceInspiration,omitempty"`

	Fulfillment fulfillmentPayload `json:"fulfillment"`
	Payment     paymentPayload     `json:"payment"`
}

type bookingListResponse struct {
	Items []bookingPayload `json:"items"`
}

type bookingResponse struct {
	Booking bookingPayload `json:"booking"`
}

// BookingHandlers exposes the operator-facing booking endpoints.
type BookingHandlers struct {
	authn    *auth.Authenticator
	bookings services.BookingService
}

// NewBookingHandlers constructs a new BookingHandlers instance.
func NewBookingHandlers(authn *auth.Authenticator, bookings services.BookingService) *BookingHandlers {
	return &BookingHandlers{
		authn:    authn,
		bookings: bookings,
	}
}

// Routes registers the /bookings endpoints.
func (h *BookingHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Get("/", h.listBookings)
	r.Post("/{bookingID}:status", h.updateStatus)
	r.Post("/{bookingID}:reschedule", h.reschedule)
	r.Post("/{bookingID}:forfeit", h.forfeit)
}

func (h *BookingHandlers) listBookings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.bookings == nil {
		httpx.WriteError(ctx, w, httpx.NewError("booking_service_unavailable", "booking service unavailable", http.StatusServiceUnavailable))
		return
	}

	query := r.URL.Query()
	var dueRange domain.DueRange
	if raw := strings.TrimSpace(query.Get("from")); raw != "" {
		ts, err := parseDateParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "from must be a YYYY-MM-DD date or RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		dueRange.From = ts
	}
	if raw := strings.TrimSpace(query.Get("to")); raw != "" {
		ts, err := parseDateParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "to must be a YYYY-MM-DD date or RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		dueRange.To = ts
	}

	bookings, err := h.bookings.ListBookings(ctx, dueRange)
	if err != nil {
		writeBookingError(ctx, w, err)
		return
	}

	items := make([]bookingPayload, 0, len(bookings))
	for _, booking := range bookings {
		items = append(items, buildBookingPayload(booking))
	}
	writeJSONResponse(w, http.StatusOK, bookingListResponse{Items: items})
}

func (h *BookingHandlers) updateStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	bookingID, ok := h.requireBookingID(w, r)
	if !ok {
		return
	}

	body, err := readLimitedBody(r, maxBookingBodySize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body is required", http.StatusBadRequest))
		return
	}

	var payload updateStatusRequest
	if err := json.Unmarshal(body, &payload); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	status, ok := domain.ParseBookingStatus(payload.Status)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status must be one of pending, confirmed, forfeited", http.StatusBadRequest))
		return
	}

	booking, err := h.bookings.UpdateStatus(ctx, bookingID, status)
	if err != nil {
		writeBookingError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, bookingResponse{Booking: buildBookingPayload(booking)})
}

func (h *BookingHandlers) reschedule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	bookingID, ok := h.requireBookingID(w, r)
	if !ok {
		return
	}

	body, err := readLimitedBody(r, maxBookingBodySize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body is required", http.StatusBadRequest))
		return
	}

	var payload rescheduleRequest
	if err := json.Unmarshal(body, &payload); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	newDate, err := parseDateParam(payload.Date)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "date must be a YYYY-MM-DD date or RFC3339 timestamp", http.StatusBadRequest))
		return
	}

	booking, err := h.bookings.Reschedule(ctx, services.RescheduleCommand{
		BookingID: bookingID,
		NewDate:   newDate,
		NewTime:   payload.Time,
	})
	if err != nil {
		writeBookingError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, bookingResponse{Booking: buildBookingPayload(booking)})
}

func (h *BookingHandlers) forfeit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	bookingID, ok := h.requireBookingID(w, r)
	if !ok {
		return
	}

	booking, err := h.bookings.Forfeit(ctx, bookingID)
	if err != nil {
		writeBookingError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, bookingResponse{Booking: buildBookingPayload(booking)})
}

func (h *BookingHandlers) requireBookingID(w http.ResponseWriter, r *http.Request) (string, bool) {
	ctx := r.Context()
	if h.bookings == nil {
		httpx.WriteError(ctx, w, httpx.NewError("booking_service_unavailable", "booking service unavailable", http.StatusServiceUnavailable))
		return "", false
	}
	bookingID := strings.TrimSpace(chi.URLParam(r, "bookingID"))
	if bookingID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "booking id is required", http.StatusBadRequest))
		return "", false
	}
	return bookingID, true
}

func writeBookingError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrBookingInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrBookingNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("booking_not_found", "booking not found", http.StatusNotFound))
	case errors.Is(err, services.ErrInvalidTransition):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_transition", "the requested status change is not allowed", http.StatusConflict))
	case errors.Is(err, services.ErrRescheduleWindowExceeded):
		httpx.WriteError(ctx, w, httpx.NewError("reschedule_window_exceeded", "the new date is outside the reschedule window", http.StatusUnprocessableEntity))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_server_error", "could not process the booking request", http.StatusInternalServerError))
	}
}

func buildBookingPayload(booking domain.Booking) bookingPayload {
	var addOns []addOnPayload
	for _, addOn := range booking.AddOns {
		addOns = append(addOns, addOnPayload{Name: addOn.Name, Price: addOn.Price})
	}

	return bookingPayload{
		ID:          booking.ID,
		OrderNumber: booking.OrderNumber,
		Status:      string(booking.Status),
		DueDate:     booking.DueDate.Format("2006-01-02"),
		CreatedAt:   booking.CreatedAt.UTC().Format(time.RFC3339),
		Customer: customerPayload{
			Name:  booking.Customer.Name,
			Email: booking.Customer.Email,
			Phone: booking.Customer.Phone,
		},
		ProductRef: booking.ProductRef,
		Name:       booking.Name,
		Size:       booking.Size,
		Flavor:     booking.Flavor,
		Notes:      booking.Notes,
		AddOns:     addOns,
		Price:      booking.Price,

		PrintImage:           booking.PrintImage,
		InspirationImage:     booking.InspirationImage,
		ReproduceInspiration: booking.ReproduceInspiration,

		Fulfillment: fulfillmentPayload{
			Mode:    string(booking.Fulfillment.Mode),
			Date:    booking.Fulfillment.Date,
			Time:    booking.Fulfillment.Time,
			Address: booking.Fulfillment.Address,
		},
		Payment: paymentPayload{
			SessionID:  booking.Payment.SessionID,
			IntentID:   booking.Payment.IntentID,
			AmountPaid: booking.Payment.AmountPaid,
			Status:     booking.Payment.Status,
		},
	}
}
