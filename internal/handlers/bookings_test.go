package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sugarbloom/api/internal/domain"
	"github.com/sugarbloom/api/internal/services"
)

type stubBookingService struct {
	listFn         func(context.Context, domain.DueRange) ([]domain.Booking, error)
	updateStatusFn func(context.Context, string, domain.BookingStatus) (domain.Booking, error)
	rescheduleFn   func(context.Context, services.RescheduleCommand) (domain.Booking, error)
	forfeitFn      func(context.Context, string) (domain.Booking, error)
}

func (s *stubBookingService) GenerateOrderNumber() string { return "1234567890-001" }

func (s *stubBookingService) CreateBooking(context.Context, services.CreateBookingCommand) (domain.Booking, error) {
	return domain.Booking{}, errors.New("not implemented")
}

func (s *stubBookingService) GetBooking(context.Context, string) (domain.Booking, error) {
	return domain.Booking{}, errors.New("not implemented")
}

func (s *stubBookingService) ListBookings(ctx context.Context, dueRange domain.DueRange) ([]domain.Booking, error) {
	if s.listFn != nil {
		return s.listFn(ctx, dueRange)
	}
	return nil, nil
}

func (s *stubBookingService) UpdateStatus(ctx context.Context, id string, status domain.BookingStatus) (domain.Booking, error) {
	if s.updateStatusFn != nil {
		return s.updateStatusFn(ctx, id, status)
	}
	return domain.Booking{}, errors.New("not implemented")
}

func (s *stubBookingService) Reschedule(ctx context.Context, cmd services.RescheduleCommand) (domain.Booking, error) {
	if s.rescheduleFn != nil {
		return s.rescheduleFn(ctx, cmd)
	}
	return domain.Booking{}, errors.New("not implemented")
}

func (s *stubBookingService) Forfeit(ctx context.Context, id string) (domain.Booking, error) {
	if s.forfeitFn != nil {
		return s.forfeitFn(ctx, id)
	}
	return domain.Booking{}, errors.New("not implemented")
}

func newBookingRouter(svc services.BookingService) http.Handler {
	handlers := NewBookingHandlers(nil, svc)
	return NewRouter(WithBookingRoutes(handlers.Routes))
}

func sampleBooking(id string, status domain.BookingStatus) domain.Booking {
	return domain.Booking{
		ID:          id,
		OrderNumber: "1234567890-001",
		Status:      status,
		DueDate:     time.Date(2026, time.October, 3, 0, 0, 0, 0, time.UTC),
		CreatedAt:   time.Date(2026, time.September, 1, 10, 0, 0, 0, time.UTC),
		Customer:    domain.Customer{Name: "Dana Doe", Email: "dana@example.com"},
		Name:        "Chocolate Fudge",
		Price:       42.5,
		Fulfillment: domain.Fulfillment{Mode: domain.FulfillmentPickup, Date: "2026-10-03", Time: "14:00"},
		Payment:     domain.PaymentRef{SessionID: "cs_test_1", AmountPaid: 42.5, Status: "paid"},
	}
}

func TestListBookingsParsesRange(t *testing.T) {
	var gotRange domain.DueRange
	svc := &stubBookingService{
		listFn: func(_ context.Context, dueRange domain.DueRange) ([]domain.Booking, error) {
			gotRange = dueRange
			return []domain.Booking{sampleBooking("bkg_1", domain.BookingStatusPending)}, nil
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/bookings/?from=2026-10-01&to=2026-10-31", nil)
	rr := httptest.NewRecorder()
	newBookingRouter(svc).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d (%s)", rr.Code, rr.Body.String())
	}
	if gotRange.From.Format("2006-01-02") != "2026-10-01" || gotRange.To.Format("2006-01-02") != "2026-10-31" {
		t.Fatalf("unexpected range: %+v", gotRange)
	}

	var body bookingListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(body.Items) != 1 || body.Items[0].ID != "bkg_1" {
		t.Fatalf("unexpected items: %+v", body.Items)
	}
	if body.Items[0].DueDate != "2026-10-03" {
		t.Fatalf("unexpected dueDate: %q", body.Items[0].DueDate)
	}
	if body.Items[0].Customer != (customerPayload{Name: "Dana Doe", Email: "dana@example.com"}) {
		t.Fatalf("unexpected customer: %+v", body.Items[0].Customer)
	}
	if body.Items[0].Fulfillment != (fulfillmentPayload{Mode: "pickup", Date: "2026-10-03", Time: "14:00"}) {
		t.Fatalf("unexpected fulfillment: %+v", body.Items[0].Fulfillment)
	}
	if body.Items[0].Payment != (paymentPayload{SessionID: "cs_test_1", AmountPaid: 42.5, Status: "paid"}) {
		t.Fatalf("unexpected payment: %+v", body.Items[0].Payment)
	}
}

func TestListBookingsRejectsBadRange(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/bookings/?from=notadate", nil)
	rr := httptest.NewRecorder()
	newBookingRouter(&stubBookingService{}).ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestUpdateStatusSuccess(t *testing.T) {
	svc := &stubBookingService{
		updateStatusFn: func(_ context.Context, id string, status domain.BookingStatus) (domain.Booking, error) {
			if id != "bkg_1" || status != domain.BookingStatusConfirmed {
				t.Fatalf("unexpected call: id=%q status=%q", id, status)
			}
			return sampleBooking(id, status), nil
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/bookings/bkg_1:status", strings.NewReader(`{"status":"confirmed"}`))
	rr := httptest.NewRecorder()
	newBookingRouter(svc).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d (%s)", rr.Code, rr.Body.String())
	}

	var body bookingResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if body.Booking.Status != "confirmed" {
		t.Fatalf("expected confirmed, got %q", body.Booking.Status)
	}
}

func TestUpdateStatusRejectsUnknownStatus(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/bookings/bkg_1:status", strings.NewReader(`{"status":"cancelled"}`))
	rr := httptest.NewRecorder()
	newBookingRouter(&stubBookingService{}).ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d (%s)", rr.Code, rr.Body.String())
	}
}

func TestUpdateStatusRejectsEmptyBody(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/bookings/bkg_1:status", nil)
	rr := httptest.NewRecorder()
	newBookingRouter(&stubBookingService{}).ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestUpdateStatusIllegalTransitionConflicts(t *testing.T) {
	svc := &stubBookingService{
		updateStatusFn: func(context.Context, string, domain.BookingStatus) (domain.Booking, error) {
			return domain.Booking{}, services.ErrInvalidTransition
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/bookings/bkg_1:status", strings.NewReader(`{"status":"pending"}`))
	rr := httptest.NewRecorder()
	newBookingRouter(svc).ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d (%s)", rr.Code, rr.Body.String())
	}
}

func TestRescheduleSuccess(t *testing.T) {
	var gotCmd services.RescheduleCommand
	svc := &stubBookingService{
		rescheduleFn: func(_ context.Context, cmd services.RescheduleCommand) (domain.Booking, error) {
			gotCmd = cmd
			booking := sampleBooking(cmd.BookingID, domain.BookingStatusPending)
			booking.DueDate = cmd.NewDate
			return booking, nil
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/bookings/bkg_1:reschedule", strings.NewReader(`{"date":"2026-10-05","time":"16:30"}`))
	rr := httptest.NewRecorder()
	newBookingRouter(svc).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d (%s)", rr.Code, rr.Body.String())
	}
	if gotCmd.BookingID != "bkg_1" || gotCmd.NewTime != "16:30" {
		t.Fatalf("unexpected command: %+v", gotCmd)
	}
	if gotCmd.NewDate.Format("2006-01-02") != "2026-10-05" {
		t.Fatalf("unexpected date: %v", gotCmd.NewDate)
	}
}

func TestRescheduleWindowExceededUnprocessable(t *testing.T) {
	svc := &stubBookingService{
		rescheduleFn: func(context.Context, services.RescheduleCommand) (domain.Booking, error) {
			return domain.Booking{}, services.ErrRescheduleWindowExceeded
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/bookings/bkg_1:reschedule", strings.NewReader(`{"date":"2026-10-20"}`))
	rr := httptest.NewRecorder()
	newBookingRouter(svc).ServeHTTP(rr, req)

	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422, got %d (%s)", rr.Code, rr.Body.String())
	}

	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if body["error"] != "reschedule_window_exceeded" {
		t.Fatalf("unexpected error code: %v", body["error"])
	}
}

func TestForfeitNotFound(t *testing.T) {
	svc := &stubBookingService{
		forfeitFn: func(context.Context, string) (domain.Booking, error) {
			return domain.Booking{}, services.ErrBookingNotFound
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/bookings/bkg_missing:forfeit", nil)
	rr := httptest.NewRecorder()
	newBookingRouter(svc).ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d (%s)", rr.Code, rr.Body.String())
	}
}

func TestForfeitSuccess(t *testing.T) {
	svc := &stubBookingService{
		forfeitFn: func(_ context.Context, id string) (domain.Booking, error) {
			return sampleBooking(id, domain.BookingStatusForfeited), nil
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/bookings/bkg_1:forfeit", nil)
	rr := httptest.NewRecorder()
	newBookingRouter(svc).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d (%s)", rr.Code, rr.Body.String())
	}

	var body bookingResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if body.Booking.Status != "forfeited" {
		t.Fatalf("expected forfeited, got %q", body.Booking.Status)
	}
}
