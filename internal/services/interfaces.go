package services

import (
	"context"
	"time"

	"github.com/sugarbloom/api/internal/domain"
	"github.com/sugarbloom/api/internal/payments"
	"github.com/sugarbloom/api/internal/platform/events"
)

// ResolvedCheckout is the outcome of a confirmation lookup: the provider's
// view of the session plus the cart and customer data to fulfil.
type ResolvedCheckout struct {
	Session  payments.SessionDetails
	Checkout domain.StagedCheckout

	// FromStaging is false when the cart was reconstructed from provider
	// metadata because the staged record was missing.
	FromStaging bool
}

// CheckoutResolver validates payment and loads the order data for a session
// reference. It performs no writes.
type CheckoutResolver interface {
	Resolve(ctx context.Context, sessionRef string) (ResolvedCheckout, error)
}

// CreateBookingCommand carries everything needed to materialise one booking
// from a paid cart line item.
type CreateBookingCommand struct {
	OrderNumber string
	Customer    domain.Customer
	Item        domain.CartLineItem
	DueDate     time.Time
	Fulfillment domain.Fulfillment
	Payment     domain.PaymentRef

	// ClaimSession makes the insert claim the payment session reference in
	// the same transaction. The first booking of a confirmation run carries
	// the claim; a conflict means another run owns the session.
	ClaimSession bool
}

// RescheduleCommand moves a booking to a new due date and optional time slot.
type RescheduleCommand struct {
	BookingID string
	NewDate   time.Time
	NewTime   string
}

// BookingService owns the durable booking records and their lifecycle.
type BookingService interface {
	GenerateOrderNumber() string
	CreateBooking(ctx context.Context, cmd CreateBookingCommand) (domain.Booking, error)
	GetBooking(ctx context.Context, bookingID string) (domain.Booking, error)
	ListBookings(ctx context.Context, dueRange domain.DueRange) ([]domain.Booking, error)
	UpdateStatus(ctx context.Context, bookingID string, status domain.BookingStatus) (domain.Booking, error)
	Reschedule(ctx context.Context, cmd RescheduleCommand) (domain.Booking, error)
	Forfeit(ctx context.Context, bookingID string) (domain.Booking, error)
}

// AssetPromoter relocates uploaded assets from the temporary namespace into a
// permanent path keyed by the booking ID.
type AssetPromoter interface {
	// Promote returns the reference to store. moved reports whether the
	// object was relocated; on failure the original reference comes back
	// unchanged alongside the error.
	Promote(ctx context.Context, bookingID, ref string) (newRef string, moved bool, err error)
}

// BookingEventPublisher pushes booking events to the dashboard channel.
type BookingEventPublisher interface {
	PublishBookingEvent(ctx context.Context, event events.BookingEvent) (string, error)
}

// FulfilledOrder is the per-booking slice of the aggregate confirmation result.
type FulfilledOrder struct {
	ID          string    `json:"id"`
	OrderNumber string    `json:"orderNumber"`
	Name        string    `json:"name"`
	DueDate     time.Time `json:"dueDate"`
}

// FulfillmentResult is returned to the storefront after a confirmation run.
// Errors lists per-item problems; created orders are committed regardless.
type FulfillmentResult struct {
	AlreadyProcessed bool             `json:"alreadyProcessed"`
	CustomerName     string           `json:"customerName,omitempty"`
	CustomerEmail    string           `json:"customerEmail,omitempty"`
	CustomerPhone    string           `json:"customerPhone,omitempty"`
	Orders           []FulfilledOrder `json:"orders"`
	Errors           []string         `json:"errors,omitempty"`
}

// FulfillmentService runs the post-payment pipeline for one session reference.
type FulfillmentService interface {
	ConfirmCheckout(ctx context.Context, sessionRef string) (FulfillmentResult, error)
}
