package domain

import (
	"strings"
	"time"
)

// BookingStatus enumerates the lifecycle states of a booking.
type BookingStatus string

const (
	BookingStatusPending   BookingStatus = "pending"
	BookingStatusConfirmed BookingStatus = "confirmed"
	BookingStatusForfeited BookingStatus = "forfeited"
)

// FulfillmentMode distinguishes how a booking reaches the customer.
type FulfillmentMode string

const (
	FulfillmentPickup   FulfillmentMode = "pickup"
	FulfillmentDelivery FulfillmentMode = "delivery"
)

// AddOn is a named extra attached to a cart item, priced in currency units.
type AddOn struct {
	Name  string
	Price float64
}

// Customer is the contact snapshot captured at checkout time.
type Customer struct {
	Name  string
	Email string
	Phone string
}

// Fulfillment carries the pickup/delivery coordinates for a booking.
type Fulfillment struct {
	Mode    FulfillmentMode
	Date    string
	Time    string
	Address string
}

// PaymentRef links a booking to the provider-side payment. AmountPaid is the
// amount actually captured, in currency units, and is authoritative over any
// client-submitted price once payment is confirmed.
type PaymentRef struct {
	SessionID  string
	IntentID   string
	AmountPaid float64
	Status     string
}

// Booking is the durable order record created per cart line item after payment
// confirmation. Product attributes are copied at creation time; later catalog
// changes must not alter historical bookings.
type Booking struct {
	ID          string
	OrderNumber string
	Status      BookingStatus
	DueDate     time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time

	Customer Customer

	ProductRef *string
	Name       string
	Size       string
	Flavor     string
	Notes      string
	AddOns     []AddOn
	Price      float64

	PrintImage           string
	InspirationImage     string
	ReproduceInspiration bool

	Fulfillment Fulfillment
	Payment     PaymentRef
}

// CartLineItem is a single entry of a staged cart as submitted by the client
// before payment. ProductRef is nil for fully custom items.
type CartLineItem struct {
	ProductRef *string
	Name       string
	Size       string
	Flavor     string
	Notes      string
	UnitPrice  float64
	AddOns     []AddOn

	PrintImage           string
	InspirationImage     string
	ReproduceInspiration bool

	Mode         FulfillmentMode
	PickupDate   string
	PickupTime   string
	DeliveryDate string
	DeliveryTime string
	Address      string
	OrderDate    string
}

// StagedCheckout is the pre-payment scratch record keyed by the provider's
// session reference. It is consumed and deleted exactly once by a successful
// fulfillment run.
type StagedCheckout struct {
	SessionRef   string
	Customer     Customer
	Items        []CartLineItem
	DiscountCode string
	CreatedAt    time.Time
}

// DiscountCode tracks a promotional code and how often it has been redeemed.
type DiscountCode struct {
	ID         string
	Code       string
	Percent    int
	UsageCount int64
	Active     bool
	ExpiresAt  time.Time
}

// DueRange bounds a booking listing by due date; either side may be zero to
// leave the range open.
type DueRange struct {
	From time.Time
	To   time.Time
}

var bookingStateTransitions = map[BookingStatus][]BookingStatus{
	BookingStatusPending:   {BookingStatusConfirmed, BookingStatusForfeited},
	BookingStatusConfirmed: {BookingStatusPending, BookingStatusForfeited},
	BookingStatusForfeited: {},
}

// CanTransition reports whether a booking status change is legal. Pending and
// confirmed toggle freely; both may move to forfeited; forfeited is terminal.
func CanTransition(current, target BookingStatus) bool {
	if current == target {
		return true
	}
	next, ok := bookingStateTransitions[current]
	if !ok {
		return false
	}
	for _, candidate := range next {
		if candidate == target {
			return true
		}
	}
	return false
}

// ParseBookingStatus validates a raw status value.
func ParseBookingStatus(raw string) (BookingStatus, bool) {
	switch BookingStatus(strings.ToLower(strings.TrimSpace(raw))) {
	case BookingStatusPending:
		return BookingStatusPending, true
	case BookingStatusConfirmed:
		return BookingStatusConfirmed, true
	case BookingStatusForfeited:
		return BookingStatusForfeited, true
	default:
		return "", false
	}
}
