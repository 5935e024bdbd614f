package repositories

import (
	"context"
	"time"

	"github.com/sugarbloom/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Bookings() BookingRepository
	StagedCheckouts() StagedCheckoutRepository
	Discounts() DiscountRepository
	MarketingList() MarketingListRepository
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// BookingRepository persists booking documents created after payment confirmation.
type BookingRepository interface {
	Insert(ctx context.Context, booking domain.Booking) error
	FindByID(ctx context.Context, bookingID string) (domain.Booking, error)
	FindByPaymentRef(ctx context.Context, sessionRef string) ([]domain.Booking, error)
	ListByDueRange(ctx context.Context, dueRange domain.DueRange) ([]domain.Booking, error)
	UpdateStatus(ctx context.Context, bookingID string, status domain.BookingStatus) error
	UpdateSchedule(ctx context.Context, bookingID string, dueDate time.Time, fulfillment domain.Fulfillment) error
	UpdateAssetRefs(ctx context.Context, bookingID, printImage, inspirationImage string) error

	// InsertWithClaim atomically claims the booking's session reference and
	// inserts the booking. Both writes commit together, so a claim can never
	// exist without at least one booking behind it. It fails with a conflict
	// error when another run already claimed the session.
	InsertWithClaim(ctx context.Context, booking domain.Booking) error
}

// StagedCheckoutRepository reads and consumes pre-payment cart snapshots.
type StagedCheckoutRepository interface {
	Get(ctx context.Context, sessionRef string) (domain.StagedCheckout, error)
	Delete(ctx context.Context, sessionRef string) error
}

// DiscountRepository tracks promotional code redemption.
type DiscountRepository interface {
	FindByCode(ctx context.Context, code string) (domain.DiscountCode, error)
	IncrementUsage(ctx context.Context, code string) error
}

// MarketingListRepository records customer contacts for the mailing list.
type MarketingListRepository interface {
	Add(ctx context.Context, customer domain.Customer) error
}
