package firestore

import (
	"context"
	"errors"

	pfirestore "github.com/sugarbloom/api/internal/platform/firestore"
	"github.com/sugarbloom/api/internal/repositories"
)

// Registry bundles the Firestore repositories behind the repositories.Registry interface.
type Registry struct {
	provider *pfirestore.Provider

	bookings        *BookingRepository
	stagedCheckouts *StagedCheckoutRepository
	discounts       *DiscountRepository
	marketingList   *MarketingListRepository
}

// NewRegistry constructs the full repository set bound to the shared provider.
func NewRegistry(provider *pfirestore.Provider) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("repository registry requires firestore provider")
	}

	bookings, err := NewBookingRepository(provider)
	if err != nil {
		return nil, err
	}
	stagedCheckouts, err := NewStagedCheckoutRepository(provider)
	if err != nil {
		return nil, err
	}
	discounts, err := NewDiscountRepository(provider)
	if err != nil {
		return nil, err
	}
	marketingList, err := NewMarketingListRepository(provider)
	if err != nil {
		return nil, err
	}

	return &Registry{
		provider:        provider,
		bookings:        bookings,
		stagedCheckouts: stagedCheckouts,
		discounts:       discounts,
		marketingList:   marketingList,
	}, nil
}

// Close releases the underlying Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	if r == nil || r.provider == nil {
		return nil
	}
	return r.provider.Close(ctx)
}

// Bookings returns the booking repository.
func (r *Registry) Bookings() repositories.BookingRepository { return r.bookings }

// StagedCheckouts returns the staged checkout repository.
func (r *Registry) StagedCheckouts() repositories.StagedCheckoutRepository { return r.stagedCheckouts }

// Discounts returns the discount repository.
func (r *Registry) Discounts() repositories.DiscountRepository { return r.discounts }

// MarketingList returns the marketing list repository.
func (r *Registry) MarketingList() repositories.MarketingListRepository { return r.marketingList }

// Ensure interface compliance.
var _ repositories.Registry = (*Registry)(nil)
