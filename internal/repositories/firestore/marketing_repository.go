package firestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/sugarbloom/api/internal/domain"
	pfirestore "github.com/sugarbloom/api/internal/platform/firestore"
	"github.com/sugarbloom/api/internal/repositories"
)

const marketingCollection = "marketingList"

// MarketingListRepository records customer contacts for the mailing list.
// Entries are keyed by a hash of the lowercased email so repeat customers
// are stored once.
type MarketingListRepository struct {
	base *pfirestore.BaseRepository[marketingContactDocument]
}

// NewMarketingListRepository constructs a Firestore-backed marketing list repository.
func NewMarketingListRepository(provider *pfirestore.Provider) (*MarketingListRepository, error) {
	if provider == nil {
		return nil, errors.New("marketing list repository requires firestore provider")
	}
	return &MarketingListRepository{
		base: pfirestore.NewBaseRepository[marketingContactDocument](provider, marketingCollection, nil, nil),
	}, nil
}

// Add records the contact if not already present. An existing entry is not an error.
func (r *MarketingListRepository) Add(ctx context.Context, customer domain.Customer) error {
	email := strings.ToLower(strings.TrimSpace(customer.Email))
	if email == "" {
		return errors.New("marketing list repository: email is required")
	}

	_, err := r.base.Create(ctx, contactDocID(email), marketingContactDocument{
		Name:    strings.TrimSpace(customer.Name),
		Email:   email,
		Phone:   strings.TrimSpace(customer.Phone),
		AddedAt: time.Now().UTC(),
	})
	if err != nil {
		var repoErr *pfirestore.Error
		if errors.As(err, &repoErr) && repoErr.IsConflict() {
			return nil
		}
		return err
	}
	return nil
}

func contactDocID(email string) string {
	sum := sha256.Sum256([]byte(email))
	return hex.EncodeToString(sum[:])
}

type marketingContactDocument struct {
	Name    string    `firestore:"name"`
	Email   string    `firestore:"email"`
	Phone   string    `firestore:"phone"`
	AddedAt time.Time `firestore:"addedAt"`
}

// Ensure interface compliance.
var _ repositories.MarketingListRepository = (*MarketingListRepository)(nil)
