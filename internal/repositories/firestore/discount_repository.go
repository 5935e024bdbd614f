package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/sugarbloom/api/internal/domain"
	pfirestore "github.com/sugarbloom/api/internal/platform/firestore"
	"github.com/sugarbloom/api/internal/repositories"
)

const discountCollection = "discountCodes"

// DiscountRepository tracks promotional code redemption counts.
type DiscountRepository struct {
	base *pfirestore.BaseRepository[discountDocument]
}

// NewDiscountRepository constructs a Firestore-backed discount repository.
func NewDiscountRepository(provider *pfirestore.Provider) (*DiscountRepository, error) {
	if provider == nil {
		return nil, errors.New("discount repository requires firestore provider")
	}
	return &DiscountRepository{
		base: pfirestore.NewBaseRepository[discountDocument](provider, discountCollection, nil, nil),
	}, nil
}

// FindByCode looks up a discount by its customer-facing code.
func (r *DiscountRepository) FindByCode(ctx context.Context, code string) (domain.DiscountCode, error) {
	normalized := normalizeDiscountCode(code)
	if normalized == "" {
		return domain.DiscountCode{}, errors.New("discount repository: code is required")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("code", "==", normalized).Limit(1)
	})
	if err != nil {
		return domain.DiscountCode{}, err
	}
	if len(docs) == 0 {
		return domain.DiscountCode{}, pfirestore.WrapError("discountCodes.findByCode", status.Error(codes.NotFound, "discount code not found"))
	}

	doc := docs[0]
	return domain.DiscountCode{
		ID:         doc.ID,
		Code:       doc.Data.Code,
		Percent:    doc.Data.Percent,
		UsageCount: doc.Data.UsageCount,
		Active:     doc.Data.Active,
		ExpiresAt:  doc.Data.ExpiresAt,
	}, nil
}

// IncrementUsage bumps the redemption counter for the code.
func (r *DiscountRepository) IncrementUsage(ctx context.Context, code string) error {
	discount, err := r.FindByCode(ctx, code)
	if err != nil {
		return err
	}
	_, err = r.base.Update(ctx, discount.ID, []firestore.Update{
		{Path: "usageCount", Value: firestore.Increment(1)},
	})
	return err
}

func normalizeDiscountCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

type discountDocument struct {
	Code       string    `firestore:"code"`
	Percent    int       `firestore:"percent"`
	UsageCount int64     `firestore:"usageCount"`
	Active     bool      `firestore:"active"`
	ExpiresAt  time.Time `firestore:"expiresAt"`
}

// Ensure interface compliance.
var _ repositories.DiscountRepository = (*DiscountRepository)(nil)
