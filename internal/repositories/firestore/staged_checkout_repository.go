package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sugarbloom/api/internal/domain"
	pfirestore "github.com/sugarbloom/api/internal/platform/firestore"
	"github.com/sugarbloom/api/internal/repositories"
)

const stagedCheckoutCollection = "stagedCheckouts"

// StagedCheckoutRepository reads and consumes pre-payment cart snapshots keyed
// by the checkout session reference.
type StagedCheckoutRepository struct {
	base *pfirestore.BaseRepository[stagedCheckoutDocument]
}

// NewStagedCheckoutRepository constructs a Firestore-backed staged checkout repository.
func NewStagedCheckoutRepository(provider *pfirestore.Provider) (*StagedCheckoutRepository, error) {
	if provider == nil {
		return nil, errors.New("staged checkout repository requires firestore provider")
	}
	return &StagedCheckoutRepository{
		base: pfirestore.NewBaseRepository[stagedCheckoutDocument](provider, stagedCheckoutCollection, nil, nil),
	}, nil
}

// Get fetches the staged checkout for the session reference.
func (r *StagedCheckoutRepository) Get(ctx context.Context, sessionRef string) (domain.StagedCheckout, error) {
	ref := strings.TrimSpace(sessionRef)
	if ref == "" {
		return domain.StagedCheckout{}, errors.New("staged checkout repository: session ref is required")
	}
	doc, err := r.base.Get(ctx, ref)
	if err != nil {
		return domain.StagedCheckout{}, err
	}
	return decodeStagedCheckout(doc.ID, doc.Data), nil
}

// Delete removes the staged checkout once it has been fulfilled.
func (r *StagedCheckoutRepository) Delete(ctx context.Context, sessionRef string) error {
	ref := strings.TrimSpace(sessionRef)
	if ref == "" {
		return errors.New("staged checkout repository: session ref is required")
	}
	return r.base.Delete(ctx, ref)
}

type stagedCheckoutDocument struct {
	Customer     customerDocument   `firestore:"customer"`
	Items        []cartItemDocument `firestore:"items"`
	DiscountCode string             `firestore:"discountCode"`
	CreatedAt    time.Time          `firestore:"createdAt"`
}

type cartItemDocument struct {
	ProductRef *string         `firestore:"productRef"`
	Name       string          `firestore:"name"`
	Size       string          `firestore:"size"`
	Flavor     string          `firestore:"flavor"`
	Notes      string          `firestore:"notes"`
	UnitPrice  float64         `firestore:"unitPrice"`
	AddOns     []addOnDocument `firestore:"addOns"`

	PrintImage           string `firestore:"printImage"`
	InspirationImage     string `firestore:"inspirationImage"`
	ReproduceInspiration bool   `firestore:"reproduceInspiration"`

	Mode         string `firestore:"mode"`
	PickupDate   string `firestore:"pickupDate"`
	PickupTime   string `firestore:"pickupTime"`
	DeliveryDate string `firestore:"deliveryDate"`
	DeliveryTime string `firestore:"deliveryTime"`
	Address      string `firestore:"address"`
	OrderDate    string `firestore:"orderDate"`
}

func decodeStagedCheckout(id string, doc stagedCheckoutDocument) domain.StagedCheckout {
	items := make([]domain.CartLineItem, 0, len(doc.Items))
	for _, item := range doc.Items {
		addOns := make([]domain.AddOn, 0, len(item.AddOns))
		for _, addOn := range item.AddOns {
			addOns = append(addOns, domain.AddOn{Name: addOn.Name, Price: addOn.Price})
		}
		items = append(items, domain.CartLineItem{
			ProductRef:           item.ProductRef,
			Name:                 item.Name,
			Size:                 item.Size,
			Flavor:               item.Flavor,
			Notes:                item.Notes,
			UnitPrice:            item.UnitPrice,
			AddOns:               addOns,
			PrintImage:           item.PrintImage,
			InspirationImage:     item.InspirationImage,
			ReproduceInspiration: item.ReproduceInspiration,
			Mode:                 domain.FulfillmentMode(item.Mode),
			PickupDate:           item.PickupDate,
			PickupTime:           item.PickupTime,
			DeliveryDate:         item.DeliveryDate,
			DeliveryTime:         item.DeliveryTime,
			Address:              item.Address,
			OrderDate:            item.OrderDate,
		})
	}
	return domain.StagedCheckout{
		SessionRef:   id,
		Customer:     domain.Customer{Name: doc.Customer.Name, Email: doc.Customer.Email, Phone: doc.Customer.Phone},
		Items:        items,
		DiscountCode: doc.DiscountCode,
		CreatedAt:    doc.CreatedAt,
	}
}

// Ensure interface compliance.
var _ repositories.StagedCheckoutRepository = (*StagedCheckoutRepository)(nil)
