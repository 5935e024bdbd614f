package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sugarbloom/api/internal/domain"
	"github.com/sugarbloom/api/internal/payments"
	"github.com/sugarbloom/api/internal/repositories"
)

var (
	// ErrMissingReference signals an empty session reference.
	ErrMissingReference = errors.New("checkout: missing session reference")
	// ErrConfirmationLookupFailed signals the payment provider could not be queried.
	ErrConfirmationLookupFailed = errors.New("checkout: confirmation lookup failed")
	// ErrPaymentNotCompleted signals the session exists but was never paid.
	ErrPaymentNotCompleted = errors.New("checkout: payment not completed")
	// ErrOrderDataNotFound signals neither staging nor provider metadata yielded cart items.
	ErrOrderDataNotFound = errors.New("checkout: order data not found")
)

// Provider metadata keys used by the degraded fallback when the staged
// checkout record is missing.
const (
	metadataCartKey          = "cart"
	metadataCustomerNameKey  = "customerName"
	metadataCustomerPhoneKey = "customerPhone"
	metadataDiscountCodeKey  = "discountCode"
)

// CheckoutResolverDeps bundles collaborators for NewCheckoutResolver.
type CheckoutResolverDeps struct {
	Sessions        payments.SessionRetriever
	StagedCheckouts repositories.StagedCheckoutRepository
	Logger          func(ctx context.Context, event string, fields map[string]any)
}

type checkoutResolver struct {
	sessions payments.SessionRetriever
	staged   repositories.StagedCheckoutRepository
	logger   func(context.Context, string, map[string]any)
}

// NewCheckoutResolver wires dependencies into a concrete CheckoutResolver.
func NewCheckoutResolver(deps CheckoutResolverDeps) (CheckoutResolver, error) {
	if deps.Sessions == nil {
		return nil, errors.New("checkout resolver: session retriever is required")
	}
	if deps.StagedCheckouts == nil {
		return nil, errors.New("checkout resolver: staged checkout repository is required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &checkoutResolver{
		sessions: deps.Sessions,
		staged:   deps.StagedCheckouts,
		logger:   logger,
	}, nil
}

func (r *checkoutResolver) Resolve(ctx context.Context, sessionRef string) (ResolvedCheckout, error) {
	ref := strings.TrimSpace(sessionRef)
	if ref == "" {
		return ResolvedCheckout{}, ErrMissingReference
	}

	session, err := r.sessions.RetrieveSession(ctx, ref)
	if err != nil {
		return ResolvedCheckout{}, fmt.Errorf("%w: %v", ErrConfirmationLookupFailed, err)
	}
	if !session.Paid() {
		return ResolvedCheckout{}, fmt.Errorf("%w: status %q", ErrPaymentNotCompleted, session.PaymentStatus)
	}

	checkout, fromStaging, err := r.loadCheckout(ctx, ref, session)
	if err != nil {
		return ResolvedCheckout{}, err
	}
	if len(checkout.Items) == 0 {
		return ResolvedCheckout{}, fmt.Errorf("%w: session %s has no cart items", ErrOrderDataNotFound, ref)
	}

	fillCustomerFromSession(&checkout.Customer, session)

	return ResolvedCheckout{
		Session:     session,
		Checkout:    checkout,
		FromStaging: fromStaging,
	}, nil
}

func (r *checkoutResolver) loadCheckout(ctx context.Context, ref string, session payments.SessionDetails) (domain.StagedCheckout, bool, error) {
	checkout, err := r.staged.Get(ctx, ref)
	if err == nil {
		return checkout, true, nil
	}

	var repoErr repositories.RepositoryError
	if !errors.As(err, &repoErr) || !repoErr.IsNotFound() {
		return domain.StagedCheckout{}, false, fmt.Errorf("%w: load staged checkout: %v", ErrConfirmationLookupFailed, err)
	}

	r.logger(ctx, "checkout.staged.missing", map[string]any{"sessionRef": ref})

	fallback, err := checkoutFromMetadata(ref, session)
	if err != nil {
		return domain.StagedCheckout{}, false, fmt.Errorf("%w: %v", ErrOrderDataNotFound, err)
	}
	return fallback, false, nil
}

// metadataCartItem mirrors domain.CartLineItem for the JSON cart snapshot the
// storefront stores in provider metadata. Metadata values have a provider-side
// size cap, so this payload may be truncated or absent.
type metadataCartItem struct {
	ProductRef *string `json:"productRef,omitempty"`
	Name       string  `json:"name"`
	Size       string  `json:"size,omitempty"`
	Flavor     string  `json:"flavor,omitempty"`
	Notes      string  `json:"notes,omitempty"`
	UnitPrice  float64 `json:"unitPrice"`
	AddOns     []struct {
		Name  string  `json:"name"`
		Price float64 `json:"price"`
	} `json:"addOns,omitempty"`

	PrintImage           string `json:"printImage,omitempty"`
	InspirationImage     string `json:"inspirationImage,omitempty"`
	ReproduceInspiration bool   `json:"reproduceInspiration,omitempty"`

	Mode         string `json:"mode,omitempty"`
	PickupDate   string `json:"pickupDate,omitempty"`
	PickupTime   string `json:"pickupTime,omitempty"`
	DeliveryDate string `json:"deliveryDate,omitempty"`
	DeliveryTime string `json:"deliveryTime,omitempty"`
	Address      string `json:"address,omitempty"`
	OrderDate    string `json:"orderDate,omitempty"`
}

func checkoutFromMetadata(ref string, session payments.SessionDetails) (domain.StagedCheckout, error) {
	raw := strings.TrimSpace(session.Metadata[metadataCartKey])
	if raw == "" {
		return domain.StagedCheckout{}, errors.New("no staged checkout and no cart metadata")
	}

	var rawItems []metadataCartItem
	if err := json.Unmarshal([]byte(raw), &rawItems); err != nil {
		return domain.StagedCheckout{}, fmt.Errorf("decode cart metadata: %v", err)
	}

	items := make([]domain.CartLineItem, 0, len(rawItems))
	for _, raw := range rawItems {
		addOns := make([]domain.AddOn, 0, len(raw.AddOns))
		for _, addOn := range raw.AddOns {
			addOns = append(addOns, domain.AddOn{Name: addOn.Name, Price: addOn.Price})
		}
		items = append(items, domain.CartLineItem{
			ProductRef:           raw.ProductRef,
			Name:                 raw.Name,
			Size:                 raw.Size,
			Flavor:               raw.Flavor,
			Notes:                raw.Notes,
			UnitPrice:            raw.UnitPrice,
			AddOns:               addOns,
			PrintImage:           raw.PrintImage,
			InspirationImage:     raw.InspirationImage,
			ReproduceInspiration: raw.ReproduceInspiration,
			Mode:                 domain.FulfillmentMode(raw.Mode),
			PickupDate:           raw.PickupDate,
			PickupTime:           raw.PickupTime,
			DeliveryDate:         raw.DeliveryDate,
			DeliveryTime:         raw.DeliveryTime,
			Address:              raw.Address,
			OrderDate:            raw.OrderDate,
		})
	}

	return domain.StagedCheckout{
		SessionRef: ref,
		Customer: domain.Customer{
			Name:  session.Metadata[metadataCustomerNameKey],
			Phone: session.Metadata[metadataCustomerPhoneKey],
		},
		Items:        items,
		DiscountCode: session.Metadata[metadataDiscountCodeKey],
	}, nil
}

func fillCustomerFromSession(customer *domain.Customer, session payments.SessionDetails) {
	if customer.Name == "" {
		customer.Name = session.CustomerName
	}
	if customer.Email == "" {
		customer.Email = session.CustomerEmail
	}
	if customer.Phone == "" {
		customer.Phone = session.CustomerPhone
	}
}
