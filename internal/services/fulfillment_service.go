package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sugarbloom/api/internal/domain"
	"github.com/sugarbloom/api/internal/notifications"
	"github.com/sugarbloom/api/internal/platform/events"
	"github.com/sugarbloom/api/internal/repositories"
)

const defaultExternalCallTimeout = 10 * time.Second

// centsPerUnit converts provider minor-unit amounts into currency units.
const centsPerUnit = 100

// FulfillmentServiceDeps bundles collaborators required to construct the fulfillment service.
type FulfillmentServiceDeps struct {
	Resolver        CheckoutResolver
	Ledger          BookingService
	Bookings        repositories.BookingRepository
	StagedCheckouts repositories.StagedCheckoutRepository
	Discounts       repositories.DiscountRepository
	Assets          AssetPromoter
	Events          BookingEventPublisher
	Mailer          notifications.Notifier

	ExternalCallTimeout time.Duration

	Clock  func() time.Time
	Logger func(ctx context.Context, event string, fields map[string]any)
}

type fulfillmentService struct {
	resolver CheckoutResolver
	ledger   BookingService
	bookings repositories.BookingRepository
	staged   repositories.StagedCheckoutRepository
	discount repositories.DiscountRepository
	assets   AssetPromoter
	events   BookingEventPublisher
	mailer   notifications.Notifier

	externalTimeout time.Duration

	clock  func() time.Time
	logger func(context.Context, string, map[string]any)
}

// NewFulfillmentService wires dependencies into a concrete FulfillmentService implementation.
func NewFulfillmentService(deps FulfillmentServiceDeps) (FulfillmentService, error) {
	if deps.Resolver == nil {
		return nil, errors.New("fulfillment service: checkout resolver is required")
	}
	if deps.Ledger == nil {
		return nil, errors.New("fulfillment service: booking service is required")
	}
	if deps.Bookings == nil {
		return nil, errors.New("fulfillment service: booking repository is required")
	}
	if deps.StagedCheckouts == nil {
		return nil, errors.New("fulfillment service: staged checkout repository is required")
	}

	timeout := deps.ExternalCallTimeout
	if timeout <= 0 {
		timeout = defaultExternalCallTimeout
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &fulfillmentService{
		resolver:        deps.Resolver,
		ledger:          deps.Ledger,
		bookings:        deps.Bookings,
		staged:          deps.StagedCheckouts,
		discount:        deps.Discounts,
		assets:          deps.Assets,
		events:          deps.Events,
		mailer:          deps.Mailer,
		externalTimeout: timeout,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// ConfirmCheckout runs the post-payment pipeline. Once the session resolves as
// paid and unprocessed, every downstream step is best effort: a created
// booking is never rolled back by an asset move or notification failure.
func (s *fulfillmentService) ConfirmCheckout(ctx context.Context, sessionRef string) (FulfillmentResult, error) {
	resolved, err := s.resolver.Resolve(ctx, sessionRef)
	if err != nil {
		return FulfillmentResult{}, err
	}
	ref := resolved.Checkout.SessionRef

	existing, err := s.bookings.FindByPaymentRef(ctx, ref)
	if err != nil {
		return FulfillmentResult{}, fmt.Errorf("%w: lookup existing bookings: %v", ErrBookingPersistence, err)
	}
	if len(existing) > 0 {
		s.logger(ctx, "fulfillment.replay", map[string]any{"sessionRef": ref, "bookings": len(existing)})
		return resultFromExisting(existing), nil
	}

	result := FulfillmentResult{
		CustomerName:  resolved.Checkout.Customer.Name,
		CustomerEmail: resolved.Checkout.Customer.Email,
		CustomerPhone: resolved.Checkout.Customer.Phone,
	}

	orderNumber := s.ledger.GenerateOrderNumber()
	created := make([]domain.Booking, 0, len(resolved.Checkout.Items))

	// The claim document under paymentRefs/{sessionID} is the storage-layer
	// uniqueness constraint. It commits in the same transaction as the first
	// booking insert, so a crash cannot strand a claim with no bookings, and
	// losing the claim race means the winner's bookings already exist.
	for _, item := range resolved.Checkout.Items {
		booking, claimLost, itemErrs := s.processItem(ctx, resolved, orderNumber, item, len(created) == 0)
		if claimLost {
			s.logger(ctx, "fulfillment.claim.lost", map[string]any{"sessionRef": ref})
			winners, readErr := s.bookings.FindByPaymentRef(ctx, ref)
			if readErr != nil {
				return FulfillmentResult{}, fmt.Errorf("%w: re-read after claim conflict: %v", ErrBookingPersistence, readErr)
			}
			if len(winners) == 0 {
				return FulfillmentResult{}, fmt.Errorf("%w: session %s is claimed but has no bookings", ErrBookingPersistence, ref)
			}
			return resultFromExisting(winners), nil
		}
		result.Errors = append(result.Errors, itemErrs...)
		if booking != nil {
			created = append(created, *booking)
			result.Orders = append(result.Orders, FulfilledOrder{
				ID:          booking.ID,
				OrderNumber: booking.OrderNumber,
				Name:        booking.Name,
				DueDate:     booking.DueDate,
			})
		}
	}

	if len(created) > 0 {
		result.Errors = append(result.Errors, s.sendNotifications(ctx, resolved.Checkout.Customer, created)...)
	}

	s.settleDiscount(ctx, resolved.Checkout.DiscountCode)
	s.consumeStagedCheckout(ctx, resolved, ref)

	s.logger(ctx, "fulfillment.completed", map[string]any{
		"sessionRef": ref,
		"created":    len(created),
		"errors":     len(result.Errors),
	})

	return result, nil
}

// processItem materialises one cart line item. A nil booking means the item
// was skipped; returned errors never abort the batch. claimLost reports that
// the session claim went to a concurrent invocation, which is the one
// condition the caller must treat as batch-level.
func (s *fulfillmentService) processItem(ctx context.Context, resolved ResolvedCheckout, orderNumber string, item domain.CartLineItem, claim bool) (booking *domain.Booking, claimLost bool, itemErrs []string) {
	defer func() {
		if r := recover(); r != nil {
			s.logger(ctx, "fulfillment.item.panic", map[string]any{"item": item.Name, "panic": fmt.Sprint(r)})
			booking = nil
			itemErrs = append(itemErrs, fmt.Sprintf("Unexpected failure processing %s", item.Name))
		}
	}()

	dueDate, fulfillment, err := scheduleFromItem(item)
	if err != nil {
		return nil, false, []string{err.Error()}
	}

	created, err := s.ledger.CreateBooking(ctx, CreateBookingCommand{
		OrderNumber: orderNumber,
		Customer:    resolved.Checkout.Customer,
		Item:        item,
		DueDate:     dueDate,
		Fulfillment: fulfillment,
		Payment: domain.PaymentRef{
			SessionID:  resolved.Checkout.SessionRef,
			IntentID:   resolved.Session.IntentID,
			AmountPaid: float64(resolved.Session.AmountTotal) / centsPerUnit,
			Status:     resolved.Session.PaymentStatus,
		},
		ClaimSession: claim,
	})
	if err != nil {
		if claim && errors.Is(err, ErrBookingConflict) {
			return nil, true, nil
		}
		s.logger(ctx, "fulfillment.item.create.failed", map[string]any{"item": item.Name, "error": err.Error()})
		return nil, false, []string{fmt.Sprintf("Could not create booking for %s", item.Name)}
	}

	itemErrs = append(itemErrs, s.promoteAssets(ctx, &created)...)
	s.publishCreated(ctx, created)

	return &created, false, itemErrs
}

// promoteAssets moves both asset slots out of the temporary namespace and
// persists any new references with a follow-up write. Both steps are non-fatal.
func (s *fulfillmentService) promoteAssets(ctx context.Context, booking *domain.Booking) []string {
	if s.assets == nil {
		return nil
	}

	var errs []string
	moved := false

	promote := func(ref string) string {
		bctx, cancel := s.boundedContext(ctx)
		defer cancel()
		newRef, didMove, err := s.assets.Promote(bctx, booking.ID, ref)
		if err != nil {
			errs = append(errs, fmt.Sprintf("Could not finalise an uploaded image for %s", booking.Name))
			return ref
		}
		if didMove {
			moved = true
		}
		return newRef
	}

	booking.PrintImage = promote(booking.PrintImage)
	booking.InspirationImage = promote(booking.InspirationImage)

	if moved {
		if err := s.bookings.UpdateAssetRefs(ctx, booking.ID, booking.PrintImage, booking.InspirationImage); err != nil {
			s.logger(ctx, "fulfillment.assets.update.failed", map[string]any{
				"bookingId": booking.ID,
				"error":     err.Error(),
			})
		}
	}

	return errs
}

func (s *fulfillmentService) publishCreated(ctx context.Context, booking domain.Booking) {
	if s.events == nil {
		return
	}
	bctx, cancel := s.boundedContext(ctx)
	defer cancel()

	_, err := s.events.PublishBookingEvent(bctx, events.BookingEvent{
		Type:        events.EventBookingCreated,
		BookingID:   booking.ID,
		OrderNumber: booking.OrderNumber,
		SessionRef:  booking.Payment.SessionID,
		Status:      string(booking.Status),
		DueDate:     booking.DueDate.Format(dueDateLayout),
		OccurredAt:  s.clock(),
	})
	if err != nil {
		s.logger(ctx, "fulfillment.publish.failed", map[string]any{
			"bookingId": booking.ID,
			"error":     err.Error(),
		})
	}
}

func (s *fulfillmentService) sendNotifications(ctx context.Context, customer domain.Customer, created []domain.Booking) []string {
	if s.mailer == nil {
		return nil
	}

	var errs []string

	octx, cancel := s.boundedContext(ctx)
	if err := s.mailer.NotifyOperator(octx, created); err != nil {
		if errors.Is(err, notifications.ErrMailerDisabled) {
			s.logger(ctx, "fulfillment.mail.disabled", nil)
		} else {
			s.logger(ctx, "fulfillment.mail.operator.failed", map[string]any{"error": err.Error()})
			errs = append(errs, "Operator notification could not be sent")
		}
	}
	cancel()

	cctx, cancel := s.boundedContext(ctx)
	defer cancel()
	if err := s.mailer.SendCustomerConfirmation(cctx, customer, created); err != nil && !errors.Is(err, notifications.ErrMailerDisabled) {
		s.logger(ctx, "fulfillment.mail.customer.failed", map[string]any{"error": err.Error()})
		errs = append(errs, "Customer confirmation email could not be sent")
	}

	return errs
}

// settleDiscount re-validates the code and bumps its usage counter. Logged only.
func (s *fulfillmentService) settleDiscount(ctx context.Context, code string) {
	code = strings.TrimSpace(code)
	if code == "" || s.discount == nil {
		return
	}

	discount, err := s.discount.FindByCode(ctx, code)
	if err != nil {
		s.logger(ctx, "fulfillment.discount.lookup.failed", map[string]any{"code": code, "error": err.Error()})
		return
	}
	if !discount.Active || (!discount.ExpiresAt.IsZero() && discount.ExpiresAt.Before(s.clock())) {
		s.logger(ctx, "fulfillment.discount.inactive", map[string]any{"code": code})
		return
	}
	if err := s.discount.IncrementUsage(ctx, code); err != nil {
		s.logger(ctx, "fulfillment.discount.increment.failed", map[string]any{"code": code, "error": err.Error()})
	}
}

func (s *fulfillmentService) consumeStagedCheckout(ctx context.Context, resolved ResolvedCheckout, ref string) {
	if !resolved.FromStaging {
		return
	}
	if err := s.staged.Delete(ctx, ref); err != nil {
		s.logger(ctx, "fulfillment.staged.delete.failed", map[string]any{"sessionRef": ref, "error": err.Error()})
	}
}

func (s *fulfillmentService) boundedContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.externalTimeout)
}

func resultFromExisting(existing []domain.Booking) FulfillmentResult {
	result := FulfillmentResult{AlreadyProcessed: true}
	if len(existing) > 0 {
		result.CustomerName = existing[0].Customer.Name
		result.CustomerEmail = existing[0].Customer.Email
		result.CustomerPhone = existing[0].Customer.Phone
	}
	for _, booking := range existing {
		result.Orders = append(result.Orders, FulfilledOrder{
			ID:          booking.ID,
			OrderNumber: booking.OrderNumber,
			Name:        booking.Name,
			DueDate:     booking.DueDate,
		})
	}
	return result
}

var dueDateLayouts = []string{
	dueDateLayout,
	time.RFC3339,
	"2006/01/02",
	"01/02/2006",
}

// scheduleFromItem derives the due date and fulfillment coordinates for a cart
// item. The mode-specific date wins, then the other mode's date, then the
// generic order date.
func scheduleFromItem(item domain.CartLineItem) (time.Time, domain.Fulfillment, error) {
	mode := item.Mode
	if mode != domain.FulfillmentDelivery {
		mode = domain.FulfillmentPickup
	}

	dateCandidates := []string{item.PickupDate, item.DeliveryDate, item.OrderDate}
	slot := item.PickupTime
	if mode == domain.FulfillmentDelivery {
		dateCandidates = []string{item.DeliveryDate, item.PickupDate, item.OrderDate}
		slot = item.DeliveryTime
	}

	for _, candidate := range dateCandidates {
		parsed, ok := parseDueDate(candidate)
		if !ok {
			continue
		}
		fulfillment := domain.Fulfillment{
			Mode:    mode,
			Date:    parsed.Format(dueDateLayout),
			Time:    strings.TrimSpace(slot),
			Address: strings.TrimSpace(item.Address),
		}
		return parsed, fulfillment, nil
	}

	return time.Time{}, domain.Fulfillment{}, fmt.Errorf("No date found for %s", item.Name)
}

func parseDueDate(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range dueDateLayouts {
		if parsed, err := time.Parse(layout, raw); err == nil {
			return truncateToDate(parsed), true
		}
	}
	return time.Time{}, false
}

// Ensure interface compliance.
var _ FulfillmentService = (*fulfillmentService)(nil)
