package services

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/sugarbloom/api/internal/domain"
	"github.com/sugarbloom/api/internal/repositories"
)

const (
	bookingIDPrefix = "bkg_"

	// Order numbers keep the last ten digits of the creation timestamp in
	// milliseconds. Display identifier only, never a lookup key.
	orderNumberTimestampMod = 10_000_000_000

	defaultRescheduleWindowDays = 3

	dueDateLayout = "2006-01-02"
)

var (
	// ErrBookingInvalidInput signals the caller provided invalid data.
	ErrBookingInvalidInput = errors.New("booking: invalid input")
	// ErrBookingNotFound indicates the booking could not be located.
	ErrBookingNotFound = errors.New("booking: not found")
	// ErrBookingConflict indicates a duplicate insert or concurrent modification.
	ErrBookingConflict = errors.New("booking: conflict")
	// ErrInvalidTransition indicates an illegal status change was attempted.
	ErrInvalidTransition = errors.New("booking: invalid status transition")
	// ErrRescheduleWindowExceeded indicates the requested date falls outside the policy window.
	ErrRescheduleWindowExceeded = errors.New("booking: reschedule window exceeded")
	// ErrBookingPersistence indicates a genuine storage failure.
	ErrBookingPersistence = errors.New("booking: persistence failure")
)

// BookingServiceDeps bundles collaborators required to construct the booking service.
type BookingServiceDeps struct {
	Bookings  repositories.BookingRepository
	Marketing repositories.MarketingListRepository

	RescheduleWindowDays int

	Clock       func() time.Time
	IDGenerator func() string
	Random      func(n int) int
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type bookingService struct {
	bookings  repositories.BookingRepository
	marketing repositories.MarketingListRepository

	rescheduleWindow int

	clock  func() time.Time
	newID  func() string
	random func(n int) int
	logger func(context.Context, string, map[string]any)
}

// NewBookingService wires dependencies into a concrete BookingService implementation.
func NewBookingService(deps BookingServiceDeps) (BookingService, error) {
	if deps.Bookings == nil {
		return nil, errors.New("booking service: booking repository is required")
	}

	window := deps.RescheduleWindowDays
	if window <= 0 {
		window = defaultRescheduleWindowDays
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	random := deps.Random
	if random == nil {
		random = rand.IntN
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &bookingService{
		bookings:         deps.Bookings,
		marketing:        deps.Marketing,
		rescheduleWindow: window,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		random: random,
		logger: logger,
	}, nil
}

// GenerateOrderNumber produces a human-shareable order identifier. Collisions
// are possible in the same millisecond; the random suffix keeps the odds
// negligible at expected volume.
func (s *bookingService) GenerateOrderNumber() string {
	stamp := s.clock().UnixMilli() % orderNumberTimestampMod
	return fmt.Sprintf("%010d-%03d", stamp, s.random(1000))
}

func (s *bookingService) CreateBooking(ctx context.Context, cmd CreateBookingCommand) (domain.Booking, error) {
	if strings.TrimSpace(cmd.Item.Name) == "" {
		return domain.Booking{}, fmt.Errorf("%w: item name is required", ErrBookingInvalidInput)
	}
	if cmd.DueDate.IsZero() {
		return domain.Booking{}, fmt.Errorf("%w: due date is required", ErrBookingInvalidInput)
	}
	if strings.TrimSpace(cmd.Payment.SessionID) == "" {
		return domain.Booking{}, fmt.Errorf("%w: payment session reference is required", ErrBookingInvalidInput)
	}

	orderNumber := strings.TrimSpace(cmd.OrderNumber)
	if orderNumber == "" {
		orderNumber = s.GenerateOrderNumber()
	}

	now := s.clock()
	booking := domain.Booking{
		ID:          bookingIDPrefix + s.newID(),
		OrderNumber: orderNumber,
		Status:      domain.BookingStatusPending,
		DueDate:     cmd.DueDate.UTC(),
		CreatedAt:   now,
		UpdatedAt:   now,

		Customer: cmd.Customer,

		ProductRef: cmd.Item.ProductRef,
		Name:       cmd.Item.Name,
		Size:       cmd.Item.Size,
		Flavor:     cmd.Item.Flavor,
		Notes:      cmd.Item.Notes,
		AddOns:     cloneAddOns(cmd.Item.AddOns),
		Price:      snapshotPrice(cmd.Item),

		PrintImage:           cmd.Item.PrintImage,
		InspirationImage:     cmd.Item.InspirationImage,
		ReproduceInspiration: cmd.Item.ReproduceInspiration,

		Fulfillment: cmd.Fulfillment,
		Payment:     cmd.Payment,
	}

	insert := s.bookings.Insert
	if cmd.ClaimSession {
		insert = s.bookings.InsertWithClaim
	}
	if err := insert(ctx, booking); err != nil {
		return domain.Booking{}, s.mapRepositoryError(err)
	}

	s.recordMarketingContact(ctx, cmd.Customer)

	s.logger(ctx, "booking.created", map[string]any{
		"bookingId":   booking.ID,
		"orderNumber": booking.OrderNumber,
		"dueDate":     booking.DueDate.Format(dueDateLayout),
	})

	return booking, nil
}

func (s *bookingService) GetBooking(ctx context.Context, bookingID string) (domain.Booking, error) {
	id := strings.TrimSpace(bookingID)
	if id == "" {
		return domain.Booking{}, fmt.Errorf("%w: booking id is required", ErrBookingInvalidInput)
	}
	booking, err := s.bookings.FindByID(ctx, id)
	if err != nil {
		return domain.Booking{}, s.mapRepositoryError(err)
	}
	return booking, nil
}

func (s *bookingService) ListBookings(ctx context.Context, dueRange domain.DueRange) ([]domain.Booking, error) {
	if !dueRange.From.IsZero() && !dueRange.To.IsZero() && dueRange.To.Before(dueRange.From) {
		return nil, fmt.Errorf("%w: range end precedes range start", ErrBookingInvalidInput)
	}
	bookings, err := s.bookings.ListByDueRange(ctx, dueRange)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	return bookings, nil
}

func (s *bookingService) UpdateStatus(ctx context.Context, bookingID string, status domain.BookingStatus) (domain.Booking, error) {
	booking, err := s.GetBooking(ctx, bookingID)
	if err != nil {
		return domain.Booking{}, err
	}

	if !domain.CanTransition(booking.Status, status) {
		return domain.Booking{}, fmt.Errorf("%w: %s to %s", ErrInvalidTransition, booking.Status, status)
	}
	if booking.Status == status {
		return booking, nil
	}

	if err := s.bookings.UpdateStatus(ctx, booking.ID, status); err != nil {
		return domain.Booking{}, s.mapRepositoryError(err)
	}

	previous := booking.Status
	booking.Status = status
	booking.UpdatedAt = s.clock()

	s.logger(ctx, "booking.status.changed", map[string]any{
		"bookingId": booking.ID,
		"from":      string(previous),
		"to":        string(status),
	})

	return booking, nil
}

func (s *bookingService) Reschedule(ctx context.Context, cmd RescheduleCommand) (domain.Booking, error) {
	if cmd.NewDate.IsZero() {
		return domain.Booking{}, fmt.Errorf("%w: new date is required", ErrBookingInvalidInput)
	}

	booking, err := s.GetBooking(ctx, cmd.BookingID)
	if err != nil {
		return domain.Booking{}, err
	}

	if booking.Status != domain.BookingStatusPending && booking.Status != domain.BookingStatusConfirmed {
		return domain.Booking{}, fmt.Errorf("%w: cannot reschedule a %s booking", ErrInvalidTransition, booking.Status)
	}

	newDate := truncateToDate(cmd.NewDate)
	if days := daysBetween(truncateToDate(booking.DueDate), newDate); days > s.rescheduleWindow {
		return domain.Booking{}, fmt.Errorf("%w: %d day(s) from original date, window is %d", ErrRescheduleWindowExceeded, days, s.rescheduleWindow)
	}

	fulfillment := booking.Fulfillment
	fulfillment.Date = newDate.Format(dueDateLayout)
	if slot := strings.TrimSpace(cmd.NewTime); slot != "" {
		fulfillment.Time = slot
	}

	if err := s.bookings.UpdateSchedule(ctx, booking.ID, newDate, fulfillment); err != nil {
		return domain.Booking{}, s.mapRepositoryError(err)
	}

	s.logger(ctx, "booking.rescheduled", map[string]any{
		"bookingId": booking.ID,
		"from":      booking.DueDate.Format(dueDateLayout),
		"to":        newDate.Format(dueDateLayout),
	})

	booking.DueDate = newDate
	booking.Fulfillment = fulfillment
	booking.UpdatedAt = s.clock()
	return booking, nil
}

func (s *bookingService) Forfeit(ctx context.Context, bookingID string) (domain.Booking, error) {
	return s.UpdateStatus(ctx, bookingID, domain.BookingStatusForfeited)
}

// recordMarketingContact is fire-and-forget; a completed order must never fail
// because the mailing list write did.
func (s *bookingService) recordMarketingContact(ctx context.Context, customer domain.Customer) {
	if s.marketing == nil || strings.TrimSpace(customer.Email) == "" {
		return
	}
	if err := s.marketing.Add(ctx, customer); err != nil {
		s.logger(ctx, "booking.marketing.failed", map[string]any{"error": err.Error()})
	}
}

func (s *bookingService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrBookingNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrBookingConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrBookingPersistence, err)
		}
	}

	return fmt.Errorf("%w: %v", ErrBookingPersistence, err)
}

func snapshotPrice(item domain.CartLineItem) float64 {
	price := item.UnitPrice
	for _, addOn := range item.AddOns {
		price += addOn.Price
	}
	return price
}

func cloneAddOns(addOns []domain.AddOn) []domain.AddOn {
	if len(addOns) == 0 {
		return nil
	}
	cloned := make([]domain.AddOn, len(addOns))
	copy(cloned, addOns)
	return cloned
}

func truncateToDate(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func daysBetween(a, b time.Time) int {
	days := int(b.Sub(a).Hours() / 24)
	if days < 0 {
		days = -days
	}
	return days
}
