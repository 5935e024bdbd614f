package services

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/sugarbloom/api/internal/domain"
)

type stubBookingRepo struct {
	insertFn          func(context.Context, domain.Booking) error
	findFn            func(context.Context, string) (domain.Booking, error)
	findByPaymentFn   func(context.Context, string) ([]domain.Booking, error)
	listFn            func(context.Context, domain.DueRange) ([]domain.Booking, error)
	updateStatusFn    func(context.Context, string, domain.BookingStatus) error
	updateScheduleFn  func(context.Context, string, time.Time, domain.Fulfillment) error
	updateAssetRefsFn func(context.Context, string, string, string) error
	insertWithClaimFn func(context.Context, domain.Booking) error
}

func (s *stubBookingRepo) Insert(ctx context.Context, booking domain.Booking) error {
	if s.insertFn != nil {
		return s.insertFn(ctx, booking)
	}
	return nil
}

func (s *stubBookingRepo) FindByID(ctx context.Context, id string) (domain.Booking, error) {
	if s.findFn != nil {
		return s.findFn(ctx, id)
	}
	return domain.Booking{}, &stubRepoError{notFound: true}
}

func (s *stubBookingRepo) FindByPaymentRef(ctx context.Context, ref string) ([]domain.Booking, error) {
	if s.findByPaymentFn != nil {
		return s.findByPaymentFn(ctx, ref)
	}
	return nil, nil
}

func (s *stubBookingRepo) ListByDueRange(ctx context.Context, dueRange domain.DueRange) ([]domain.Booking, error) {
	if s.listFn != nil {
		return s.listFn(ctx, dueRange)
	}
	return nil, nil
}

func (s *stubBookingRepo) UpdateStatus(ctx context.Context, id string, status domain.BookingStatus) error {
	if s.updateStatusFn != nil {
		return s.updateStatusFn(ctx, id, status)
	}
	return nil
}

func (s *stubBookingRepo) UpdateSchedule(ctx context.Context, id string, dueDate time.Time, fulfillment domain.Fulfillment) error {
	if s.updateScheduleFn != nil {
		return s.updateScheduleFn(ctx, id, dueDate, fulfillment)
	}
	return nil
}

func (s *stubBookingRepo) UpdateAssetRefs(ctx context.Context, id, printImage, inspirationImage string) error {
	if s.updateAssetRefsFn != nil {
		return s.updateAssetRefsFn(ctx, id, printImage, inspirationImage)
	}
	return nil
}

func (s *stubBookingRepo) InsertWithClaim(ctx context.Context, booking domain.Booking) error {
	if s.insertWithClaimFn != nil {
		return s.insertWithClaimFn(ctx, booking)
	}
	return nil
}

type stubMarketingRepo struct {
	addFn func(context.Context, domain.Customer) error
	added []domain.Customer
}

func (s *stubMarketingRepo) Add(ctx context.Context, customer domain.Customer) error {
	if s.addFn != nil {
		return s.addFn(ctx, customer)
	}
	s.added = append(s.added, customer)
	return nil
}

func newTestBookingService(t *testing.T, deps BookingServiceDeps) BookingService {
	t.Helper()
	if deps.Clock == nil {
		deps.Clock = func() time.Time {
			return time.Date(2026, time.September, 1, 12, 0, 0, 0, time.UTC)
		}
	}
	svc, err := NewBookingService(deps)
	if err != nil {
		t.Fatalf("NewBookingService returned error: %v", err)
	}
	return svc
}

func validCreateCommand() CreateBookingCommand {
	return CreateBookingCommand{
		Customer: domain.Customer{Name: "Dana", Email: "dana@example.com"},
		Item: domain.CartLineItem{
			Name:      "Chocolate Fudge",
			Size:      "8 inch",
			UnitPrice: 40,
			AddOns:    []domain.AddOn{{Name: "Candles", Price: 2.5}},
		},
		DueDate:     time.Date(2026, time.October, 3, 0, 0, 0, 0, time.UTC),
		Fulfillment: domain.Fulfillment{Mode: domain.FulfillmentPickup, Date: "2026-10-03", Time: "14:00"},
		Payment:     domain.PaymentRef{SessionID: "cs_test_1", IntentID: "pi_1", AmountPaid: 42.5, Status: "paid"},
	}
}

func TestGenerateOrderNumberFormat(t *testing.T) {
	svc := newTestBookingService(t, BookingServiceDeps{
		Bookings: &stubBookingRepo{},
		Random:   func(int) int { return 7 },
	})

	number := svc.GenerateOrderNumber()
	if !regexp.MustCompile(`^\d{10}-\d{3}$`).MatchString(number) {
		t.Fatalf("unexpected order number format: %q", number)
	}
	if number[11:] != "007" {
		t.Fatalf("expected zero-padded random suffix, got %q", number)
	}
}

// Order numbers carry no uniqueness guarantee, only a documented low collision
// rate from the random suffix on top of the millisecond stamp.
func TestGenerateOrderNumberCollisionRate(t *testing.T) {
	svc := newTestBookingService(t, BookingServiceDeps{
		Bookings: &stubBookingRepo{},
		Clock:    time.Now,
	})

	const n = 1000
	var (
		mu   sync.Mutex
		seen = make(map[string]int, n)
		wg   sync.WaitGroup
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			number := svc.GenerateOrderNumber()
			mu.Lock()
			seen[number]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	collisions := n - len(seen)
	if collisions > n/4 {
		t.Fatalf("collision rate too high: %d of %d", collisions, n)
	}
}

func TestCreateBookingSnapshotsItem(t *testing.T) {
	var inserted domain.Booking
	repo := &stubBookingRepo{
		insertFn: func(_ context.Context, booking domain.Booking) error {
			inserted = booking
			return nil
		},
	}
	marketing := &stubMarketingRepo{}
	svc := newTestBookingService(t, BookingServiceDeps{Bookings: repo, Marketing: marketing})

	booking, err := svc.CreateBooking(context.Background(), validCreateCommand())
	if err != nil {
		t.Fatalf("CreateBooking returned error: %v", err)
	}

	if booking.Status != domain.BookingStatusPending {
		t.Fatalf("expected pending status, got %s", booking.Status)
	}
	if len(booking.ID) <= len("bkg_") || booking.ID[:4] != "bkg_" {
		t.Fatalf("unexpected booking id %q", booking.ID)
	}
	if inserted.Price != 42.5 {
		t.Fatalf("expected price snapshot 42.5 (unit + add-ons), got %v", inserted.Price)
	}
	if inserted.Payment.SessionID != "cs_test_1" {
		t.Fatalf("payment reference not persisted: %+v", inserted.Payment)
	}
	if len(marketing.added) != 1 || marketing.added[0].Email != "dana@example.com" {
		t.Fatalf("expected marketing contact recorded, got %+v", marketing.added)
	}
}

func TestCreateBookingSwallowsMarketingFailure(t *testing.T) {
	marketing := &stubMarketingRepo{
		addFn: func(context.Context, domain.Customer) error {
			return errors.New("mailing list down")
		},
	}
	svc := newTestBookingService(t, BookingServiceDeps{Bookings: &stubBookingRepo{}, Marketing: marketing})

	if _, err := svc.CreateBooking(context.Background(), validCreateCommand()); err != nil {
		t.Fatalf("marketing failure must not fail booking creation: %v", err)
	}
}

func TestCreateBookingValidatesInput(t *testing.T) {
	svc := newTestBookingService(t, BookingServiceDeps{Bookings: &stubBookingRepo{}})

	cases := []struct {
		name   string
		mutate func(*CreateBookingCommand)
	}{
		{name: "missing item name", mutate: func(cmd *CreateBookingCommand) { cmd.Item.Name = " " }},
		{name: "missing due date", mutate: func(cmd *CreateBookingCommand) { cmd.DueDate = time.Time{} }},
		{name: "missing session ref", mutate: func(cmd *CreateBookingCommand) { cmd.Payment.SessionID = "" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cmd := validCreateCommand()
			tc.mutate(&cmd)
			if _, err := svc.CreateBooking(context.Background(), cmd); !errors.Is(err, ErrBookingInvalidInput) {
				t.Fatalf("expected ErrBookingInvalidInput, got %v", err)
			}
		})
	}
}

func TestCreateBookingClaimSessionUsesClaimingInsert(t *testing.T) {
	var claimed, inserted bool
	repo := &stubBookingRepo{
		insertFn: func(context.Context, domain.Booking) error {
			inserted = true
			return nil
		},
		insertWithClaimFn: func(_ context.Context, booking domain.Booking) error {
			claimed = true
			if booking.Payment.SessionID != "cs_test_1" {
				t.Fatalf("claiming insert got session %q", booking.Payment.SessionID)
			}
			return nil
		},
	}
	svc := newTestBookingService(t, BookingServiceDeps{Bookings: repo})

	cmd := validCreateCommand()
	cmd.ClaimSession = true
	if _, err := svc.CreateBooking(context.Background(), cmd); err != nil {
		t.Fatalf("CreateBooking returned error: %v", err)
	}
	if !claimed || inserted {
		t.Fatalf("expected claiming insert only, claimed=%v inserted=%v", claimed, inserted)
	}
}

func TestCreateBookingClaimConflictMapped(t *testing.T) {
	repo := &stubBookingRepo{
		insertWithClaimFn: func(context.Context, domain.Booking) error {
			return &stubRepoError{conflict: true}
		},
	}
	svc := newTestBookingService(t, BookingServiceDeps{Bookings: repo})

	cmd := validCreateCommand()
	cmd.ClaimSession = true
	if _, err := svc.CreateBooking(context.Background(), cmd); !errors.Is(err, ErrBookingConflict) {
		t.Fatalf("expected ErrBookingConflict, got %v", err)
	}
}

func TestUpdateStatusEnforcesTransitions(t *testing.T) {
	cases := []struct {
		name    string
		current domain.BookingStatus
		target  domain.BookingStatus
		wantErr error
	}{
		{name: "pending to confirmed", current: domain.BookingStatusPending, target: domain.BookingStatusConfirmed},
		{name: "confirmed back to pending", current: domain.BookingStatusConfirmed, target: domain.BookingStatusPending},
		{name: "pending to forfeited", current: domain.BookingStatusPending, target: domain.BookingStatusForfeited},
		{name: "confirmed to forfeited", current: domain.BookingStatusConfirmed, target: domain.BookingStatusForfeited},
		{name: "forfeited to pending", current: domain.BookingStatusForfeited, target: domain.BookingStatusPending, wantErr: ErrInvalidTransition},
		{name: "forfeited to confirmed", current: domain.BookingStatusForfeited, target: domain.BookingStatusConfirmed, wantErr: ErrInvalidTransition},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo := &stubBookingRepo{
				findFn: func(_ context.Context, id string) (domain.Booking, error) {
					return domain.Booking{ID: id, Status: tc.current}, nil
				},
			}
			svc := newTestBookingService(t, BookingServiceDeps{Bookings: repo})

			booking, err := svc.UpdateStatus(context.Background(), "bkg_1", tc.target)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("UpdateStatus returned error: %v", err)
			}
			if booking.Status != tc.target {
				t.Fatalf("expected status %s, got %s", tc.target, booking.Status)
			}
		})
	}
}

func TestUpdateStatusMapsNotFound(t *testing.T) {
	svc := newTestBookingService(t, BookingServiceDeps{Bookings: &stubBookingRepo{}})

	_, err := svc.UpdateStatus(context.Background(), "bkg_missing", domain.BookingStatusConfirmed)
	if !errors.Is(err, ErrBookingNotFound) {
		t.Fatalf("expected ErrBookingNotFound, got %v", err)
	}
}

func TestRescheduleWithinWindow(t *testing.T) {
	original := time.Date(2026, time.October, 3, 0, 0, 0, 0, time.UTC)
	var scheduledDate time.Time
	var scheduledFulfillment domain.Fulfillment
	repo := &stubBookingRepo{
		findFn: func(_ context.Context, id string) (domain.Booking, error) {
			return domain.Booking{
				ID:          id,
				Status:      domain.BookingStatusPending,
				DueDate:     original,
				Fulfillment: domain.Fulfillment{Mode: domain.FulfillmentPickup, Date: "2026-10-03", Time: "14:00"},
			}, nil
		},
		updateScheduleFn: func(_ context.Context, _ string, dueDate time.Time, fulfillment domain.Fulfillment) error {
			scheduledDate = dueDate
			scheduledFulfillment = fulfillment
			return nil
		},
	}
	svc := newTestBookingService(t, BookingServiceDeps{Bookings: repo, RescheduleWindowDays: 3})

	booking, err := svc.Reschedule(context.Background(), RescheduleCommand{
		BookingID: "bkg_1",
		NewDate:   original.AddDate(0, 0, 2),
		NewTime:   "16:30",
	})
	if err != nil {
		t.Fatalf("Reschedule returned error: %v", err)
	}
	if !scheduledDate.Equal(original.AddDate(0, 0, 2)) {
		t.Fatalf("unexpected persisted due date: %v", scheduledDate)
	}
	if scheduledFulfillment.Time != "16:30" || scheduledFulfillment.Date != "2026-10-05" {
		t.Fatalf("unexpected fulfillment: %+v", scheduledFulfillment)
	}
	if !booking.DueDate.Equal(scheduledDate) {
		t.Fatalf("returned booking not updated: %v", booking.DueDate)
	}
}

func TestRescheduleOutsideWindowRejected(t *testing.T) {
	original := time.Date(2026, time.October, 3, 0, 0, 0, 0, time.UTC)
	repo := &stubBookingRepo{
		findFn: func(_ context.Context, id string) (domain.Booking, error) {
			return domain.Booking{ID: id, Status: domain.BookingStatusConfirmed, DueDate: original}, nil
		},
	}
	svc := newTestBookingService(t, BookingServiceDeps{Bookings: repo, RescheduleWindowDays: 3})

	_, err := svc.Reschedule(context.Background(), RescheduleCommand{
		BookingID: "bkg_1",
		NewDate:   original.AddDate(0, 0, 5),
	})
	if !errors.Is(err, ErrRescheduleWindowExceeded) {
		t.Fatalf("expected ErrRescheduleWindowExceeded, got %v", err)
	}
}

func TestRescheduleForfeitedRejected(t *testing.T) {
	repo := &stubBookingRepo{
		findFn: func(_ context.Context, id string) (domain.Booking, error) {
			return domain.Booking{ID: id, Status: domain.BookingStatusForfeited, DueDate: time.Now()}, nil
		},
	}
	svc := newTestBookingService(t, BookingServiceDeps{Bookings: repo})

	_, err := svc.Reschedule(context.Background(), RescheduleCommand{BookingID: "bkg_1", NewDate: time.Now()})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestForfeitTransitionsBooking(t *testing.T) {
	var updated domain.BookingStatus
	repo := &stubBookingRepo{
		findFn: func(_ context.Context, id string) (domain.Booking, error) {
			return domain.Booking{ID: id, Status: domain.BookingStatusConfirmed}, nil
		},
		updateStatusFn: func(_ context.Context, _ string, status domain.BookingStatus) error {
			updated = status
			return nil
		},
	}
	svc := newTestBookingService(t, BookingServiceDeps{Bookings: repo})

	if _, err := svc.Forfeit(context.Background(), "bkg_1"); err != nil {
		t.Fatalf("Forfeit returned error: %v", err)
	}
	if updated != domain.BookingStatusForfeited {
		t.Fatalf("expected forfeited, got %s", updated)
	}
}
