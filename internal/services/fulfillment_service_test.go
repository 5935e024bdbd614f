package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sugarbloom/api/internal/domain"
	"github.com/sugarbloom/api/internal/platform/events"
)

type memBookingRepo struct {
	mu       sync.Mutex
	bookings []domain.Booking
	claims   map[string]bool

	// concealed surfaces on the first claim conflict, simulating a concurrent
	// winner whose writes land between the existence check and our insert.
	concealed []domain.Booking
}

func newMemBookingRepo() *memBookingRepo {
	return &memBookingRepo{claims: make(map[string]bool)}
}

func (m *memBookingRepo) Insert(_ context.Context, booking domain.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bookings = append(m.bookings, booking)
	return nil
}

func (m *memBookingRepo) FindByID(_ context.Context, id string) (domain.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, booking := range m.bookings {
		if booking.ID == id {
			return booking, nil
		}
	}
	return domain.Booking{}, &stubRepoError{notFound: true}
}

func (m *memBookingRepo) FindByPaymentRef(_ context.Context, ref string) ([]domain.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matched []domain.Booking
	for _, booking := range m.bookings {
		if booking.Payment.SessionID == ref {
			matched = append(matched, booking)
		}
	}
	return matched, nil
}

func (m *memBookingRepo) ListByDueRange(context.Context, domain.DueRange) ([]domain.Booking, error) {
	return nil, nil
}

func (m *memBookingRepo) UpdateStatus(_ context.Context, id string, status domain.BookingStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.bookings {
		if m.bookings[i].ID == id {
			m.bookings[i].Status = status
			return nil
		}
	}
	return &stubRepoError{notFound: true}
}

func (m *memBookingRepo) UpdateSchedule(_ context.Context, id string, dueDate time.Time, fulfillment domain.Fulfillment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.bookings {
		if m.bookings[i].ID == id {
			m.bookings[i].DueDate = dueDate
			m.bookings[i].Fulfillment = fulfillment
			return nil
		}
	}
	return &stubRepoError{notFound: true}
}

func (m *memBookingRepo) UpdateAssetRefs(_ context.Context, id, printImage, inspirationImage string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.bookings {
		if m.bookings[i].ID == id {
			m.bookings[i].PrintImage = printImage
			m.bookings[i].InspirationImage = inspirationImage
			return nil
		}
	}
	return &stubRepoError{notFound: true}
}

func (m *memBookingRepo) InsertWithClaim(_ context.Context, booking domain.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ref := booking.Payment.SessionID
	if m.claims[ref] {
		m.bookings = append(m.bookings, m.concealed...)
		m.concealed = nil
		return &stubRepoError{conflict: true}
	}
	m.claims[ref] = true
	m.bookings = append(m.bookings, booking)
	return nil
}

type stubResolver struct {
	resolveFn func(context.Context, string) (ResolvedCheckout, error)
}

func (s *stubResolver) Resolve(ctx context.Context, ref string) (ResolvedCheckout, error) {
	return s.resolveFn(ctx, ref)
}

type capturePublisher struct {
	mu     sync.Mutex
	events []events.BookingEvent
	err    error
}

func (c *capturePublisher) PublishBookingEvent(_ context.Context, event events.BookingEvent) (string, error) {
	if c.err != nil {
		return "", c.err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return "msg-1", nil
}

type captureNotifier struct {
	operatorCalls int
	customerCalls int
	operatorErr   error
	customerErr   error
}

func (c *captureNotifier) NotifyOperator(context.Context, []domain.Booking) error {
	c.operatorCalls++
	return c.operatorErr
}

func (c *captureNotifier) SendCustomerConfirmation(context.Context, domain.Customer, []domain.Booking) error {
	c.customerCalls++
	return c.customerErr
}

type stubPromoterSvc struct {
	promoteFn func(ctx context.Context, bookingID, ref string) (string, bool, error)
}

func (s *stubPromoterSvc) Promote(ctx context.Context, bookingID, ref string) (string, bool, error) {
	if s.promoteFn != nil {
		return s.promoteFn(ctx, bookingID, ref)
	}
	if ref == "" || !strings.Contains(ref, "uploads/tmp/") {
		return ref, false, nil
	}
	parts := strings.Split(ref, "/")
	return "bookings/" + bookingID + "/" + parts[len(parts)-1], true, nil
}

type stubDiscountRepo struct {
	findFn      func(context.Context, string) (domain.DiscountCode, error)
	incremented []string
}

func (s *stubDiscountRepo) FindByCode(ctx context.Context, code string) (domain.DiscountCode, error) {
	if s.findFn != nil {
		return s.findFn(ctx, code)
	}
	return domain.DiscountCode{ID: "disc_1", Code: code, Percent: 10, Active: true}, nil
}

func (s *stubDiscountRepo) IncrementUsage(_ context.Context, code string) error {
	s.incremented = append(s.incremented, code)
	return nil
}

type fulfillmentFixture struct {
	svc       FulfillmentService
	repo      *memBookingRepo
	publisher *capturePublisher
	notifier  *captureNotifier
	staged    *stubStagedRepo
	discounts *stubDiscountRepo
	deleted   []string
}

func cartItem(name, pickupDate string) domain.CartLineItem {
	return domain.CartLineItem{
		Name:       name,
		UnitPrice:  40,
		Mode:       domain.FulfillmentPickup,
		PickupDate: pickupDate,
		PickupTime: "14:00",
	}
}

func resolvedFixture(items ...domain.CartLineItem) ResolvedCheckout {
	return ResolvedCheckout{
		Session: paidSession("cs_test_1"),
		Checkout: domain.StagedCheckout{
			SessionRef:   "cs_test_1",
			Customer:     domain.Customer{Name: "Dana Doe", Email: "dana@example.com", Phone: "555-0100"},
			Items:        items,
			DiscountCode: "WELCOME10",
		},
		FromStaging: true,
	}
}

func newFulfillmentFixture(t *testing.T, resolved ResolvedCheckout, mutate func(*FulfillmentServiceDeps)) *fulfillmentFixture {
	t.Helper()

	fixture := &fulfillmentFixture{
		repo:      newMemBookingRepo(),
		publisher: &capturePublisher{},
		notifier:  &captureNotifier{},
		discounts: &stubDiscountRepo{},
	}
	fixture.staged = &stubStagedRepo{
		deleteFn: func(_ context.Context, ref string) error {
			fixture.deleted = append(fixture.deleted, ref)
			return nil
		},
	}

	ledger, err := NewBookingService(BookingServiceDeps{Bookings: fixture.repo})
	if err != nil {
		t.Fatalf("NewBookingService returned error: %v", err)
	}

	deps := FulfillmentServiceDeps{
		Resolver: &stubResolver{
			resolveFn: func(context.Context, string) (ResolvedCheckout, error) {
				return resolved, nil
			},
		},
		Ledger:          ledger,
		Bookings:        fixture.repo,
		StagedCheckouts: fixture.staged,
		Discounts:       fixture.discounts,
		Assets:          &stubPromoterSvc{},
		Events:          fixture.publisher,
		Mailer:          fixture.notifier,
	}
	if mutate != nil {
		mutate(&deps)
	}

	svc, err := NewFulfillmentService(deps)
	if err != nil {
		t.Fatalf("NewFulfillmentService returned error: %v", err)
	}
	fixture.svc = svc
	return fixture
}

func TestConfirmCheckoutCreatesBookingsPerItem(t *testing.T) {
	resolved := resolvedFixture(
		cartItem("Chocolate Fudge", "2026-10-03"),
		cartItem("Lemon Drizzle", "2026-10-04"),
	)
	fixture := newFulfillmentFixture(t, resolved, nil)

	result, err := fixture.svc.ConfirmCheckout(context.Background(), "cs_test_1")
	if err != nil {
		t.Fatalf("ConfirmCheckout returned error: %v", err)
	}

	if result.AlreadyProcessed {
		t.Fatal("fresh run must not report alreadyProcessed")
	}
	if len(result.Orders) != 2 {
		t.Fatalf("expected 2 orders, got %d (%+v)", len(result.Orders), result)
	}
	if len(result.Errors) != 0 {
		t.Fatalf("expected no errors, got %v", result.Errors)
	}
	if result.CustomerEmail != "dana@example.com" {
		t.Fatalf("unexpected customer email %q", result.CustomerEmail)
	}
	if result.Orders[0].OrderNumber == "" || result.Orders[0].OrderNumber != result.Orders[1].OrderNumber {
		t.Fatalf("items of one session must share an order number: %+v", result.Orders)
	}

	// Amount captured by the provider, in minor units, wins over item prices.
	for _, booking := range fixture.repo.bookings {
		if booking.Payment.AmountPaid != 42.50 {
			t.Fatalf("expected amountPaid 42.50, got %v", booking.Payment.AmountPaid)
		}
		if booking.Status != domain.BookingStatusPending {
			t.Fatalf("expected pending booking, got %s", booking.Status)
		}
	}

	if len(fixture.publisher.events) != 2 {
		t.Fatalf("expected 2 published events, got %d", len(fixture.publisher.events))
	}
	if fixture.publisher.events[0].Type != events.EventBookingCreated {
		t.Fatalf("unexpected event type %q", fixture.publisher.events[0].Type)
	}
	if fixture.notifier.operatorCalls != 1 || fixture.notifier.customerCalls != 1 {
		t.Fatalf("expected one operator and one customer mail, got %d/%d",
			fixture.notifier.operatorCalls, fixture.notifier.customerCalls)
	}
	if len(fixture.discounts.incremented) != 1 || fixture.discounts.incremented[0] != "WELCOME10" {
		t.Fatalf("expected discount usage incremented once, got %v", fixture.discounts.incremented)
	}
	if len(fixture.deleted) != 1 || fixture.deleted[0] != "cs_test_1" {
		t.Fatalf("expected staged checkout consumed, got %v", fixture.deleted)
	}
}

func TestConfirmCheckoutReplayReturnsExistingSet(t *testing.T) {
	resolved := resolvedFixture(cartItem("Chocolate Fudge", "2026-10-03"))
	fixture := newFulfillmentFixture(t, resolved, nil)

	first, err := fixture.svc.ConfirmCheckout(context.Background(), "cs_test_1")
	if err != nil {
		t.Fatalf("first ConfirmCheckout returned error: %v", err)
	}

	second, err := fixture.svc.ConfirmCheckout(context.Background(), "cs_test_1")
	if err != nil {
		t.Fatalf("second ConfirmCheckout returned error: %v", err)
	}

	if !second.AlreadyProcessed {
		t.Fatal("replay must report alreadyProcessed")
	}
	if len(second.Orders) != len(first.Orders) || second.Orders[0].ID != first.Orders[0].ID {
		t.Fatalf("replay must return the original set: first=%+v second=%+v", first.Orders, second.Orders)
	}
	if len(fixture.repo.bookings) != 1 {
		t.Fatalf("replay created bookings: %d", len(fixture.repo.bookings))
	}
	if len(fixture.publisher.events) != 1 {
		t.Fatalf("replay published extra events: %d", len(fixture.publisher.events))
	}
	if fixture.notifier.operatorCalls != 1 || fixture.notifier.customerCalls != 1 {
		t.Fatalf("replay sent extra email: %d/%d", fixture.notifier.operatorCalls, fixture.notifier.customerCalls)
	}
	if len(fixture.deleted) != 1 {
		t.Fatalf("replay touched staging again: %v", fixture.deleted)
	}
}

func TestConfirmCheckoutClaimRaceReturnsWinners(t *testing.T) {
	resolved := resolvedFixture(cartItem("Chocolate Fudge", "2026-10-03"))
	fixture := newFulfillmentFixture(t, resolved, nil)

	// Another invocation claimed the session after our existence check came
	// back empty. Its bookings become visible together with our conflict,
	// because claim and insert commit in one transaction.
	fixture.repo.claims["cs_test_1"] = true
	fixture.repo.concealed = []domain.Booking{{
		ID:          "bkg_winner",
		OrderNumber: "1234567890-001",
		Name:        "Chocolate Fudge",
		Payment:     domain.PaymentRef{SessionID: "cs_test_1"},
		Customer:    domain.Customer{Name: "Dana Doe"},
	}}

	result, err := fixture.svc.ConfirmCheckout(context.Background(), "cs_test_1")
	if err != nil {
		t.Fatalf("ConfirmCheckout returned error: %v", err)
	}
	if !result.AlreadyProcessed {
		t.Fatal("lost claim race must report alreadyProcessed")
	}
	if len(result.Orders) != 1 || result.Orders[0].ID != "bkg_winner" {
		t.Fatalf("expected the winner's bookings, got %+v", result.Orders)
	}
	if len(fixture.repo.bookings) != 1 {
		t.Fatalf("loser must not insert bookings, repo has %d", len(fixture.repo.bookings))
	}
}

func TestConfirmCheckoutClaimWithoutBookingsIsAnError(t *testing.T) {
	resolved := resolvedFixture(cartItem("Chocolate Fudge", "2026-10-03"))
	fixture := newFulfillmentFixture(t, resolved, nil)

	// A claim with no bookings behind it cannot be produced by the insert
	// path anymore. If one exists anyway the session must fail loudly rather
	// than answer as an empty, already-processed success forever.
	fixture.repo.claims["cs_test_1"] = true

	result, err := fixture.svc.ConfirmCheckout(context.Background(), "cs_test_1")
	if !errors.Is(err, ErrBookingPersistence) {
		t.Fatalf("expected ErrBookingPersistence, got %v", err)
	}
	if result.AlreadyProcessed || len(result.Orders) != 0 {
		t.Fatalf("a stranded claim must not look like a processed session: %+v", result)
	}
	if fixture.notifier.operatorCalls != 0 || fixture.notifier.customerCalls != 0 {
		t.Fatal("no mail may be sent for a session that produced no orders")
	}
	if len(fixture.deleted) != 0 {
		t.Fatalf("staged checkout must survive the failure, got %v", fixture.deleted)
	}
}

func TestConfirmCheckoutFailedFirstInsertLeavesNoClaim(t *testing.T) {
	noDate := cartItem("Dateless", "")
	noDate.OrderDate = ""

	resolved := resolvedFixture(noDate)
	fixture := newFulfillmentFixture(t, resolved, nil)

	result, err := fixture.svc.ConfirmCheckout(context.Background(), "cs_test_1")
	if err != nil {
		t.Fatalf("ConfirmCheckout returned error: %v", err)
	}
	if len(result.Orders) != 0 || len(result.Errors) != 1 {
		t.Fatalf("expected zero orders and one item error, got %+v", result)
	}
	if len(fixture.repo.claims) != 0 {
		t.Fatalf("a run without inserts must leave the session unclaimed, got %v", fixture.repo.claims)
	}
}

func TestConfirmCheckoutSkipsItemWithoutDate(t *testing.T) {
	noDate := cartItem("Item Two", "")
	noDate.PickupDate = ""
	noDate.OrderDate = ""

	resolved := resolvedFixture(
		cartItem("Item One", "2026-10-03"),
		noDate,
		cartItem("Item Three", "2026-10-05"),
	)
	fixture := newFulfillmentFixture(t, resolved, nil)

	result, err := fixture.svc.ConfirmCheckout(context.Background(), "cs_test_1")
	if err != nil {
		t.Fatalf("ConfirmCheckout returned error: %v", err)
	}

	if len(result.Orders) != 2 {
		t.Fatalf("expected 2 orders, got %d", len(result.Orders))
	}
	if len(result.Errors) != 1 {
		t.Fatalf("expected exactly 1 error, got %v", result.Errors)
	}
	if result.Errors[0] != "No date found for Item Two" {
		t.Fatalf("unexpected error message %q", result.Errors[0])
	}
}

func TestConfirmCheckoutAssetFailureIsNonFatal(t *testing.T) {
	item := cartItem("Chocolate Fudge", "2026-10-03")
	item.PrintImage = "uploads/tmp/print.png"

	resolved := resolvedFixture(item)
	fixture := newFulfillmentFixture(t, resolved, func(deps *FulfillmentServiceDeps) {
		deps.Assets = &stubPromoterSvc{
			promoteFn: func(_ context.Context, _, ref string) (string, bool, error) {
				if ref == "" {
					return ref, false, nil
				}
				return ref, false, errors.New("storage unavailable")
			},
		}
	})

	result, err := fixture.svc.ConfirmCheckout(context.Background(), "cs_test_1")
	if err != nil {
		t.Fatalf("ConfirmCheckout returned error: %v", err)
	}

	if len(result.Orders) != 1 {
		t.Fatalf("booking must survive asset failure, got %+v", result)
	}
	if len(result.Errors) != 1 {
		t.Fatalf("expected 1 asset error, got %v", result.Errors)
	}
	if fixture.repo.bookings[0].PrintImage != "uploads/tmp/print.png" {
		t.Fatalf("stored reference must stay temporary, got %q", fixture.repo.bookings[0].PrintImage)
	}
}

func TestConfirmCheckoutResolverFailureWritesNothing(t *testing.T) {
	fixture := newFulfillmentFixture(t, ResolvedCheckout{}, func(deps *FulfillmentServiceDeps) {
		deps.Resolver = &stubResolver{
			resolveFn: func(context.Context, string) (ResolvedCheckout, error) {
				return ResolvedCheckout{}, ErrPaymentNotCompleted
			},
		}
	})

	_, err := fixture.svc.ConfirmCheckout(context.Background(), "cs_test_1")
	if !errors.Is(err, ErrPaymentNotCompleted) {
		t.Fatalf("expected ErrPaymentNotCompleted, got %v", err)
	}
	if len(fixture.repo.bookings) != 0 || len(fixture.repo.claims) != 0 {
		t.Fatal("unpaid session must never reach the ledger")
	}
	if fixture.notifier.operatorCalls != 0 || len(fixture.publisher.events) != 0 {
		t.Fatal("unpaid session must trigger no notifications")
	}
}

func TestConfirmCheckoutPanicIsIsolatedPerItem(t *testing.T) {
	explosive := cartItem("Explosive", "2026-10-03")
	explosive.PrintImage = "uploads/tmp/explosive.png"

	resolved := resolvedFixture(
		explosive,
		cartItem("Calm Cake", "2026-10-04"),
	)
	fixture := newFulfillmentFixture(t, resolved, func(deps *FulfillmentServiceDeps) {
		deps.Assets = &stubPromoterSvc{
			promoteFn: func(_ context.Context, _, ref string) (string, bool, error) {
				if strings.Contains(ref, "explosive") {
					panic("boom")
				}
				return ref, false, nil
			},
		}
	})

	result, err := fixture.svc.ConfirmCheckout(context.Background(), "cs_test_1")
	if err != nil {
		t.Fatalf("ConfirmCheckout returned error: %v", err)
	}

	if len(result.Orders) != 1 || result.Orders[0].Name != "Calm Cake" {
		t.Fatalf("expected the surviving item only, got %+v", result.Orders)
	}
	found := false
	for _, msg := range result.Errors {
		if strings.Contains(msg, "Unexpected failure processing Explosive") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected generic per-item error, got %v", result.Errors)
	}
}

func TestConfirmCheckoutNotificationFailureAppended(t *testing.T) {
	resolved := resolvedFixture(cartItem("Chocolate Fudge", "2026-10-03"))
	fixture := newFulfillmentFixture(t, resolved, func(deps *FulfillmentServiceDeps) {
		deps.Mailer = &captureNotifier{
			operatorErr: errors.New("smtp down"),
			customerErr: errors.New("smtp down"),
		}
	})

	result, err := fixture.svc.ConfirmCheckout(context.Background(), "cs_test_1")
	if err != nil {
		t.Fatalf("ConfirmCheckout returned error: %v", err)
	}
	if len(result.Orders) != 1 {
		t.Fatalf("booking must survive notification failure, got %+v", result)
	}
	if len(result.Errors) != 2 {
		t.Fatalf("expected both mail failures recorded, got %v", result.Errors)
	}
}

func TestConfirmCheckoutCleanupFailuresLoggedOnly(t *testing.T) {
	resolved := resolvedFixture(cartItem("Chocolate Fudge", "2026-10-03"))
	fixture := newFulfillmentFixture(t, resolved, func(deps *FulfillmentServiceDeps) {
		deps.StagedCheckouts = &stubStagedRepo{
			deleteFn: func(context.Context, string) error {
				return errors.New("firestore unavailable")
			},
		}
		deps.Discounts = &stubDiscountRepo{
			findFn: func(context.Context, string) (domain.DiscountCode, error) {
				return domain.DiscountCode{}, &stubRepoError{notFound: true}
			},
		}
	})

	result, err := fixture.svc.ConfirmCheckout(context.Background(), "cs_test_1")
	if err != nil {
		t.Fatalf("ConfirmCheckout returned error: %v", err)
	}
	if len(result.Errors) != 0 {
		t.Fatalf("cleanup failures must not surface to the caller, got %v", result.Errors)
	}
	if len(result.Orders) != 1 {
		t.Fatalf("expected 1 order, got %+v", result.Orders)
	}
}
