package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/sugarbloom/api/internal/domain"
	pfirestore "github.com/sugarbloom/api/internal/platform/firestore"
	"github.com/sugarbloom/api/internal/repositories"
)

const (
	bookingCollection    = "bookings"
	paymentRefCollection = "paymentRefs"
)

// BookingRepository persists booking documents in Firestore.
type BookingRepository struct {
	provider *pfirestore.Provider
	bookings *pfirestore.BaseRepository[bookingDocument]
	claims   *pfirestore.BaseRepository[paymentRefClaim]
}

// NewBookingRepository constructs a Firestore-backed booking repository.
func NewBookingRepository(provider *pfirestore.Provider) (*BookingRepository, error) {
	if provider == nil {
		return nil, errors.New("booking repository requires firestore provider")
	}
	return &BookingRepository{
		provider: provider,
		bookings: pfirestore.NewBaseRepository[bookingDocument](provider, bookingCollection, nil, nil),
		claims:   pfirestore.NewBaseRepository[paymentRefClaim](provider, paymentRefCollection, nil, nil),
	}, nil
}

// Insert creates the booking document, failing on duplicate IDs.
func (r *BookingRepository) Insert(ctx context.Context, booking domain.Booking) error {
	id := strings.TrimSpace(booking.ID)
	if id == "" {
		return errors.New("booking repository: booking id is required")
	}
	_, err := r.bookings.Create(ctx, id, encodeBooking(booking))
	return err
}

// FindByID fetches a single booking by document ID.
func (r *BookingRepository) FindByID(ctx context.Context, bookingID string) (domain.Booking, error) {
	doc, err := r.bookings.Get(ctx, bookingID)
	if err != nil {
		return domain.Booking{}, err
	}
	return decodeBooking(doc.ID, doc.Data), nil
}

// FindByPaymentRef returns all bookings created for the given checkout session.
func (r *BookingRepository) FindByPaymentRef(ctx context.Context, sessionRef string) ([]domain.Booking, error) {
	ref := strings.TrimSpace(sessionRef)
	if ref == "" {
		return nil, errors.New("booking repository: session ref is required")
	}

	docs, err := r.bookings.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("payment.sessionId", "==", ref).OrderBy("createdAt", firestore.Asc)
	})
	if err != nil {
		return nil, err
	}

	bookings := make([]domain.Booking, 0, len(docs))
	for _, doc := range docs {
		bookings = append(bookings, decodeBooking(doc.ID, doc.Data))
	}
	return bookings, nil
}

// ListByDueRange returns bookings due inside the range, ordered by due date ascending.
func (r *BookingRepository) ListByDueRange(ctx context.Context, dueRange domain.DueRange) ([]domain.Booking, error) {
	docs, err := r.bookings.Query(ctx, func(q firestore.Query) firestore.Query {
		if !dueRange.From.IsZero() {
			q = q.Where("dueDate", ">=", dueRange.From.UTC())
		}
		if !dueRange.To.IsZero() {
			q = q.Where("dueDate", "<=", dueRange.To.UTC())
		}
		return q.OrderBy("dueDate", firestore.Asc)
	})
	if err != nil {
		return nil, err
	}

	bookings := make([]domain.Booking, 0, len(docs))
	for _, doc := range docs {
		bookings = append(bookings, decodeBooking(doc.ID, doc.Data))
	}
	return bookings, nil
}

// UpdateStatus writes the new lifecycle status.
func (r *BookingRepository) UpdateStatus(ctx context.Context, bookingID string, status domain.BookingStatus) error {
	_, err := r.bookings.Update(ctx, bookingID, []firestore.Update{
		{Path: "status", Value: string(status)},
		{Path: "updatedAt", Value: firestore.ServerTimestamp},
	})
	return err
}

// UpdateSchedule moves the booking to a new due date and fulfillment slot.
func (r *BookingRepository) UpdateSchedule(ctx context.Context, bookingID string, dueDate time.Time, fulfillment domain.Fulfillment) error {
	_, err := r.bookings.Update(ctx, bookingID, []firestore.Update{
		{Path: "dueDate", Value: dueDate.UTC()},
		{Path: "fulfillment", Value: encodeFulfillment(fulfillment)},
		{Path: "updatedAt", Value: firestore.ServerTimestamp},
	})
	return err
}

// UpdateAssetRefs persists the promoted asset paths on the booking.
func (r *BookingRepository) UpdateAssetRefs(ctx context.Context, bookingID, printImage, inspirationImage string) error {
	_, err := r.bookings.Update(ctx, bookingID, []firestore.Update{
		{Path: "printImage", Value: printImage},
		{Path: "inspirationImage", Value: inspirationImage},
		{Path: "updatedAt", Value: firestore.ServerTimestamp},
	})
	return err
}

// InsertWithClaim creates the claim document under paymentRefs/{sessionID}
// and the booking document in one transaction. A crash can therefore never
// leave a claim behind without its booking. Firestore's Create fails with
// AlreadyExists when a concurrent run claimed the session first, which
// surfaces here as a conflict error.
func (r *BookingRepository) InsertWithClaim(ctx context.Context, booking domain.Booking) error {
	id := strings.TrimSpace(booking.ID)
	if id == "" {
		return errors.New("booking repository: booking id is required")
	}
	ref := strings.TrimSpace(booking.Payment.SessionID)
	if ref == "" {
		return errors.New("booking repository: session ref is required")
	}

	claimRef, err := r.claims.DocumentRef(ctx, ref)
	if err != nil {
		return err
	}
	bookingRef, err := r.bookings.DocumentRef(ctx, id)
	if err != nil {
		return err
	}

	claim := paymentRefClaim{ClaimedAt: booking.CreatedAt.UTC()}
	return r.provider.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		if err := tx.Create(claimRef, claim); err != nil {
			return err
		}
		return tx.Create(bookingRef, encodeBooking(booking))
	})
}

type paymentRefClaim struct {
	ClaimedAt time.Time `firestore:"claimedAt"`
}

type bookingDocument struct {
	OrderNumber string    `firestore:"orderNumber"`
	Status      string    `firestore:"status"`
	DueDate     time.Time `firestore:"dueDate"`
	CreatedAt   time.Time `firestore:"createdAt"`
	UpdatedAt   time.Time `firestore:"updatedAt"`

	Customer customerDocument `firestore:"customer"`

	ProductRef *string          `firestore:"productRef"`
	Name       string           `firestore:"name"`
	Size       string           `firestore:"size"`
	Flavor     string           `firestore:"flavor"`
	Notes      string           `firestore:"notes"`
	AddOns     []addOnDocument  `firestore:"addOns"`
	Price      float64          `firestore:"price"`

	PrintImage           string `firestore:"printImage"`
	InspirationImage     string `firestore:"inspirationImage"`
	ReproduceInspiration bool   `firestore:"reproduceInspiration"`

	Fulfillment fulfillmentDocument `firestore:"fulfillment"`
	Payment     paymentDocument     `firestore:"payment"`
}

type customerDocument struct {
	Name  string `firestore:"name"`
	Email string `firestore:"email"`
	Phone string `firestore:"phone"`
}

type addOnDocument struct {
	Name  string  `firestore:"name"`
	Price float64 `firestore:"price"`
}

type fulfillmentDocument struct {
	Mode    string `firestore:"mode"`
	Date    string `firestore:"date"`
	Time    string `firestore:"time"`
	Address string `firestore:"address"`
}

type paymentDocument struct {
	SessionID  string  `firestore:"sessionId"`
	IntentID   string  `firestore:"intentId"`
	AmountPaid float64 `firestore:"amountPaid"`
	Status     string  `firestore:"status"`
}

func encodeBooking(booking domain.Booking) bookingDocument {
	addOns := make([]addOnDocument, 0, len(booking.AddOns))
	for _, addOn := range booking.AddOns {
		addOns = append(addOns, addOnDocument{Name: addOn.Name, Price: addOn.Price})
	}
	return bookingDocument{
		OrderNumber: booking.OrderNumber,
		Status:      string(booking.Status),
		DueDate:     booking.DueDate.UTC(),
		CreatedAt:   booking.CreatedAt.UTC(),
		UpdatedAt:   booking.UpdatedAt.UTC(),
		Customer: customerDocument{
			Name:  booking.Customer.Name,
			Email: booking.Customer.Email,
			Phone: booking.Customer.Phone,
		},
		ProductRef:           booking.ProductRef,
		Name:                 booking.Name,
		Size:                 booking.Size,
		Flavor:               booking.Flavor,
		Notes:                booking.Notes,
		AddOns:               addOns,
		Price:                booking.Price,
		PrintImage:           booking.PrintImage,
		InspirationImage:     booking.InspirationImage,
		ReproduceInspiration: booking.ReproduceInspiration,
		Fulfillment:          encodeFulfillment(booking.Fulfillment),
		Payment: paymentDocument{
			SessionID:  booking.Payment.SessionID,
			IntentID:   booking.Payment.IntentID,
			AmountPaid: booking.Payment.AmountPaid,
			Status:     booking.Payment.Status,
		},
	}
}

func encodeFulfillment(fulfillment domain.Fulfillment) fulfillmentDocument {
	return fulfillmentDocument{
		Mode:    string(fulfillment.Mode),
		Date:    fulfillment.Date,
		Time:    fulfillment.Time,
		Address: fulfillment.Address,
	}
}

func decodeBooking(id string, doc bookingDocument) domain.Booking {
	addOns := make([]domain.AddOn, 0, len(doc.AddOns))
	for _, addOn := range doc.AddOns {
		addOns = append(addOns, domain.AddOn{Name: addOn.Name, Price: addOn.Price})
	}
	return domain.Booking{
		ID:          id,
		OrderNumber: doc.OrderNumber,
		Status:      domain.BookingStatus(doc.Status),
		DueDate:     doc.DueDate,
		CreatedAt:   doc.CreatedAt,
		UpdatedAt:   doc.UpdatedAt,
		Customer: domain.Customer{
			Name:  doc.Customer.Name,
			Email: doc.Customer.Email,
			Phone: doc.Customer.Phone,
		},
		ProductRef:           doc.ProductRef,
		Name:                 doc.Name,
		Size:                 doc.Size,
		Flavor:               doc.Flavor,
		Notes:                doc.Notes,
		AddOns:               addOns,
		Price:                doc.Price,
		PrintImage:           doc.PrintImage,
		InspirationImage:     doc.InspirationImage,
		ReproduceInspiration: doc.ReproduceInspiration,
		Fulfillment: domain.Fulfillment{
			Mode:    domain.FulfillmentMode(doc.Fulfillment.Mode),
			Date:    doc.Fulfillment.Date,
			Time:    doc.Fulfillment.Time,
			Address: doc.Fulfillment.Address,
		},
		Payment: domain.PaymentRef{
			SessionID:  doc.Payment.SessionID,
			IntentID:   doc.Payment.IntentID,
			AmountPaid: doc.Payment.AmountPaid,
			Status:     doc.Payment.Status,
		},
	}
}

// Ensure interface compliance.
var _ repositories.BookingRepository = (*BookingRepository)(nil)
