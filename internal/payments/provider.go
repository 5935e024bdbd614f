package payments

import "context"

// SessionDetails is the provider-neutral view of a checkout session used by
// the fulfillment pipeline.
type SessionDetails struct {
	ID            string
	PaymentStatus string
	IntentID      string
	AmountTotal   int64
	Currency      string
	CustomerName  string
	CustomerEmail string
	CustomerPhone string
	Metadata      map[string]string
}

// Paid reports whether the provider captured payment for the session.
func (d SessionDetails) Paid() bool {
	return d.PaymentStatus == "paid"
}

// SessionRetriever fetches checkout session details from the payment provider.
type SessionRetriever interface {
	RetrieveSession(ctx context.Context, sessionID string) (SessionDetails, error)
}
