package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
)

// StripeLogger defines the logging contract for Stripe provider operations.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripeSessionAPI interface {
	Get(id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

// StripeProviderConfig configures the StripeProvider.
type StripeProviderConfig struct {
	APIKey   string
	Backends *stripe.Backends
	Logger   StripeLogger
	Sessions stripeSessionAPI
}

// StripeProvider implements SessionRetriever using the Stripe Checkout API.
type StripeProvider struct {
	sessions stripeSessionAPI
	logger   StripeLogger
}

// NewStripeProvider constructs a Stripe-backed session retriever.
func NewStripeProvider(cfg StripeProviderConfig) (*StripeProvider, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.Sessions == nil {
		return nil, errors.New("stripe: api key is required")
	}

	sessions := cfg.Sessions
	if sessions == nil {
		sc := client.New(apiKey, cfg.Backends)
		sessions = sc.CheckoutSessions
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &StripeProvider{
		sessions: sessions,
		logger:   logger,
	}, nil
}

// RetrieveSession loads the checkout session with its payment intent expanded.
func (p *StripeProvider) RetrieveSession(ctx context.Context, sessionID string) (SessionDetails, error) {
	if p == nil || p.sessions == nil {
		return SessionDetails{}, errors.New("stripe: provider is nil")
	}

	id := strings.TrimSpace(sessionID)
	if id == "" {
		return SessionDetails{}, errors.New("stripe: session id is required")
	}

	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	params.AddExpand("payment_intent")

	session, err := p.sessions.Get(id, params)
	if err != nil {
		return SessionDetails{}, fmt.Errorf("stripe: retrieve checkout session: %w", err)
	}
	if session == nil {
		return SessionDetails{}, errors.New("stripe: empty checkout session response")
	}

	details := SessionDetails{
		ID:            session.ID,
		PaymentStatus: string(session.PaymentStatus),
		AmountTotal:   session.AmountTotal,
		Currency:      string(session.Currency),
		Metadata:      session.Metadata,
	}
	if session.PaymentIntent != nil {
		details.IntentID = session.PaymentIntent.ID
	}
	if session.CustomerDetails != nil {
		details.CustomerName = session.CustomerDetails.Name
		details.CustomerEmail = session.CustomerDetails.Email
		details.CustomerPhone = session.CustomerDetails.Phone
	}

	p.logger(ctx, "stripe.session.retrieved", map[string]any{
		"sessionId":     details.ID,
		"paymentStatus": details.PaymentStatus,
	})

	return details, nil
}

// Ensure interface compliance.
var _ SessionRetriever = (*StripeProvider)(nil)
