package notifications

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wneessen/go-mail"

	"github.com/sugarbloom/api/internal/domain"
	"github.com/sugarbloom/api/internal/platform/config"
)

// ErrMailerDisabled indicates the mailer was constructed without an SMTP host.
var ErrMailerDisabled = errors.New("notifications: mailer is disabled")

// Notifier delivers transactional email for the fulfillment pipeline. All
// sends are best effort; callers log failures and continue.
type Notifier interface {
	NotifyOperator(ctx context.Context, bookings []domain.Booking) error
	SendCustomerConfirmation(ctx context.Context, customer domain.Customer, bookings []domain.Booking) error
}

type mailDialer interface {
	DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error
}

// SMTPMailerDeps carries the dependencies for NewSMTPMailer.
type SMTPMailerDeps struct {
	Config config.MailConfig
	Logger func(ctx context.Context, event string, fields map[string]any)
	Clock  func() time.Time

	// Dialer overrides the SMTP client, used by tests.
	Dialer mailDialer
}

// SMTPMailer sends operator and customer email over SMTP.
type SMTPMailer struct {
	cfg    config.MailConfig
	dialer mailDialer
	logger func(ctx context.Context, event string, fields map[string]any)
	clock  func() time.Time
}

// NewSMTPMailer builds the mailer. A missing host yields a disabled mailer
// whose sends return ErrMailerDisabled rather than a construction failure,
// so local environments can run without SMTP.
func NewSMTPMailer(deps SMTPMailerDeps) (*SMTPMailer, error) {
	if deps.Config.FromAddress == "" && deps.Config.Host != "" {
		return nil, errors.New("notifications: from address is required")
	}

	dialer := deps.Dialer
	if dialer == nil && deps.Config.Host != "" {
		client, err := newSMTPClient(deps.Config)
		if err != nil {
			return nil, err
		}
		dialer = client
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	return &SMTPMailer{
		cfg:    deps.Config,
		dialer: dialer,
		logger: logger,
		clock:  func() time.Time { return clock().UTC() },
	}, nil
}

func newSMTPClient(cfg config.MailConfig) (*mail.Client, error) {
	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTimeout(30 * time.Second),
	}
	switch cfg.Port {
	case 465:
		opts = append(opts, mail.WithSSL())
	case 587:
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	default:
		opts = append(opts, mail.WithTLSPolicy(mail.TLSOpportunistic))
	}
	if cfg.Username != "" && cfg.Password != "" {
		opts = append(opts,
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
			mail.WithSMTPAuth(mail.SMTPAuthAutoDiscover),
		)
	}

	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("notifications: create smtp client: %w", err)
	}
	return client, nil
}

// NotifyOperator emails the operator a summary of the freshly created bookings.
func (m *SMTPMailer) NotifyOperator(ctx context.Context, bookings []domain.Booking) error {
	if m == nil || m.dialer == nil {
		return ErrMailerDisabled
	}
	if len(bookings) == 0 {
		return errors.New("notifications: no bookings to report")
	}
	if m.cfg.OperatorEmail == "" {
		return errors.New("notifications: operator email is not configured")
	}

	subject := fmt.Sprintf("New order %s (%d item(s))", bookings[0].OrderNumber, len(bookings))
	body := renderOperatorBody(bookings)

	if err := m.send(ctx, m.cfg.OperatorEmail, subject, body); err != nil {
		return err
	}
	m.logger(ctx, "notifications.operator.sent", map[string]any{
		"orderNumber": bookings[0].OrderNumber,
		"bookings":    len(bookings),
	})
	return nil
}

// SendCustomerConfirmation emails the customer a receipt for their bookings.
func (m *SMTPMailer) SendCustomerConfirmation(ctx context.Context, customer domain.Customer, bookings []domain.Booking) error {
	if m == nil || m.dialer == nil {
		return ErrMailerDisabled
	}
	if customer.Email == "" {
		return errors.New("notifications: customer email is required")
	}
	if len(bookings) == 0 {
		return errors.New("notifications: no bookings to report")
	}

	subject := fmt.Sprintf("Your Sugarbloom order %s is confirmed", bookings[0].OrderNumber)
	body := renderCustomerBody(customer, bookings)

	if err := m.send(ctx, customer.Email, subject, body); err != nil {
		return err
	}
	m.logger(ctx, "notifications.customer.sent", map[string]any{
		"orderNumber": bookings[0].OrderNumber,
	})
	return nil
}

func (m *SMTPMailer) send(ctx context.Context, to, subject, body string) error {
	msg := mail.NewMsg()
	if err := msg.From(m.cfg.FromAddress); err != nil {
		return fmt.Errorf("notifications: invalid from address: %w", err)
	}
	if err := msg.To(to); err != nil {
		return fmt.Errorf("notifications: invalid recipient: %w", err)
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextPlain, body)

	if err := m.dialer.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("notifications: send email: %w", err)
	}
	return nil
}

func renderOperatorBody(bookings []domain.Booking) string {
	var b strings.Builder
	fmt.Fprintf(&b, "A new paid order arrived.\n\nOrder number: %s\n", bookings[0].OrderNumber)
	fmt.Fprintf(&b, "Customer: %s <%s>\n", bookings[0].Customer.Name, bookings[0].Customer.Email)
	if bookings[0].Customer.Phone != "" {
		fmt.Fprintf(&b, "Phone: %s\n", bookings[0].Customer.Phone)
	}
	b.WriteString("\nItems:\n")
	for _, booking := range bookings {
		writeBookingLines(&b, booking)
	}
	return b.String()
}

func renderCustomerBody(customer domain.Customer, bookings []domain.Booking) string {
	var b strings.Builder
	name := customer.Name
	if name == "" {
		name = "there"
	}
	fmt.Fprintf(&b, "Hi %s,\n\nThanks for your order! Here is what we have on the books:\n\n", name)
	for _, booking := range bookings {
		writeBookingLines(&b, booking)
	}
	b.WriteString("\nWe will be in touch if we have any questions.\n\nSugarbloom\n")
	return b.String()
}

func writeBookingLines(b *strings.Builder, booking domain.Booking) {
	fmt.Fprintf(b, "- %s", booking.Name)
	if booking.Size != "" {
		fmt.Fprintf(b, " (%s)", booking.Size)
	}
	if booking.Flavor != "" {
		fmt.Fprintf(b, ", %s", booking.Flavor)
	}
	fmt.Fprintf(b, "\n  Due: %s", booking.DueDate.Format("Mon, 02 Jan 2006"))
	if booking.Fulfillment.Time != "" {
		fmt.Fprintf(b, " at %s", booking.Fulfillment.Time)
	}
	fmt.Fprintf(b, " (%s)\n", booking.Fulfillment.Mode)
	if booking.Fulfillment.Mode == domain.FulfillmentDelivery && booking.Fulfillment.Address != "" {
		fmt.Fprintf(b, "  Deliver to: %s\n", booking.Fulfillment.Address)
	}
	for _, addOn := range booking.AddOns {
		fmt.Fprintf(b, "  Add-on: %s\n", addOn.Name)
	}
	if booking.Notes != "" {
		fmt.Fprintf(b, "  Notes: %s\n", booking.Notes)
	}
}

// Ensure interface compliance.
var _ Notifier = (*SMTPMailer)(nil)
