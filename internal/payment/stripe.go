// internal/payment/stripe.go
package payment

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/checkout/session"
	"github.com/stripe/stripe-go/v72/webhook"

	"vitafit/config"
)

var ErrNotConfigured = errors.New("stripe is not configured")

type StripeClient struct {
	secretKey     string
	webhookSecret string
	priceID       string
	successURL    string
	cancelURL     string
}

func NewStripeClient(cfg config.StripeConfig) *StripeClient {
	// Set the secret key for backend operations
	stripe.Key = cfg.SecretKey

	return &StripeClient{
		secretKey:     cfg.SecretKey,
		webhookSecret: cfg.WebhookKey,
		priceID:       cfg.PriceID,
		successURL:    cfg.SuccessURL,
		cancelURL:     cfg.CancelURL,
	}
}

// CheckoutEnabled reports whether premium checkout can be offered.
func (s *StripeClient) CheckoutEnabled() bool {
	return s != nil && s.secretKey != "" && s.priceID != ""
}

// Checkout is a freshly created hosted checkout session.
type Checkout struct {
	SessionID string
	URL       string
	Amount    int64
	Currency  string
}

// CreateCheckoutSession opens a one-off premium purchase for userID.
func (s *StripeClient) CreateCheckoutSession(userID string) (*Checkout, error) {
	if !s.CheckoutEnabled() {
		return nil, ErrNotConfigured
	}
	if userID == "" {
		return nil, errors.New("checkout requires a user")
	}
	if stripe.Key != s.secretKey {
		stripe.Key = s.secretKey
	}

	params := &stripe.CheckoutSessionParams{
		PaymentMethodTypes: stripe.StringSlice([]string{
			"card",
		}),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(s.priceID),
				Quantity: stripe.Int64(1),
			},
		},
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(s.successURL),
		CancelURL:         stripe.String(s.cancelURL),
		ClientReferenceID: stripe.String(userID),
	}

	sess, err := session.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create checkout session: %w", err)
	}

	return &Checkout{
		SessionID: sess.ID,
		URL:       sess.URL,
		Amount:    sess.AmountTotal,
		Currency:  string(sess.Currency),
	}, nil
}

func (s *StripeClient) VerifyWebhookSignature(payload []byte, sig string) (stripe.Event, error) {
	if s == nil || s.webhookSecret == "" {
		return stripe.Event{}, ErrNotConfigured
	}
	return webhook.ConstructEvent(payload, sig, s.webhookSecret)
}

// CompletedCheckout is the part of a checkout.session.completed event the
// service acts on.
type CompletedCheckout struct {
	SessionID string
	UserID    string
	Amount    int64
	Currency  string
	Paid      bool
}

// ParseCompletedCheckout extracts the buyer from a checkout.session.completed event.
func ParseCompletedCheckout(event stripe.Event) (*CompletedCheckout, error) {
	if event.Type != "checkout.session.completed" {
		return nil, fmt.Errorf("unexpected event type %q", event.Type)
	}
	if event.Data == nil {
		return nil, errors.New("event has no data")
	}
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return nil, fmt.Errorf("failed to parse checkout session: %w", err)
	}
	if sess.ClientReferenceID == "" {
		return nil, fmt.Errorf("checkout session %s has no client reference", sess.ID)
	}
	return &CompletedCheckout{
		SessionID: sess.ID,
		UserID:    sess.ClientReferenceID,
		Amount:    sess.AmountTotal,
		Currency:  string(sess.Currency),
		Paid:      sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid,
	}, nil
}
