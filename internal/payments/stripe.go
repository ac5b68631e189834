package payments

import (
	"context"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/paymentintent"
)

// Charger is what the reconciler needs from a payment processor.
type Charger interface {
	Charge(ctx context.Context, amount int64, currency, customerID string) (string, error)
}

// StripeCharger is a thin wrapper around stripe-go PaymentIntents used
// to settle a rider's outstanding fare.
type StripeCharger struct{}

// NewStripeCharger initializes the stripe client with the given API key.
func NewStripeCharger(apiKey string) *StripeCharger {
	stripe.Key = apiKey
	return &StripeCharger{}
}

// Charge creates and immediately captures a PaymentIntent for the fare.
// It returns the PaymentIntent ID on success.
func (s *StripeCharger) Charge(ctx context.Context, amount int64, currency, customerID string) (string, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amount),
		Currency: stripe.String(currency),
		Confirm:  stripe.Bool(true),
	}
	if customerID != "" {
		params.Customer = stripe.String(customerID)
	}
	pi, err := paymentintent.New(params)
	if err != nil {
		return "", err
	}
	return pi.ID, nil
}
