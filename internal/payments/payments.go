package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/example/rider-api/internal/ingest"
	"github.com/example/rider-api/internal/models"
	"github.com/example/rider-api/internal/notify"
	"github.com/example/rider-api/internal/observability"
	"github.com/example/rider-api/internal/store"
)

// Events receives ride lifecycle records; nil disables publishing.
type Events interface {
	PublishRideEvent(ev ingest.RideEvent) error
}

// ErrNothingDue is returned when the rider has no pending payment.
var ErrNothingDue = errors.New("payments: nothing due")

// PendingPayment is the unpaid-amount view, synthesized from rider-record
// fields rather than a specific past ride.
type PendingPayment struct {
	StartAddress       string      `json:"start_address"`
	DestinationAddress string      `json:"destination_address"`
	DistanceKm         float64     `json:"total_distance"`
	Fare               float64     `json:"total_fare"`
	Mode               models.Mode `json:"mode"`
}

// Service owns the rider's pending-payment flag: it is the only writer
// that clears it. The flag is set when a ride completes (lifecycle
// consumer) and carries no reference to a particular past ride.
type Service struct {
	Store    store.Store
	Notify   *notify.Service
	Charger  Charger // optional; nil means cash/UPI settled outside
	Currency string
	Events   Events
	Logger   *slog.Logger
}

// Pending returns the synthesized unpaid view, or ErrNothingDue when the
// flag is clear.
func (s *Service) Pending(ctx context.Context, riderID string) (PendingPayment, error) {
	rider, err := s.Store.Rider(ctx, riderID)
	if err != nil {
		return PendingPayment{}, err
	}
	if !rider.IsPayment {
		return PendingPayment{}, ErrNothingDue
	}
	return PendingPayment{
		StartAddress:       rider.UnpaidFrom,
		DestinationAddress: rider.UnpaidTo,
		DistanceKm:         rider.UnpaidKm,
		Fare:               rider.UnpaidFare,
		Mode:               rider.UnpaidMode,
	}, nil
}

// Complete settles the pending payment: charge if a processor is
// configured, clear the flag, and append a "Payment Completed"
// notification. Completing with nothing due is ErrNothingDue.
func (s *Service) Complete(ctx context.Context, riderID string) error {
	pending, err := s.Pending(ctx, riderID)
	if err != nil {
		return err
	}
	if s.Charger != nil {
		currency := s.Currency
		if currency == "" {
			currency = "inr"
		}
		amount := int64(math.Round(pending.Fare * 100))
		id, err := s.Charger.Charge(ctx, amount, currency, riderID)
		if err != nil {
			return fmt.Errorf("complete payment: %w", err)
		}
		s.Logger.Info("payment captured", "rider_id", riderID, "payment_intent", id)
	}
	if err := s.Store.ClearPaymentDue(ctx, riderID); err != nil {
		return fmt.Errorf("complete payment: %w", err)
	}
	observability.PaymentsTotal.Inc()
	if s.Notify != nil {
		if err := s.Notify.Push(ctx, riderID, "Payment Completed"); err != nil {
			s.Logger.Warn("payment notification failed", "rider_id", riderID, "error", err)
		}
	}
	if s.Events != nil {
		ev := ingest.RideEvent{Kind: "ride.paid", RiderID: riderID, Payload: pending}
		if err := s.Events.PublishRideEvent(ev); err != nil {
			s.Logger.Warn("payment event publish failed", "rider_id", riderID, "error", err)
		}
	}
	return nil
}
