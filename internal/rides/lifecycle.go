package rides

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/rider-api/internal/models"
	"github.com/example/rider-api/internal/notify"
	"github.com/example/rider-api/internal/store"
	"github.com/example/rider-api/internal/stream"
)

// ErrStaleEvent marks a status event for a ride that is no longer the
// rider's active request; the booking was replaced or already closed.
var ErrStaleEvent = errors.New("rides: stale status event")

// ErrBadTransition marks a status event that the lifecycle forbids.
var ErrBadTransition = errors.New("rides: invalid status transition")

// StatusEvent is the driver-side lifecycle record consumed from the
// ride-events stream: matching, pickup, start, completion, cancellation.
type StatusEvent struct {
	RideID   string        `json:"ride_id"`
	RiderID  string        `json:"rider_id"`
	DriverID string        `json:"driver_id,omitempty"`
	Status   models.Status `json:"status"`
	At       time.Time     `json:"at"`
}

// Lifecycle applies external status transitions to the rider's active
// request and runs the completion side effects: append the past ride,
// raise the pending-payment flag, notify the rider.
type Lifecycle struct {
	Store  store.Store
	Hub    *stream.Hub
	Notify *notify.Service
	Logger *slog.Logger
}

func (l *Lifecycle) Apply(ctx context.Context, ev StatusEvent) error {
	req, err := l.Store.ActiveRequest(ctx, ev.RiderID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrStaleEvent
		}
		return err
	}
	if ev.RideID != "" && ev.RideID != req.ID {
		return ErrStaleEvent
	}
	if !models.CanTransition(req.Status, ev.Status) {
		return fmt.Errorf("%w: %s -> %s", ErrBadTransition, req.Status, ev.Status)
	}

	at := ev.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	req.Status = ev.Status
	switch ev.Status {
	case models.StatusAccepted:
		req.DriverID = ev.DriverID
		req.AcceptedAt = at
	case models.StatusOngoing:
		req.StartedAt = at
	case models.StatusCompleted:
		req.CompletedAt = at
	case models.StatusCancelled:
		req.CancelledAt = at
		req.CancelledBy = ev.DriverID
	}
	if err := l.Store.UpdateRequest(ctx, req); err != nil {
		return fmt.Errorf("apply status: %w", err)
	}
	if l.Hub != nil {
		l.Hub.Publish(stream.RideTopic(req.RiderID), "ride.updated", req)
	}

	switch ev.Status {
	case models.StatusAccepted:
		l.push(ctx, req.RiderID, "Driver assigned to your ride")
	case models.StatusCompleted:
		if err := l.complete(ctx, req, at); err != nil {
			return err
		}
	case models.StatusCancelled:
		l.push(ctx, req.RiderID, "Your ride was cancelled")
	}
	return nil
}

// complete appends the ride to the rider's history, raises the payment
// flag with the synthesized unpaid fields, and notifies.
func (l *Lifecycle) complete(ctx context.Context, req models.RideRequest, at time.Time) error {
	past := models.PastRide{
		ID:          req.ID,
		DriverID:    req.DriverID,
		Mode:        req.Mode,
		StartAddr:   req.PickupAddress,
		DestAddr:    req.DropAddress,
		DistanceKm:  req.DistanceKm,
		Fare:        req.Fare,
		CompletedAt: at,
	}
	if err := l.Store.AppendPastRide(ctx, req.RiderID, past); err != nil {
		return fmt.Errorf("append past ride: %w", err)
	}
	if err := l.Store.SetPaymentDue(ctx, req.RiderID, past); err != nil {
		return fmt.Errorf("set payment due: %w", err)
	}
	l.push(ctx, req.RiderID, "Ride completed, payment pending")
	return nil
}

func (l *Lifecycle) push(ctx context.Context, riderID, text string) {
	if l.Notify == nil {
		return
	}
	if err := l.Notify.Push(ctx, riderID, text); err != nil {
		l.Logger.Warn("lifecycle notification failed", "rider_id", riderID, "error", err)
	}
}
