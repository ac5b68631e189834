package ratings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/example/rider-api/internal/ingest"
	"github.com/example/rider-api/internal/models"
	"github.com/example/rider-api/internal/observability"
	"github.com/example/rider-api/internal/store"
	"github.com/example/rider-api/internal/stream"
)

// Events receives ride lifecycle records; nil disables publishing.
type Events interface {
	PublishRideEvent(ev ingest.RideEvent) error
}

var (
	ErrInvalidStars = errors.New("ratings: stars must be between 1 and 5")
	ErrAlreadyRated = errors.New("ratings: ride already rated")
	ErrNoDriver     = errors.New("ratings: ride has no driver to rate")
)

// Service applies a rider's star rating to one past ride and folds it
// into the driver's running average. Rides are addressed by their stable
// ID, and the driver aggregate lives in a sum/count ledger updated with
// one atomic increment, so concurrent raters cannot understate the mean.
type Service struct {
	Store  store.Store
	Hub    *stream.Hub
	Events Events
	Logger *slog.Logger
}

// Rate records stars against the rider's past ride and returns the
// driver's updated aggregate. A second rating of the same ride fails
// with ErrAlreadyRated; the first write is never overwritten.
func (s *Service) Rate(ctx context.Context, riderID, rideID string, stars int) (models.Driver, error) {
	if stars < 1 || stars > 5 {
		return models.Driver{}, ErrInvalidStars
	}
	rider, err := s.Store.Rider(ctx, riderID)
	if err != nil {
		return models.Driver{}, fmt.Errorf("rate ride: %w", err)
	}
	var ride *models.PastRide
	for i := range rider.PastRides {
		if rider.PastRides[i].ID == rideID {
			ride = &rider.PastRides[i]
			break
		}
	}
	if ride == nil {
		return models.Driver{}, store.ErrNotFound
	}
	// a ride without a driver has no aggregate to fold into; reject
	// before the ride rating is written
	if ride.DriverID == "" {
		return models.Driver{}, ErrNoDriver
	}

	if err := s.Store.SetRideRating(ctx, riderID, rideID, stars); err != nil {
		if errors.Is(err, store.ErrAlreadyRated) {
			return models.Driver{}, ErrAlreadyRated
		}
		return models.Driver{}, fmt.Errorf("rate ride: %w", err)
	}

	driver, err := s.Store.AddDriverRating(ctx, ride.DriverID, stars)
	if err != nil {
		// The ride rating is already persisted; the driver aggregate is
		// now behind by one contribution. Surface it rather than unwind.
		s.Logger.Error("driver aggregate update failed",
			"driver_id", ride.DriverID, "ride_id", rideID, "error", err)
		return models.Driver{}, fmt.Errorf("rate ride: %w", err)
	}

	observability.RatingsTotal.Inc()
	if s.Hub != nil {
		s.Hub.Publish(stream.DriverTopic(driver.ID), "driver.rated", driver)
	}
	if s.Events != nil {
		ev := ingest.RideEvent{Kind: "ride.rated", RideID: rideID, RiderID: riderID, DriverID: driver.ID, Payload: stars}
		if err := s.Events.PublishRideEvent(ev); err != nil {
			s.Logger.Warn("rating event publish failed", "ride_id", rideID, "error", err)
		}
	}
	return driver, nil
}

// Unrated lists the rider's past rides still awaiting a rating. Rides
// without a driver cannot be rated and are excluded.
func (s *Service) Unrated(ctx context.Context, riderID string) ([]models.PastRide, error) {
	rider, err := s.Store.Rider(ctx, riderID)
	if err != nil {
		return nil, err
	}
	var out []models.PastRide
	for _, ride := range rider.PastRides {
		if ride.Rating == nil && ride.DriverID != "" {
			out = append(out, ride)
		}
	}
	return out, nil
}
