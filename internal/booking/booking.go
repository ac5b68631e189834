package booking

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/rider-api/internal/fare"
	"github.com/example/rider-api/internal/geocode"
	"github.com/example/rider-api/internal/ingest"
	"github.com/example/rider-api/internal/models"
	"github.com/example/rider-api/internal/observability"
	"github.com/example/rider-api/internal/store"
	"github.com/example/rider-api/internal/stream"
)

var (
	// ErrBookingFailed wraps a failed request write. The caller keeps the
	// rider's entered fields for retry; nothing is cleared on failure.
	ErrBookingFailed = errors.New("booking: request write failed")
	// ErrNotCancellable is returned when the active ride has already
	// left a cancellable state.
	ErrNotCancellable = errors.New("booking: ride not cancellable")
)

// Geocoder resolves addresses and driving routes.
type Geocoder interface {
	Search(ctx context.Context, text string) (geocode.Place, error)
	DriveRoute(ctx context.Context, from, to geocode.Point) (geocode.Route, error)
}

// Events receives ride lifecycle records; nil disables publishing.
type Events interface {
	PublishRideEvent(ev ingest.RideEvent) error
}

// Quote is a fully resolved booking estimate: both addresses geocoded,
// a driving route found, and a fare computed from the route distance.
type Quote struct {
	PickupAddress string          `json:"pickup_address"`
	DropAddress   string          `json:"drop_address"`
	Pickup        models.Coord    `json:"pickup"`
	Drop          models.Coord    `json:"drop"`
	Geometry      []geocode.Point `json:"geometry"`
	DistanceKm    float64         `json:"distance_km"`
	Mode          models.Mode     `json:"mode"`
	Fare          float64         `json:"fare"`
}

// Service runs the booking workflow: resolve -> estimate -> write.
type Service struct {
	Geo    Geocoder
	Store  store.Store
	Hub    *stream.Hub
	Events Events
	Logger *slog.Logger
}

// Quote resolves both addresses, computes the driving route and prices
// it. A booking is only finalized from a successful quote; when either
// lookup fails the whole quote fails with ErrRouteUnavailable.
func (s *Service) Quote(ctx context.Context, pickup, drop string, mode models.Mode) (Quote, error) {
	if !mode.Valid() {
		mode = models.ModeAuto
	}
	start := time.Now()
	from, err := s.Geo.Search(ctx, pickup)
	if err != nil {
		return Quote{}, fmt.Errorf("resolve pickup: %w", err)
	}
	to, err := s.Geo.Search(ctx, drop)
	if err != nil {
		return Quote{}, fmt.Errorf("resolve drop: %w", err)
	}
	route, err := s.Geo.DriveRoute(ctx,
		geocode.Point{Lat: from.Lat, Lon: from.Lon},
		geocode.Point{Lat: to.Lat, Lon: to.Lon})
	if err != nil {
		return Quote{}, fmt.Errorf("route: %w", err)
	}
	observability.GeocodeLatency.Observe(time.Since(start).Seconds())

	return Quote{
		PickupAddress: from.DisplayName,
		DropAddress:   to.DisplayName,
		Pickup:        models.Coord{Lat: from.Lat, Lon: from.Lon},
		Drop:          models.Coord{Lat: to.Lat, Lon: to.Lon},
		Geometry:      route.Geometry,
		DistanceKm:    route.DistanceKm,
		Mode:          mode,
		Fare:          fare.Estimate(mode, route.DistanceKm),
	}, nil
}

// Book writes the ride request keyed by rider identity. A rider's new
// booking overwrites any previous request (last-write-wins); status is
// pending with no driver until matching assigns one.
func (s *Service) Book(ctx context.Context, riderID string, q Quote) (models.RideRequest, error) {
	req := models.RideRequest{
		ID:            newID(),
		RiderID:       riderID,
		PickupAddress: q.PickupAddress,
		DropAddress:   q.DropAddress,
		Pickup:        q.Pickup,
		Drop:          q.Drop,
		Mode:          q.Mode,
		Status:        models.StatusPending,
		DistanceKm:    q.DistanceKm,
		Fare:          q.Fare,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.Store.UpsertRequest(ctx, req); err != nil {
		observability.BookingsFailed.Inc()
		return models.RideRequest{}, fmt.Errorf("%w: %v", ErrBookingFailed, err)
	}
	observability.BookingsTotal.Inc()
	s.Logger.Info("ride booked",
		"ride_id", req.ID, "rider_id", riderID,
		"mode", req.Mode, "distance_km", req.DistanceKm, "fare", req.Fare)

	if s.Hub != nil {
		s.Hub.Publish(stream.RideTopic(riderID), "ride.updated", req)
	}
	s.publish("ride.booked", req)
	return req, nil
}

// Cancel is the rider-initiated cancellation. Confirmation happens at
// the caller; this validates the transition against the lifecycle and
// then writes last-write-wins, with no reconciliation of a concurrent
// driver-side transition.
func (s *Service) Cancel(ctx context.Context, riderID string) (models.RideRequest, error) {
	req, err := s.Store.ActiveRequest(ctx, riderID)
	if err != nil {
		return models.RideRequest{}, err
	}
	if !models.CanTransition(req.Status, models.StatusCancelled) {
		return models.RideRequest{}, ErrNotCancellable
	}
	req.Status = models.StatusCancelled
	req.CancelledAt = time.Now().UTC()
	req.CancelledBy = riderID
	if err := s.Store.UpdateRequest(ctx, req); err != nil {
		return models.RideRequest{}, fmt.Errorf("cancel ride: %w", err)
	}
	observability.CancelsTotal.Inc()
	if s.Hub != nil {
		s.Hub.Publish(stream.RideTopic(riderID), "ride.updated", req)
	}
	s.publish("ride.cancelled", req)
	return req, nil
}

func (s *Service) publish(kind string, req models.RideRequest) {
	if s.Events == nil {
		return
	}
	ev := ingest.RideEvent{
		Kind:     kind,
		RideID:   req.ID,
		RiderID:  req.RiderID,
		DriverID: req.DriverID,
		Payload:  req,
	}
	if err := s.Events.PublishRideEvent(ev); err != nil {
		s.Logger.Warn("ride event publish failed", "kind", kind, "ride_id", req.ID, "error", err)
	}
}

func newID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
