package store

import (
	"context"
	"errors"

	"github.com/example/rider-api/internal/models"
)

var (
	ErrNotFound     = errors.New("store: not found")
	ErrAlreadyRated = errors.New("store: ride already rated")
)

// Store defines persistence over the riders, drivers, requests and chats
// collections. Implementations must make AddDriverRating and SetRideRating
// safe under concurrent raters.
type Store interface {
	Rider(ctx context.Context, id string) (models.Rider, error)
	CreateRider(ctx context.Context, r models.Rider) error
	UpdateRiderProfile(ctx context.Context, id, name, phone, address, profileURL string) error
	SetPaymentDue(ctx context.Context, id string, ride models.PastRide) error
	ClearPaymentDue(ctx context.Context, id string) error

	Driver(ctx context.Context, id string) (models.Driver, error)
	SaveDriver(ctx context.Context, d models.Driver) error
	// AddDriverRating atomically folds one rating into the driver's
	// sum/count ledger and returns the updated driver.
	AddDriverRating(ctx context.Context, driverID string, stars int) (models.Driver, error)

	AppendPastRide(ctx context.Context, riderID string, ride models.PastRide) error
	// SetRideRating sets the rating of an unrated past ride. A ride that
	// already carries a rating yields ErrAlreadyRated.
	SetRideRating(ctx context.Context, riderID, rideID string, stars int) error

	// UpsertRequest writes the ride request keyed by rider: a new booking
	// overwrites any existing request for that rider (last-write-wins).
	UpsertRequest(ctx context.Context, req models.RideRequest) error
	ActiveRequest(ctx context.Context, riderID string) (models.RideRequest, error)
	// Request returns the rider's request row regardless of status.
	Request(ctx context.Context, riderID string) (models.RideRequest, error)
	UpdateRequest(ctx context.Context, req models.RideRequest) error

	PushNotification(ctx context.Context, riderID string, n models.Notification) error
	Notifications(ctx context.Context, riderID string) ([]models.Notification, error)
	MarkAllRead(ctx context.Context, riderID string) error

	AppendMessage(ctx context.Context, chatID string, m models.Message) error
	Messages(ctx context.Context, chatID string) ([]models.Message, error)
}
