package models

import "time"

type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Mode is the vehicle class a rider books.
type Mode string

const (
	ModeAuto Mode = "auto"
	ModeCab  Mode = "cab"
)

func (m Mode) Valid() bool { return m == ModeAuto || m == ModeCab }

// Status tracks a ride request through its lifecycle.
type Status string

const (
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusOngoing   Status = "ongoing"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transition exists from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Active reports whether the request still occupies the rider's
// single active-ride slot.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusAccepted || s == StatusOngoing
}

var transitions = map[Status][]Status{
	StatusPending:  {StatusAccepted, StatusCancelled},
	StatusAccepted: {StatusOngoing, StatusCancelled},
	StatusOngoing:  {StatusCompleted, StatusCancelled},
}

// CanTransition validates a status change against the ride lifecycle:
// pending -> accepted -> ongoing -> {completed|cancelled}.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type RideRequest struct {
	ID            string    `json:"id"`
	RiderID       string    `json:"rider_id"`
	DriverID      string    `json:"driver_id,omitempty"`
	PickupAddress string    `json:"pickup_address"`
	DropAddress   string    `json:"drop_address"`
	Pickup        Coord     `json:"pickup"`
	Drop          Coord     `json:"drop"`
	Mode          Mode      `json:"mode"`
	Status        Status    `json:"status"`
	DistanceKm    float64   `json:"distance_km"`
	Fare          float64   `json:"fare"`
	CreatedAt     time.Time `json:"created_at"`
	AcceptedAt    time.Time `json:"accepted_at,omitempty"`
	StartedAt     time.Time `json:"started_at,omitempty"`
	CompletedAt   time.Time `json:"completed_at,omitempty"`
	CancelledAt   time.Time `json:"cancelled_at,omitempty"`
	CancelledBy   string    `json:"cancelled_by,omitempty"`
}

// PastRide is a completed ride embedded in the rider's history.
// Rating is nil until the rider rates it, and is set exactly once.
type PastRide struct {
	ID          string    `json:"id"`
	DriverID    string    `json:"driver_id"`
	Mode        Mode      `json:"mode"`
	StartAddr   string    `json:"start_address"`
	DestAddr    string    `json:"destination_address"`
	DistanceKm  float64   `json:"total_distance"`
	Fare        float64   `json:"total_fare"`
	Rating      *int      `json:"rating,omitempty"`
	CompletedAt time.Time `json:"completed_at"`
}

const (
	MarkUnread = "unread"
	MarkRead   = "read"
)

type Notification struct {
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	Mark      string    `json:"mark"`
}

type Rider struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Phone      string         `json:"phone,omitempty"`
	Address    string         `json:"address,omitempty"`
	ProfileURL string         `json:"profile_url,omitempty"`
	PastRides  []PastRide     `json:"previous_rides"`
	Notices    []Notification `json:"notifications"`

	// Pending-payment marker plus the fields the unpaid view is
	// synthesized from; the marker does not reference a PastRide.
	IsPayment  bool    `json:"is_payment"`
	UnpaidFrom string  `json:"unpaid_from,omitempty"`
	UnpaidTo   string  `json:"unpaid_to,omitempty"`
	UnpaidKm   float64 `json:"unpaid_km,omitempty"`
	UnpaidFare float64 `json:"unpaid_fare,omitempty"`
	UnpaidMode Mode    `json:"unpaid_mode,omitempty"`
}

type Driver struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Vehicle    string    `json:"vehicle"`
	Loc        Coord     `json:"loc"`
	Online     bool      `json:"online"`
	RatingSum  float64   `json:"rating_sum"`
	RatedRides int       `json:"rated_rides"`
	Updated    time.Time `json:"updated"`
}

// Rating is the mean of all submitted ratings, derived from the
// sum/count ledger so concurrent raters never read a stale average.
func (d Driver) Rating() float64 {
	if d.RatedRides == 0 {
		return 0
	}
	return d.RatingSum / float64(d.RatedRides)
}

type Message struct {
	Text       string    `json:"text"`
	SenderName string    `json:"sender_name"`
	RiderID    string    `json:"rider_id"`
	Timestamp  time.Time `json:"timestamp"`
}
