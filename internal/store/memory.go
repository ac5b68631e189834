package store

import (
	"context"
	"sync"

	"github.com/example/rider-api/internal/models"
)

// MemoryStore keeps everything in maps behind one mutex. It backs local
// runs without Postgres and the package tests.
type MemoryStore struct {
	mu       sync.RWMutex
	riders   map[string]models.Rider
	drivers  map[string]models.Driver
	requests map[string]models.RideRequest // keyed by rider ID
	chats    map[string][]models.Message
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		riders:   make(map[string]models.Rider),
		drivers:  make(map[string]models.Driver),
		requests: make(map[string]models.RideRequest),
		chats:    make(map[string][]models.Message),
	}
}

func (m *MemoryStore) Rider(ctx context.Context, id string) (models.Rider, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.riders[id]
	if !ok {
		return models.Rider{}, ErrNotFound
	}
	return cloneRider(r), nil
}

func (m *MemoryStore) CreateRider(ctx context.Context, r models.Rider) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.riders[r.ID] = cloneRider(r)
	return nil
}

func (m *MemoryStore) UpdateRiderProfile(ctx context.Context, id, name, phone, address, profileURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.riders[id]
	if !ok {
		return ErrNotFound
	}
	if name != "" {
		r.Name = name
	}
	if phone != "" {
		r.Phone = phone
	}
	if address != "" {
		r.Address = address
	}
	if profileURL != "" {
		r.ProfileURL = profileURL
	}
	m.riders[id] = r
	return nil
}

func (m *MemoryStore) SetPaymentDue(ctx context.Context, id string, ride models.PastRide) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.riders[id]
	if !ok {
		return ErrNotFound
	}
	r.IsPayment = true
	r.UnpaidFrom = ride.StartAddr
	r.UnpaidTo = ride.DestAddr
	r.UnpaidKm = ride.DistanceKm
	r.UnpaidFare = ride.Fare
	r.UnpaidMode = ride.Mode
	m.riders[id] = r
	return nil
}

func (m *MemoryStore) ClearPaymentDue(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.riders[id]
	if !ok {
		return ErrNotFound
	}
	r.IsPayment = false
	m.riders[id] = r
	return nil
}

func (m *MemoryStore) Driver(ctx context.Context, id string) (models.Driver, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.drivers[id]
	if !ok {
		return models.Driver{}, ErrNotFound
	}
	return d, nil
}

func (m *MemoryStore) SaveDriver(ctx context.Context, d models.Driver) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drivers[d.ID] = d
	return nil
}

func (m *MemoryStore) AddDriverRating(ctx context.Context, driverID string, stars int) (models.Driver, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[driverID]
	if !ok {
		return models.Driver{}, ErrNotFound
	}
	d.RatingSum += float64(stars)
	d.RatedRides++
	m.drivers[driverID] = d
	return d, nil
}

func (m *MemoryStore) AppendPastRide(ctx context.Context, riderID string, ride models.PastRide) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.riders[riderID]
	if !ok {
		return ErrNotFound
	}
	r.PastRides = append(r.PastRides, ride)
	m.riders[riderID] = r
	return nil
}

func (m *MemoryStore) SetRideRating(ctx context.Context, riderID, rideID string, stars int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.riders[riderID]
	if !ok {
		return ErrNotFound
	}
	for i := range r.PastRides {
		if r.PastRides[i].ID != rideID {
			continue
		}
		if r.PastRides[i].Rating != nil {
			return ErrAlreadyRated
		}
		v := stars
		r.PastRides[i].Rating = &v
		m.riders[riderID] = r
		return nil
	}
	return ErrNotFound
}

func (m *MemoryStore) UpsertRequest(ctx context.Context, req models.RideRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests[req.RiderID] = req
	return nil
}

func (m *MemoryStore) ActiveRequest(ctx context.Context, riderID string) (models.RideRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	req, ok := m.requests[riderID]
	if !ok || !req.Status.Active() {
		return models.RideRequest{}, ErrNotFound
	}
	return req, nil
}

func (m *MemoryStore) Request(ctx context.Context, riderID string) (models.RideRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	req, ok := m.requests[riderID]
	if !ok {
		return models.RideRequest{}, ErrNotFound
	}
	return req, nil
}

func (m *MemoryStore) UpdateRequest(ctx context.Context, req models.RideRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.requests[req.RiderID]; !ok {
		return ErrNotFound
	}
	m.requests[req.RiderID] = req
	return nil
}

func (m *MemoryStore) PushNotification(ctx context.Context, riderID string, n models.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.riders[riderID]
	if !ok {
		return ErrNotFound
	}
	r.Notices = append(r.Notices, n)
	m.riders[riderID] = r
	return nil
}

func (m *MemoryStore) Notifications(ctx context.Context, riderID string) ([]models.Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.riders[riderID]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]models.Notification, len(r.Notices))
	copy(out, r.Notices)
	return out, nil
}

func (m *MemoryStore) MarkAllRead(ctx context.Context, riderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.riders[riderID]
	if !ok {
		return ErrNotFound
	}
	for i := range r.Notices {
		r.Notices[i].Mark = models.MarkRead
	}
	m.riders[riderID] = r
	return nil
}

func (m *MemoryStore) AppendMessage(ctx context.Context, chatID string, msg models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chats[chatID] = append(m.chats[chatID], msg)
	return nil
}

func (m *MemoryStore) Messages(ctx context.Context, chatID string) ([]models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msgs := m.chats[chatID]
	out := make([]models.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func cloneRider(r models.Rider) models.Rider {
	out := r
	out.PastRides = append([]models.PastRide(nil), r.PastRides...)
	out.Notices = append([]models.Notification(nil), r.Notices...)
	return out
}
