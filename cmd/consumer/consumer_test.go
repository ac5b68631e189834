package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/rider-api/internal/models"
	"github.com/example/rider-api/internal/notify"
	"github.com/example/rider-api/internal/rides"
	"github.com/example/rider-api/internal/store"
	"github.com/example/rider-api/internal/stream"
)

// fakeUpdater implements RedisUpdater for tests
type fakeUpdater struct {
	failGeo  int // number of times to fail GeoAdd before succeeding
	failH    int // number of times to fail HSet before succeeding
	geoCalls int
	hCalls   int
}

func (f *fakeUpdater) GeoAdd(ctx context.Context, key string, loc *redis.GeoLocation) error {
	f.geoCalls++
	if f.geoCalls <= f.failGeo {
		return errors.New("geo fail")
	}
	return nil
}

func (f *fakeUpdater) HSet(ctx context.Context, key string, values map[string]interface{}) error {
	f.hCalls++
	if f.hCalls <= f.failH {
		return errors.New("hset fail")
	}
	return nil
}

func TestUpdateRedisWithRetry_SucceedsAfterRetries(t *testing.T) {
	f := &fakeUpdater{failGeo: 1, failH: 1}
	d := &models.Driver{ID: "d1", Loc: models.Coord{Lat: 1, Lon: 2}, RatingSum: 9, RatedRides: 2, Online: true}
	ctx := context.Background()
	start := time.Now()
	if err := updateRedisWithRetry(ctx, f, d, 3, 10*time.Millisecond); err != nil {
		t.Fatalf("expected success, got err=%v", err)
	}
	if f.geoCalls < 2 || f.hCalls < 2 {
		t.Fatalf("expected retries, got geo=%d h=%d", f.geoCalls, f.hCalls)
	}
	if time.Since(start) < 10*time.Millisecond {
		t.Fatalf("expected at least one backoff")
	}
}

func TestUpdateRedisWithRetry_FailsWhenExhausted(t *testing.T) {
	f := &fakeUpdater{failGeo: 5, failH: 0}
	d := &models.Driver{ID: "d1", Loc: models.Coord{Lat: 1, Lon: 2}}
	ctx := context.Background()
	if err := updateRedisWithRetry(ctx, f, d, 3, 5*time.Millisecond); err == nil {
		t.Fatalf("expected error after retries")
	}
}

func TestHandleLocation_SavesDriverAndPublishes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st := store.NewMemoryStore()
	hub := stream.NewHub()
	sub := hub.Subscribe(ctx, stream.DriverTopic("d1"))

	value, _ := json.Marshal(models.Driver{ID: "d1", Name: "Asha", Loc: models.Coord{Lat: 12.9, Lon: 77.6}})
	handleLocation(ctx, st, &fakeUpdater{}, hub, slog.Default(), value)

	d, err := st.Driver(ctx, "d1")
	if err != nil {
		t.Fatalf("driver not saved: %v", err)
	}
	if !d.Online {
		t.Fatalf("expected driver marked online")
	}
	select {
	case ev := <-sub.Events():
		if ev.Kind != "driver.location" {
			t.Fatalf("kind = %q", ev.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("no driver event published")
	}
}

func TestHandleLocation_InvalidJSONIgnored(t *testing.T) {
	st := store.NewMemoryStore()
	handleLocation(context.Background(), st, &fakeUpdater{}, stream.NewHub(), slog.Default(), []byte("{nope"))
	if _, err := st.Driver(context.Background(), "d1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected no driver written, got err=%v", err)
	}
}

func TestHandleStatus_AppliesTransition(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	if err := st.CreateRider(ctx, models.Rider{ID: "r1"}); err != nil {
		t.Fatal(err)
	}
	if err := st.UpsertRequest(ctx, models.RideRequest{
		ID: "ride1", RiderID: "r1", Status: models.StatusPending, CreatedAt: time.Now(),
	}); err != nil {
		t.Fatal(err)
	}
	lc := &rides.Lifecycle{
		Store:  st,
		Hub:    stream.NewHub(),
		Notify: &notify.Service{Store: st},
		Logger: slog.Default(),
	}

	value, _ := json.Marshal(rides.StatusEvent{RideID: "ride1", RiderID: "r1", DriverID: "d1", Status: models.StatusAccepted})
	handleStatus(ctx, lc, slog.Default(), value)

	req, err := st.ActiveRequest(ctx, "r1")
	if err != nil {
		t.Fatal(err)
	}
	if req.Status != models.StatusAccepted || req.DriverID != "d1" {
		t.Fatalf("transition not applied: status=%s driver=%s", req.Status, req.DriverID)
	}
}

func TestHandleStatus_StaleEventDropped(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	lc := &rides.Lifecycle{Store: st, Logger: slog.Default()}

	// no active request for this rider; must not panic or write
	value, _ := json.Marshal(rides.StatusEvent{RideID: "ghost", RiderID: "r1", Status: models.StatusAccepted})
	handleStatus(ctx, lc, slog.Default(), value)

	if _, err := st.ActiveRequest(ctx, "r1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected no request, got err=%v", err)
	}
}
