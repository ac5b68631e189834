package rides

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/example/rider-api/internal/models"
	"github.com/example/rider-api/internal/store"
	"github.com/example/rider-api/internal/stream"
)

func seedActiveRide(t *testing.T, st *store.MemoryStore, status models.Status, driverID string) models.RideRequest {
	t.Helper()
	ctx := context.Background()
	if err := st.CreateRider(ctx, models.Rider{ID: "r1"}); err != nil {
		t.Fatal(err)
	}
	req := models.RideRequest{
		ID: "ride-1", RiderID: "r1", DriverID: driverID,
		PickupAddress: "A", DropAddress: "B",
		Mode: models.ModeCab, Status: status,
		DistanceKm: 12.3, Fare: 264.5, CreatedAt: time.Now(),
	}
	if err := st.UpsertRequest(ctx, req); err != nil {
		t.Fatal(err)
	}
	return req
}

func nextView(t *testing.T, ch <-chan View) View {
	t.Helper()
	select {
	case v, ok := <-ch:
		if !ok {
			t.Fatal("view channel closed early")
		}
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("no view emitted")
	}
	return View{}
}

func TestWatchEmitsSnapshotThenUpdates(t *testing.T) {
	st := store.NewMemoryStore()
	hub := stream.NewHub()
	seedActiveRide(t, st, models.StatusPending, "")
	tr := &Tracker{Store: st, Hub: hub, Logger: slog.Default()}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := tr.Watch(ctx, "r1")
	if err != nil {
		t.Fatal(err)
	}

	v := nextView(t, ch)
	if v.Phase != PhaseSearching || v.Driver != nil {
		t.Fatalf("snapshot view wrong: %+v", v)
	}

	updated := v.Ride
	updated.Status = models.StatusAccepted
	updated.DriverID = "d1"
	_ = st.SaveDriver(context.Background(), models.Driver{ID: "d1", Name: "Ravi"})
	hub.Publish(stream.RideTopic("r1"), "ride.updated", updated)

	v = nextView(t, ch)
	if v.Phase != PhaseEnroute {
		t.Fatalf("expected enroute, got %s", v.Phase)
	}
	if v.Driver == nil || v.Driver.Name != "Ravi" {
		t.Fatalf("driver not composed into view: %+v", v.Driver)
	}
}

func TestWatchFollowsDriverUpdates(t *testing.T) {
	st := store.NewMemoryStore()
	hub := stream.NewHub()
	seedActiveRide(t, st, models.StatusAccepted, "d1")
	_ = st.SaveDriver(context.Background(), models.Driver{ID: "d1"})
	tr := &Tracker{Store: st, Hub: hub, Logger: slog.Default()}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := tr.Watch(ctx, "r1")
	if err != nil {
		t.Fatal(err)
	}
	nextView(t, ch) // snapshot

	hub.Publish(stream.DriverTopic("d1"), "driver.location",
		models.Driver{ID: "d1", Loc: models.Coord{Lat: 12.99, Lon: 77.61}})
	v := nextView(t, ch)
	if v.Driver == nil || v.Driver.Loc.Lat != 12.99 {
		t.Fatalf("driver location not propagated: %+v", v.Driver)
	}
}

func TestWatchSwitchesDriverOnReassignment(t *testing.T) {
	st := store.NewMemoryStore()
	hub := stream.NewHub()
	req := seedActiveRide(t, st, models.StatusAccepted, "d1")
	_ = st.SaveDriver(context.Background(), models.Driver{ID: "d1", Name: "Old"})
	_ = st.SaveDriver(context.Background(), models.Driver{ID: "d2", Name: "New"})
	tr := &Tracker{Store: st, Hub: hub, Logger: slog.Default()}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := tr.Watch(ctx, "r1")
	if err != nil {
		t.Fatal(err)
	}
	nextView(t, ch) // snapshot with d1

	// a rebooking replaced the request and a different driver accepted
	req.ID = "ride-2"
	req.DriverID = "d2"
	hub.Publish(stream.RideTopic("r1"), "ride.updated", req)

	v := nextView(t, ch)
	if v.Driver == nil || v.Driver.ID != "d2" {
		t.Fatalf("view still composes old driver: %+v", v.Driver)
	}

	hub.Publish(stream.DriverTopic("d2"), "driver.location",
		models.Driver{ID: "d2", Name: "New", Loc: models.Coord{Lat: 13.01, Lon: 77.7}})
	v = nextView(t, ch)
	if v.Driver == nil || v.Driver.ID != "d2" || v.Driver.Loc.Lat != 13.01 {
		t.Fatalf("new driver's location not propagated: %+v", v.Driver)
	}

	// the old driver's channel was torn down with the switch
	if n := hub.Subscribers(stream.DriverTopic("d1")); n != 0 {
		t.Fatalf("old driver topic still has %d subscribers", n)
	}
}

func TestWatchResyncsFromStore(t *testing.T) {
	st := store.NewMemoryStore()
	hub := stream.NewHub()
	req := seedActiveRide(t, st, models.StatusOngoing, "d1")
	tr := &Tracker{
		Store: st, Hub: hub, Logger: slog.Default(),
		HomeDelay: 30 * time.Millisecond,
		Resync:    20 * time.Millisecond,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := tr.Watch(ctx, "r1")
	if err != nil {
		t.Fatal(err)
	}
	nextView(t, ch) // snapshot

	// complete the ride in the store only, as if the hub event was
	// dropped on the way to this watcher
	req.Status = models.StatusCompleted
	req.CompletedAt = time.Now()
	if err := st.UpdateRequest(context.Background(), req); err != nil {
		t.Fatal(err)
	}

	v := nextView(t, ch)
	if v.Phase != PhaseDone {
		t.Fatalf("expected done after resync, got %s", v.Phase)
	}
	v = nextView(t, ch)
	if v.Phase != PhaseHome {
		t.Fatalf("expected deferred home view, got %s", v.Phase)
	}
}

func TestWatchTerminalEmitsHomeAfterDelay(t *testing.T) {
	st := store.NewMemoryStore()
	hub := stream.NewHub()
	req := seedActiveRide(t, st, models.StatusOngoing, "d1")
	tr := &Tracker{Store: st, Hub: hub, Logger: slog.Default(), HomeDelay: 30 * time.Millisecond}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := tr.Watch(ctx, "r1")
	if err != nil {
		t.Fatal(err)
	}
	nextView(t, ch) // snapshot

	req.Status = models.StatusCompleted
	hub.Publish(stream.RideTopic("r1"), "ride.updated", req)

	v := nextView(t, ch)
	if v.Phase != PhaseDone {
		t.Fatalf("expected done, got %s", v.Phase)
	}
	v = nextView(t, ch)
	if v.Phase != PhaseHome {
		t.Fatalf("expected deferred home view, got %s", v.Phase)
	}
	if _, ok := <-ch; ok {
		t.Fatal("channel must close after the home view")
	}
}

func TestWatchNoActiveRide(t *testing.T) {
	st := store.NewMemoryStore()
	tr := &Tracker{Store: st, Hub: stream.NewHub(), Logger: slog.Default()}
	if _, err := tr.Watch(context.Background(), "r1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPhaseFor(t *testing.T) {
	cases := map[models.Status]Phase{
		models.StatusPending:   PhaseSearching,
		models.StatusAccepted:  PhaseEnroute,
		models.StatusOngoing:   PhaseRiding,
		models.StatusCompleted: PhaseDone,
		models.StatusCancelled: PhaseDone,
	}
	for status, want := range cases {
		if got := PhaseFor(status); got != want {
			t.Errorf("PhaseFor(%s) = %s, want %s", status, got, want)
		}
	}
}
