package booking

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/example/rider-api/internal/geocode"
	"github.com/example/rider-api/internal/ingest"
	"github.com/example/rider-api/internal/models"
	"github.com/example/rider-api/internal/store"
)

type fakeGeo struct {
	places map[string]geocode.Place
	route  geocode.Route
	fail   bool
}

func (f *fakeGeo) Search(ctx context.Context, text string) (geocode.Place, error) {
	p, ok := f.places[text]
	if !ok {
		return geocode.Place{}, geocode.ErrRouteUnavailable
	}
	return p, nil
}

func (f *fakeGeo) DriveRoute(ctx context.Context, from, to geocode.Point) (geocode.Route, error) {
	if f.fail {
		return geocode.Route{}, geocode.ErrRouteUnavailable
	}
	return f.route, nil
}

type capturedEvents struct{ kinds []string }

func (c *capturedEvents) PublishRideEvent(ev ingest.RideEvent) error {
	c.kinds = append(c.kinds, ev.Kind)
	return nil
}

func newService(t *testing.T) (*Service, *store.MemoryStore, *capturedEvents) {
	t.Helper()
	geo := &fakeGeo{
		places: map[string]geocode.Place{
			"A": {Lat: 12.97, Lon: 77.59, DisplayName: "A"},
			"B": {Lat: 12.98, Lon: 77.60, DisplayName: "B"},
		},
		route: geocode.Route{
			Geometry:   []geocode.Point{{Lat: 12.97, Lon: 77.59}, {Lat: 12.98, Lon: 77.60}},
			DistanceKm: 12.3,
		},
	}
	st := store.NewMemoryStore()
	ev := &capturedEvents{}
	return &Service{Geo: geo, Store: st, Events: ev, Logger: slog.Default()}, st, ev
}

func TestQuoteThenBook(t *testing.T) {
	svc, st, ev := newService(t)
	ctx := context.Background()

	q, err := svc.Quote(ctx, "A", "B", models.ModeCab)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if q.DistanceKm != 12.3 {
		t.Fatalf("distance = %v", q.DistanceKm)
	}
	if q.Fare != 264.5 {
		t.Fatalf("cab fare for 12.3 km = %v, want 264.5", q.Fare)
	}

	req, err := svc.Book(ctx, "r1", q)
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	if req.ID == "" {
		t.Fatal("request must carry a stable id")
	}
	if req.Status != models.StatusPending || req.DriverID != "" {
		t.Fatalf("fresh request must be pending and driverless: %+v", req)
	}

	stored, err := st.ActiveRequest(ctx, "r1")
	if err != nil {
		t.Fatalf("active request: %v", err)
	}
	if stored.DistanceKm != 12.3 || stored.Fare != 264.5 {
		t.Fatalf("stored request wrong: %+v", stored)
	}
	if len(ev.kinds) != 1 || ev.kinds[0] != "ride.booked" {
		t.Fatalf("events: %v", ev.kinds)
	}
}

func TestQuoteFailsWhenRouteUnavailable(t *testing.T) {
	svc, _, _ := newService(t)
	svc.Geo.(*fakeGeo).fail = true
	if _, err := svc.Quote(context.Background(), "A", "B", models.ModeAuto); !errors.Is(err, geocode.ErrRouteUnavailable) {
		t.Fatalf("expected ErrRouteUnavailable, got %v", err)
	}
}

func TestQuoteFailsOnUnknownAddress(t *testing.T) {
	svc, _, _ := newService(t)
	if _, err := svc.Quote(context.Background(), "nowhere", "B", models.ModeAuto); !errors.Is(err, geocode.ErrRouteUnavailable) {
		t.Fatalf("expected ErrRouteUnavailable, got %v", err)
	}
}

func TestRebookOverwritesPreviousRequest(t *testing.T) {
	svc, st, _ := newService(t)
	ctx := context.Background()

	q, err := svc.Quote(ctx, "A", "B", models.ModeAuto)
	if err != nil {
		t.Fatal(err)
	}
	first, err := svc.Book(ctx, "r1", q)
	if err != nil {
		t.Fatal(err)
	}
	second, err := svc.Book(ctx, "r1", q)
	if err != nil {
		t.Fatal(err)
	}
	if first.ID == second.ID {
		t.Fatal("rebooking must mint a new request id")
	}
	active, err := st.ActiveRequest(ctx, "r1")
	if err != nil {
		t.Fatal(err)
	}
	if active.ID != second.ID {
		t.Fatalf("active request is %s, want the later booking %s", active.ID, second.ID)
	}
}

func TestCancelActiveRide(t *testing.T) {
	svc, st, ev := newService(t)
	ctx := context.Background()
	q, _ := svc.Quote(ctx, "A", "B", models.ModeAuto)
	if _, err := svc.Book(ctx, "r1", q); err != nil {
		t.Fatal(err)
	}

	req, err := svc.Cancel(ctx, "r1")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if req.Status != models.StatusCancelled || req.CancelledBy != "r1" || req.CancelledAt.IsZero() {
		t.Fatalf("cancellation fields wrong: %+v", req)
	}
	if _, err := st.ActiveRequest(ctx, "r1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("cancelled ride must leave the active slot, got %v", err)
	}
	if len(ev.kinds) != 2 || ev.kinds[1] != "ride.cancelled" {
		t.Fatalf("events: %v", ev.kinds)
	}
}

func TestCancelWithoutActiveRide(t *testing.T) {
	svc, _, _ := newService(t)
	if _, err := svc.Cancel(context.Background(), "r1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
