package geocode

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHaversineZero(t *testing.T) {
	d := Haversine(0, 0, 0, 0)
	if d != 0 {
		t.Fatalf("expected 0, got %f", d)
	}
}

func TestSearchReturnsFirstResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/search") {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `[{"lat":"12.971599","lon":"77.594566","display_name":"Bengaluru"},{"lat":"1","lon":"1","display_name":"elsewhere"}]`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	p, err := c.Search(context.Background(), "bengaluru")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.DisplayName != "Bengaluru" || p.Lat != 12.971599 {
		t.Fatalf("unexpected place: %+v", p)
	}
}

func TestSearchShortQueryRejected(t *testing.T) {
	c := NewClient("http://unused", "")
	if _, err := c.Search(context.Background(), "ab"); !errors.Is(err, ErrRouteUnavailable) {
		t.Fatalf("expected ErrRouteUnavailable, got %v", err)
	}
}

func TestSearchNoMatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[]`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	if _, err := c.Search(context.Background(), "nowhere at all"); !errors.Is(err, ErrRouteUnavailable) {
		t.Fatalf("expected ErrRouteUnavailable, got %v", err)
	}
}

func TestDriveRouteParsesGeometryAndDistance(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"code":"Ok","routes":[{"distance":12300,"geometry":{"coordinates":[[77.59,12.97],[77.60,12.98]]}}]}`)
	}))
	defer srv.Close()

	c := NewClient("", srv.URL)
	route, err := c.DriveRoute(context.Background(), Point{Lat: 12.97, Lon: 77.59}, Point{Lat: 12.98, Lon: 77.60})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if route.DistanceKm != 12.3 {
		t.Fatalf("expected 12.3 km, got %f", route.DistanceKm)
	}
	if len(route.Geometry) != 2 || route.Geometry[0].Lat != 12.97 || route.Geometry[0].Lon != 77.59 {
		t.Fatalf("geometry not converted from lon/lat pairs: %+v", route.Geometry)
	}
}

func TestDriveRouteNoRoute(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"code":"NoRoute","routes":[]}`)
	}))
	defer srv.Close()

	c := NewClient("", srv.URL)
	if _, err := c.DriveRoute(context.Background(), Point{}, Point{}); !errors.Is(err, ErrRouteUnavailable) {
		t.Fatalf("expected ErrRouteUnavailable, got %v", err)
	}
}

func TestStraightLineFallback(t *testing.T) {
	r := StraightLine(Point{Lat: 0, Lon: 0}, Point{Lat: 0, Lon: 1})
	if len(r.Geometry) != 2 {
		t.Fatalf("expected two endpoints, got %d", len(r.Geometry))
	}
	// one degree of longitude at the equator is ~111 km
	if r.DistanceKm < 110 || r.DistanceKm > 112 {
		t.Fatalf("implausible straight-line distance %f", r.DistanceKm)
	}
}
