package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// ErrRouteUnavailable is returned when an address cannot be resolved or
// no driving route exists between the resolved points. Callers may fall
// back to a straight-line display, but a booking must not be finalized
// without a resolved distance.
var ErrRouteUnavailable = errors.New("geocode: route unavailable")

// minQueryLen mirrors the lookup trigger: shorter inputs are noise.
const minQueryLen = 3

type Place struct {
	Lat         float64
	Lon         float64
	DisplayName string
}

type Route struct {
	Geometry   []Point
	DistanceKm float64
}

type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Client resolves free-text addresses against a Nominatim-compatible
// geocoder and computes driving routes against an OSRM server.
type Client struct {
	GeocodeEndpoint string
	RouteEndpoint   string
	HTTP            *http.Client
	Cache           *Cache // optional
}

func NewClient(geocodeEndpoint, routeEndpoint string) *Client {
	return &Client{
		GeocodeEndpoint: geocodeEndpoint,
		RouteEndpoint:   routeEndpoint,
		HTTP:            &http.Client{Timeout: 5 * time.Second},
	}
}

// Search forward-geocodes text and returns the best match (first result).
func (c *Client) Search(ctx context.Context, text string) (Place, error) {
	if len(text) < minQueryLen {
		return Place{}, fmt.Errorf("%w: query too short", ErrRouteUnavailable)
	}
	if c.Cache != nil {
		if p, ok := c.Cache.Get(ctx, text); ok {
			return p, nil
		}
	}
	places, err := c.search(ctx, text, 1)
	if err != nil {
		return Place{}, err
	}
	if len(places) == 0 {
		return Place{}, fmt.Errorf("%w: no match for %q", ErrRouteUnavailable, text)
	}
	if c.Cache != nil {
		c.Cache.Set(ctx, text, places[0])
	}
	return places[0], nil
}

// Suggest returns up to limit candidate places for an address prefix.
func (c *Client) Suggest(ctx context.Context, text string, limit int) ([]Place, error) {
	if len(text) < minQueryLen {
		return nil, nil
	}
	if limit <= 0 {
		limit = 5
	}
	return c.search(ctx, text, limit)
}

func (c *Client) search(ctx context.Context, text string, limit int) ([]Place, error) {
	u := fmt.Sprintf("%s/search?q=%s&format=json&limit=%d", c.GeocodeEndpoint, url.QueryEscape(text), limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRouteUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: geocoder status %d", ErrRouteUnavailable, resp.StatusCode)
	}
	// Nominatim returns lat/lon as strings.
	var out []struct {
		Lat         string `json:"lat"`
		Lon         string `json:"lon"`
		DisplayName string `json:"display_name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRouteUnavailable, err)
	}
	places := make([]Place, 0, len(out))
	for _, r := range out {
		lat, errLat := strconv.ParseFloat(r.Lat, 64)
		lon, errLon := strconv.ParseFloat(r.Lon, 64)
		if errLat != nil || errLon != nil {
			continue
		}
		places = append(places, Place{Lat: lat, Lon: lon, DisplayName: r.DisplayName})
	}
	return places, nil
}

// Reverse resolves coordinates back to a display name.
func (c *Client) Reverse(ctx context.Context, lat, lon float64) (string, error) {
	u := fmt.Sprintf("%s/reverse?format=json&lat=%.6f&lon=%.6f", c.GeocodeEndpoint, lat, lon)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRouteUnavailable, err)
	}
	defer resp.Body.Close()
	var out struct {
		DisplayName string `json:"display_name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: %v", ErrRouteUnavailable, err)
	}
	if out.DisplayName == "" {
		return "", fmt.Errorf("%w: no address at %.6f,%.6f", ErrRouteUnavailable, lat, lon)
	}
	return out.DisplayName, nil
}

// DriveRoute queries OSRM /route between two points and returns the
// geometry plus distance in kilometers.
func (c *Client) DriveRoute(ctx context.Context, from, to Point) (Route, error) {
	u := fmt.Sprintf("%s/route/v1/driving/%.6f,%.6f;%.6f,%.6f?overview=full&geometries=geojson",
		c.RouteEndpoint, from.Lon, from.Lat, to.Lon, to.Lat)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Route{}, err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return Route{}, fmt.Errorf("%w: %v", ErrRouteUnavailable, err)
	}
	defer resp.Body.Close()
	var out struct {
		Routes []struct {
			Distance float64 `json:"distance"` // meters
			Geometry struct {
				Coordinates [][]float64 `json:"coordinates"` // [lon, lat]
			} `json:"geometry"`
		} `json:"routes"`
		Code string `json:"code"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Route{}, fmt.Errorf("%w: %v", ErrRouteUnavailable, err)
	}
	if out.Code != "Ok" || len(out.Routes) == 0 {
		return Route{}, fmt.Errorf("%w: router code %v", ErrRouteUnavailable, out.Code)
	}
	best := out.Routes[0]
	geom := make([]Point, 0, len(best.Geometry.Coordinates))
	for _, pair := range best.Geometry.Coordinates {
		if len(pair) < 2 {
			continue
		}
		geom = append(geom, Point{Lat: pair[1], Lon: pair[0]})
	}
	return Route{Geometry: geom, DistanceKm: best.Distance / 1000.0}, nil
}

// StraightLine is the display-only fallback when routing fails: the two
// endpoints joined directly, with haversine distance.
func StraightLine(from, to Point) Route {
	return Route{
		Geometry:   []Point{from, to},
		DistanceKm: Haversine(from.Lat, from.Lon, to.Lat, to.Lon) / 1000.0,
	}
}

// Haversine distance in meters
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371000.0
	toRad := func(deg float64) float64 { return deg * math.Pi / 180.0 }
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}
