package geocode

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache stores resolved places in Redis so repeated address lookups do
// not hammer the geocoder. Lookups are keyed by the normalized query.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewCache(addr, password string, ttl time.Duration) *Cache {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &Cache{client: c, ttl: ttl}
}

func (c *Cache) Get(ctx context.Context, query string) (Place, bool) {
	m, err := c.client.HGetAll(ctx, cacheKey(query)).Result()
	if err != nil || len(m) == 0 {
		return Place{}, false
	}
	lat, errLat := strconv.ParseFloat(m["lat"], 64)
	lon, errLon := strconv.ParseFloat(m["lon"], 64)
	if errLat != nil || errLon != nil {
		return Place{}, false
	}
	return Place{Lat: lat, Lon: lon, DisplayName: m["name"]}, true
}

func (c *Cache) Set(ctx context.Context, query string, p Place) {
	key := cacheKey(query)
	_ = c.client.HSet(ctx, key, map[string]interface{}{
		"lat":  strconv.FormatFloat(p.Lat, 'f', 6, 64),
		"lon":  strconv.FormatFloat(p.Lon, 'f', 6, 64),
		"name": p.DisplayName,
	}).Err()
	_ = c.client.Expire(ctx, key, c.ttl).Err()
}

func cacheKey(query string) string {
	return "geocode:" + strings.ToLower(strings.TrimSpace(query))
}
