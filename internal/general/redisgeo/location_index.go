package redisgeo

import (
	"context"
	"fmt"
	"time"

	"ride-dispatch/internal/domain/geo"
	"ride-dispatch/internal/general/config"
	"ride-dispatch/internal/ports"

	"github.com/go-redis/redis/v8"
)

// geoKey is the sorted set holding every captain's last reported position.
const geoKey = "captain:locations"

// LocationIndex stores captain positions in a Redis GEO set. Entries carry no
// TTL; staleness is judged by the tracking hub, and disconnects remove the
// member explicitly.
type LocationIndex struct {
	rdb *redis.Client
}

// NewClient connects to Redis and verifies connectivity.
func NewClient(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return rdb, nil
}

// NewLocationIndex wraps an existing Redis client.
func NewLocationIndex(rdb *redis.Client) ports.LocationIndex {
	return &LocationIndex{rdb: rdb}
}

// Upsert stores or refreshes a captain's position.
func (idx *LocationIndex) Upsert(ctx context.Context, captainID string, lat, lon float64) error {
	if !geo.ValidCoordinates(lat, lon) {
		return geo.ErrInvalidCoordinates
	}

	err := idx.rdb.GeoAdd(ctx, geoKey, &redis.GeoLocation{
		Name:      captainID,
		Longitude: lon,
		Latitude:  lat,
	}).Err()
	if err != nil {
		return fmt.Errorf("redis geoadd: %w", err)
	}
	return nil
}

// Radius returns captains within km of the point, nearest first.
func (idx *LocationIndex) Radius(ctx context.Context, lat, lon, km float64, limit int) ([]ports.CaptainDistance, error) {
	if !geo.ValidCoordinates(lat, lon) {
		return nil, geo.ErrInvalidCoordinates
	}

	locs, err := idx.rdb.GeoSearchLocation(ctx, geoKey, &redis.GeoSearchLocationQuery{
		GeoSearchQuery: redis.GeoSearchQuery{
			Longitude:  lon,
			Latitude:   lat,
			Radius:     km,
			RadiusUnit: "km",
			Sort:       "ASC",
			Count:      limit,
		},
		WithDist: true,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("redis geosearch: %w", err)
	}

	out := make([]ports.CaptainDistance, 0, len(locs))
	for _, loc := range locs {
		out = append(out, ports.CaptainDistance{CaptainID: loc.Name, DistKm: loc.Dist})
	}

	return out, nil
}

// Position returns a captain's last known coordinates.
func (idx *LocationIndex) Position(ctx context.Context, captainID string) (float64, float64, bool, error) {
	pos, err := idx.rdb.GeoPos(ctx, geoKey, captainID).Result()
	if err != nil {
		return 0, 0, false, fmt.Errorf("redis geopos: %w", err)
	}
	if len(pos) == 0 || pos[0] == nil {
		return 0, 0, false, nil
	}
	return pos[0].Latitude, pos[0].Longitude, true, nil
}

// Remove drops a captain from the index, typically on disconnect.
func (idx *LocationIndex) Remove(ctx context.Context, captainID string) error {
	if err := idx.rdb.ZRem(ctx, geoKey, captainID).Err(); err != nil {
		return fmt.Errorf("redis zrem: %w", err)
	}
	return nil
}
