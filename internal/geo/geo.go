// Package geo implements the proximity search over the latest snapshots. A
// linear scan is deliberate: the reference set holds hundreds of entities,
// not millions, so no spatial index is warranted.
package geo

import (
	"math"
	"sort"

	"github.com/hyeonsu-kim/citypulse/internal/core/model"
)

const earthRadiusKm = 6371.0

// HaversineKm returns the great-circle distance between two WGS84 points.
func HaversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := rad(lat2 - lat1)
	dLng := rad(lng2 - lng1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rad(lat1))*math.Cos(rad(lat2))*
			math.Sin(dLng/2)*math.Sin(dLng/2)
	return earthRadiusKm * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

func rad(deg float64) float64 { return deg * math.Pi / 180 }

// Nearby filters snapshots to those within radiusKm of the query point,
// ascending by distance. Snapshots without a coordinate are excluded.
func Nearby(snaps []*model.Snapshot, lat, lng, radiusKm float64) []model.NearbyResult {
	var out []model.NearbyResult
	for _, s := range snaps {
		if s == nil || s.Coord == nil {
			continue
		}
		d := HaversineKm(lat, lng, s.Coord.Lat, s.Coord.Lng)
		if d <= radiusKm {
			out = append(out, model.NearbyResult{Snapshot: s, DistanceKm: d})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DistanceKm < out[j].DistanceKm })
	return out
}
