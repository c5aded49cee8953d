package refdata

import "github.com/hyeonsu-kim/citypulse/internal/core/model"

// district centroids for the parking domain, used when no reference CSV is
// configured for it. Names double as the upstream query key.
var districts = []struct {
	name     string
	lat, lng float64
}{
	{"강남구", 37.5172, 127.0473},
	{"강동구", 37.5301, 127.1238},
	{"강북구", 37.6396, 127.0257},
	{"강서구", 37.5509, 126.8495},
	{"관악구", 37.4784, 126.9516},
	{"광진구", 37.5384, 127.0823},
	{"구로구", 37.4954, 126.8874},
	{"금천구", 37.4568, 126.8955},
	{"노원구", 37.6542, 127.0568},
	{"도봉구", 37.6688, 127.0471},
	{"동대문구", 37.5744, 127.0396},
	{"동작구", 37.5124, 126.9393},
	{"마포구", 37.5663, 126.9019},
	{"서대문구", 37.5791, 126.9368},
	{"서초구", 37.4837, 127.0324},
	{"성동구", 37.5634, 127.0366},
	{"성북구", 37.5894, 127.0167},
	{"송파구", 37.5145, 127.1059},
	{"양천구", 37.5170, 126.8664},
	{"영등포구", 37.5264, 126.8962},
	{"용산구", 37.5324, 126.9904},
	{"은평구", 37.6027, 126.9291},
	{"종로구", 37.5730, 126.9794},
	{"중구", 37.5641, 126.9979},
	{"중랑구", 37.6063, 127.0925},
}

// Districts returns the built-in registry of the 25 districts.
func Districts() *Registry {
	entities := make([]model.Entity, 0, len(districts))
	for _, d := range districts {
		entities = append(entities, model.Entity{
			ID:       d.name,
			Name:     d.name,
			Category: "district",
			Coord:    &model.Coordinate{Lat: d.lat, Lng: d.lng},
		})
	}
	return FromEntities(entities)
}
