// Package refdata loads the static reference set of tracked entities. The set
// is read once at startup and never mutated afterwards.
package refdata

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/hyeonsu-kim/citypulse/internal/core/model"
)

// Registry is an immutable in-memory index over the reference set.
type Registry struct {
	entities []model.Entity
	byID     map[string]model.Entity
}

// FromEntities builds a registry from an explicit slice.
func FromEntities(entities []model.Entity) *Registry {
	r := &Registry{byID: make(map[string]model.Entity, len(entities))}
	for _, e := range entities {
		if e.ID == "" {
			continue
		}
		if _, dup := r.byID[e.ID]; dup {
			continue
		}
		r.entities = append(r.entities, e)
		r.byID[e.ID] = e
	}
	return r
}

// Load reads a reference CSV with columns
// category,no,id,name,name_eng[,lat,lng]. The header row is skipped; rows
// with missing ids are ignored.
func Load(path string) (*Registry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open refdata %q: %w", path, err)
	}
	defer func() { _ = f.Close() }()
	return Parse(f)
}

// Parse reads reference rows from r. Exposed separately so tests can feed
// literal CSV.
func Parse(r io.Reader) (*Registry, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var entities []model.Entity
	first := true
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("refdata csv: %w", err)
		}
		if first {
			first = false
			// header row
			if len(rec) > 0 && strings.EqualFold(strings.TrimSpace(rec[0]), "category") {
				continue
			}
		}
		if len(rec) < 4 {
			continue
		}
		e := model.Entity{
			Category: strings.TrimSpace(rec[0]),
			ID:       strings.TrimSpace(rec[2]),
			Name:     strings.TrimSpace(rec[3]),
		}
		if e.ID == "" {
			continue
		}
		if len(rec) > 4 {
			e.NameEng = strings.TrimSpace(rec[4])
		}
		if len(rec) > 6 {
			lat, errLat := strconv.ParseFloat(strings.TrimSpace(rec[5]), 64)
			lng, errLng := strconv.ParseFloat(strings.TrimSpace(rec[6]), 64)
			if errLat == nil && errLng == nil && (lat != 0 || lng != 0) {
				e.Coord = &model.Coordinate{Lat: lat, Lng: lng}
			}
		}
		entities = append(entities, e)
	}
	if len(entities) == 0 {
		return nil, fmt.Errorf("refdata csv: no entities")
	}
	return FromEntities(entities), nil
}

// All returns the entities in file order.
func (r *Registry) All() []model.Entity { return r.entities }

// IDs returns entity ids in file order.
func (r *Registry) IDs() []string {
	out := make([]string, 0, len(r.entities))
	for _, e := range r.entities {
		out = append(out, e.ID)
	}
	return out
}

// ByID looks up one entity.
func (r *Registry) ByID(id string) (model.Entity, bool) {
	e, ok := r.byID[id]
	return e, ok
}

// IsValid reports whether id belongs to the reference set.
func (r *Registry) IsValid(id string) bool {
	_, ok := r.byID[id]
	return ok
}

// ByCategory returns entities matching the category, in file order.
func (r *Registry) ByCategory(category string) []model.Entity {
	if category == "" {
		return r.entities
	}
	var out []model.Entity
	for _, e := range r.entities {
		if e.Category == category {
			out = append(out, e)
		}
	}
	return out
}

// Len returns the number of entities.
func (r *Registry) Len() int { return len(r.entities) }
