package camp

import (
	"strings"

	"github.com/zhouzirui/camp-guide/backend/internal/geo"
)

// Location is where a camp session takes place.
type Location struct {
	Name      string   `json:"name,omitempty" yaml:"name"`
	Address   string   `json:"address,omitempty" yaml:"address"`
	City      string   `json:"city,omitempty" yaml:"city"`
	State     string   `json:"state,omitempty" yaml:"state"`
	Zip       string   `json:"zip,omitempty" yaml:"zip"`
	Latitude  *float64 `json:"latitude,omitempty" yaml:"latitude"`
	Longitude *float64 `json:"longitude,omitempty" yaml:"longitude"`
}

// Label renders "City, ST" or whatever part is known.
func (l Location) Label() string {
	parts := make([]string, 0, 2)
	if c := strings.TrimSpace(l.City); c != "" {
		parts = append(parts, c)
	}
	if s := strings.TrimSpace(l.State); s != "" {
		parts = append(parts, s)
	}
	if len(parts) == 0 {
		return strings.TrimSpace(l.Name)
	}
	return strings.Join(parts, ", ")
}

// matchesPlace compares a state by code, anything else by substring of city, name or address.
func (l Location) matchesPlace(place string) bool {
	if code, ok := geo.LookupState(place); ok {
		own, ok := geo.LookupState(l.State)
		return ok && own == code
	}
	place = strings.ToLower(place)
	for _, field := range []string{l.City, l.Name, l.Address, l.Zip} {
		if field != "" && strings.Contains(strings.ToLower(field), place) {
			return true
		}
	}
	return false
}

// HasCoordinates reports whether the location can be used for distance checks.
func (l Location) HasCoordinates() bool {
	return l.Latitude != nil && l.Longitude != nil
}

// Record is one camp returned by the database capability.
type Record struct {
	ID            int64    `json:"id" yaml:"id"`
	Name          string   `json:"name" yaml:"name"`
	Organization  string   `json:"organization,omitempty" yaml:"organization"`
	Description   string   `json:"description,omitempty" yaml:"description"`
	Location      Location `json:"location" yaml:"location"`
	PricePerWeek  *float64 `json:"pricePerWeek,omitempty" yaml:"price"`
	MinGrade      *int     `json:"minGrade,omitempty" yaml:"min_grade"`
	MaxGrade      *int     `json:"maxGrade,omitempty" yaml:"max_grade"`
	MinAge        *int     `json:"minAge,omitempty" yaml:"min_age"`
	MaxAge        *int     `json:"maxAge,omitempty" yaml:"max_age"`
	Categories    []string `json:"categories,omitempty" yaml:"categories"`
	DistanceMiles *float64 `json:"distanceMiles,omitempty" yaml:"-"`
}

// Clone deep-copies the record.
func (r Record) Clone() Record {
	out := r
	out.Location.Latitude = copyFloat(r.Location.Latitude)
	out.Location.Longitude = copyFloat(r.Location.Longitude)
	out.PricePerWeek = copyFloat(r.PricePerWeek)
	out.DistanceMiles = copyFloat(r.DistanceMiles)
	out.MinGrade = copyInt(r.MinGrade)
	out.MaxGrade = copyInt(r.MaxGrade)
	out.MinAge = copyInt(r.MinAge)
	out.MaxAge = copyInt(r.MaxAge)
	out.Categories = append([]string(nil), r.Categories...)
	return out
}

// HasCategory reports whether any tag matches term. Matching is case-insensitive
// and accepts containment either way ("Soccer" matches "Youth Soccer").
func (r Record) HasCategory(term string) bool {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return false
	}
	for _, tag := range r.Categories {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" {
			continue
		}
		if strings.Contains(tag, term) || strings.Contains(term, tag) {
			return true
		}
	}
	return false
}

func copyFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}

func copyInt(v *int) *int {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}
