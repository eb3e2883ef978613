package campdb

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/zhouzirui/camp-guide/backend/internal/geo"
	"github.com/zhouzirui/camp-guide/backend/internal/model/camp"
)

// ErrNotFound is returned by FindByID for unknown ids.
var ErrNotFound = errors.New("camp not found")

// Repository is the database capability behind search.
// Query applies record-level predicates only; distance is left to the caller.
type Repository interface {
	Query(ctx context.Context, criteria camp.FilterCriteria) ([]camp.Record, error)
	Categories(ctx context.Context) ([]string, error)
	FindByID(ctx context.Context, id int64) (camp.Record, error)
}

// RegisterLocations teaches the geocoder every city and ZIP that appears in records,
// so profile addresses near a camp resolve better than a state centroid.
func RegisterLocations(g *geo.TableGeocoder, records []camp.Record) {
	for _, r := range records {
		if !r.Location.HasCoordinates() {
			continue
		}
		p := geo.Point{Lat: *r.Location.Latitude, Lng: *r.Location.Longitude}
		if r.Location.City != "" {
			g.AddCity(r.Location.City, r.Location.State, p)
		}
		if r.Location.Zip != "" {
			g.AddZip(r.Location.Zip, p)
		}
	}
}

// Places lists distinct city names, used as location vocabulary by the message parser.
func Places(records []camp.Record) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, r := range records {
		city := strings.TrimSpace(r.Location.City)
		key := strings.ToLower(city)
		if city == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, city)
	}
	sort.Strings(out)
	return out
}

func uniqueCategories(records []camp.Record) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, r := range records {
		for _, c := range r.Categories {
			c = strings.TrimSpace(c)
			key := strings.ToLower(c)
			if c == "" {
				continue
			}
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, c)
		}
	}
	sort.Strings(out)
	return out
}
