package geo

import (
	"context"
	"errors"
	"regexp"
	"sort"
	"strings"
	"sync"
)

// ErrAddressNotFound is returned when an address cannot be resolved to a point.
var ErrAddressNotFound = errors.New("address not found")

// Geocoder resolves free-text addresses.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (Point, error)
}

// TableGeocoder resolves addresses against a fixed gazetteer: ZIP codes first, then city
// names, then US states (two-letter code or full name).
type TableGeocoder struct {
	mu     sync.RWMutex
	zips   map[string]Point
	cities map[string]Point
	// cityKeys is sorted longest first so "west covina" wins over "covina".
	cityKeys []string
}

// NewTableGeocoder returns a geocoder seeded with US state centroids.
func NewTableGeocoder() *TableGeocoder {
	return &TableGeocoder{
		zips:   make(map[string]Point),
		cities: make(map[string]Point),
	}
}

// AddCity registers a city point, keyed by "city" and "city, st".
func (g *TableGeocoder) AddCity(city, state string, p Point) {
	city = normalize(city)
	if city == "" {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cities[city] = p
	if st := normalize(state); st != "" {
		g.cities[city+", "+st] = p
	}
	g.cityKeys = g.cityKeys[:0]
	for k := range g.cities {
		g.cityKeys = append(g.cityKeys, k)
	}
	sort.Slice(g.cityKeys, func(i, j int) bool {
		if len(g.cityKeys[i]) != len(g.cityKeys[j]) {
			return len(g.cityKeys[i]) > len(g.cityKeys[j])
		}
		return g.cityKeys[i] < g.cityKeys[j]
	})
}

// AddZip registers a ZIP code point.
func (g *TableGeocoder) AddZip(zip string, p Point) {
	zip = strings.TrimSpace(zip)
	if zip == "" {
		return
	}
	g.mu.Lock()
	g.zips[zip] = p
	g.mu.Unlock()
}

var (
	zipPattern   = regexp.MustCompile(`\b(\d{5})(?:-\d{4})?\b`)
	statePattern = regexp.MustCompile(`(?:^|[\s,])([a-z]{2})(?:\s+\d{5}(?:-\d{4})?)?\s*$`)
)

// Geocode implements Geocoder.
func (g *TableGeocoder) Geocode(ctx context.Context, address string) (Point, error) {
	if err := ctx.Err(); err != nil {
		return Point{}, err
	}
	normalized := normalize(address)
	if normalized == "" {
		return Point{}, ErrAddressNotFound
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	if m := zipPattern.FindStringSubmatch(normalized); m != nil {
		if p, ok := g.zips[m[1]]; ok {
			return p, nil
		}
	}

	for _, key := range g.cityKeys {
		if containsWord(normalized, key) {
			return g.cities[key], nil
		}
	}

	if m := statePattern.FindStringSubmatch(normalized); m != nil {
		if p, ok := stateCentroids[m[1]]; ok {
			return p, nil
		}
	}
	for _, name := range stateNamesByLength {
		if containsWord(normalized, name) {
			return stateCentroids[stateNames[name]], nil
		}
	}

	return Point{}, ErrAddressNotFound
}

// stateNamesByLength lists state names longest first so "west virginia" wins over "virginia".
var stateNamesByLength = func() []string {
	out := make([]string, 0, len(stateNames))
	for name := range stateNames {
		out = append(out, name)
	}
	sort.Slice(out, func(i, j int) bool {
		if len(out[i]) != len(out[j]) {
			return len(out[i]) > len(out[j])
		}
		return out[i] < out[j]
	})
	return out
}()

// LookupState returns the two-letter code for a state name or code.
func LookupState(text string) (string, bool) {
	text = normalize(text)
	if _, ok := stateCentroids[text]; ok {
		return strings.ToUpper(text), true
	}
	if code, ok := stateNames[text]; ok {
		return strings.ToUpper(code), true
	}
	return "", false
}

// StateNames lists full state names in lower case.
func StateNames() []string {
	out := make([]string, 0, len(stateNames))
	for name := range stateNames {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(s))), " ")
}

func containsWord(haystack, needle string) bool {
	idx := strings.Index(haystack, needle)
	for idx >= 0 {
		end := idx + len(needle)
		startOK := idx == 0 || !isLetter(haystack[idx-1])
		endOK := end == len(haystack) || !isLetter(haystack[end])
		if startOK && endOK {
			return true
		}
		next := strings.Index(haystack[idx+1:], needle)
		if next < 0 {
			break
		}
		idx += next + 1
	}
	return false
}

func isLetter(b byte) bool {
	return b >= 'a' && b <= 'z'
}
