package camp

import "strings"

// Ordinal selects records by position in the current order.
type Ordinal struct {
	// Start is zero-based. FromEnd counts Start from the last record instead.
	Start   int  `json:"start"`
	Count   int  `json:"count"`
	FromEnd bool `json:"fromEnd,omitempty"`
}

// Slice applies the ordinal to records, clamping to the available range.
func (o Ordinal) Slice(records []Record) []Record {
	n := len(records)
	if n == 0 || o.Count <= 0 {
		return []Record{}
	}
	start := o.Start
	if o.FromEnd {
		start = n - o.Start - o.Count
		if start < 0 {
			start = 0
		}
	}
	if start >= n || start < 0 {
		return []Record{}
	}
	end := start + o.Count
	if end > n {
		end = n
	}
	return append([]Record(nil), records[start:end]...)
}

// FilterCriteria is the structured predicate set extracted from a message or a profile.
// Nil and empty fields do not constrain.
type FilterCriteria struct {
	Categories       []string `json:"categories,omitempty"`
	Location         string   `json:"location,omitempty"`
	Address          string   `json:"address,omitempty"`
	MaxDistanceMiles *float64 `json:"maxDistanceMiles,omitempty"`
	Age              *int     `json:"age,omitempty"`
	AgeCeiling       *int     `json:"ageCeiling,omitempty"`
	MinGrade         *int     `json:"minGrade,omitempty"`
	MaxGrade         *int     `json:"maxGrade,omitempty"`
	MinPrice         *float64 `json:"minPrice,omitempty"`
	MaxPrice         *float64 `json:"maxPrice,omitempty"`
	Ordinal          *Ordinal `json:"ordinal,omitempty"`
}

// Empty reports whether no constraint was extracted.
func (c FilterCriteria) Empty() bool {
	return len(c.Categories) == 0 &&
		c.Location == "" &&
		c.Address == "" &&
		c.MaxDistanceMiles == nil &&
		c.Age == nil &&
		c.AgeCeiling == nil &&
		c.MinGrade == nil &&
		c.MaxGrade == nil &&
		c.MinPrice == nil &&
		c.MaxPrice == nil &&
		c.Ordinal == nil
}

// Merge overlays explicit values from override onto c and returns the result.
func (c FilterCriteria) Merge(override FilterCriteria) FilterCriteria {
	out := c
	if len(override.Categories) > 0 {
		out.Categories = append([]string(nil), override.Categories...)
	}
	if override.Location != "" {
		out.Location = override.Location
	}
	if override.Address != "" {
		out.Address = override.Address
	}
	if override.MaxDistanceMiles != nil {
		out.MaxDistanceMiles = override.MaxDistanceMiles
	}
	if override.Age != nil {
		out.Age = override.Age
	}
	if override.AgeCeiling != nil {
		out.AgeCeiling = override.AgeCeiling
	}
	if override.MinGrade != nil {
		out.MinGrade = override.MinGrade
	}
	if override.MaxGrade != nil {
		out.MaxGrade = override.MaxGrade
	}
	if override.MinPrice != nil {
		out.MinPrice = override.MinPrice
	}
	if override.MaxPrice != nil {
		out.MaxPrice = override.MaxPrice
	}
	if override.Ordinal != nil {
		out.Ordinal = override.Ordinal
	}
	return out
}

// Matches evaluates the record-level predicates: categories, location text, age, grade and price.
// Distance and ordinal constraints need context outside a single record and are applied by callers.
// A record without a price or grade range fails price and grade predicates; a record
// without an age range passes the age predicate.
func (c FilterCriteria) Matches(r Record) bool {
	if len(c.Categories) > 0 {
		ok := false
		for _, cat := range c.Categories {
			if r.HasCategory(cat) {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}

	if loc := strings.TrimSpace(c.Location); loc != "" && !r.Location.matchesPlace(loc) {
		return false
	}

	if c.MaxPrice != nil || c.MinPrice != nil {
		if r.PricePerWeek == nil {
			return false
		}
		if c.MaxPrice != nil && *r.PricePerWeek > *c.MaxPrice {
			return false
		}
		if c.MinPrice != nil && *r.PricePerWeek < *c.MinPrice {
			return false
		}
	}

	if c.Age != nil {
		if r.MinAge != nil && *c.Age < *r.MinAge {
			return false
		}
		if r.MaxAge != nil && *c.Age > *r.MaxAge {
			return false
		}
	}

	// "kids under 10": the camp has to admit someone at or below the ceiling.
	if c.AgeCeiling != nil && r.MinAge != nil && *r.MinAge > *c.AgeCeiling {
		return false
	}

	// A requested grade window must overlap the camp's grade range.
	if c.MinGrade != nil || c.MaxGrade != nil {
		if r.MinGrade == nil && r.MaxGrade == nil {
			return false
		}
		if c.MinGrade != nil && r.MaxGrade != nil && *r.MaxGrade < *c.MinGrade {
			return false
		}
		if c.MaxGrade != nil && r.MinGrade != nil && *r.MinGrade > *c.MaxGrade {
			return false
		}
	}

	return true
}
