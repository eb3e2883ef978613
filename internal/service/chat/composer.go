package chat

import (
	"fmt"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/zhouzirui/camp-guide/backend/internal/analysis/intent"
	"github.com/zhouzirui/camp-guide/backend/internal/model/camp"
	"github.com/zhouzirui/camp-guide/backend/internal/model/chat"
	"github.com/zhouzirui/camp-guide/backend/internal/service/profile"
)

const (
	searchUnavailableText     = "Sorry, I couldn't reach the camp database just now. Your previous results are still available; please try the search again in a moment."
	completionUnavailableText = "I'm having trouble connecting right now. Please try again in a moment."
	clarifyEmptyText          = "I didn't catch a message there."
	clarifyFilterText         = "I'm not sure how to narrow those results. You can ask for things like \"only soccer\", \"under $300\", \"within 10 miles\" or \"the first three\"."
	followUpMenu              = "What next?\n- Ask about a camp by number (\"tell me about #2\")\n- Narrow these results (\"only the ones under $300\")\n- Start a new search (\"search again for robotics camps\")"
	offlineHelpText           = "I can search camps for you (\"find soccer camps\"), narrow the last results (\"only the first three\") or start over (\"search again\")."
)

// Composer renders branch outcomes and appends them to history.
type Composer struct {
	displayLimit int
	now          func() time.Time
}

// NewComposer caps rendered tables at displayLimit rows.
func NewComposer(displayLimit int, now func() time.Time) *Composer {
	if displayLimit <= 0 {
		displayLimit = 10
	}
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Composer{displayLimit: displayLimit, now: now}
}

// SearchResults renders a fresh search.
func (c *Composer) SearchResults(records []camp.Record, criteria camp.FilterCriteria) string {
	if len(records) == 0 {
		return "I couldn't find any camps matching " + describe(criteria) +
			". Try widening your distance, dropping a category or raising your budget."
	}
	head := fmt.Sprintf("I found %d %s matching %s:", len(records), plural(len(records), "camp", "camps"), describe(criteria))
	return head + "\n\n" + c.table(records) + "\n" + followUpMenu
}

// FilterResults renders a view narrowed from a baseline of size baseline.
func (c *Composer) FilterResults(records []camp.Record, baseline int) string {
	if len(records) == 0 {
		return fmt.Sprintf("None of the %d camps from your last search match that. Try a looser filter or start a new search.", baseline)
	}
	head := fmt.Sprintf("%d of your %d results match:", len(records), baseline)
	return head + "\n\n" + c.table(records) + "\n" + followUpMenu
}

func (c *Composer) table(records []camp.Record) string {
	shown := records
	if len(shown) > c.displayLimit {
		shown = shown[:c.displayLimit]
	}

	var b strings.Builder
	w := tablewriter.NewWriter(&b)
	w.SetHeader([]string{"#", "Camp", "Organization", "Location", "Grades", "Price/week", "Distance"})
	w.SetAutoWrapText(false)
	w.SetAutoFormatHeaders(false)
	w.SetBorder(false)
	for i, r := range shown {
		w.Append([]string{
			fmt.Sprintf("%d", i+1),
			r.Name,
			r.Organization,
			r.Location.Label(),
			gradeRange(r),
			price(r.PricePerWeek),
			distance(r.DistanceMiles),
		})
	}
	w.Render()

	if hidden := len(records) - len(shown); hidden > 0 {
		fmt.Fprintf(&b, "...and %d more. Narrow the list to see them.\n", hidden)
	}
	return b.String()
}

// Append records the user message and the reply. History is append-only.
func (c *Composer) Append(s *chat.Session, message, reply string, in intent.Intent, failed bool) {
	now := c.now()
	s.History = append(s.History,
		chat.Turn{Role: chat.RoleUser, Text: message, Intent: in.String(), Failed: failed, Timestamp: now},
		chat.Turn{Role: chat.RoleAssistant, Text: reply, Intent: in.String(), Failed: failed, Timestamp: now},
	)
}

// SessionContext is the plain-text state summary sent along with general turns.
func SessionContext(s *chat.Session) string {
	var b strings.Builder
	if s.ProfileComplete() {
		b.WriteString(profile.Summary(s.Profile))
	} else {
		b.WriteString("The family profile is still being collected.")
	}
	if n := len(s.LastResults); n > 0 {
		fmt.Fprintf(&b, "\nThe last search returned %d camps:", n)
		for i, r := range s.LastResults {
			if i == 5 {
				b.WriteString("\n- ...")
				break
			}
			fmt.Fprintf(&b, "\n- #%d %s (%s, %s)", i+1, r.Name, r.Location.Label(), price(r.PricePerWeek))
		}
	}
	return b.String()
}

func describe(c camp.FilterCriteria) string {
	parts := make([]string, 0, 6)
	if len(c.Categories) > 0 {
		parts = append(parts, strings.Join(c.Categories, " or "))
	}
	if c.Location != "" {
		parts = append(parts, "in "+c.Location)
	}
	if c.MaxDistanceMiles != nil {
		parts = append(parts, "within "+profile.FormatMiles(*c.MaxDistanceMiles)+" miles")
	}
	if c.MinGrade != nil && c.MaxGrade != nil && *c.MinGrade == *c.MaxGrade {
		parts = append(parts, "for grade "+profile.GradeLabel(*c.MinGrade))
	} else if c.Age != nil {
		parts = append(parts, fmt.Sprintf("for age %d", *c.Age))
	} else if c.AgeCeiling != nil {
		parts = append(parts, fmt.Sprintf("for ages up to %d", *c.AgeCeiling))
	}
	if c.MaxPrice != nil {
		parts = append(parts, "under "+price(c.MaxPrice))
	}
	if len(parts) == 0 {
		return "your search"
	}
	return strings.Join(parts, ", ")
}

func gradeRange(r camp.Record) string {
	switch {
	case r.MinGrade != nil && r.MaxGrade != nil:
		return profile.GradeLabel(*r.MinGrade) + "-" + profile.GradeLabel(*r.MaxGrade)
	case r.MinGrade != nil:
		return profile.GradeLabel(*r.MinGrade) + "+"
	case r.MaxGrade != nil:
		return "up to " + profile.GradeLabel(*r.MaxGrade)
	}
	return "-"
}

func price(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return fmt.Sprintf("$%.0f", *v)
}

func distance(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.1f mi", *v)
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
