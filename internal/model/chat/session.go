package chat

import (
	"fmt"
	"time"

	"github.com/zhouzirui/camp-guide/backend/internal/model/camp"
)

// DialogStep is the next unanswered profile field. Steps are ordered and only move forward.
type DialogStep int

const (
	StepParentName DialogStep = iota
	StepChildName
	StepChildAge
	StepChildGrade
	StepInterests
	StepAddress
	StepMaxDistance
	StepComplete
)

var stepNames = [...]string{
	StepParentName:  "awaiting_parent_name",
	StepChildName:   "awaiting_child_name",
	StepChildAge:    "awaiting_child_age",
	StepChildGrade:  "awaiting_child_grade",
	StepInterests:   "awaiting_interests",
	StepAddress:     "awaiting_address",
	StepMaxDistance: "awaiting_max_distance",
	StepComplete:    "complete",
}

func (s DialogStep) String() string {
	if s < StepParentName || s > StepComplete {
		return "unknown"
	}
	return stepNames[s]
}

// Next returns the following step. Complete is terminal.
func (s DialogStep) Next() DialogStep {
	if s >= StepComplete {
		return StepComplete
	}
	return s + 1
}

// MarshalText keeps the wire form readable for the diagnostics endpoint and the redis store.
func (s DialogStep) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText accepts the names produced by MarshalText. An unknown name is an error so a
// stale document never rewinds a session.
func (s *DialogStep) UnmarshalText(text []byte) error {
	for i, name := range stepNames {
		if name == string(text) {
			*s = DialogStep(i)
			return nil
		}
	}
	return fmt.Errorf("unknown dialog step %q", text)
}

// Profile holds the collected answers. Pointer fields are nil until collected.
type Profile struct {
	ParentName       string   `json:"parentName,omitempty"`
	ChildName        string   `json:"childName,omitempty"`
	ChildAge         *int     `json:"childAge,omitempty"`
	ChildGrade       *int     `json:"childGrade,omitempty"`
	Interests        []string `json:"interests,omitempty"`
	Address          string   `json:"address,omitempty"`
	MaxDistanceMiles *float64 `json:"maxDistanceMiles,omitempty"`
}

// Complete reports whether every field has been collected.
func (p Profile) Complete() bool {
	return p.ParentName != "" &&
		p.ChildName != "" &&
		p.ChildAge != nil &&
		p.ChildGrade != nil &&
		len(p.Interests) > 0 &&
		p.Address != "" &&
		p.MaxDistanceMiles != nil
}

// Session captures one anonymous conversation and everything the orchestrator remembers about it.
type Session struct {
	ID          string        `json:"id"`
	Profile     Profile       `json:"profile"`
	DialogStep  DialogStep    `json:"dialogStep"`
	Greeted     bool          `json:"greeted"`
	Categories  []string      `json:"categories,omitempty"`
	LastResults []camp.Record `json:"lastResults,omitempty"`
	History     []Turn        `json:"history"`
	CreatedAt   time.Time     `json:"createdAt"`
	UpdatedAt   time.Time     `json:"updatedAt"`
}

// NewSession returns an empty session at the start of profile collection.
func NewSession(id string, now time.Time) *Session {
	return &Session{
		ID:         id,
		DialogStep: StepParentName,
		History:    make([]Turn, 0, 16),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// ProfileComplete reports whether collection has finished for this session.
func (s *Session) ProfileComplete() bool {
	return s.DialogStep == StepComplete
}

// HasResults reports whether a search baseline is cached.
func (s *Session) HasResults() bool {
	return len(s.LastResults) > 0
}

// ConversationLength counts completed user turns.
func (s *Session) ConversationLength() int {
	n := 0
	for _, turn := range s.History {
		if turn.Role == RoleUser {
			n++
		}
	}
	return n
}

// Clone returns a deep copy so a turn can work on private state and publish it atomically.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.Profile = s.Profile.clone()
	out.Categories = append([]string(nil), s.Categories...)
	if s.LastResults != nil {
		out.LastResults = make([]camp.Record, len(s.LastResults))
		for i, r := range s.LastResults {
			out.LastResults[i] = r.Clone()
		}
	}
	out.History = append(make([]Turn, 0, len(s.History)+2), s.History...)
	return &out
}

func (p Profile) clone() Profile {
	out := p
	if p.ChildAge != nil {
		v := *p.ChildAge
		out.ChildAge = &v
	}
	if p.ChildGrade != nil {
		v := *p.ChildGrade
		out.ChildGrade = &v
	}
	if p.MaxDistanceMiles != nil {
		v := *p.MaxDistanceMiles
		out.MaxDistanceMiles = &v
	}
	out.Interests = append([]string(nil), p.Interests...)
	return out
}
