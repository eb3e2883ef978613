package agent

// Agent is an assistant voice used for general conversation turns.
type Agent struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Title       string   `json:"title"`
	Tone        string   `json:"tone"`
	PromptHint  string   `json:"promptHint"`
	Description string   `json:"description,omitempty"`
	Expertise   []string `json:"expertise,omitempty"`
	// Keywords route a general message to this agent; the default agent has none.
	Keywords []string `json:"keywords,omitempty"`
}

const (
	ConciergeID = "concierge"
	EducatorID  = "educator"
)

// Seed provides the built-in agents.
func Seed() []Agent {
	return []Agent{
		{
			ID:          ConciergeID,
			Name:        "Camp Concierge",
			Title:       "Summer camp search assistant",
			Tone:        "warm, concise, practical",
			PromptHint:  "Keep answers short and steer the parent back to searching or refining results.",
			Description: "Collects the family profile, runs searches and narrows results.",
			Expertise:   []string{"camp search", "filters", "logistics"},
		},
		{
			ID:          EducatorID,
			Name:        "Camp Educator",
			Title:       "Youth program advisor",
			Tone:        "calm, knowledgeable, reassuring",
			PromptHint:  "Give concrete checklists a parent can act on; never invent facts about specific camps.",
			Description: "Answers questions about choosing a camp: safety, accreditation, readiness and budget.",
			Expertise:   []string{"child development", "camp safety", "accreditation", "budgeting"},
			Keywords: []string{
				"how to choose", "how do i choose", "what should i look for", "what to look for",
				"safety", "safe", "accredit", "staff ratio", "counselor", "homesick", "ready for",
				"advice", "tips", "checklist", "questions to ask", "what to pack", "day camp or",
				"overnight", "financial aid", "scholarship",
			},
		},
	}
}
