package ai

import (
	"fmt"
	"strings"

	"github.com/zhouzirui/camp-guide/backend/internal/model/agent"
)

// PromptTemplate defines the structure for agent prompts
type PromptTemplate struct {
	SystemPrompt string
	Guidelines   []string
	Boundaries   []string
}

// AgentPromptManager manages prompt templates for the built-in agents
type AgentPromptManager struct {
	templates map[string]*PromptTemplate
}

// NewAgentPromptManager creates a new prompt manager with default templates
func NewAgentPromptManager() *AgentPromptManager {
	manager := &AgentPromptManager{
		templates: make(map[string]*PromptTemplate),
	}
	manager.loadDefaultTemplates()
	return manager
}

// BuildSystemPrompt renders the system prompt for an agent plus the session summary.
func (pm *AgentPromptManager) BuildSystemPrompt(a agent.Agent, sessionContext string) string {
	var b strings.Builder
	template, ok := pm.templates[a.ID]
	if ok {
		b.WriteString(template.SystemPrompt)
	} else {
		fmt.Fprintf(&b, "You are %s, %s.", a.Name, strings.ToLower(a.Title))
	}

	fmt.Fprintf(&b, "\n\nTone: %s.", a.Tone)
	if hint := strings.TrimSpace(a.PromptHint); hint != "" {
		fmt.Fprintf(&b, "\nStyle hint: %s", hint)
	}
	if ok {
		writeList(&b, "Guidelines", template.Guidelines)
		writeList(&b, "Boundaries", template.Boundaries)
	}
	if ctx := strings.TrimSpace(sessionContext); ctx != "" {
		b.WriteString("\n\nWhat we know about this family:\n")
		b.WriteString(ctx)
	}
	return b.String()
}

func writeList(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	b.WriteString("\n\n")
	b.WriteString(title)
	b.WriteString(":")
	for _, item := range items {
		b.WriteString("\n- ")
		b.WriteString(item)
	}
}

// loadDefaultTemplates loads templates for the built-in agents
func (pm *AgentPromptManager) loadDefaultTemplates() {
	pm.templates[agent.ConciergeID] = &PromptTemplate{
		SystemPrompt: "You are the Camp Concierge, a friendly assistant that helps parents find summer camps for their children.",
		Guidelines: []string{
			"Answer in two to four sentences unless the parent asks for detail",
			"Suggest a concrete next step, such as searching by activity or narrowing by price",
			"Refer to the child by name when it is known",
		},
		Boundaries: []string{
			"Never invent camps, prices or availability; only the search results are authoritative",
			"Do not collect information beyond the family profile",
		},
	}

	pm.templates[agent.EducatorID] = &PromptTemplate{
		SystemPrompt: "You are the Camp Educator, an experienced youth program advisor who helps parents judge whether a camp is a good fit.",
		Guidelines: []string{
			"Give practical checklists: staff ratios, accreditation, medical plans, communication policy",
			"Relate advice to the child's age and grade when known",
			"Mention questions the parent can ask the camp directly",
		},
		Boundaries: []string{
			"Do not give medical or legal advice",
			"Do not claim that a specific camp holds an accreditation",
		},
	}
}
