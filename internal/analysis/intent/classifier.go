package intent

import (
	"regexp"
	"strings"

	"github.com/zhouzirui/camp-guide/backend/internal/analysis/criteria"
	"github.com/zhouzirui/camp-guide/backend/internal/model/camp"
)

// Intent 表示一轮对话的类型，每轮重新计算，不落库。
type Intent int

const (
	General Intent = iota
	ProfileStep
	Search
	Filter
)

func (i Intent) String() string {
	switch i {
	case ProfileStep:
		return "profile_step"
	case Search:
		return "search"
	case Filter:
		return "filter"
	default:
		return "general"
	}
}

// MarshalText 让 Intent 以标签形式出现在 JSON 中。
func (i Intent) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}

// UnmarshalText 解析标签，未知标签视为 General。
func (i *Intent) UnmarshalText(text []byte) error {
	switch string(text) {
	case "profile_step":
		*i = ProfileStep
	case "search":
		*i = Search
	case "filter":
		*i = Filter
	default:
		*i = General
	}
	return nil
}

// Snapshot 是分类所需的会话只读视图。
type Snapshot struct {
	ProfileComplete bool
	HasResults      bool
}

// Decision 给出分类结果以及命中的规则名，便于日志排查。
type Decision struct {
	Intent   Intent
	Rule     string
	Criteria camp.FilterCriteria
}

// Message 是规则匹配时使用的预处理消息。
type Message struct {
	Raw      string
	Lower    string
	Criteria camp.FilterCriteria
}

// Rule 是有序规则表中的一项，先命中者胜出。
type Rule struct {
	Name   string
	Intent Intent
	Match  func(msg Message, snap Snapshot) bool
}

var (
	researchCues = compileCues(
		`search again`, `new search`, `start over`, `start a new search`, `search for something else`,
		`something else`, `different camps?`, `other camps`, `instead`, `look again`, `try again`,
	)
	refinementCues = compileCues(
		`under \$`, `less than \$`, `below \$`, `only`, `just the`, `what about`, `how about`,
		`which of (?:these|those|them)`, `which ones`, `of (?:these|those)`, `cheaper`, `closer`,
		`nearer`, `narrow`, `filter`, `any under`, `any of them`, `sort`,
	)
	searchCues = compileCues(
		`find`, `search`, `show me`, `look for`, `looking for`, `recommend`, `suggest`,
		`any camps`, `are there`, `get me`, `i need a camp`, `i want a camp`,
	)
	guidanceCues = compileCues(
		`what should i look for`, `how (?:do i|to|should i|can i) (?:choose|pick|select|evaluate)`,
		`what to consider`, `tips`, `advice`, `checklist`, `questions to ask`, `what to pack`,
		`is it safe`, `accredit\w*`, `homesick\w*`,
	)
	campWord = regexp.MustCompile(`\bcamps?\b`)
)

func compileCues(cues ...string) *regexp.Regexp {
	return regexp.MustCompile(`\b(?:` + strings.Join(cues, `|`) + `)`)
}

// DefaultRules 是默认的判定顺序。资料未收集完时一律走资料收集；
// 有缓存结果时，明确的重新搜索优先于筛选。
func DefaultRules() []Rule {
	return []Rule{
		{Name: "empty_message", Intent: General, Match: func(m Message, _ Snapshot) bool {
			return m.Lower == ""
		}},
		{Name: "profile_pending", Intent: ProfileStep, Match: func(_ Message, s Snapshot) bool {
			return !s.ProfileComplete
		}},
		{Name: "explicit_research", Intent: Search, Match: func(m Message, _ Snapshot) bool {
			return researchCues.MatchString(m.Lower)
		}},
		{Name: "refinement", Intent: Filter, Match: func(m Message, s Snapshot) bool {
			if !s.HasResults {
				return false
			}
			return refinementCues.MatchString(m.Lower) ||
				m.Criteria.Ordinal != nil ||
				m.Criteria.MaxPrice != nil ||
				m.Criteria.MinPrice != nil
		}},
		{Name: "guidance_question", Intent: General, Match: func(m Message, _ Snapshot) bool {
			return guidanceCues.MatchString(m.Lower)
		}},
		{Name: "search_request", Intent: Search, Match: func(m Message, _ Snapshot) bool {
			return searchCues.MatchString(m.Lower) ||
				(campWord.MatchString(m.Lower) && criteria.HasSearchTerms(m.Criteria))
		}},
		{Name: "criteria_followup", Intent: Filter, Match: func(m Message, s Snapshot) bool {
			return s.HasResults && criteria.HasSearchTerms(m.Criteria)
		}},
		{Name: "criteria_only", Intent: Search, Match: func(m Message, s Snapshot) bool {
			return !s.HasResults && criteria.HasSearchTerms(m.Criteria)
		}},
	}
}

// Classifier 是一个纯函数式的规则分类器，不依赖完整会话。
type Classifier struct {
	parser *criteria.Parser
	rules  []Rule
}

// NewClassifier 创建分类器；rules 为空时使用 DefaultRules。
func NewClassifier(parser *criteria.Parser, rules ...Rule) *Classifier {
	if parser == nil {
		parser = criteria.NewParser(criteria.Vocabulary{})
	}
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return &Classifier{parser: parser, rules: rules}
}

// Classify 根据消息与会话快照判定意图，未命中任何规则时为 General。
func (c *Classifier) Classify(message string, snap Snapshot) Decision {
	raw := strings.TrimSpace(message)
	msg := Message{Raw: raw, Lower: strings.ToLower(raw)}
	if msg.Lower != "" {
		msg.Criteria = c.parser.Parse(raw)
	}
	for _, rule := range c.rules {
		if rule.Match(msg, snap) {
			return Decision{Intent: rule.Intent, Rule: rule.Name, Criteria: msg.Criteria}
		}
	}
	return Decision{Intent: General, Rule: "fallback", Criteria: msg.Criteria}
}
