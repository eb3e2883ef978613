package profile

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/zhouzirui/camp-guide/backend/internal/analysis/criteria"
	"github.com/zhouzirui/camp-guide/backend/internal/geo"
	"github.com/zhouzirui/camp-guide/backend/internal/model/chat"
)

const (
	MinChildAge = 4
	MaxChildAge = 18
	MaxGrade    = 12
)

// ErrInvalidAnswer marks an answer that failed its field's validation.
var ErrInvalidAnswer = errors.New("invalid profile answer")

// CategorySource lists catalog categories offered when asking for interests.
type CategorySource interface {
	Categories(ctx context.Context) ([]string, error)
}

// Outcome is the result of feeding one message to the FSM.
type Outcome struct {
	Text string
	// Step is the dialog step after the message was applied.
	Step chat.DialogStep
	// Advanced is true when the message was accepted as an answer.
	Advanced bool
	// Completed is true on the turn that finished collection.
	Completed bool
	// Greeting is true for the welcome turn, which consumes no answer.
	Greeting bool
	// Err is ErrInvalidAnswer (wrapped) when the answer was rejected.
	Err error
}

// FSM drives the fixed profile questionnaire. It only ever moves DialogStep forward.
type FSM struct {
	categories CategorySource
	logger     *zap.Logger
}

// NewFSM creates the questionnaire. categories may be nil.
func NewFSM(categories CategorySource, logger *zap.Logger) *FSM {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FSM{categories: categories, logger: logger.Named("profile")}
}

// Step applies message to the session's pending field. A complete session is left untouched.
func (f *FSM) Step(ctx context.Context, s *chat.Session, message string) Outcome {
	if s.ProfileComplete() {
		return Outcome{Step: chat.StepComplete}
	}

	if !s.Greeted {
		s.Greeted = true
		return Outcome{
			Text:     welcomeText + "\n\n" + f.question(ctx, s),
			Step:     s.DialogStep,
			Greeting: true,
		}
	}

	answer := strings.TrimSpace(message)
	if err := f.apply(s, answer); err != nil {
		return Outcome{
			Text: fmt.Sprintf("%s\n\n%s", reprompt(s.DialogStep), f.question(ctx, s)),
			Step: s.DialogStep,
			Err:  err,
		}
	}

	s.DialogStep = s.DialogStep.Next()
	if s.DialogStep == chat.StepComplete {
		return Outcome{
			Text:      Summary(s.Profile),
			Step:      chat.StepComplete,
			Advanced:  true,
			Completed: true,
		}
	}
	return Outcome{Text: f.question(ctx, s), Step: s.DialogStep, Advanced: true}
}

// Prompt renders the pending question without consuming anything.
func (f *FSM) Prompt(ctx context.Context, s *chat.Session) string {
	if s.ProfileComplete() {
		return ""
	}
	return f.question(ctx, s)
}

func (f *FSM) apply(s *chat.Session, answer string) error {
	p := &s.Profile
	switch s.DialogStep {
	case chat.StepParentName:
		name, err := parseName(answer)
		if err != nil {
			return err
		}
		p.ParentName = name
	case chat.StepChildName:
		name, err := parseName(answer)
		if err != nil {
			return err
		}
		p.ChildName = name
	case chat.StepChildAge:
		age, err := ParseAge(answer)
		if err != nil {
			return err
		}
		p.ChildAge = &age
	case chat.StepChildGrade:
		grade, err := ParseGradeAnswer(answer)
		if err != nil {
			return err
		}
		p.ChildGrade = &grade
	case chat.StepInterests:
		interests, err := ParseInterests(answer, s.Categories)
		if err != nil {
			return err
		}
		p.Interests = interests
	case chat.StepAddress:
		if answer == "" {
			return fmt.Errorf("%w: address is empty", ErrInvalidAnswer)
		}
		p.Address = answer
	case chat.StepMaxDistance:
		miles, err := ParseDistance(answer)
		if err != nil {
			return err
		}
		p.MaxDistanceMiles = &miles
	}
	return nil
}

func (f *FSM) question(ctx context.Context, s *chat.Session) string {
	child := s.Profile.ChildName
	if child == "" {
		child = "your child"
	}
	switch s.DialogStep {
	case chat.StepParentName:
		return "To get started, what's your name?"
	case chat.StepChildName:
		return fmt.Sprintf("Nice to meet you, %s! What's your child's name?", s.Profile.ParentName)
	case chat.StepChildAge:
		return fmt.Sprintf("How old is %s?", child)
	case chat.StepChildGrade:
		return fmt.Sprintf("What grade will %s be in this fall? (K, 1-12)", child)
	case chat.StepInterests:
		return f.interestsQuestion(ctx, s, child)
	case chat.StepAddress:
		return "What's your home address or ZIP code? I'll use it to find camps nearby."
	case chat.StepMaxDistance:
		return "How far are you willing to travel, in miles? (for example 25, or 40 km)"
	default:
		return ""
	}
}

func (f *FSM) interestsQuestion(ctx context.Context, s *chat.Session, child string) string {
	if len(s.Categories) == 0 && f.categories != nil {
		cats, err := f.categories.Categories(ctx)
		if err != nil {
			f.logger.Warn("category list unavailable", zap.Error(err))
		}
		s.Categories = cats
	}

	var b strings.Builder
	fmt.Fprintf(&b, "What activities is %s interested in?", child)
	if len(s.Categories) == 0 {
		b.WriteString(" List them separated by commas, for example: soccer, art")
		return b.String()
	}
	b.WriteString(" Reply with numbers from the list, your own words, or both, separated by commas:")
	for i, c := range s.Categories {
		fmt.Fprintf(&b, "\n%d. %s", i+1, c)
	}
	return b.String()
}

const welcomeText = "Hi! I'm your camp concierge. I'll ask a few quick questions about your family so I can find camps that fit."

func reprompt(step chat.DialogStep) string {
	switch step {
	case chat.StepChildAge:
		return fmt.Sprintf("Please enter an age between %d and %d.", MinChildAge, MaxChildAge)
	case chat.StepChildGrade:
		return "Please enter a grade from K to 12, like \"3rd grade\" or \"K\"."
	case chat.StepInterests:
		return "Please name at least one activity."
	case chat.StepMaxDistance:
		return "Please enter a distance greater than zero, like 25 or 40 km."
	default:
		return "Sorry, I didn't catch that."
	}
}

var nameLeadIn = regexp.MustCompile(`(?i)^(?:hi|hello|hey)?[,!. ]*(?:my name is|my name's|i'm|i am|this is|call me|it's|it is|(?:his|her|their) name is|name is|she is|he is|she's|he's)\s+`)

func parseName(answer string) (string, error) {
	name := strings.TrimSpace(nameLeadIn.ReplaceAllString(answer, ""))
	name = strings.Trim(name, ".!,;: ")
	if name == "" {
		return "", fmt.Errorf("%w: name is empty", ErrInvalidAnswer)
	}
	if len(name) > 80 {
		return "", fmt.Errorf("%w: name is too long", ErrInvalidAnswer)
	}
	return name, nil
}

var ageAnswer = regexp.MustCompile(`(?i)^(?:(?:she|he|they)(?:'s| is| are)\s+)?([a-z]+|\d{1,3})(?:\s*(?:-\s*)?(?:years?|yrs?)(?:\s*-?\s*old)?)?[.!]?$`)

// ParseAge accepts "8", "8 years old" or "eight" within [MinChildAge, MaxChildAge].
func ParseAge(answer string) (int, error) {
	m := ageAnswer.FindStringSubmatch(strings.TrimSpace(answer))
	if m == nil {
		return 0, fmt.Errorf("%w: age %q is not a number", ErrInvalidAnswer, answer)
	}
	age, ok := criteria.ParseNumberWord(m[1])
	if !ok {
		if n, err := strconv.Atoi(m[1]); err == nil {
			age, ok = n, true
		}
	}
	if !ok {
		return 0, fmt.Errorf("%w: age %q is not a number", ErrInvalidAnswer, answer)
	}
	if age < MinChildAge || age > MaxChildAge {
		return 0, fmt.Errorf("%w: age %d out of range", ErrInvalidAnswer, age)
	}
	return age, nil
}

// ParseGradeAnswer accepts "3", "3rd grade", "grade 3", "third", "K", "kindergarten" and "pre-k".
func ParseGradeAnswer(answer string) (int, error) {
	lower := strings.ToLower(strings.Trim(strings.TrimSpace(answer), ".!"))
	if lower == "k" {
		return 0, nil
	}
	if g, ok := criteria.ParseGrade(lower); ok {
		return g, nil
	}
	if n, err := strconv.Atoi(lower); err == nil {
		if n >= 0 && n <= MaxGrade {
			return n, nil
		}
		return 0, fmt.Errorf("%w: grade %d out of range", ErrInvalidAnswer, n)
	}
	if n, ok := criteria.OrdinalWord(lower); ok && n <= MaxGrade {
		return n, nil
	}
	return 0, fmt.Errorf("%w: grade %q not recognized", ErrInvalidAnswer, answer)
}

// ParseInterests splits on commas. Numeric items pick from options (1-based); numbers out of
// range are dropped. At least one interest must remain.
func ParseInterests(answer string, options []string) ([]string, error) {
	seen := make(map[string]struct{})
	var out []string
	for _, part := range strings.Split(answer, ",") {
		item := strings.TrimSpace(part)
		if item == "" {
			continue
		}
		if n, err := strconv.Atoi(item); err == nil {
			if n < 1 || n > len(options) {
				continue
			}
			item = options[n-1]
		}
		key := strings.ToLower(item)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, item)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no interests given", ErrInvalidAnswer)
	}
	return out, nil
}

var distanceAnswer = regexp.MustCompile(`(?i)^(?:within\s+|up to\s+|about\s+)?(\d+(?:\.\d+)?)\s*(miles?|mi|km|kms|kilometers?|kilometres?)?[.!]?$`)

// ParseDistance accepts "25", "25 miles" or "40 km" and returns miles.
func ParseDistance(answer string) (float64, error) {
	m := distanceAnswer.FindStringSubmatch(strings.TrimSpace(answer))
	if m == nil {
		return 0, fmt.Errorf("%w: distance %q is not a number", ErrInvalidAnswer, answer)
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("%w: distance must be positive", ErrInvalidAnswer)
	}
	if strings.HasPrefix(strings.ToLower(m[2]), "k") {
		v /= geo.KilometersPerMile
	}
	return v, nil
}

// Summary lists every collected field. It is the completion response.
func Summary(p chat.Profile) string {
	var b strings.Builder
	b.WriteString("Thanks! Your profile is complete:\n")
	fmt.Fprintf(&b, "- Parent: %s\n", p.ParentName)
	fmt.Fprintf(&b, "- Child: %s\n", p.ChildName)
	if p.ChildAge != nil {
		fmt.Fprintf(&b, "- Age: %d\n", *p.ChildAge)
	}
	if p.ChildGrade != nil {
		fmt.Fprintf(&b, "- Grade: %s\n", GradeLabel(*p.ChildGrade))
	}
	fmt.Fprintf(&b, "- Interests: %s\n", strings.Join(p.Interests, ", "))
	fmt.Fprintf(&b, "- Address: %s\n", p.Address)
	if p.MaxDistanceMiles != nil {
		fmt.Fprintf(&b, "- Max distance: %s miles\n", FormatMiles(*p.MaxDistanceMiles))
	}
	b.WriteString("\nNow tell me what to look for, for example \"Find soccer camps\".")
	return b.String()
}

// FormatMiles drops the decimals of whole distances and keeps one otherwise.
func FormatMiles(v float64) string {
	if v == math.Trunc(v) {
		return strconv.FormatFloat(v, 'f', 0, 64)
	}
	return strconv.FormatFloat(v, 'f', 1, 64)
}

// GradeLabel renders 0 as K.
func GradeLabel(g int) string {
	if g == 0 {
		return "K"
	}
	return strconv.Itoa(g)
}
