package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/zhouzirui/camp-guide/backend/internal/analysis/intent"
	"github.com/zhouzirui/camp-guide/backend/internal/model/camp"
	"github.com/zhouzirui/camp-guide/backend/internal/model/chat"
	"github.com/zhouzirui/camp-guide/backend/internal/service/ai"
	"github.com/zhouzirui/camp-guide/backend/internal/service/filter"
	"github.com/zhouzirui/camp-guide/backend/internal/service/profile"
	"github.com/zhouzirui/camp-guide/backend/internal/service/search"
	"github.com/zhouzirui/camp-guide/backend/internal/service/session"
)

// Searcher issues database searches for a completed profile.
type Searcher interface {
	Execute(ctx context.Context, p chat.Profile, message string) (search.Result, error)
}

// Completer answers general turns.
type Completer interface {
	Complete(ctx context.Context, history []chat.Turn, message, sessionContext string) (ai.Reply, error)
}

// TurnRequest is one inbound user message.
type TurnRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
}

// TurnContext is the structured summary returned with every reply.
type TurnContext struct {
	Intent             intent.Intent   `json:"intent"`
	SearchCount        int             `json:"search_count"`
	ConversationLength int             `json:"conversation_length"`
	HasCachedResults   bool            `json:"has_cached_results"`
	DialogStep         chat.DialogStep `json:"dialog_step"`
	ProfileComplete    bool            `json:"profile_complete"`
	NewSession         bool            `json:"new_session,omitempty"`
	Agent              string          `json:"agent,omitempty"`
	Condition          string          `json:"condition,omitempty"`
	Results            []camp.Record   `json:"results,omitempty"`
}

// TurnResponse is the reply to one TurnRequest.
type TurnResponse struct {
	Response  string      `json:"response"`
	SessionID string      `json:"session_id"`
	Context   TurnContext `json:"context"`
}

// Deps wires the orchestrator. Completion and Categories may be nil.
type Deps struct {
	Sessions   *session.Manager
	Classifier *intent.Classifier
	Profile    *profile.FSM
	Search     Searcher
	Filter     *filter.Filter
	Completion Completer
	Categories profile.CategorySource
	Composer   *Composer
	Logger     *zap.Logger
}

// Orchestrator sequences one turn: classify, run the matching branch, compose, commit.
type Orchestrator struct {
	sessions   *session.Manager
	classifier *intent.Classifier
	fsm        *profile.FSM
	search     Searcher
	filter     *filter.Filter
	completion Completer
	categories profile.CategorySource
	composer   *Composer
	logger     *zap.Logger
}

// NewOrchestrator validates deps.
func NewOrchestrator(deps Deps) (*Orchestrator, error) {
	if deps.Sessions == nil || deps.Search == nil {
		return nil, fmt.Errorf("session manager and searcher are required")
	}
	if deps.Classifier == nil {
		deps.Classifier = intent.NewClassifier(nil)
	}
	if deps.Profile == nil {
		deps.Profile = profile.NewFSM(deps.Categories, deps.Logger)
	}
	if deps.Filter == nil {
		deps.Filter = filter.New(nil, deps.Logger)
	}
	if deps.Composer == nil {
		deps.Composer = NewComposer(0, nil)
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Orchestrator{
		sessions:   deps.Sessions,
		classifier: deps.Classifier,
		fsm:        deps.Profile,
		search:     deps.Search,
		filter:     deps.Filter,
		completion: deps.Completion,
		categories: deps.Categories,
		composer:   deps.Composer,
		logger:     deps.Logger.Named("orchestrator"),
	}, nil
}

// outcome is what a branch hands back to the composer.
type outcome struct {
	intent  intent.Intent
	text    string
	records []camp.Record
	agent   string
	// err is a recovered condition, never a hard failure.
	err    error
	failed bool
	// discard drops every change made during the turn.
	discard bool
}

// HandleTurn runs one turn under the session's lease. Recovered conditions are reported in the
// response context; the returned error is reserved for lease and store failures.
func (o *Orchestrator) HandleTurn(ctx context.Context, req TurnRequest) (TurnResponse, error) {
	lease, err := o.sessions.Begin(ctx, req.SessionID)
	if err != nil {
		return TurnResponse{}, err
	}
	defer lease.Release()

	s := lease.Session
	message := strings.TrimSpace(req.Message)
	hadResults := s.HasResults()

	decision := o.classifier.Classify(message, intent.Snapshot{
		ProfileComplete: s.ProfileComplete(),
		HasResults:      hadResults,
	})
	logger := o.logger.With(
		zap.String("session", lease.Key),
		zap.Stringer("intent", decision.Intent),
		zap.String("rule", decision.Rule),
	)

	var out outcome
	switch decision.Intent {
	case intent.ProfileStep:
		out = o.profileTurn(ctx, s, message)
	case intent.Search:
		out = o.searchTurn(ctx, s, message)
	case intent.Filter:
		out = o.filterTurn(ctx, s, message, decision.Criteria)
	default:
		out = o.generalTurn(ctx, s, message)
	}

	if out.err != nil {
		logger.Info("turn recovered", zap.String("condition", Condition(out.err)), zap.Error(out.err))
	}
	if lease.Rejected && out.err == nil {
		out.err = ErrInvalidSessionKey
	}

	// A discarded turn never reaches the store, which keeps its pre-turn snapshot.
	if !out.discard {
		o.composer.Append(s, message, out.text, out.intent, out.failed)
		if err := o.sessions.Commit(ctx, lease); err != nil {
			logger.Error("session commit failed", zap.Error(err))
			return TurnResponse{}, fmt.Errorf("save session: %w", err)
		}
	}

	return TurnResponse{
		Response:  out.text,
		SessionID: lease.Key,
		Context: TurnContext{
			Intent:             out.intent,
			SearchCount:        len(out.records),
			ConversationLength: s.ConversationLength(),
			HasCachedResults:   hadResults,
			DialogStep:         s.DialogStep,
			ProfileComplete:    s.ProfileComplete(),
			NewSession:         lease.Created,
			Agent:              out.agent,
			Condition:          Condition(out.err),
			Results:            out.records,
		},
	}, nil
}

func (o *Orchestrator) profileTurn(ctx context.Context, s *chat.Session, message string) outcome {
	res := o.fsm.Step(ctx, s, message)
	out := outcome{intent: intent.ProfileStep, text: res.Text}
	if res.Err != nil {
		out.err = fmt.Errorf("%w: %v", ErrValidation, res.Err)
	}
	if res.Completed {
		o.logger.Info("profile completed", zap.String("session", s.ID), zap.Int("interests", len(s.Profile.Interests)))
	}
	return out
}

func (o *Orchestrator) searchTurn(ctx context.Context, s *chat.Session, message string) outcome {
	result, err := o.search.Execute(ctx, s.Profile, message)
	if err != nil {
		return outcome{
			intent: intent.Search,
			text:   searchUnavailableText,
			err:    fmt.Errorf("%w: %v", ErrSearchUnavailable, err),
			failed: true,
		}
	}

	s.LastResults = result.Records
	return outcome{
		intent:  intent.Search,
		text:    o.composer.SearchResults(result.Records, result.Criteria),
		records: result.Records,
	}
}

func (o *Orchestrator) filterTurn(ctx context.Context, s *chat.Session, message string, parsed camp.FilterCriteria) outcome {
	res, err := o.filter.Run(ctx, s.LastResults, message, parsed, o.categoryNames(ctx, s))
	switch {
	case errors.Is(err, filter.ErrAmbiguous):
		return outcome{
			intent: intent.General,
			text:   clarifyFilterText,
			err:    fmt.Errorf("%w: %v", ErrAmbiguousIntent, err),
		}
	case err != nil:
		return outcome{
			intent:  intent.General,
			text:    completionUnavailableText,
			err:     fmt.Errorf("%w: %v", ErrCompletionUnavailable, err),
			discard: true,
		}
	}

	return outcome{
		intent:  intent.Filter,
		text:    o.composer.FilterResults(res.Records, len(s.LastResults)),
		records: res.Records,
	}
}

func (o *Orchestrator) generalTurn(ctx context.Context, s *chat.Session, message string) outcome {
	if message == "" {
		text := clarifyEmptyText
		if !s.ProfileComplete() {
			if !s.Greeted {
				// The welcome turn carries the first question.
				return outcome{intent: intent.General, text: o.fsm.Step(ctx, s, message).Text}
			}
			text += "\n\n" + o.fsm.Prompt(ctx, s)
		} else {
			text += " " + offlineHelpText
		}
		return outcome{intent: intent.General, text: text}
	}

	if o.completion == nil {
		return outcome{intent: intent.General, text: offlineHelpText}
	}

	reply, err := o.completion.Complete(ctx, s.History, message, SessionContext(s))
	if err != nil {
		return outcome{
			intent:  intent.General,
			text:    completionUnavailableText,
			err:     fmt.Errorf("%w: %v", ErrCompletionUnavailable, err),
			discard: true,
		}
	}
	return outcome{intent: intent.General, text: reply.Text, agent: reply.AgentID}
}

// categoryNames prefers the list shown during the questionnaire.
func (o *Orchestrator) categoryNames(ctx context.Context, s *chat.Session) []string {
	if len(s.Categories) > 0 {
		return s.Categories
	}
	if o.categories == nil {
		return nil
	}
	names, err := o.categories.Categories(ctx)
	if err != nil {
		o.logger.Warn("category lookup failed", zap.Error(err))
		return nil
	}
	return names
}

// Session returns a stored session for diagnostics.
func (o *Orchestrator) Session(ctx context.Context, id string) (*chat.Session, error) {
	return o.sessions.Get(ctx, id)
}

// ResetSession forgets a session; the next turn with the same key starts over.
func (o *Orchestrator) ResetSession(ctx context.Context, id string) error {
	return o.sessions.Delete(ctx, id)
}
