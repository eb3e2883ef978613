package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"github.com/zhouzirui/camp-guide/backend/internal/model/agent"
	"github.com/zhouzirui/camp-guide/backend/internal/model/chat"
)

// ErrUnavailable wraps every failure of the completion capability.
var ErrUnavailable = errors.New("completion unavailable")

// Options tune the AI service.
type Options struct {
	HistoryLimit int
}

// Service encapsulates AI-powered conversation functionality
type Service struct {
	agents       agent.Store
	prompts      *AgentPromptManager
	chain        compose.Runnable[map[string]any, *schema.Message]
	extractor    compose.Runnable[map[string]any, *schema.Message]
	historyLimit int
	logger       *zap.Logger
}

// NewService compiles the reply and criteria-extraction chains on top of chatModel.
func NewService(ctx context.Context, chatModel model.ChatModel, agents agent.Store, opts Options, logger *zap.Logger) (*Service, error) {
	if chatModel == nil {
		return nil, fmt.Errorf("chat model is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 10
	}

	replyTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(replyTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	extractTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage(extractSystemPrompt),
		schema.UserMessage(extractUserPrompt),
	)

	extractChain := compose.NewChain[map[string]any, *schema.Message]()
	extractChain.AppendChatTemplate(extractTemplate)
	extractChain.AppendChatModel(chatModel)

	extractor, err := extractChain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile criteria chain: %w", err)
	}

	return &Service{
		agents:       agents,
		prompts:      NewAgentPromptManager(),
		chain:        runnable,
		extractor:    extractor,
		historyLimit: opts.HistoryLimit,
		logger:       logger.Named("ai"),
	}, nil
}

// Reply is a generated answer and the agent that produced it.
type Reply struct {
	AgentID string
	Text    string
}

// Complete answers a general turn. The agent is routed from the message; sessionContext is a
// plain-text summary of the profile and cached results.
func (s *Service) Complete(ctx context.Context, history []chat.Turn, message, sessionContext string) (Reply, error) {
	a := s.agents.Route(message)
	input := map[string]any{
		"system":  s.prompts.BuildSystemPrompt(a, sessionContext),
		"history": s.buildHistoryMessages(history),
		"query":   message,
	}

	response, err := s.chain.Invoke(ctx, input)
	if err != nil {
		return Reply{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	text := ""
	if response != nil {
		text = strings.TrimSpace(response.Content)
	}
	if text == "" {
		return Reply{}, fmt.Errorf("%w: empty completion", ErrUnavailable)
	}

	s.logger.Debug("generated reply", zap.String("agent", a.ID), zap.Int("length", len(text)))
	return Reply{AgentID: a.ID, Text: text}, nil
}

func (s *Service) buildHistoryMessages(turns []chat.Turn) []*schema.Message {
	if len(turns) == 0 {
		return nil
	}

	startIdx := 0
	if len(turns) > s.historyLimit {
		startIdx = len(turns) - s.historyLimit
	}

	history := make([]*schema.Message, 0, len(turns)-startIdx)
	for _, turn := range turns[startIdx:] {
		switch turn.Role {
		case chat.RoleUser:
			history = append(history, schema.UserMessage(turn.Text))
		case chat.RoleAssistant:
			history = append(history, schema.AssistantMessage(turn.Text, nil))
		}
	}
	return history
}
