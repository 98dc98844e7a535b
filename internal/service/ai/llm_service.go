package ai

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
)

// Config controls the responder behavior.
type Config struct {
	SystemPrompt   string
	StreamResponse bool
}

// Request carries everything the prompt assembler needs for one reply.
type Request struct {
	SessionID      string
	UserText       string
	History        string // rendered transcript, flat text
	SentimentLabel string
	Opening        bool // first turn of a brand-new session
	Username       string
}

// Service generates coaching replies through a compiled prompt+model chain.
type Service struct {
	chatModel model.ChatModel
	cfg       Config
	chain     compose.Runnable[map[string]any, *schema.Message]
}

// NewService compiles the conversation chain around the injected model.
func NewService(ctx context.Context, chatModel model.ChatModel, cfg Config) (*Service, error) {
	if chatModel == nil {
		return nil, fmt.Errorf("chat model is required")
	}
	if strings.TrimSpace(cfg.SystemPrompt) == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.SystemMessage("{history}"),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	return &Service{
		chatModel: chatModel,
		cfg:       cfg,
		chain:     runnable,
	}, nil
}

// StreamingEnabled indicates whether SSE streaming output is on.
func (s *Service) StreamingEnabled() bool {
	return s.cfg.StreamResponse
}

// Generate runs the chain once and returns the reply text.
func (s *Service) Generate(ctx context.Context, req Request) (string, error) {
	input := s.buildChainInput(req)

	response, err := s.chain.Invoke(ctx, input)
	if err != nil {
		return "", fmt.Errorf("failed to run chat chain: %w", err)
	}

	reply := strings.TrimSpace(response.Content)
	log.Printf("[ai] generated response for session=%s, length=%d", req.SessionID, len(reply))
	return reply, nil
}

// Stream runs the chain in streaming mode.
func (s *Service) Stream(ctx context.Context, req Request) (*schema.StreamReader[*schema.Message], error) {
	if !s.StreamingEnabled() {
		return nil, fmt.Errorf("streaming disabled in configuration")
	}

	stream, err := s.chain.Stream(ctx, s.buildChainInput(req))
	if err != nil {
		return nil, fmt.Errorf("failed to stream chat chain output: %w", err)
	}
	return stream, nil
}

// buildChainInput assembles the three prompt segments in fixed order:
// system (persona + sentiment directive), history injection, user turn.
func (s *Service) buildChainInput(req Request) map[string]any {
	base := s.cfg.SystemPrompt
	if req.Opening {
		base = openingSystemPrompt(base, req.Username)
	}
	system := buildSystemPrompt(base, req.SentimentLabel)
	history := truncateHistory(req.History)

	log.Printf("[ai] prompt assembled for session=%s, history_chars=%d, tokens~=%d",
		req.SessionID, len(history), estimateTokens(system+history+req.UserText))

	return map[string]any{
		"system":  system,
		"history": history,
		"query":   req.UserText,
	}
}
