package sentiment

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	analysis "github.com/pocketcoach/backend/internal/analysis/sentiment"
)

const classifierSystemPrompt = `You are a sentiment classifier for a coaching conversation.
Classify the user text into exactly one of: sadness, joy, love, anger, fear, surprise.
Respond with a single JSON object, no prose: {"label": "<label>", "score": <confidence between 0 and 1>}`

const classifierUserPrompt = `Text: {text}`

// Config controls the classifier behavior.
type Config struct {
	Enabled bool
}

// Service classifies user text with a model-backed classifier and falls
// back to keyword heuristics when the model is unavailable or misbehaves.
// Analyze never fails: the worst case is the UNKNOWN fallback entry.
type Service struct {
	enabled    bool
	classifier compose.Runnable[map[string]any, *schema.Message]
	fallback   func(text string) []analysis.Result
}

// NewService creates the classifier. chatModel may be the chat model shared
// with the responder; nil disables the LLM path.
func NewService(ctx context.Context, chatModel model.ChatModel, cfg Config) (*Service, error) {
	svc := &Service{
		enabled:  cfg.Enabled && chatModel != nil,
		fallback: analysis.Analyze,
	}

	if !svc.enabled {
		return svc, nil
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage(classifierSystemPrompt),
		schema.UserMessage(classifierUserPrompt),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile sentiment classifier chain: %w", err)
	}

	svc.classifier = runnable
	return svc, nil
}

// Enabled reports whether the LLM classifier path is active.
func (s *Service) Enabled() bool {
	return s != nil && s.enabled && s.classifier != nil
}

// Analyze returns ranked classification entries, best first. The slice is
// never empty.
func (s *Service) Analyze(ctx context.Context, text string) []analysis.Result {
	if !s.Enabled() {
		return s.heuristics(text)
	}

	msg, err := s.classifier.Invoke(ctx, map[string]any{"text": strings.TrimSpace(text)})
	if err != nil {
		log.Printf("[sentiment] classifier invoke failed, using fallback: %v", err)
		return s.heuristics(text)
	}
	if msg == nil || strings.TrimSpace(msg.Content) == "" {
		return s.heuristics(text)
	}

	payload, err := parseClassifierOutput(msg.Content)
	if err != nil {
		log.Printf("[sentiment] classifier output parse failed, using fallback: %v", err)
		return s.heuristics(text)
	}

	label, ok := parseLabel(payload.Label)
	if !ok {
		return s.heuristics(text)
	}

	score := payload.Score
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return []analysis.Result{{Label: label, Score: score}}
}

func (s *Service) heuristics(text string) []analysis.Result {
	if results := s.fallback(text); len(results) > 0 {
		return results
	}
	return []analysis.Result{{Label: analysis.Unknown, Score: 0}}
}

type classifierPayload struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// parseClassifierOutput extracts the JSON object from the model reply,
// tolerating prose around it.
func parseClassifierOutput(content string) (*classifierPayload, error) {
	trimmed := strings.TrimSpace(content)
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start == -1 || end == -1 || end <= start {
		return nil, fmt.Errorf("missing json object")
	}

	payload := &classifierPayload{}
	if err := json.Unmarshal([]byte(trimmed[start:end+1]), payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func parseLabel(raw string) (analysis.Label, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "sadness":
		return analysis.Sadness, true
	case "joy":
		return analysis.Joy, true
	case "love":
		return analysis.Love, true
	case "anger":
		return analysis.Anger, true
	case "fear":
		return analysis.Fear, true
	case "surprise":
		return analysis.Surprise, true
	default:
		return "", false
	}
}
