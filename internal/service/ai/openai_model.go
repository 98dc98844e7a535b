package ai

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// openAIChatModel adapts a langchaingo OpenAI client to the eino chat-model
// contract, so the same compiled chain runs against OpenAI when no Ark
// credentials are configured.
type openAIChatModel struct {
	llm *openai.LLM
}

// NewOpenAIChatModel builds the OpenAI-backed chat model.
func NewOpenAIChatModel(apiKey, modelName string) (model.ChatModel, error) {
	if apiKey == "" || modelName == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY and OPENAI_MODEL are required for the openai backend")
	}

	llm, err := openai.New(openai.WithToken(apiKey), openai.WithModel(modelName))
	if err != nil {
		return nil, fmt.Errorf("failed to create openai client: %w", err)
	}
	return &openAIChatModel{llm: llm}, nil
}

func (m *openAIChatModel) Generate(ctx context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	response, err := m.llm.GenerateContent(ctx, toLangchainMessages(input))
	if err != nil {
		return nil, err
	}
	if len(response.Choices) == 0 {
		return nil, errors.New("openai returned no choices")
	}
	return schema.AssistantMessage(response.Choices[0].Content, nil), nil
}

func (m *openAIChatModel) Stream(ctx context.Context, input []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	reader, writer := schema.Pipe[*schema.Message](8)

	go func() {
		defer writer.Close()
		_, err := m.llm.GenerateContent(ctx, toLangchainMessages(input),
			llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
				if len(chunk) == 0 {
					return nil
				}
				writer.Send(schema.AssistantMessage(string(chunk), nil), nil)
				return nil
			}),
		)
		if err != nil {
			writer.Send(nil, err)
		}
	}()

	return reader, nil
}

// BindTools is part of the eino interface; the coaching chain never binds
// tools, so the adapter rejects it outright.
func (m *openAIChatModel) BindTools(_ []*schema.ToolInfo) error {
	return errors.New("tool binding is not supported by the openai adapter")
}

func toLangchainMessages(input []*schema.Message) []llms.MessageContent {
	messages := make([]llms.MessageContent, 0, len(input))
	for _, msg := range input {
		if msg == nil {
			continue
		}
		var role llms.ChatMessageType
		switch msg.Role {
		case schema.System:
			role = llms.ChatMessageTypeSystem
		case schema.Assistant:
			role = llms.ChatMessageTypeAI
		default:
			role = llms.ChatMessageTypeHuman
		}
		messages = append(messages, llms.TextParts(role, msg.Content))
	}
	return messages
}
