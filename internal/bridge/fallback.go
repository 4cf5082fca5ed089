package bridge

import (
	"context"
	"fmt"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/inferbridge/inferbridge/internal/domain"
	"github.com/inferbridge/inferbridge/internal/protocol"
)

// fallbackClient completes chats through the OpenAI-compatible HTTP surface
// of the inference server.  It carries no streaming and no tool calls; it
// exists so a bridge with a dead WebSocket can still answer.
type fallbackClient struct {
	client openai.Client
	model  string
}

func newFallbackClient(baseURL, model string) *fallbackClient {
	return &fallbackClient{
		client: openai.NewClient(
			option.WithBaseURL(baseURL),
			// Local inference servers ignore the key but the client insists
			// on one.
			option.WithAPIKey("local"),
		),
		model: model,
	}
}

func (f *fallbackClient) Complete(ctx context.Context, system string, messages []protocol.ChatMessage, maxTokens int) (string, *domain.Usage, error) {
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(f.model),
	}
	if system != "" {
		params.Messages = append(params.Messages, openai.SystemMessage(system))
	}
	for _, m := range messages {
		switch m.Role {
		case "assistant":
			params.Messages = append(params.Messages, openai.AssistantMessage(m.Content))
		case "system":
			params.Messages = append(params.Messages, openai.SystemMessage(m.Content))
		default:
			params.Messages = append(params.Messages, openai.UserMessage(m.Content))
		}
	}
	if maxTokens > 0 {
		params.MaxTokens = openai.Int(int64(maxTokens))
	}

	resp, err := f.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", nil, fmt.Errorf("fallback completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", nil, fmt.Errorf("fallback completion: no choices in response")
	}

	usage := &domain.Usage{
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}
	return resp.Choices[0].Message.Content, usage, nil
}
