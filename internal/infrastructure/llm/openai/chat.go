package openai

import (
	"context"
	"errors"
	"strings"

	"github.com/kirillkom/hybrid-rag/internal/infrastructure/resilience"
)

type ChatCompleter struct {
	client *Client
}

func NewChatCompleter(client *Client) *ChatCompleter {
	return &ChatCompleter{client: client}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (g *ChatCompleter) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	messages := make([]chatMessage, 0, 2)
	if strings.TrimSpace(systemPrompt) != "" {
		messages = append(messages, chatMessage{Role: "system", Content: systemPrompt})
	}
	messages = append(messages, chatMessage{Role: "user", Content: userPrompt})

	request := map[string]any{
		"model":       g.client.chatModel,
		"messages":    messages,
		"temperature": g.client.temperature,
		"stream":      false,
	}

	var response struct {
		Choices []struct {
			Message chatMessage `json:"message"`
		} `json:"choices"`
	}
	err := g.client.execute(ctx, "chat", func(callCtx context.Context) error {
		return g.client.postJSON(callCtx, "/chat/completions", request, &response, "chat")
	})
	if err != nil {
		return "", resilience.WrapTemporaryIfNeeded("llm chat", err)
	}
	if len(response.Choices) == 0 {
		return "", errors.New("llm chat returned no choices")
	}
	return strings.TrimSpace(response.Choices[0].Message.Content), nil
}
