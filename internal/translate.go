package internal

import (
	"context"
	"fmt"

	"github.com/sashabaranov/go-openai"
)

// Translator turns text from one language into another. It runs between
// message ingestion and per-peer fan-out, keyed by the recipient's stored
// language. A nil Translator means the relay forwards text verbatim.
type Translator = func(ctx context.Context, text, from, to string) (string, error)

// NewOpenAITranslator builds a Translator backed by the chat completions API.
func NewOpenAITranslator(apiKey string) Translator {
	client := openai.NewClient(apiKey)

	return func(ctx context.Context, text, from, to string) (string, error) {
		if from == to {
			return text, nil
		}

		prompt := fmt.Sprintf("Translate the following text from %s to %s. Reply with the translation only:\n\n%s", from, to, text)

		resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model: openai.GPT4oMini,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleUser, Content: prompt},
			},
			MaxTokens:   1000,
			Temperature: 0.7,
		})
		if err != nil {
			return "", fmt.Errorf("translation request: %w", err)
		}

		if len(resp.Choices) == 0 {
			return "", fmt.Errorf("translation returned no choices")
		}

		return resp.Choices[0].Message.Content, nil
	}
}
