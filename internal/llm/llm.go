// Package llm generates distractor options for choice items whose pack
// omits them, through any OpenAI-compatible endpoint. It is optional
// tooling for teachers building packs; when disabled or failing, import
// falls back to sampling distractors from sibling items.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// distractorResult is the JSON shape the model is asked to return.
type distractorResult struct {
	Distractors []string `json:"distractors"`
}

// Client wraps an OpenAI-compatible API client.
type Client struct {
	api   *openai.Client
	model string
}

// New creates a new LLM client.
func New(baseURL, apiKey, modelName string) *Client {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &Client{
		api:   openai.NewClientWithConfig(config),
		model: modelName,
	}
}

// Ping checks that the endpoint answers at all before import relies on it.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.api.ListModels(ctx)
	if err != nil {
		return fmt.Errorf("LLM endpoint unreachable: %w", err)
	}
	return nil
}

// GenerateDistractors asks the model for n wrong-but-plausible options for
// answer, in the topic's language ("fr" or "en"), suited to the class level.
func (c *Client) GenerateDistractors(ctx context.Context, answer, lang, level string, n int) ([]string, error) {
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: buildDistractorPrompt(answer, lang, level, n)},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.7,
	})
	if err != nil {
		return nil, fmt.Errorf("LLM API call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("LLM returned no choices")
	}

	raw := resp.Choices[0].Message.Content
	slog.Debug("LLM response", "raw", raw)

	var result distractorResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return nil, fmt.Errorf("parse LLM response: %w (raw: %s)", err, raw)
	}

	out := filterDistractors(answer, result.Distractors, n)
	if len(out) == 0 {
		return nil, fmt.Errorf("LLM produced no usable distractors (raw: %s)", raw)
	}
	return out, nil
}

func buildDistractorPrompt(answer, lang, level string, n int) string {
	language := "English"
	if lang == "fr" {
		language = "French"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "You write multiple-choice quizzes for elementary school pupils (level %s).\n", level)
	fmt.Fprintf(&sb, "The correct answer is %q. Produce exactly %d incorrect but plausible options in %s.\n", answer, n, language)
	sb.WriteString("Each option must be a single word or short phrase a pupil could mistake for the answer,\n")
	sb.WriteString("must differ from the answer, and must not be a spelling variant of it.\n")
	sb.WriteString(`Respond with JSON only, in the form {"distractors": ["...", "..."]}.`)
	return sb.String()
}

// filterDistractors drops duplicates, empties and anything that matches the
// answer itself, then caps the list at n.
func filterDistractors(answer string, candidates []string, n int) []string {
	seen := map[string]bool{strings.ToLower(strings.TrimSpace(answer)): true}
	out := make([]string, 0, n)
	for _, c := range candidates {
		c = strings.TrimSpace(c)
		key := strings.ToLower(c)
		if c == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, c)
		if len(out) == n {
			break
		}
	}
	return out
}
