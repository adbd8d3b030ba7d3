// Package brain talks to the remote generative language service: blocking
// text and structured-JSON generation for chat and background analysis, and
// the streaming live-session client.
package brain

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"google.golang.org/genai"

	"github.com/normanking/kindred/internal/convo"
)

// DefaultModel is the generation model used when config leaves it unset.
const DefaultModel = "gemini-2.0-flash"

// Client wraps the generative language SDK for the blocking call paths.
type Client struct {
	client *genai.Client
	model  string
	logger zerolog.Logger
}

// NewClient creates a brain client. An API key is required; model falls back
// to DefaultModel when empty.
func NewClient(ctx context.Context, apiKey, model string, logger zerolog.Logger) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if model == "" {
		model = DefaultModel
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	return &Client{
		client: client,
		model:  model,
		logger: logger.With().Str("component", "brain").Logger(),
	}, nil
}

// GenerateText runs a single blocking generation and returns the reply text.
func (c *Client) GenerateText(ctx context.Context, systemInstruction, prompt string) (string, error) {
	config := &genai.GenerateContentConfig{}
	if systemInstruction != "" {
		config.SystemInstruction = genai.NewContentFromText(systemInstruction, genai.RoleUser)
	}

	result, err := c.client.Models.GenerateContent(ctx, c.model,
		genai.Text(prompt), config)
	if err != nil {
		return "", fmt.Errorf("generation failed: %w", err)
	}

	text := result.Text()
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("empty reply from model")
	}
	return text, nil
}

// GenerateJSON runs a generation constrained to a JSON response. The raw JSON
// text comes back uninterpreted; callers own unmarshalling and any fallback
// for malformed output.
func (c *Client) GenerateJSON(ctx context.Context, systemInstruction, prompt string, schema *genai.Schema) (string, error) {
	config := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   schema,
	}
	if systemInstruction != "" {
		config.SystemInstruction = genai.NewContentFromText(systemInstruction, genai.RoleUser)
	}

	result, err := c.client.Models.GenerateContent(ctx, c.model,
		genai.Text(prompt), config)
	if err != nil {
		return "", fmt.Errorf("structured generation failed: %w", err)
	}
	return result.Text(), nil
}

// ChatReply generates the next agent reply for a conversation. System-role
// turns are local error notices and never reach the model.
func (c *Client) ChatReply(ctx context.Context, systemInstruction string, turns []convo.Turn) (string, error) {
	contents := historyContents(turns)
	if len(contents) == 0 {
		return "", fmt.Errorf("no conversational turns to reply to")
	}

	config := &genai.GenerateContentConfig{}
	if systemInstruction != "" {
		config.SystemInstruction = genai.NewContentFromText(systemInstruction, genai.RoleUser)
	}

	result, err := c.client.Models.GenerateContent(ctx, c.model, contents, config)
	if err != nil {
		return "", fmt.Errorf("chat generation failed: %w", err)
	}

	text := result.Text()
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("empty reply from model")
	}
	return text, nil
}

// Close releases the underlying SDK client. The SDK client holds no
// resources that need explicit release, so this is a no-op.
func (c *Client) Close() error {
	return nil
}

// historyContents converts conversation turns into model contents, mapping
// agent turns to the model role and dropping system turns.
func historyContents(turns []convo.Turn) []*genai.Content {
	contents := make([]*genai.Content, 0, len(turns))
	for _, turn := range turns {
		if turn.Role == convo.RoleSystem || strings.TrimSpace(turn.Text) == "" {
			continue
		}
		var role genai.Role = genai.RoleUser
		if turn.Role == convo.RoleAgent {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(turn.Text, role))
	}
	return contents
}
