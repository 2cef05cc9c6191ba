// Package llm adapts the Anthropic Messages API to the workflow engine's
// ChatClient interface.
package llm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/pitabwire/switchboard/internal/config"
)

const (
	defaultModel     = anthropic.ModelClaude3_5HaikuLatest
	defaultMaxTokens = 1024
)

// ErrNoAPIKey is returned by New when the configured key variable is unset.
var ErrNoAPIKey = errors.New("llm: no API key configured")

// Client sends single-turn prompts to Claude.
type Client struct {
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
	system    string
}

// New builds a Client from cfg. The API key is read from the environment
// variable named by cfg.APIKeyEnv. Extra options are appended after the
// configured ones.
func New(cfg config.AIConfig, opts ...option.RequestOption) (*Client, error) {
	apiKey := ""
	if cfg.APIKeyEnv != "" {
		apiKey = os.Getenv(cfg.APIKeyEnv)
	}
	if apiKey == "" {
		return nil, ErrNoAPIKey
	}

	clientOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		clientOpts = append(clientOpts, option.WithRequestTimeout(cfg.Timeout))
	}
	clientOpts = append(clientOpts, opts...)

	model := anthropic.Model(cfg.Model)
	if model == "" {
		model = defaultModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	return &Client{
		client:    anthropic.NewClient(clientOpts...),
		model:     model,
		maxTokens: maxTokens,
		system:    cfg.System,
	}, nil
}

// Complete sends prompt as a single user message and returns the text of
// the reply.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if c.system != "" {
		params.System = []anthropic.TextBlockParam{{Text: c.system}}
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("llm: %w", err)
	}
	return extractText(msg), nil
}

// extractText joins every text block of the reply.
func extractText(msg *anthropic.Message) string {
	if msg == nil {
		return ""
	}
	var parts []string
	for _, block := range msg.Content {
		if b, ok := block.AsAny().(anthropic.TextBlock); ok && b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}
