// Package services provides LLM client implementations and supporting services for stageflow.
package services

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"stageflow/internal/logger"
	"stageflow/pkg/flowtypes"
)

// AnthropicClient implements the LLMClient interface for Anthropic's API.
// It provides lazy initialization of the Anthropic client and handles
// all Anthropic-specific communication logic.
type AnthropicClient struct {
	apiKey     string
	baseURL    string
	client     *anthropic.Client
	httpClient *http.Client
}

// NewAnthropicClient creates a new Anthropic client with lazy initialization.
// The actual Anthropic client is created only when the first request is made.
func NewAnthropicClient(apiKey string) *AnthropicClient {
	return &AnthropicClient{
		apiKey: apiKey,
		client: nil, // Will be initialized lazily
	}
}

// GetProviderName returns the provider name for this client.
func (c *AnthropicClient) GetProviderName() string {
	return ProviderAnthropic
}

// IsConfigured returns true if the client has a valid API key.
func (c *AnthropicClient) IsConfigured() bool {
	return c.apiKey != ""
}

// SetHTTPClient overrides the HTTP client used for requests.
func (c *AnthropicClient) SetHTTPClient(httpClient *http.Client) {
	c.httpClient = httpClient
	c.client = nil
}

// SetBaseURL points the client at a different API root.
func (c *AnthropicClient) SetBaseURL(baseURL string) {
	c.baseURL = baseURL
	c.client = nil
}

// initializeClientIfNeeded initializes the Anthropic client if it hasn't been initialized yet.
func (c *AnthropicClient) initializeClientIfNeeded() error {
	if c.client != nil {
		return nil
	}

	if c.apiKey == "" {
		return fmt.Errorf("anthropic API key not configured")
	}

	options := []option.RequestOption{option.WithAPIKey(c.apiKey)}
	if c.baseURL != "" {
		options = append(options, option.WithBaseURL(c.baseURL))
	}
	if c.httpClient != nil {
		options = append(options, option.WithHTTPClient(c.httpClient))
	}

	client := anthropic.NewClient(options...)
	c.client = &client

	logger.Debug("Anthropic client initialized", "provider", ProviderAnthropic)
	return nil
}

// SendChatCompletion sends a chat completion request to Anthropic.
func (c *AnthropicClient) SendChatCompletion(ctx context.Context, req *flowtypes.ChatRequest, modelConfig *flowtypes.ModelConfig) (string, error) {
	logger.Debug("Anthropic SendChatCompletion starting", "model", modelConfig.BaseModel)

	if err := c.initializeClientIfNeeded(); err != nil {
		return "", fmt.Errorf("failed to initialize Anthropic client: %w", err)
	}

	params := c.buildParams(req, modelConfig)

	message, err := c.client.Messages.New(ctx, params)
	if err != nil {
		logger.Error("Anthropic request failed", "error", err)
		return "", fmt.Errorf("anthropic request failed: %w", err)
	}

	if len(message.Content) == 0 {
		logger.Error("No response content returned")
		return "", fmt.Errorf("no response content returned")
	}

	var content strings.Builder
	for _, block := range message.Content {
		content.WriteString(block.Text)
	}

	if content.Len() == 0 {
		logger.Error("Empty response content")
		return "", fmt.Errorf("empty response content")
	}

	logger.Debug("Anthropic response received", "content_length", content.Len())
	return content.String(), nil
}

// StreamChatCompletion sends a streaming chat completion request to Anthropic.
// Only text deltas are forwarded.
func (c *AnthropicClient) StreamChatCompletion(ctx context.Context, req *flowtypes.ChatRequest, modelConfig *flowtypes.ModelConfig) (<-chan flowtypes.StreamChunk, error) {
	logger.Debug("Anthropic StreamChatCompletion starting", "model", modelConfig.BaseModel)

	if err := c.initializeClientIfNeeded(); err != nil {
		return nil, fmt.Errorf("failed to initialize Anthropic client: %w", err)
	}

	params := c.buildParams(req, modelConfig)
	stream := c.client.Messages.NewStreaming(ctx, params)

	responseChan := make(chan flowtypes.StreamChunk, 10)
	go func() {
		defer close(responseChan)
		defer func() { _ = stream.Close() }()

		for stream.Next() {
			event := stream.Current()
			delta, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent)
			if !ok {
				continue
			}
			text, ok := delta.Delta.AsAny().(anthropic.TextDelta)
			if !ok || text.Text == "" {
				continue
			}
			if !sendChunk(ctx, responseChan, flowtypes.StreamChunk{Content: text.Text}) {
				return
			}
		}

		sendChunk(ctx, responseChan, flowtypes.StreamChunk{Done: true, Error: stream.Err()})
	}()

	return responseChan, nil
}

func (c *AnthropicClient) buildParams(req *flowtypes.ChatRequest, modelConfig *flowtypes.ModelConfig) anthropic.MessageNewParams {
	messages, additionalSystemInstructions := c.convertMessagesToAnthropic(req)

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(modelConfig.BaseModel),
		MaxTokens: int64(modelConfig.MaxTokensOr(flowtypes.DefaultMaxTokens)),
		Messages:  messages,
	}

	systemPrompt := req.SystemPrompt
	if additionalSystemInstructions != "" {
		if systemPrompt != "" {
			systemPrompt += "\n\n" + additionalSystemInstructions
		} else {
			systemPrompt = additionalSystemInstructions
		}
	}
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: systemPrompt}}
	}

	if modelConfig.Temperature != nil {
		params.Temperature = anthropic.Float(*modelConfig.Temperature)
	}
	if modelConfig.TopP != nil {
		params.TopP = anthropic.Float(*modelConfig.TopP)
	}

	logger.Debug("Anthropic parameters built", "model", modelConfig.BaseModel, "message_count", len(messages))
	return params
}

// convertMessagesToAnthropic converts stageflow messages to Anthropic format.
// System messages found in the conversation are returned separately so they can be merged
// into the system prompt; Anthropic only accepts user and assistant turns.
func (c *AnthropicClient) convertMessagesToAnthropic(req *flowtypes.ChatRequest) ([]anthropic.MessageParam, string) {
	messages := make([]anthropic.MessageParam, 0, len(req.Messages))
	var additionalSystemInstructions []string

	for _, msg := range req.Messages {
		switch msg.Role {
		case flowtypes.RoleUser:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		case flowtypes.RoleAssistant:
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		case flowtypes.RoleSystem:
			additionalSystemInstructions = append(additionalSystemInstructions, msg.Content)
		default:
			continue
		}
	}

	return messages, strings.Join(additionalSystemInstructions, "\n\n")
}
