package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	goopenai "github.com/sashabaranov/go-openai"

	"stageflow/internal/logger"
	"stageflow/pkg/flowtypes"
)

// OpenAICompatibleClient implements the LLMClient interface for any endpoint that speaks the
// OpenAI Chat Completions API (OpenRouter, Ollama, vLLM, LM Studio, ...).
type OpenAICompatibleClient struct {
	providerName string
	apiKey       string
	baseURL      string
	httpClient   *http.Client
	client       *goopenai.Client
}

// OpenAICompatibleConfig holds configuration for the OpenAI-compatible client.
type OpenAICompatibleConfig struct {
	ProviderName string
	APIKey       string
	BaseURL      string
	HTTPClient   *http.Client
}

// NewOpenAICompatibleClient creates a client for an OpenAI-compatible endpoint.
func NewOpenAICompatibleClient(config OpenAICompatibleConfig) *OpenAICompatibleClient {
	name := config.ProviderName
	if name == "" {
		name = ProviderCompatible
	}
	return &OpenAICompatibleClient{
		providerName: name,
		apiKey:       config.APIKey,
		baseURL:      config.BaseURL,
		httpClient:   config.HTTPClient,
	}
}

// GetProviderName returns the configured provider name.
func (c *OpenAICompatibleClient) GetProviderName() string {
	return c.providerName
}

// IsConfigured returns true once a base URL is set. Local servers often need no key.
func (c *OpenAICompatibleClient) IsConfigured() bool {
	return c.baseURL != ""
}

func (c *OpenAICompatibleClient) initializeClientIfNeeded() error {
	if c.client != nil {
		return nil
	}
	if c.baseURL == "" {
		return fmt.Errorf("%s base URL not configured", c.providerName)
	}

	config := goopenai.DefaultConfig(c.apiKey)
	config.BaseURL = c.baseURL
	if c.httpClient != nil {
		config.HTTPClient = c.httpClient
	}
	c.client = goopenai.NewClientWithConfig(config)

	logger.Debug("OpenAI-compatible client initialized", "provider", c.providerName, "base_url", c.baseURL)
	return nil
}

// SendChatCompletion sends a chat completion request to the compatible endpoint.
func (c *OpenAICompatibleClient) SendChatCompletion(ctx context.Context, req *flowtypes.ChatRequest, modelConfig *flowtypes.ModelConfig) (string, error) {
	if err := c.initializeClientIfNeeded(); err != nil {
		return "", err
	}

	resp, err := c.client.CreateChatCompletion(ctx, c.buildRequest(req, modelConfig, false))
	if err != nil {
		logger.Error("Compatible request failed", "provider", c.providerName, "error", err)
		return "", fmt.Errorf("%s request failed: %w", c.providerName, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response choices returned")
	}

	content := resp.Choices[0].Message.Content
	if content == "" {
		return "", fmt.Errorf("empty response content")
	}
	return content, nil
}

// StreamChatCompletion sends a streaming chat completion request to the compatible endpoint.
func (c *OpenAICompatibleClient) StreamChatCompletion(ctx context.Context, req *flowtypes.ChatRequest, modelConfig *flowtypes.ModelConfig) (<-chan flowtypes.StreamChunk, error) {
	if err := c.initializeClientIfNeeded(); err != nil {
		return nil, err
	}

	stream, err := c.client.CreateChatCompletionStream(ctx, c.buildRequest(req, modelConfig, true))
	if err != nil {
		logger.Error("Compatible stream request failed", "provider", c.providerName, "error", err)
		return nil, fmt.Errorf("%s stream request failed: %w", c.providerName, err)
	}

	responseChan := make(chan flowtypes.StreamChunk, 10)
	go func() {
		defer close(responseChan)
		defer func() { _ = stream.Close() }()

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				sendChunk(ctx, responseChan, flowtypes.StreamChunk{Done: true})
				return
			}
			if err != nil {
				sendChunk(ctx, responseChan, flowtypes.StreamChunk{Done: true, Error: err})
				return
			}
			if len(resp.Choices) > 0 && resp.Choices[0].Delta.Content != "" {
				if !sendChunk(ctx, responseChan, flowtypes.StreamChunk{Content: resp.Choices[0].Delta.Content}) {
					return
				}
			}
		}
	}()

	return responseChan, nil
}

func (c *OpenAICompatibleClient) buildRequest(req *flowtypes.ChatRequest, modelConfig *flowtypes.ModelConfig, stream bool) goopenai.ChatCompletionRequest {
	messages := make([]goopenai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, goopenai.ChatCompletionMessage{Role: goopenai.ChatMessageRoleSystem, Content: req.SystemPrompt})
	}
	for _, msg := range req.Messages {
		switch msg.Role {
		case flowtypes.RoleUser:
			messages = append(messages, goopenai.ChatCompletionMessage{Role: goopenai.ChatMessageRoleUser, Content: msg.Content})
		case flowtypes.RoleAssistant:
			messages = append(messages, goopenai.ChatCompletionMessage{Role: goopenai.ChatMessageRoleAssistant, Content: msg.Content})
		case flowtypes.RoleSystem:
			messages = append(messages, goopenai.ChatCompletionMessage{Role: goopenai.ChatMessageRoleSystem, Content: msg.Content})
		default:
			continue
		}
	}

	request := goopenai.ChatCompletionRequest{
		Model:    modelConfig.BaseModel,
		Messages: messages,
		Stream:   stream,
	}
	if modelConfig.Temperature != nil {
		request.Temperature = float32(*modelConfig.Temperature)
	}
	if modelConfig.MaxTokens != nil {
		request.MaxTokens = *modelConfig.MaxTokens
	}
	if modelConfig.TopP != nil {
		request.TopP = float32(*modelConfig.TopP)
	}
	return request
}
