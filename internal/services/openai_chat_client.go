package services

import (
	"context"
	"fmt"
	"net/http"

	"stageflow/internal/logger"
	"stageflow/pkg/flowtypes"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIClient implements the LLMClient interface for OpenAI's API.
// It provides lazy initialization of the OpenAI client and handles
// all OpenAI-specific communication logic.
type OpenAIClient struct {
	apiKey     string
	baseURL    string
	client     *openai.Client
	httpClient *http.Client
}

// NewOpenAIClient creates a new OpenAI client with lazy initialization.
// The actual OpenAI client is created only when the first request is made.
func NewOpenAIClient(apiKey string) *OpenAIClient {
	return &OpenAIClient{
		apiKey: apiKey,
		client: nil, // Will be initialized lazily
	}
}

// GetProviderName returns the provider name for this client.
func (c *OpenAIClient) GetProviderName() string {
	return ProviderOpenAI
}

// IsConfigured returns true if the client has a valid API key.
func (c *OpenAIClient) IsConfigured() bool {
	return c.apiKey != ""
}

// SetHTTPClient overrides the HTTP client used for requests (tests, proxies).
func (c *OpenAIClient) SetHTTPClient(httpClient *http.Client) {
	c.httpClient = httpClient
	c.client = nil
}

// SetBaseURL points the client at a different API root.
func (c *OpenAIClient) SetBaseURL(baseURL string) {
	c.baseURL = baseURL
	c.client = nil
}

// initializeClientIfNeeded initializes the OpenAI client if it hasn't been initialized yet.
func (c *OpenAIClient) initializeClientIfNeeded() error {
	if c.client != nil {
		return nil
	}

	if c.apiKey == "" {
		return fmt.Errorf("OpenAI API key not configured")
	}

	options := []option.RequestOption{option.WithAPIKey(c.apiKey)}
	if c.baseURL != "" {
		options = append(options, option.WithBaseURL(c.baseURL))
	}
	if c.httpClient != nil {
		options = append(options, option.WithHTTPClient(c.httpClient))
	}

	client := openai.NewClient(options...)
	c.client = &client

	logger.Debug("OpenAI client initialized", "provider", ProviderOpenAI)
	return nil
}

// SendChatCompletion sends a chat completion request to OpenAI.
func (c *OpenAIClient) SendChatCompletion(ctx context.Context, req *flowtypes.ChatRequest, modelConfig *flowtypes.ModelConfig) (string, error) {
	logger.Debug("OpenAI SendChatCompletion starting", "model", modelConfig.BaseModel)

	if err := c.initializeClientIfNeeded(); err != nil {
		return "", fmt.Errorf("failed to initialize OpenAI client: %w", err)
	}

	params := c.buildParams(req, modelConfig)

	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		logger.Error("OpenAI request failed", "error", err)
		return "", fmt.Errorf("openai request failed: %w", err)
	}

	if len(completion.Choices) == 0 {
		logger.Error("No response choices returned")
		return "", fmt.Errorf("no response choices returned")
	}

	content := completion.Choices[0].Message.Content
	if content == "" {
		logger.Error("Empty response content")
		return "", fmt.Errorf("empty response content")
	}

	logger.Debug("OpenAI response received", "content_length", len(content))
	return content, nil
}

// StreamChatCompletion sends a streaming chat completion request to OpenAI.
func (c *OpenAIClient) StreamChatCompletion(ctx context.Context, req *flowtypes.ChatRequest, modelConfig *flowtypes.ModelConfig) (<-chan flowtypes.StreamChunk, error) {
	logger.Debug("OpenAI StreamChatCompletion starting", "model", modelConfig.BaseModel)

	if err := c.initializeClientIfNeeded(); err != nil {
		return nil, fmt.Errorf("failed to initialize OpenAI client: %w", err)
	}

	params := c.buildParams(req, modelConfig)
	stream := c.client.Chat.Completions.NewStreaming(ctx, params)

	responseChan := make(chan flowtypes.StreamChunk, 10)
	go func() {
		defer close(responseChan)
		defer func() { _ = stream.Close() }()

		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
				if !sendChunk(ctx, responseChan, flowtypes.StreamChunk{Content: chunk.Choices[0].Delta.Content}) {
					return
				}
			}
		}

		sendChunk(ctx, responseChan, flowtypes.StreamChunk{Done: true, Error: stream.Err()})
	}()

	return responseChan, nil
}

func (c *OpenAIClient) buildParams(req *flowtypes.ChatRequest, modelConfig *flowtypes.ModelConfig) openai.ChatCompletionNewParams {
	messages := c.convertMessagesToOpenAI(req)
	if req.SystemPrompt != "" {
		systemMsg := openai.SystemMessage(req.SystemPrompt)
		messages = append([]openai.ChatCompletionMessageParamUnion{systemMsg}, messages...)
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(modelConfig.BaseModel),
		Messages: messages,
	}
	c.applyModelParameters(&params, modelConfig)

	logger.Debug("Completion parameters built", "model", modelConfig.BaseModel, "message_count", len(messages))
	return params
}

// convertMessagesToOpenAI converts stageflow messages to OpenAI format.
func (c *OpenAIClient) convertMessagesToOpenAI(req *flowtypes.ChatRequest) []openai.ChatCompletionMessageParamUnion {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)

	for _, msg := range req.Messages {
		switch msg.Role {
		case flowtypes.RoleUser:
			messages = append(messages, openai.UserMessage(msg.Content))
		case flowtypes.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(msg.Content))
		case flowtypes.RoleSystem:
			messages = append(messages, openai.SystemMessage(msg.Content))
		default:
			continue
		}
	}

	return messages
}

// applyModelParameters applies model configuration parameters to the OpenAI request.
func (c *OpenAIClient) applyModelParameters(params *openai.ChatCompletionNewParams, modelConfig *flowtypes.ModelConfig) {
	if modelConfig.Temperature != nil {
		params.Temperature = openai.Float(*modelConfig.Temperature)
	}
	if modelConfig.MaxTokens != nil {
		params.MaxTokens = openai.Int(int64(*modelConfig.MaxTokens))
	}
	if modelConfig.TopP != nil {
		params.TopP = openai.Float(*modelConfig.TopP)
	}
}
