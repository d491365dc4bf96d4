package services

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"stageflow/internal/logger"
	"stageflow/pkg/flowtypes"

	"google.golang.org/genai"
)

// GeminiClient implements the LLMClient interface for Google Gemini API.
// It provides lazy initialization of the Gemini client and handles
// all Gemini-specific communication logic.
type GeminiClient struct {
	apiKey     string
	client     *genai.Client
	httpClient *http.Client
}

// NewGeminiClient creates a new Gemini client with lazy initialization.
// The actual Gemini client is created only when the first request is made.
func NewGeminiClient(apiKey string) *GeminiClient {
	return &GeminiClient{
		apiKey: apiKey,
		client: nil, // Will be initialized lazily
	}
}

// GetProviderName returns the provider name for this client.
func (c *GeminiClient) GetProviderName() string {
	return ProviderGemini
}

// IsConfigured returns true if the client has a valid API key.
func (c *GeminiClient) IsConfigured() bool {
	return c.apiKey != ""
}

// SetHTTPClient overrides the HTTP client used for requests.
func (c *GeminiClient) SetHTTPClient(httpClient *http.Client) {
	c.httpClient = httpClient
	c.client = nil
}

// initializeClientIfNeeded initializes the Gemini client if it hasn't been initialized yet.
func (c *GeminiClient) initializeClientIfNeeded(ctx context.Context) error {
	if c.client != nil {
		return nil
	}

	if c.apiKey == "" {
		return fmt.Errorf("google API key not configured")
	}

	clientConfig := &genai.ClientConfig{
		APIKey:  c.apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if c.httpClient != nil {
		clientConfig.HTTPClient = c.httpClient
	}

	client, err := genai.NewClient(ctx, clientConfig)
	if err != nil {
		return fmt.Errorf("failed to create Gemini client: %w", err)
	}

	c.client = client
	logger.Debug("Gemini client initialized", "provider", ProviderGemini)
	return nil
}

// SendChatCompletion sends a chat completion request to Google Gemini.
func (c *GeminiClient) SendChatCompletion(ctx context.Context, req *flowtypes.ChatRequest, modelConfig *flowtypes.ModelConfig) (string, error) {
	logger.Debug("Gemini SendChatCompletion starting", "model", modelConfig.BaseModel)

	if err := c.initializeClientIfNeeded(ctx); err != nil {
		return "", fmt.Errorf("failed to initialize Gemini client: %w", err)
	}

	contents := c.convertMessagesToGemini(req)
	config := c.buildGenerationConfig(modelConfig, req)

	result, err := c.client.Models.GenerateContent(ctx, modelConfig.BaseModel, contents, config)
	if err != nil {
		logger.Error("Gemini request failed", "error", err)
		return "", fmt.Errorf("gemini request failed: %w", err)
	}

	content := extractGeminiText(result)
	if content == "" {
		logger.Error("Empty response content")
		return "", fmt.Errorf("empty response content")
	}

	logger.Debug("Gemini response received", "content_length", len(content))
	return content, nil
}

// StreamChatCompletion sends a streaming chat completion request to Google Gemini.
func (c *GeminiClient) StreamChatCompletion(ctx context.Context, req *flowtypes.ChatRequest, modelConfig *flowtypes.ModelConfig) (<-chan flowtypes.StreamChunk, error) {
	logger.Debug("Gemini StreamChatCompletion starting", "model", modelConfig.BaseModel)

	if err := c.initializeClientIfNeeded(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize Gemini client: %w", err)
	}

	contents := c.convertMessagesToGemini(req)
	config := c.buildGenerationConfig(modelConfig, req)

	responseChan := make(chan flowtypes.StreamChunk, 10)
	go func() {
		defer close(responseChan)

		for result, err := range c.client.Models.GenerateContentStream(ctx, modelConfig.BaseModel, contents, config) {
			if err != nil {
				sendChunk(ctx, responseChan, flowtypes.StreamChunk{Done: true, Error: fmt.Errorf("gemini stream failed: %w", err)})
				return
			}
			if text := extractGeminiText(result); text != "" {
				if !sendChunk(ctx, responseChan, flowtypes.StreamChunk{Content: text}) {
					return
				}
			}
		}

		sendChunk(ctx, responseChan, flowtypes.StreamChunk{Done: true})
	}()

	return responseChan, nil
}

// convertMessagesToGemini converts stageflow messages to Gemini format.
// System prompt is handled separately via SystemInstruction in GenerateContentConfig.
func (c *GeminiClient) convertMessagesToGemini(req *flowtypes.ChatRequest) []*genai.Content {
	contents := make([]*genai.Content, 0, len(req.Messages))

	for _, msg := range req.Messages {
		var role string
		content := msg.Content

		switch msg.Role {
		case flowtypes.RoleUser:
			role = "user"
		case flowtypes.RoleAssistant:
			role = "model" // Gemini uses "model" instead of "assistant"
		case flowtypes.RoleSystem:
			// System messages are treated as user messages in Gemini
			role = "user"
			content = "System: " + msg.Content
		default:
			continue
		}

		contents = append(contents, &genai.Content{
			Parts: []*genai.Part{{Text: content}},
			Role:  role,
		})
	}

	if len(contents) == 0 {
		contents = append(contents, &genai.Content{
			Parts: []*genai.Part{{Text: ""}},
			Role:  "user",
		})
	}

	return contents
}

// buildGenerationConfig creates a Gemini generation config from the model config and request.
func (c *GeminiClient) buildGenerationConfig(modelConfig *flowtypes.ModelConfig, req *flowtypes.ChatRequest) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{}

	if req.SystemPrompt != "" {
		config.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}
	if modelConfig.Temperature != nil {
		temperature := float32(*modelConfig.Temperature)
		config.Temperature = &temperature
	}
	if modelConfig.TopP != nil {
		topP := float32(*modelConfig.TopP)
		config.TopP = &topP
	}
	if modelConfig.MaxTokens != nil {
		config.MaxOutputTokens = int32(*modelConfig.MaxTokens)
	}

	return config
}

// extractGeminiText concatenates the non-thought text parts of a response.
func extractGeminiText(result *genai.GenerateContentResponse) string {
	if result == nil {
		return ""
	}

	var sb strings.Builder
	for _, candidate := range result.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part.Text == "" || part.Thought {
				continue
			}
			sb.WriteString(part.Text)
		}
	}
	return sb.String()
}
