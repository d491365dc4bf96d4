package services

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"stageflow/internal/logger"
	"stageflow/pkg/flowtypes"
)

// KeyLookup resolves a configuration or environment key to its value.
type KeyLookup func(key string) string

// providerKeyNames maps providers to the key holding their API key.
var providerKeyNames = map[string]string{
	ProviderOpenAI:     "OPENAI_API_KEY",
	ProviderAnthropic:  "ANTHROPIC_API_KEY",
	ProviderGemini:     "GOOGLE_API_KEY",
	ProviderCompatible: "COMPATIBLE_API_KEY",
}

// ClientFactoryService manages the creation and caching of LLM clients.
type ClientFactoryService struct {
	initialized bool
	clients     map[string]flowtypes.LLMClient
	mutex       sync.RWMutex
	baseURL     string
	mock        *MockClient
}

// NewClientFactoryService creates a new ClientFactoryService instance.
func NewClientFactoryService() *ClientFactoryService {
	return &ClientFactoryService{
		initialized: false,
		clients:     make(map[string]flowtypes.LLMClient),
	}
}

// Name returns the service name "client_factory" for registration.
func (f *ClientFactoryService) Name() string {
	return "client_factory"
}

// Initialize sets up the ClientFactoryService for operation.
func (f *ClientFactoryService) Initialize() error {
	logger.ServiceOperation("client_factory", "initialize", "starting")
	f.initialized = true
	logger.ServiceOperation("client_factory", "initialize", "completed")
	return nil
}

// SetBaseURL sets the API root used for compatible clients and overrides the default
// endpoint of the openai and anthropic clients. Changing it drops cached clients.
func (f *ClientFactoryService) SetBaseURL(baseURL string) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	baseURL = strings.TrimSpace(baseURL)
	if baseURL != f.baseURL {
		f.clearCacheLocked()
	}
	f.baseURL = baseURL
}

// SetMockClient makes the "mock" provider return client. Changing it drops cached clients.
func (f *ClientFactoryService) SetMockClient(client *MockClient) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if client != f.mock {
		f.clearCacheLocked()
	}
	f.mock = client
}

// GetClientForProvider returns an LLM client for the specified provider and API key.
// Clients are cached per provider and key.
func (f *ClientFactoryService) GetClientForProvider(provider, apiKey string) (flowtypes.LLMClient, error) {
	if !f.initialized {
		return nil, fmt.Errorf("client factory service not initialized")
	}

	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return nil, fmt.Errorf("provider cannot be empty")
	}

	if apiKey == "" && requiresAPIKey(provider) {
		return nil, fmt.Errorf("API key cannot be empty for provider '%s'", provider)
	}

	cacheKey := fmt.Sprintf("%s:%s", provider, apiKey)

	f.mutex.RLock()
	if client, exists := f.clients[cacheKey]; exists {
		f.mutex.RUnlock()
		logger.Debug("Returning cached provider client", "provider", provider)
		return client, nil
	}
	f.mutex.RUnlock()

	f.mutex.Lock()
	defer f.mutex.Unlock()

	if client, exists := f.clients[cacheKey]; exists {
		return client, nil
	}

	var client flowtypes.LLMClient
	switch provider {
	case ProviderOpenAI:
		openaiClient := NewOpenAIClient(apiKey)
		if f.baseURL != "" {
			openaiClient.SetBaseURL(f.baseURL)
		}
		client = openaiClient
	case ProviderAnthropic:
		anthropicClient := NewAnthropicClient(apiKey)
		if f.baseURL != "" {
			anthropicClient.SetBaseURL(f.baseURL)
		}
		client = anthropicClient
	case ProviderGemini:
		client = NewGeminiClient(apiKey)
	case ProviderCompatible:
		if f.baseURL == "" {
			return nil, fmt.Errorf("provider '%s' requires a base URL", provider)
		}
		client = NewOpenAICompatibleClient(OpenAICompatibleConfig{APIKey: apiKey, BaseURL: f.baseURL})
	case ProviderMock:
		if f.mock == nil {
			f.mock = NewMockClient()
		}
		client = f.mock
	default:
		return nil, fmt.Errorf("unsupported provider '%s'. Supported providers: %s", provider, strings.Join(SupportedProviders, ", "))
	}

	f.clients[cacheKey] = client

	logger.Debug("Created new provider client", "provider", provider)
	return client, nil
}

// DetermineAPIKeyForProvider resolves the API key for provider through lookup.
// A nil lookup reads the process environment.
func (f *ClientFactoryService) DetermineAPIKeyForProvider(provider string, lookup KeyLookup) (string, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return "", fmt.Errorf("provider cannot be empty")
	}
	if lookup == nil {
		lookup = os.Getenv
	}

	keyName, known := providerKeyNames[provider]
	if !known {
		if provider == ProviderMock {
			return "", nil
		}
		return "", fmt.Errorf("unsupported provider '%s'. Supported providers: %s", provider, strings.Join(SupportedProviders, ", "))
	}

	apiKey := lookup(keyName)
	if apiKey == "" && requiresAPIKey(provider) {
		return "", fmt.Errorf("%s API key not found. Please set the %s environment variable", provider, keyName)
	}

	logger.Debug("API key resolved for provider", "provider", provider, "key", keyName, "present", apiKey != "")
	return apiKey, nil
}

// GetCachedClientCount returns the number of cached clients.
func (f *ClientFactoryService) GetCachedClientCount() int {
	f.mutex.RLock()
	defer f.mutex.RUnlock()
	return len(f.clients)
}

// clearCacheLocked drops cached clients built with outdated settings.
func (f *ClientFactoryService) clearCacheLocked() {
	if len(f.clients) == 0 {
		return
	}
	f.clients = make(map[string]flowtypes.LLMClient)
	logger.Debug("Client cache cleared")
}

func requiresAPIKey(provider string) bool {
	return provider != ProviderMock && provider != ProviderCompatible
}
