package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/openai/openai-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stageflow/pkg/flowtypes"
)

func TestNewOpenAIClient(t *testing.T) {
	client := NewOpenAIClient("test-api-key")
	assert.Equal(t, "test-api-key", client.apiKey)
	assert.Equal(t, (*openai.Client)(nil), client.client) // lazy initialization
	assert.Equal(t, "openai", client.GetProviderName())
	assert.True(t, client.IsConfigured())
	assert.False(t, NewOpenAIClient("").IsConfigured())
}

func TestOpenAIClient_SendWithoutKey(t *testing.T) {
	client := NewOpenAIClient("")
	_, err := client.SendChatCompletion(context.Background(), &flowtypes.ChatRequest{}, &flowtypes.ModelConfig{BaseModel: "gpt-4o"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API key not configured")
}

func TestOpenAIClient_ConvertMessages(t *testing.T) {
	client := NewOpenAIClient("test-api-key")
	req := &flowtypes.ChatRequest{Messages: []flowtypes.Message{
		{Role: flowtypes.RoleUser, Content: "hi"},
		{Role: flowtypes.RoleAssistant, Content: "hello"},
		{Role: flowtypes.RoleSystem, Content: "be brief"},
		{Role: "tool", Content: "dropped"},
	}}

	messages := client.convertMessagesToOpenAI(req)
	assert.Len(t, messages, 3)
}

func TestOpenAIClient_SendChatCompletion(t *testing.T) {
	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"))
		assert.Equal(t, "Bearer test-api-key", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(body, &captured))

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"chatcmpl-1","object":"chat.completion","created":1,"model":"gpt-4o",
			"choices":[{"index":0,"message":{"role":"assistant","content":"Here is the plan"},"finish_reason":"stop"}]}`)
	}))
	defer server.Close()

	client := NewOpenAIClient("test-api-key")
	client.SetBaseURL(server.URL + "/")

	model := &flowtypes.ModelConfig{BaseModel: "gpt-4o", Temperature: flowtypes.Float64(0.2), MaxTokens: flowtypes.Int(256)}
	req := &flowtypes.ChatRequest{
		SystemPrompt: "You are helpful.",
		Messages:     []flowtypes.Message{{Role: flowtypes.RoleUser, Content: "Let's plan"}},
	}

	content, err := client.SendChatCompletion(context.Background(), req, model)
	require.NoError(t, err)
	assert.Equal(t, "Here is the plan", content)

	assert.Equal(t, "gpt-4o", captured["model"])
	assert.InDelta(t, 0.2, captured["temperature"], 0.0001)
	messages, ok := captured["messages"].([]any)
	require.True(t, ok)
	require.Len(t, messages, 2)
	assert.Equal(t, "system", messages[0].(map[string]any)["role"])
	assert.Equal(t, "user", messages[1].(map[string]any)["role"])
}

func TestOpenAIClient_SendChatCompletion_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":{"message":"bad request","type":"invalid_request_error"}}`)
	}))
	defer server.Close()

	client := NewOpenAIClient("test-api-key")
	client.SetBaseURL(server.URL + "/")

	_, err := client.SendChatCompletion(context.Background(), &flowtypes.ChatRequest{
		Messages: []flowtypes.Message{{Role: flowtypes.RoleUser, Content: "hi"}},
	}, &flowtypes.ModelConfig{BaseModel: "gpt-4o"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "openai request failed")
}

func TestOpenAIClient_StreamChatCompletion(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, piece := range []string{"Hello", " world"} {
			_, _ = fmt.Fprintf(w, "data: {\"id\":\"c1\",\"object\":\"chat.completion.chunk\",\"created\":1,\"model\":\"gpt-4o\",\"choices\":[{\"index\":0,\"delta\":{\"content\":%q}}]}\n\n", piece)
		}
		_, _ = io.WriteString(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	client := NewOpenAIClient("test-api-key")
	client.SetBaseURL(server.URL + "/")

	stream, err := client.StreamChatCompletion(context.Background(), &flowtypes.ChatRequest{
		Messages: []flowtypes.Message{{Role: flowtypes.RoleUser, Content: "hi"}},
	}, &flowtypes.ModelConfig{BaseModel: "gpt-4o"})
	require.NoError(t, err)

	var content strings.Builder
	var done bool
	for chunk := range stream {
		require.NoError(t, chunk.Error)
		content.WriteString(chunk.Content)
		done = done || chunk.Done
	}
	assert.True(t, done)
	assert.Equal(t, "Hello world", content.String())
}
