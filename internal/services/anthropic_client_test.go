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

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stageflow/pkg/flowtypes"
)

func TestNewAnthropicClient(t *testing.T) {
	client := NewAnthropicClient("test-api-key")
	assert.Equal(t, "test-api-key", client.apiKey)
	assert.Equal(t, (*anthropic.Client)(nil), client.client)
	assert.Equal(t, "anthropic", client.GetProviderName())
	assert.True(t, client.IsConfigured())
	assert.False(t, NewAnthropicClient("").IsConfigured())
}

func TestAnthropicClient_ConvertMessages(t *testing.T) {
	client := NewAnthropicClient("test-api-key")
	req := &flowtypes.ChatRequest{Messages: []flowtypes.Message{
		{Role: flowtypes.RoleSystem, Content: "first rule"},
		{Role: flowtypes.RoleUser, Content: "hi"},
		{Role: flowtypes.RoleAssistant, Content: "hello"},
		{Role: flowtypes.RoleSystem, Content: "second rule"},
		{Role: "function", Content: "dropped"},
	}}

	messages, system := client.convertMessagesToAnthropic(req)
	assert.Len(t, messages, 2)
	assert.Equal(t, "first rule\n\nsecond rule", system)
}

func TestAnthropicClient_BuildParams(t *testing.T) {
	client := NewAnthropicClient("test-api-key")
	req := &flowtypes.ChatRequest{
		SystemPrompt: "persona",
		Messages: []flowtypes.Message{
			{Role: flowtypes.RoleSystem, Content: "extra"},
			{Role: flowtypes.RoleUser, Content: "hi"},
		},
	}

	params := client.buildParams(req, &flowtypes.ModelConfig{BaseModel: "claude-sonnet-4-20250514"})
	assert.Equal(t, int64(flowtypes.DefaultMaxTokens), params.MaxTokens)
	require.Len(t, params.System, 1)
	assert.Equal(t, "persona\n\nextra", params.System[0].Text)

	params = client.buildParams(req, &flowtypes.ModelConfig{BaseModel: "claude", MaxTokens: flowtypes.Int(99)})
	assert.Equal(t, int64(99), params.MaxTokens)
}

func TestAnthropicClient_SendChatCompletion(t *testing.T) {
	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/v1/messages"))
		assert.Equal(t, "test-api-key", r.Header.Get("X-Api-Key"))
		body, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(body, &captured))

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"msg_1","type":"message","role":"assistant","model":"claude",
			"content":[{"type":"text","text":"Part one. "},{"type":"text","text":"Part two."}],
			"stop_reason":"end_turn","usage":{"input_tokens":3,"output_tokens":4}}`)
	}))
	defer server.Close()

	client := NewAnthropicClient("test-api-key")
	client.SetBaseURL(server.URL)

	content, err := client.SendChatCompletion(context.Background(), &flowtypes.ChatRequest{
		SystemPrompt: "persona",
		Messages:     []flowtypes.Message{{Role: flowtypes.RoleUser, Content: "hi"}},
	}, &flowtypes.ModelConfig{BaseModel: "claude"})
	require.NoError(t, err)
	assert.Equal(t, "Part one. Part two.", content)
	assert.Equal(t, "claude", captured["model"])
}

func TestAnthropicClient_StreamChatCompletion(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		events := []struct{ name, data string }{
			{"message_start", `{"type":"message_start","message":{"id":"msg_1","type":"message","role":"assistant","model":"claude","content":[],"stop_reason":null,"usage":{"input_tokens":1,"output_tokens":0}}}`},
			{"content_block_start", `{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`},
			{"content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hello"}}`},
			{"content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":" there"}}`},
			{"content_block_stop", `{"type":"content_block_stop","index":0}`},
			{"message_delta", `{"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":2}}`},
			{"message_stop", `{"type":"message_stop"}`},
		}
		for _, ev := range events {
			_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.name, ev.data)
		}
	}))
	defer server.Close()

	client := NewAnthropicClient("test-api-key")
	client.SetBaseURL(server.URL)

	stream, err := client.StreamChatCompletion(context.Background(), &flowtypes.ChatRequest{
		Messages: []flowtypes.Message{{Role: flowtypes.RoleUser, Content: "hi"}},
	}, &flowtypes.ModelConfig{BaseModel: "claude"})
	require.NoError(t, err)

	var content strings.Builder
	for chunk := range stream {
		require.NoError(t, chunk.Error)
		content.WriteString(chunk.Content)
	}
	assert.Equal(t, "Hello there", content.String())
}
