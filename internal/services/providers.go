package services

import (
	"context"

	"stageflow/pkg/flowtypes"
)

// Supported provider names.
const (
	ProviderOpenAI     = "openai"
	ProviderAnthropic  = "anthropic"
	ProviderGemini     = "gemini"
	ProviderCompatible = "compatible"
	ProviderMock       = "mock"
)

// SupportedProviders lists the providers the client factory can build.
var SupportedProviders = []string{ProviderOpenAI, ProviderAnthropic, ProviderGemini, ProviderCompatible, ProviderMock}

// sendChunk delivers a chunk unless ctx is done first. It reports whether the chunk was sent.
func sendChunk(ctx context.Context, ch chan<- flowtypes.StreamChunk, chunk flowtypes.StreamChunk) bool {
	select {
	case ch <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}
