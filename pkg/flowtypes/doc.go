// Package flowtypes defines the core interfaces and data structures shared across stageflow.
//
// stageflow follows a three-layer architecture:
//
//   - Types Layer (this package): stages, messages, conversations, model configuration and the
//     provider and store contracts.
//   - Service Layer: provider clients, conversation stores and the workflow engine.
//   - Command Layer: the CLI that owns a conversation and drives the services.
//
// # Package Organization
//
// ## Stage Types (stage_types.go)
//
//   - Stage: the six conversational phases and their canonical order
//   - StagePolicy: whether keyword overrides may move a conversation backwards
//
// ## Conversation Types (conversation_types.go)
//
//   - Message, MessageType, Role: individual turns of a conversation
//   - ConversationContext: stage, history and metadata threaded through each turn
//   - Conversation: the stored unit wrapping a context with identity and timestamps
//
// ## LLM Types (llm_types.go)
//
//   - LLMClient: the provider contract
//   - ChatRequest, StreamChunk: request and streaming payloads
//   - StreamEvent: events emitted by the workflow engine while streaming a turn
//
// ## Model Types (model_types.go)
//
//   - ModelConfig: provider, model and generation parameters
//
// ## Store Types (store_types.go)
//
//   - ConversationStore: the mutation surface used to persist conversations
package flowtypes
