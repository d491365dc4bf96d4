package workflow

import (
	"context"
	"errors"

	"github.com/charmbracelet/log"

	"stageflow/pkg/flowtypes"
)

const streamBufferSize = 16

// errNoMessages is reported when a stream is requested without any message to answer.
var errNoMessages = errors.New("no message to process")

// ProcessMessageStream answers the last message of messages as a stream of events.
//
// The stage is decided from the last message, with the messages before it counting as history.
// Planning and Execution turns take the complex workflow path (a planner step announced through a
// tool_calls event, then a streamed executor step); other stages stream a single provider call.
//
// A provider failure ends the stream with one EventError carrying ErrorResponseText. Cancelling ctx
// stops the producer and closes the channel without further events. The channel is always closed.
func (e *Engine) ProcessMessageStream(ctx context.Context, messages []flowtypes.Message, conv flowtypes.ConversationContext) <-chan flowtypes.StreamEvent {
	out := make(chan flowtypes.StreamEvent, streamBufferSize)

	go func() {
		defer close(out)

		if len(messages) == 0 {
			em := &emitter{ctx: ctx, out: out, stage: conv.Stage, log: e.log}
			em.fail(errNoMessages)
			return
		}

		last := messages[len(messages)-1]
		history := messages[:len(messages)-1]
		stage := e.determine(last.Content, conv.Stage, len(history))
		em := &emitter{ctx: ctx, out: out, stage: stage, log: e.log}

		if !e.Ready() {
			em.fail(errors.New("workflow engine has no configured provider"))
			return
		}

		if isComplexStage(stage) {
			e.runComplexWorkflow(em, conv, history, last.Content)
			return
		}
		e.runDirectStream(em, conv, history, last.Content)
	}()

	return out
}

// runDirectStream streams one provider call straight through to the caller.
func (e *Engine) runDirectStream(em *emitter, conv flowtypes.ConversationContext, history []flowtypes.Message, message string) {
	if !em.emit(flowtypes.StreamEvent{Kind: flowtypes.EventStart}) {
		return
	}
	req := e.buildRequest(em.stage, conv, history, message, "")
	if e.forwardProviderStream(em, req) {
		em.emit(flowtypes.StreamEvent{Kind: flowtypes.EventEnd})
	}
}

// forwardProviderStream relays provider chunks as content events.
// It returns false when the stream failed or the caller went away.
func (e *Engine) forwardProviderStream(em *emitter, req *flowtypes.ChatRequest) bool {
	chunks, err := e.client.StreamChatCompletion(em.ctx, req, e.model)
	if err != nil {
		em.fail(err)
		return false
	}

	for {
		select {
		case <-em.ctx.Done():
			em.log.Debug("Workflow stream cancelled", "stage", em.stage)
			return false
		case chunk, ok := <-chunks:
			if !ok {
				return true
			}
			if chunk.Error != nil {
				em.fail(chunk.Error)
				return false
			}
			if chunk.Content != "" {
				if !em.emit(flowtypes.StreamEvent{Kind: flowtypes.EventContent, Content: chunk.Content}) {
					return false
				}
			}
			if chunk.Done {
				return true
			}
		}
	}
}

// emitter stamps events with the turn's stage and stops sending once ctx is done.
type emitter struct {
	ctx   context.Context
	out   chan<- flowtypes.StreamEvent
	stage flowtypes.Stage
	log   *log.Logger
}

func (em *emitter) emit(ev flowtypes.StreamEvent) bool {
	ev.Stage = em.stage
	if em.ctx.Err() != nil {
		return false
	}
	select {
	case em.out <- ev:
		return true
	case <-em.ctx.Done():
		return false
	}
}

func (em *emitter) fail(err error) {
	em.log.Error("Workflow stream failed", "stage", em.stage, "error", err)
	em.emit(flowtypes.StreamEvent{
		Kind:    flowtypes.EventError,
		Content: ErrorResponseText,
		Err:     err,
	})
}
