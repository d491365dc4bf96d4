package shell

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"stageflow/internal/conversation"
	"stageflow/internal/logger"
	"stageflow/internal/workflow"
	"stageflow/pkg/flowtypes"
)

// replCommands are the slash commands understood by ProcessInput.
var replCommands = []string{"/help", "/stage", "/history", "/reset", "/new", "/id", "/exit"}

// Session is one interactive conversation bound to an output writer.
type Session struct {
	env            *Environment
	out            io.Writer
	conversationID string
	stream         bool
}

// NewSession attaches to the conversation named or identified by identifier, or starts a new
// one when identifier is empty.
func NewSession(ctx context.Context, env *Environment, out io.Writer, identifier string, stream bool) (*Session, error) {
	s := &Session{env: env, out: out, stream: stream}
	if identifier == "" {
		if err := s.startNew(ctx, ""); err != nil {
			return nil, err
		}
		return s, nil
	}

	conv, err := env.Conversations.Find(ctx, identifier)
	if err != nil {
		return nil, err
	}
	s.conversationID = conv.ID
	return s, nil
}

// ConversationID returns the active conversation.
func (s *Session) ConversationID() string {
	return s.conversationID
}

func (s *Session) startNew(ctx context.Context, name string) error {
	conv, err := s.env.Conversations.Start(ctx, name, s.env.Config.Metadata())
	if err != nil {
		return err
	}
	s.conversationID = conv.ID
	return nil
}

// ProcessInput handles one line of input. It reports true when the session should end.
func (s *Session) ProcessInput(ctx context.Context, line string) (bool, error) {
	input := strings.TrimSpace(line)
	if input == "" || strings.HasPrefix(input, "%%") {
		return false, nil
	}
	if strings.HasPrefix(input, "/") {
		return s.handleCommand(ctx, input)
	}
	return false, s.sendTurn(ctx, input)
}

func (s *Session) handleCommand(ctx context.Context, input string) (bool, error) {
	fields := strings.Fields(input)
	command, args := strings.ToLower(fields[0]), strings.TrimSpace(strings.TrimPrefix(input, fields[0]))

	switch command {
	case "/exit", "/quit":
		return true, nil
	case "/help":
		fmt.Fprintln(s.out, "commands:")
		for _, cmd := range replCommands {
			fmt.Fprintf(s.out, "  %s\n", cmd)
		}
	case "/stage":
		conv, err := s.env.Conversations.Get(ctx, s.conversationID)
		if err != nil {
			return false, err
		}
		fmt.Fprintf(s.out, "%s after %d messages (%s)\n", s.env.Renderer.StageBadge(conv.Stage), len(conv.History), s.env.Engine.Policy())
	case "/history":
		conv, err := s.env.Conversations.Get(ctx, s.conversationID)
		if err != nil {
			return false, err
		}
		for _, msg := range conv.History {
			fmt.Fprintf(s.out, "%s %s: %s\n", s.env.Renderer.StageBadge(msg.Stage), msg.Role, msg.Content)
		}
	case "/reset":
		if err := s.env.Conversations.Reset(ctx, s.conversationID); err != nil {
			return false, err
		}
		fmt.Fprintln(s.out, "Conversation reset.")
	case "/new":
		if err := s.startNew(ctx, args); err != nil {
			return false, err
		}
		fmt.Fprintf(s.out, "Started conversation %s\n", s.conversationID)
	case "/id":
		fmt.Fprintln(s.out, s.conversationID)
	default:
		fmt.Fprintf(s.out, "Unknown command %s. Type /help for commands.\n", command)
	}
	return false, nil
}

func (s *Session) sendTurn(ctx context.Context, input string) error {
	if s.stream {
		return s.sendStreaming(ctx, input)
	}

	stop := func() {}
	if s.env.Config.Color {
		stop = s.env.Renderer.NewIndicator(s.out).Start("thinking")
	}
	reply, err := s.env.Conversations.Send(ctx, s.conversationID, input)
	stop()
	if err != nil {
		return s.turnFailed(err)
	}
	fmt.Fprintln(s.out, s.env.Renderer.StageBadge(reply.Stage))
	fmt.Fprintln(s.out, s.env.Renderer.Reply(reply))
	return nil
}

func (s *Session) sendStreaming(ctx context.Context, input string) error {
	events, err := s.env.Conversations.SendStream(ctx, s.conversationID, input)
	if err != nil {
		return s.turnFailed(err)
	}

	for ev := range events {
		switch ev.Kind {
		case flowtypes.EventStart:
			fmt.Fprintln(s.out, s.env.Renderer.StageBadge(ev.Stage))
		case flowtypes.EventToolCalls:
			fmt.Fprintln(s.out, s.env.Renderer.Steps(ev.ToolCalls))
		case flowtypes.EventContent:
			fmt.Fprint(s.out, s.env.Renderer.Plain(ev.Content))
		case flowtypes.EventEnd:
			fmt.Fprintln(s.out)
		case flowtypes.EventError:
			fmt.Fprintln(s.out)
			fmt.Fprintln(s.out, s.env.Renderer.Reply(flowtypes.Message{Type: flowtypes.MessageTypeError, Content: ev.Content}))
		}
	}
	if ctx.Err() != nil {
		fmt.Fprintln(s.out, "\n(cancelled)")
	}
	return nil
}

// turnFailed prints the fixed apology for setup errors. Unknown conversations are returned.
func (s *Session) turnFailed(err error) error {
	if errors.Is(err, flowtypes.ErrConversationNotFound) {
		return err
	}
	logger.Error("Turn could not be processed", "error", err)
	fmt.Fprintln(s.out, s.env.Renderer.Reply(flowtypes.Message{Type: flowtypes.MessageTypeError, Content: workflow.ErrorResponseText}))
	if errors.Is(err, conversation.ErrNotInitialized) && s.env.ProviderErr != nil {
		fmt.Fprintf(s.out, "Provider unavailable: %v\n", s.env.ProviderErr)
	}
	return nil
}
