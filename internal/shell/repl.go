package shell

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"

	"stageflow/internal/logger"
)

// LineInput reads one line of user input at a time.
type LineInput interface {
	ReadLine(prompt string) (string, error)
	Close() error
}

type basicLineInput struct {
	reader *bufio.Reader
	out    io.Writer
}

// NewBasicLineInput reads lines from in without terminal editing.
func NewBasicLineInput(in io.Reader, out io.Writer) LineInput {
	return &basicLineInput{reader: bufio.NewReader(in), out: out}
}

func (b *basicLineInput) ReadLine(prompt string) (string, error) {
	if b.out != nil {
		fmt.Fprint(b.out, prompt)
	}
	line, err := b.reader.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && line != "" {
			return strings.TrimRight(line, "\r\n"), nil
		}
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (b *basicLineInput) Close() error { return nil }

type readlineInput struct {
	instance *readline.Instance
}

func (r *readlineInput) ReadLine(prompt string) (string, error) {
	r.instance.SetPrompt(prompt)
	return r.instance.Readline()
}

func (r *readlineInput) Close() error {
	if r == nil || r.instance == nil {
		return nil
	}
	return r.instance.Close()
}

// NewLineInput returns a readline editor with history. When readline cannot start it returns a
// plain stdin reader together with the error.
func NewLineInput(historyPath string) (LineInput, error) {
	if historyPath != "" {
		if err := os.MkdirAll(filepath.Dir(historyPath), 0o755); err != nil {
			logger.Warn("History disabled", "path", historyPath, "error", err)
			historyPath = ""
		}
	}
	instance, err := readline.NewEx(&readline.Config{
		Prompt:            "> ",
		HistoryFile:       historyPath,
		HistorySearchFold: true,
		AutoComplete:      commandCompleter{commands: replCommands},
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
	})
	if err != nil {
		return NewBasicLineInput(os.Stdin, os.Stdout), err
	}
	return &readlineInput{instance: instance}, nil
}

// Run reads input until /exit or end of input. Ctrl-C while a turn is streaming cancels that
// turn only.
func Run(ctx context.Context, session *Session, input LineInput) error {
	for {
		line, err := input.ReadLine("> ")
		if err != nil {
			switch {
			case errors.Is(err, readline.ErrInterrupt):
				continue
			case errors.Is(err, io.EOF):
				return nil
			default:
				return fmt.Errorf("read input failed: %w", err)
			}
		}

		turnCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
		exit, err := session.ProcessInput(turnCtx, line)
		stop()
		if err != nil {
			logger.Error("Command failed", "error", err)
			fmt.Fprintf(session.out, "error: %v\n", err)
		}
		if exit {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}
