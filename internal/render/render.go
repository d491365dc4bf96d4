// Package render formats replies, stage badges and workflow steps for the terminal.
package render

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/muesli/termenv"

	"stageflow/internal/logger"
	"stageflow/pkg/flowtypes"
)

// Glamour styles accepted by Options.Style.
const (
	StyleAuto  = "auto"
	StyleDark  = "dark"
	StyleLight = "light"
	StyleNoTTY = "notty"
)

const defaultWordWrap = 80

// Options configures a Renderer.
type Options struct {
	// Color disables all ANSI output when false.
	Color    bool
	WordWrap int
	Style    string
}

// Renderer turns messages and events into terminal text.
type Renderer struct {
	color    bool
	style    string
	markdown *glamour.TermRenderer
	badges   map[flowtypes.Stage]lipgloss.Style
	errStyle lipgloss.Style
	dimStyle lipgloss.Style
}

// stageColors follows the progression from cool to warm.
var stageColors = map[flowtypes.Stage]string{
	flowtypes.StageInitial:       "8",
	flowtypes.StageUnderstanding: "12",
	flowtypes.StagePlanning:      "14",
	flowtypes.StageExecution:     "10",
	flowtypes.StageRefinement:    "11",
	flowtypes.StageCompletion:    "13",
}

// New creates a renderer.
func New(opts Options) (*Renderer, error) {
	style := strings.ToLower(strings.TrimSpace(opts.Style))
	if style == "" || style == StyleAuto {
		style = DetectStyle()
	}
	if !opts.Color {
		style = StyleNoTTY
	}
	wrap := opts.WordWrap
	if wrap <= 0 {
		wrap = defaultWordWrap
	}

	md, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(style),
		glamour.WithWordWrap(wrap),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create markdown renderer: %w", err)
	}

	r := &Renderer{
		color:    opts.Color,
		style:    style,
		markdown: md,
		badges:   make(map[flowtypes.Stage]lipgloss.Style, len(stageColors)),
		errStyle: lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
		dimStyle: lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
	}
	for stage, color := range stageColors {
		r.badges[stage] = lipgloss.NewStyle().
			Bold(true).
			Padding(0, 1).
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color(color))
	}
	return r, nil
}

// DetectStyle picks a glamour style from the terminal's color profile and background.
func DetectStyle() string {
	if lipgloss.ColorProfile() == termenv.Ascii {
		return StyleNoTTY
	}
	if termenv.HasDarkBackground() {
		return StyleDark
	}
	return StyleLight
}

// Style returns the glamour style in use.
func (r *Renderer) Style() string {
	return r.style
}

// StageBadge renders the stage name as a colored label.
func (r *Renderer) StageBadge(stage flowtypes.Stage) string {
	label := stage.String()
	style, ok := r.badges[stage]
	if !ok || !r.color {
		return "[" + label + "]"
	}
	return style.Render(label)
}

// Reply renders an assistant message according to its type.
func (r *Renderer) Reply(msg flowtypes.Message) string {
	var out string
	switch msg.Type {
	case flowtypes.MessageTypeMarkdown, flowtypes.MessageTypeCode:
		rendered, err := r.markdown.Render(msg.Content)
		if err != nil {
			logger.Debug("Markdown rendering failed, printing raw content", "error", err)
			out = msg.Content
		} else {
			out = strings.Trim(rendered, "\n")
		}
	case flowtypes.MessageTypeError:
		out = r.errStyle.Render(msg.Content)
	default:
		out = msg.Content
	}
	return r.finish(out)
}

// Steps renders the outline announced by a tool_calls event.
func (r *Renderer) Steps(calls []flowtypes.ToolCall) string {
	lines := make([]string, 0, len(calls))
	for i, call := range calls {
		var args struct {
			Step        int    `json:"step"`
			Description string `json:"description"`
		}
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil || args.Description == "" {
			args.Step = i + 1
			args.Description = call.Arguments
		}
		lines = append(lines, r.dimStyle.Render(fmt.Sprintf("  %d. %s", args.Step, args.Description)))
	}
	return r.finish(strings.Join(lines, "\n"))
}

// Plain strips ANSI sequences when color is disabled.
func (r *Renderer) Plain(s string) string {
	return r.finish(s)
}

func (r *Renderer) finish(s string) string {
	if r.color {
		return s
	}
	return ansi.Strip(s)
}
