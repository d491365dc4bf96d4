package render

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
)

const indicatorInterval = 100 * time.Millisecond

// Indicator shows an elapsed-time line while a reply is pending and clears it when stopped.
type Indicator struct {
	out      io.Writer
	interval time.Duration
	style    lipgloss.Style
	color    bool

	mu        sync.Mutex
	lastWidth int
}

// NewIndicator returns an indicator drawing on out.
func (r *Renderer) NewIndicator(out io.Writer) *Indicator {
	return &Indicator{
		out:      out,
		interval: indicatorInterval,
		style:    r.dimStyle,
		color:    r.color,
	}
}

// Start draws label with the elapsed seconds until the returned stop function is called.
// stop blocks until the line is cleared and is safe to call more than once.
func (ind *Indicator) Start(label string) (stop func()) {
	stopCh := make(chan struct{})
	done := make(chan struct{})
	started := time.Now()

	go func() {
		defer close(done)
		ticker := time.NewTicker(ind.interval)
		defer ticker.Stop()
		for {
			select {
			case <-stopCh:
				ind.clear()
				return
			case <-ticker.C:
				ind.draw(fmt.Sprintf("%s %.1fs", label, time.Since(started).Seconds()))
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stopCh)
			<-done
		})
	}
}

func (ind *Indicator) draw(content string) {
	if ind.color {
		content = ind.style.Render(content)
	}
	ind.mu.Lock()
	defer ind.mu.Unlock()
	ind.clearLocked()
	_, _ = fmt.Fprint(ind.out, "\r"+content)
	ind.lastWidth = ansi.StringWidth(content)
}

func (ind *Indicator) clear() {
	ind.mu.Lock()
	defer ind.mu.Unlock()
	ind.clearLocked()
}

func (ind *Indicator) clearLocked() {
	if ind.lastWidth > 0 {
		_, _ = fmt.Fprint(ind.out, "\r"+strings.Repeat(" ", ind.lastWidth)+"\r")
		ind.lastWidth = 0
	}
}
