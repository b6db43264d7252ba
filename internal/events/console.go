package events

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// DefaultConsoleSize is how many entries a console keeps.
const DefaultConsoleSize = 50

// Entry is a single console line.
type Entry struct {
	Time      time.Time `json:"time"`
	Component Component `json:"component"`
	Level     Level     `json:"level"`
	Message   string    `json:"message"`
}

// Console is a bounded in-memory event log for one session.
type Console struct {
	mu      sync.Mutex
	size    int
	entries []Entry
	closed  bool
	now     func() time.Time
}

// NewConsole creates a console holding at most size entries.
func NewConsole(size int) *Console {
	if size <= 0 {
		size = DefaultConsoleSize
	}
	return &Console{size: size, now: time.Now}
}

func (c *Console) Emit(component Component, level Level, message string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	c.entries = append(c.entries, Entry{
		Time:      c.now(),
		Component: component,
		Level:     level,
		Message:   message,
	})
	if len(c.entries) > c.size {
		c.entries = c.entries[len(c.entries)-c.size:]
	}
}

// Entries returns a copy of the current entries, oldest first.
func (c *Console) Entries() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Entry, len(c.entries))
	copy(out, c.entries)
	return out
}

// Clear drops all entries.
func (c *Console) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = nil
}

// Close ends the session; later events are ignored.
func (c *Console) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

var (
	componentStyles = map[Component]lipgloss.Style{
		ComponentScoring: lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		ComponentMerge:   lipgloss.NewStyle().Foreground(lipgloss.Color("141")),
		ComponentDeploy:  lipgloss.NewStyle().Foreground(lipgloss.Color("39")),
		ComponentSystem:  lipgloss.NewStyle().Foreground(lipgloss.Color("78")),
	}
	levelStyles = map[Level]lipgloss.Style{
		LevelInfo:    lipgloss.NewStyle().Foreground(lipgloss.Color("250")),
		LevelSuccess: lipgloss.NewStyle().Foreground(lipgloss.Color("78")),
		LevelWarning: lipgloss.NewStyle().Foreground(lipgloss.Color("220")),
		LevelError:   lipgloss.NewStyle().Foreground(lipgloss.Color("197")),
	}
	faintStyle = lipgloss.NewStyle().Faint(true)
)

// Render formats the entries for a terminal.
func (c *Console) Render() string {
	entries := c.Entries()
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		lines = append(lines, fmt.Sprintf("%s %s %s",
			faintStyle.Render(e.Time.Format(time.TimeOnly)),
			componentStyles[e.Component].Render("["+string(e.Component)+"]"),
			levelStyles[e.Level].Render(e.Message),
		))
	}
	return strings.Join(lines, "\n")
}
