package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

// ConsoleChannel prints notifications; used for dry runs and local testing.
type ConsoleChannel struct {
	mu sync.Mutex
	w  io.Writer
}

func NewConsoleChannel(w io.Writer) *ConsoleChannel {
	if w == nil {
		w = os.Stdout
	}
	return &ConsoleChannel{w: w}
}

func (c *ConsoleChannel) Name() string { return "console" }

var consolePrefix = map[Priority]string{
	PriorityLow:    "[LOW]",
	PriorityNormal: "[NORMAL]",
	PriorityUrgent: "[URGENT]",
}

func (c *ConsoleChannel) Send(_ context.Context, m Message) (Result, error) {
	var sb strings.Builder
	rule := strings.Repeat("=", 60)
	fmt.Fprintf(&sb, "\n%s\n%s %s\n%s\n%s\n", rule, consolePrefix[m.Priority], m.Title(), strings.Repeat("-", 60), m.Summary())
	if body := m.Body(); body != "" {
		fmt.Fprintf(&sb, "\n%s\n", body)
	}
	for _, a := range m.Actions {
		target := a.URL
		if target == "" {
			target = "radar " + a.Kind + " " + m.Candidate.Fingerprint
		}
		fmt.Fprintf(&sb, "  [%s] %s\n", a.Kind, target)
	}
	sb.WriteString(rule + "\n")

	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := io.WriteString(c.w, sb.String())
	return Result{}, err
}
