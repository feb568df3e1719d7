package notify

import (
	"fmt"
	"io"
	"sync"

	"github.com/fatih/color"

	"github.com/ashureev/eventsync/internal/domain"
)

// ConsoleSink prints notifications as colored lines.
type ConsoleSink struct {
	mu  sync.Mutex
	out io.Writer
}

// NewConsoleSink writes to out, or to color.Output when out is nil.
func NewConsoleSink(out io.Writer) *ConsoleSink {
	if out == nil {
		out = color.Output
	}
	return &ConsoleSink{out: out}
}

var variantColors = map[domain.ToastVariant]*color.Color{
	domain.ToastInfo:    color.New(color.FgCyan),
	domain.ToastSuccess: color.New(color.FgGreen),
	domain.ToastWarning: color.New(color.FgYellow),
	domain.ToastError:   color.New(color.FgRed, color.Bold),
}

// Deliver implements Sink.
func (c *ConsoleSink) Deliver(n domain.Notification) {
	col, ok := variantColors[n.Variant]
	if !ok {
		col = variantColors[domain.ToastInfo]
	}

	label := string(n.Kind)
	if n.Kind == domain.KindToast {
		label = string(n.Variant)
	}
	line := n.Body
	if n.Title != "" {
		line = n.Title + ": " + n.Body
	}
	if n.SessionID != "" {
		line += " [" + domain.ShortID(n.SessionID) + "]"
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = fmt.Fprintf(c.out, "%s ", n.CreatedAt.Format("15:04:05"))
	_, _ = col.Fprintf(c.out, "%-13s", label)
	_, _ = fmt.Fprintf(c.out, " %s\n", line)
}
