package console

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"targetwatch/internal/application/port"
	"targetwatch/internal/domain"
)

// Sink 每个槽位事件打印一行
type Sink struct {
	mu  sync.Mutex
	out io.Writer
}

var _ port.SlotSink = (*Sink)(nil)

func NewSink() *Sink { return &Sink{out: os.Stdout} }

// NewSinkTo writes to w instead of stdout.
func NewSinkTo(w io.Writer) *Sink { return &Sink{out: w} }

func (s *Sink) Publish(ev port.SlotEvent) {
	line := FormatEvent(ev)
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintln(s.out, line)
}

// FormatEvent "2006-01-02 15:04:05 [transition] ACME  1%:on 3%:- 5%:… custom=pct 12 on | msg"
func FormatEvent(ev port.SlotEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s [%s] %-6s", ev.At.Format("2006-01-02 15:04:05"), ev.Type, ev.Ticker)
	if ev.Type == port.EventRemoved {
		return b.String()
	}
	for _, s := range ev.Slot.Standard {
		fmt.Fprintf(&b, " %g%%:%s", s.Pct, mark(s.Active, s.Pending))
	}
	c := ev.Slot.Custom
	b.WriteString(" custom=")
	if c.Value == nil {
		b.WriteString("-")
	} else {
		fmt.Fprintf(&b, "%s %g %s", c.Mode, *c.Value, mark(c.Active, c.Pending))
	}
	if ev.Message != "" {
		b.WriteString(" | ")
		b.WriteString(ev.Message)
	}
	return b.String()
}

func mark(active, pending bool) string {
	switch {
	case pending:
		return "…"
	case active:
		return "on"
	}
	return "-"
}

// SummaryLine 一行概览，启动时打印
func SummaryLine(views []domain.SlotView) string {
	parts := make([]string, 0, len(views))
	for _, v := range views {
		n := 0
		for _, s := range v.Standard {
			if s.Active {
				n++
			}
		}
		if v.Custom.Active {
			n++
		}
		parts = append(parts, fmt.Sprintf("%s(%d)", v.Ticker, n))
	}
	return "active alerts: " + strings.Join(parts, " ")
}
