// Package notify delivers terminal trade outcomes to operator channels
// (Telegram, Discord). Events can be filtered so operators receive only the
// alerts they care about.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/polyexec/internal/domain"
)

// Event types emitted for terminal reports.
const (
	EventTradeFilled = "trade_filled"
	EventTradeFailed = "trade_failed"
)

// Sender is the interface that each notification channel must implement.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// Notifier dispatches notifications to one or more Senders, forwarding only
// event types in its allowed set.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier for the given senders. An empty events list
// allows every event type.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool { return n != nil && len(n.senders) > 0 }

// Notify sends a notification to all senders if event is allowed.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "notify: event filtered out", slog.String("event", event))
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// TradeFinished announces a terminal report.
func (n *Notifier) TradeFinished(ctx context.Context, r domain.TradeReport) error {
	if !n.Enabled() {
		return nil
	}
	event, title := EventTradeFilled, "Trade executed"
	if r.Status != domain.TradeStatusSuccess {
		event, title = EventTradeFailed, "Trade failed"
	}
	return n.Notify(ctx, event, title, FormatReport(r))
}

// FormatReport renders a one-message summary of a report.
func FormatReport(r domain.TradeReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "user: %s\nrequest: %s\n", r.UserID, r.RequestID)
	if r.Side != "" {
		fmt.Fprintf(&b, "%s %s @ %s (%s)\n", r.Side, r.Size.String(), r.Price.StringFixed(2), r.OrderType)
	}
	if r.OrderID != "" {
		fmt.Fprintf(&b, "order: %s [%s]\n", r.OrderID, r.FillState)
	}
	if r.ErrorKind != "" {
		fmt.Fprintf(&b, "error: %s\n", r.ErrorKind)
	}
	b.WriteString(r.Message)
	return b.String()
}

// dispatch sends to every sender. A failing sender does not stop delivery to
// the rest; failures are combined into one error.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "notify: sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notify: sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}
