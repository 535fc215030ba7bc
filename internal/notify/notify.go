// Package notify is the boundary to whatever surfaces human-readable
// outcomes. The query core never renders UI; it hands titles and messages to
// a Notifier and moves on.
package notify

import (
	"context"
	"log/slog"
)

type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

type Notification struct {
	Title    string
	Message  string
	Severity Severity
}

type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// LogNotifier writes notifications to the structured log. It is the default
// collaborator when no UI channel is attached.
type LogNotifier struct {
	Logger *slog.Logger
}

func (l *LogNotifier) Notify(ctx context.Context, n Notification) {
	if l.Logger == nil {
		return
	}
	attrs := []any{
		slog.String("title", n.Title),
		slog.String("message", n.Message),
	}
	switch n.Severity {
	case SeverityError:
		l.Logger.ErrorContext(ctx, "notification", attrs...)
	case SeverityWarning:
		l.Logger.WarnContext(ctx, "notification", attrs...)
	default:
		l.Logger.InfoContext(ctx, "notification", attrs...)
	}
}

// Nop discards notifications.
type Nop struct{}

func (Nop) Notify(context.Context, Notification) {}
