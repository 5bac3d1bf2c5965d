package archive

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bdobrica/kotoba/common/trace"
)

// Sender is the subset of the Matrix client needed by Notifier.
type Sender interface {
	SendNotice(ctx context.Context, roomID, message string) error
}

// Notifier posts a one-line notice per archived session to a Matrix room.
// Send failures are logged, never returned, so a chat outage cannot block
// archival.
type Notifier struct {
	sender Sender
	roomID string
	logger *slog.Logger
}

var _ Sink = (*Notifier)(nil)

// NewNotifier creates a Notifier posting to roomID. If logger is nil the
// default slog logger is used.
func NewNotifier(sender Sender, roomID string, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{sender: sender, roomID: roomID, logger: logger}
}

// Archive implements Sink.
func (n *Notifier) Archive(ctx context.Context, s Summary) error {
	if n.roomID == "" || n.sender == nil {
		return nil
	}
	msg := FormatNotice(s)
	if tid := trace.FromContext(ctx); tid != "" {
		msg = fmt.Sprintf("%s\n  trace: %s", msg, tid)
	}
	if err := n.sender.SendNotice(ctx, n.roomID, msg); err != nil {
		n.logger.Warn("archive notifier: failed to send room notice",
			"room", n.roomID, "session_id", s.SessionID, "err", err)
		return nil
	}
	n.logger.Debug("archive notifier: sent notice", "room", n.roomID, "session_id", s.SessionID)
	return nil
}

// FormatNotice renders s as the human-readable notice text.
func FormatNotice(s Summary) string {
	icon := "📁"
	switch s.Reason {
	case ReasonExpired:
		icon = "⌛"
	case ReasonShutdown:
		icon = "⏹️"
	}
	dur := time.Duration(s.DurationSeconds * float64(time.Second)).Round(time.Second)
	msg := fmt.Sprintf("%s session %s (%s) %s: %d turns in %s",
		icon, s.SessionID, s.UserID, s.Reason, s.TurnCount, dur)
	if len(s.TopicsDiscussed) > 0 {
		msg += "\n  topics: " + strings.Join(s.TopicsDiscussed, ", ")
	}
	return msg
}
