package matrix

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/bdobrica/kotoba/common/trace"
	"github.com/bdobrica/kotoba/internal/kotoba/conversation"
	"github.com/bdobrica/kotoba/internal/kotoba/dispatch"
	"github.com/bdobrica/kotoba/internal/kotoba/intent"
)

// Dispatcher is the part of dispatch.Orchestrator the bridge drives.
type Dispatcher interface {
	Handle(ctx context.Context, req dispatch.Request) (*dispatch.Reply, error)
	End(ctx context.Context, sessionID string) (bool, error)
}

// Replier posts text back into a room. *Client satisfies it.
type Replier interface {
	Reply(ctx context.Context, roomID, eventID, message string) error
}

// EndCommand ends the sender's conversation in the room.
const EndCommand = "!end"

const (
	rateLimitedReply = "You're sending messages faster than I can keep up. Please wait a moment."
	failureReply     = "Something went wrong while handling that message."
	endedReply       = "Conversation closed. Say anything to start a new one."
	noSessionReply   = "There is no open conversation to close."
)

// Bridge maps (room, sender) pairs onto conversation sessions. A sender gets
// one session per room; when it ends or expires the next message opens a
// new one.
type Bridge struct {
	dispatcher Dispatcher
	replier    Replier
	logger     *slog.Logger

	mu       sync.Mutex
	sessions map[string]string
}

// NewBridge creates a Bridge. If logger is nil the default logger is used.
func NewBridge(d Dispatcher, r Replier, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		dispatcher: d,
		replier:    r,
		logger:     logger,
		sessions:   make(map[string]string),
	}
}

func conversationKey(roomID, sender string) string {
	return roomID + "|" + sender
}

func (b *Bridge) session(key string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sessions[key]
}

func (b *Bridge) setSession(key, sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sessionID == "" {
		delete(b.sessions, key)
		return
	}
	b.sessions[key] = sessionID
}

// HandleMessage is a MessageHandler.
func (b *Bridge) HandleMessage(ctx context.Context, msg Message) {
	ctx, _ = trace.Ensure(ctx)
	log := trace.Logger(ctx, b.logger).With("room_id", msg.RoomID, "sender", msg.Sender)
	key := conversationKey(msg.RoomID, msg.Sender)

	if strings.EqualFold(strings.TrimSpace(msg.Body), EndCommand) {
		b.end(ctx, log, key, msg)
		return
	}

	req := dispatch.Request{
		SessionID: b.session(key),
		UserID:    msg.Sender,
		Message:   msg.Body,
		Metadata:  map[string]any{"transport": "matrix", "room_id": msg.RoomID},
	}
	reply, err := b.dispatcher.Handle(ctx, req)
	if errors.Is(err, conversation.ErrSessionNotFound) && req.SessionID != "" {
		// Expired or ended elsewhere: start over.
		log.Debug("matrix: session gone, starting a new one", "session_id", req.SessionID)
		req.SessionID = ""
		reply, err = b.dispatcher.Handle(ctx, req)
	}

	var text string
	switch {
	case err == nil:
		b.setSession(key, reply.SessionID)
		text = FormatReply(reply)
	case errors.Is(err, dispatch.ErrRateLimited), errors.Is(err, intent.ErrRateLimit):
		log.Warn("matrix: message rate limited")
		text = rateLimitedReply
	default:
		log.Error("matrix: message handling failed", "err", err)
		text = failureReply
	}
	b.send(ctx, log, msg, text)
}

func (b *Bridge) end(ctx context.Context, log *slog.Logger, key string, msg Message) {
	sessionID := b.session(key)
	b.setSession(key, "")
	if sessionID == "" {
		b.send(ctx, log, msg, noSessionReply)
		return
	}
	ended, err := b.dispatcher.End(ctx, sessionID)
	if err != nil {
		log.Warn("matrix: archive on end failed", "session_id", sessionID, "err", err)
	}
	if !ended {
		b.send(ctx, log, msg, noSessionReply)
		return
	}
	b.send(ctx, log, msg, endedReply)
}

func (b *Bridge) send(ctx context.Context, log *slog.Logger, msg Message, text string) {
	if err := b.replier.Reply(ctx, msg.RoomID, msg.EventID, text); err != nil {
		log.Warn("matrix: reply failed", "err", err)
	}
}

// FormatReply renders the response followed by any suggestions as a list.
func FormatReply(r *dispatch.Reply) string {
	if len(r.Suggestions) == 0 {
		return r.Response
	}
	var sb strings.Builder
	sb.WriteString(r.Response)
	sb.WriteString("\n\nYou could also:")
	for _, s := range r.Suggestions {
		sb.WriteString("\n• ")
		sb.WriteString(s.Text)
	}
	return sb.String()
}
