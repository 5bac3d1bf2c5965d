// Package matrix connects kotoba to Matrix rooms: incoming text messages are
// turned into conversation turns and replies are posted back.
package matrix

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// Config holds Matrix client configuration.
type Config struct {
	Homeserver  string
	UserID      string
	AccessToken string
	// Rooms lists the room IDs kotoba listens in. Messages elsewhere are
	// ignored.
	Rooms []string
	// State persists the sync token. When nil an in-memory store is used and
	// room history replays on every restart.
	State StateStore
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Message is an inbound text message in a watched room.
type Message struct {
	RoomID  string
	Sender  string
	EventID string
	Body    string
}

// MessageHandler processes inbound messages.
type MessageHandler func(ctx context.Context, msg Message)

// Client wraps the mautrix client.
type Client struct {
	client  *mautrix.Client
	config  Config
	rooms   map[string]struct{}
	logger  *slog.Logger
	stopCh  chan struct{}
	handler MessageHandler
}

// New creates a client. It does not contact the homeserver.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	client, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("matrix: create client: %w", err)
	}

	if cfg.State != nil {
		client.Store = NewDBSyncStore(cfg.State)
		cfg.Logger.Info("matrix sync store: using persistent SQLite store")
	} else {
		cfg.Logger.Warn("matrix sync store: none configured, history will replay on restart")
	}
	return newClient(client, cfg), nil
}

func newClient(client *mautrix.Client, cfg Config) *Client {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	rooms := make(map[string]struct{}, len(cfg.Rooms))
	for _, r := range cfg.Rooms {
		rooms[r] = struct{}{}
	}
	return &Client{
		client: client,
		config: cfg,
		rooms:  rooms,
		logger: cfg.Logger,
		stopCh: make(chan struct{}),
	}
}

// Start joins the configured rooms and syncs in the background until Stop.
func (c *Client) Start(ctx context.Context, handler MessageHandler) error {
	c.handler = handler

	syncer, ok := c.client.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return errors.New("matrix: unsupported syncer")
	}
	syncer.OnEventType(event.EventMessage, c.handleEvent)

	for _, roomID := range c.config.Rooms {
		if err := c.joinRoom(ctx, id.RoomID(roomID)); err != nil {
			return fmt.Errorf("matrix: join room %s: %w", roomID, err)
		}
	}

	// Reconnect with exponential back-off so a transient homeserver error
	// does not leave the bot deaf.
	go func() {
		const (
			backoffMin = 2 * time.Second
			backoffMax = 5 * time.Minute
		)
		backoff := backoffMin
		for {
			err := c.client.Sync()
			if err == nil {
				// Only a StopSync call ends Sync cleanly.
				return
			}
			select {
			case <-c.stopCh:
				return
			default:
			}
			c.logger.Error("matrix sync stopped; reconnecting", "err", err, "backoff", backoff)
			select {
			case <-c.stopCh:
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > backoffMax {
				backoff = backoffMax
			}
		}
	}()

	c.logger.Info("matrix client started", "user_id", c.config.UserID, "rooms", len(c.config.Rooms))
	return nil
}

// Stop ends syncing. Call at most once.
func (c *Client) Stop() {
	close(c.stopCh)
	c.client.StopSync()
}

// SendNotice posts a notice, which clients render less prominently than a
// normal message. It satisfies archive.Sender.
func (c *Client) SendNotice(ctx context.Context, roomID, message string) error {
	content := event.MessageEventContent{
		MsgType: event.MsgNotice,
		Body:    message,
	}
	if _, err := c.client.SendMessageEvent(ctx, id.RoomID(roomID), event.EventMessage, &content); err != nil {
		return fmt.Errorf("matrix: send notice: %w", err)
	}
	return nil
}

// Reply answers a specific event.
func (c *Client) Reply(ctx context.Context, roomID, eventID, message string) error {
	content := event.MessageEventContent{
		MsgType: event.MsgText,
		Body:    message,
		RelatesTo: &event.RelatesTo{
			InReplyTo: &event.InReplyTo{EventID: id.EventID(eventID)},
		},
	}
	if _, err := c.client.SendMessageEvent(ctx, id.RoomID(roomID), event.EventMessage, &content); err != nil {
		return fmt.Errorf("matrix: send reply: %w", err)
	}
	return nil
}

// SetTyping toggles the typing indicator while a turn is processed.
func (c *Client) SetTyping(ctx context.Context, roomID string, typing bool, timeout time.Duration) error {
	if _, err := c.client.UserTyping(ctx, id.RoomID(roomID), typing, timeout); err != nil {
		return fmt.Errorf("matrix: set typing: %w", err)
	}
	return nil
}

// IsWatchedRoom reports whether roomID is one kotoba listens in.
func (c *Client) IsWatchedRoom(roomID string) bool {
	_, ok := c.rooms[roomID]
	return ok
}

// handleEvent filters raw events down to text messages from other users in
// watched rooms.
func (c *Client) handleEvent(ctx context.Context, evt *event.Event) {
	if evt.Sender == id.UserID(c.config.UserID) {
		return
	}
	content := evt.Content.AsMessage()
	if content == nil || content.MsgType != event.MsgText || content.Body == "" {
		return
	}
	if !c.IsWatchedRoom(evt.RoomID.String()) {
		return
	}
	if c.handler != nil {
		c.handler(ctx, Message{
			RoomID:  evt.RoomID.String(),
			Sender:  evt.Sender.String(),
			EventID: evt.ID.String(),
			Body:    content.Body,
		})
	}
}

func (c *Client) joinRoom(ctx context.Context, roomID id.RoomID) error {
	_, err := c.client.JoinRoomByID(ctx, roomID)
	if err != nil {
		// Homeservers answer M_FORBIDDEN when already joined.
		if errors.Is(err, mautrix.MForbidden) {
			c.logger.Warn("matrix: join forbidden or already a member, continuing", "room", roomID)
			return nil
		}
		return err
	}
	return nil
}
