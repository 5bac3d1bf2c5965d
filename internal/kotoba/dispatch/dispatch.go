// Package dispatch drives one user message through the conversation core:
// parse, serialize per session, maintain context, run actions, respond,
// record the turn and collect suggestions.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bdobrica/kotoba/common/trace"
	"github.com/bdobrica/kotoba/internal/kotoba/conversation"
	"github.com/bdobrica/kotoba/internal/kotoba/intent"
)

// ErrRateLimited is returned when a user exceeds the message budget.
var ErrRateLimited = errors.New("dispatch: rate limit exceeded")

// ErrEmptyMessage is returned for a request with neither text nor intent.
var ErrEmptyMessage = errors.New("dispatch: empty message")

// Config holds Orchestrator settings.
type Config struct {
	// RatePerMinute is the per-user message budget. Default: 30.
	RatePerMinute int

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Request is one inbound message. When SessionID is empty a new session is
// started for UserID. A pre-parsed Intent skips the parser.
type Request struct {
	SessionID string
	UserID    string
	Message   string
	Intent    *intent.ParsedIntent
	Metadata  map[string]any
}

// Reply is the outcome of a processed message.
type Reply struct {
	SessionID   string                    `json:"session_id"`
	TurnID      string                    `json:"turn_id"`
	TraceID     string                    `json:"trace_id"`
	Response    string                    `json:"response"`
	Intent      *intent.ParsedIntent      `json:"intent"`
	Actions     []ActionResult            `json:"actions"`
	Suggestions []conversation.Suggestion `json:"suggestions"`
	Context     *conversation.Context     `json:"context"`
}

// Orchestrator processes messages. Safe for concurrent use; messages for the
// same session are handled one at a time.
type Orchestrator struct {
	manager   *conversation.Manager
	parser    intent.Parser
	actions   *Registry
	responder Responder
	limiter   *userLimiter
	locks     *sessionLocks
	logger    *slog.Logger
}

// New creates an Orchestrator. A nil parser uses the keyword parser, a nil
// registry runs no actions, and a nil responder uses the built-in templates.
func New(cfg Config, m *conversation.Manager, parser intent.Parser, actions *Registry, responder Responder) *Orchestrator {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if parser == nil {
		parser = intent.NewKeywordParser()
	}
	if actions == nil {
		actions = NewRegistry()
	}
	if responder == nil {
		// The built-in templates always parse.
		responder, _ = NewTemplateResponder(nil)
	}
	return &Orchestrator{
		manager:   m,
		parser:    parser,
		actions:   actions,
		responder: responder,
		limiter:   newUserLimiter(cfg.RatePerMinute),
		locks:     newSessionLocks(),
		logger:    cfg.Logger,
	}
}

// Handle processes req end to end.
func (o *Orchestrator) Handle(ctx context.Context, req Request) (*Reply, error) {
	start := time.Now()
	ctx, traceID := trace.Ensure(ctx)
	log := trace.Logger(ctx, o.logger)

	if req.Message == "" && req.Intent == nil {
		return nil, ErrEmptyMessage
	}

	if req.UserID != "" && !o.limiter.Allow(req.UserID) {
		log.Warn("dispatch: rate limited", "user_id", req.UserID)
		return nil, ErrRateLimited
	}

	// --- 1. Session -------------------------------------------------------
	// A new session is only created once its first message has parsed, so a
	// rejected message never leaves an empty session behind.
	var parsed *intent.ParsedIntent
	sessionID := req.SessionID
	if sessionID == "" {
		p, err := o.parse(ctx, log, req)
		if err != nil {
			return nil, err
		}
		parsed = p
		sessionID = o.manager.Create(req.UserID, req.Metadata).ID
	}

	unlock := o.locks.Lock(sessionID)
	defer unlock()

	s, err := o.manager.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	userID := s.UserID
	if req.UserID != "" && req.UserID != userID {
		// Do not leak another user's session.
		return nil, fmt.Errorf("%w: %s", conversation.ErrSessionNotFound, sessionID)
	}
	if req.UserID == "" && !o.limiter.Allow(userID) {
		log.Warn("dispatch: rate limited", "user_id", userID, "session_id", sessionID)
		return nil, ErrRateLimited
	}

	// --- 2. Intent --------------------------------------------------------
	if parsed == nil {
		parsed, err = o.parse(ctx, log, req)
		if err != nil {
			return nil, err
		}
	}

	// --- 3. Context -------------------------------------------------------
	cctx, err := o.manager.MaintainContext(ctx, sessionID, req.Message, parsed)
	if err != nil {
		return nil, err
	}

	// --- 4. Actions -------------------------------------------------------
	results := o.actions.Run(ctx, ActionRequest{
		SessionID: sessionID,
		UserID:    userID,
		Message:   req.Message,
		Intent:    parsed,
		Context:   cctx,
	})
	recorded := make([]string, 0, len(results))
	for _, r := range results {
		if r.Error != "" {
			log.Warn("dispatch: action failed", "session_id", sessionID, "action", r.Name, "err", r.Error)
		}
		recorded = append(recorded, r.Recorded())
	}

	// --- 5. Response ------------------------------------------------------
	response, err := o.responder.Respond(ctx, ResponseInput{
		Message: req.Message,
		Intent:  parsed,
		Context: cctx,
		Actions: results,
	})
	if err != nil {
		log.Warn("dispatch: responder failed", "session_id", sessionID, "err", err)
		response = fallbackResponse
	}

	// --- 6. Record --------------------------------------------------------
	turn, err := o.manager.AddTurn(ctx, sessionID, conversation.TurnInput{
		UserMessage:    req.Message,
		Intent:         parsed,
		SystemActions:  recorded,
		Response:       response,
		ProcessingTime: time.Since(start),
	})
	if err != nil {
		return nil, err
	}
	if fresh, err := o.manager.Get(ctx, sessionID); err == nil {
		cctx = fresh.Context
	}

	// --- 7. Suggestions ---------------------------------------------------
	suggestions := o.manager.Suggestions(ctx, sessionID, parsed)

	log.Info("dispatch: turn processed",
		"session_id", sessionID,
		"user_id", userID,
		"intent", parsed.Type,
		"confidence", parsed.Confidence,
		"actions", len(results),
		"suggestions", len(suggestions),
		"elapsed", time.Since(start).String(),
	)

	return &Reply{
		SessionID:   sessionID,
		TurnID:      turn.ID,
		TraceID:     traceID,
		Response:    response,
		Intent:      parsed,
		Actions:     results,
		Suggestions: suggestions,
		Context:     cctx,
	}, nil
}

// parse validates a caller-supplied intent or runs the parser. Parser
// failures other than upstream throttling degrade to an unknown intent.
func (o *Orchestrator) parse(ctx context.Context, log *slog.Logger, req Request) (*intent.ParsedIntent, error) {
	if req.Intent != nil {
		if err := intent.Validate(req.Intent); err != nil {
			return nil, err
		}
		return req.Intent.Clone(), nil
	}

	parsed, err := o.parser.Parse(ctx, req.Message)
	switch {
	case errors.Is(err, intent.ErrRateLimit):
		return nil, err
	case err != nil:
		log.Warn("dispatch: intent parser failed, treating as unknown", "err", err)
		return intent.Unknown(0), nil
	case parsed == nil:
		return intent.Unknown(0), nil
	}
	if err := intent.Validate(parsed); err != nil {
		log.Warn("dispatch: parser returned invalid intent", "err", err)
		return intent.Unknown(0), nil
	}
	return parsed, nil
}

// Start opens a session without processing a message.
func (o *Orchestrator) Start(userID string, metadata map[string]any) *conversation.Session {
	return o.manager.Create(userID, metadata)
}

// Suggest returns suggestions for the session, serialized with its turns.
func (o *Orchestrator) Suggest(ctx context.Context, sessionID string, current *intent.ParsedIntent) []conversation.Suggestion {
	unlock := o.locks.Lock(sessionID)
	defer unlock()
	return o.manager.Suggestions(ctx, sessionID, current)
}

// End ends the session once any in-flight turn for it has finished.
func (o *Orchestrator) End(ctx context.Context, sessionID string) (bool, error) {
	unlock := o.locks.Lock(sessionID)
	defer unlock()
	return o.manager.End(ctx, sessionID)
}
