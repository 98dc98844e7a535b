package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"

	analysis "github.com/pocketcoach/backend/internal/analysis/sentiment"
	chatmodel "github.com/pocketcoach/backend/internal/model/chat"
	"github.com/pocketcoach/backend/internal/service/ai"
	"github.com/pocketcoach/backend/internal/service/memory"
	"github.com/pocketcoach/backend/internal/service/session"
	"github.com/pocketcoach/backend/internal/telemetry"
)

var (
	// ErrEmptyMessage rejects empty text on a session that already has
	// history. Raised before any state mutation.
	ErrEmptyMessage = errors.New("empty message is not allowed")
	// ErrUsernameRequired rejects logins without a username.
	ErrUsernameRequired = errors.New("username is required")
	// ErrModelFailure marks a failed model invocation; the request yields
	// no reply.
	ErrModelFailure = errors.New("model invocation failed")
	// ErrModelTimeout marks a model invocation that exceeded its deadline.
	ErrModelTimeout = errors.New("model invocation timed out")
)

// Store is the session persistence contract the orchestrator depends on.
type Store interface {
	CreateOrResolve(ctx context.Context, sessionID string) (string, bool, error)
	Append(ctx context.Context, sessionID, role, content string, sentiment *chatmodel.Sentiment) error
	Read(ctx context.Context, sessionID string) ([]chatmodel.Message, error)
	Delete(ctx context.Context, sessionID string) error
}

// Users resolves usernames to durable session ids.
type Users interface {
	ResolveOrCreate(ctx context.Context, username string) (string, error)
	UsernameFor(sessionID string) string
}

// Responder generates replies from an assembled prompt.
type Responder interface {
	Generate(ctx context.Context, req ai.Request) (string, error)
	Stream(ctx context.Context, req ai.Request) (*schema.StreamReader[*schema.Message], error)
	StreamingEnabled() bool
}

// Analyzer classifies user text. It never fails; the worst case is the
// UNKNOWN fallback entry.
type Analyzer interface {
	Analyze(ctx context.Context, text string) []analysis.Result
}

// Options tunes the per-request pipeline.
type Options struct {
	// ModelTimeout bounds a single model invocation. Zero disables the bound.
	ModelTimeout time.Duration
	// MaxInFlight bounds concurrent external sub-calls across all requests.
	MaxInFlight int
}

// Result is the outcome of one chat turn.
type Result struct {
	SessionID string
	Reply     string
	Sentiment *chatmodel.Sentiment
}

// Service sequences one chat turn: resolve session, rebuild memory, classify
// sentiment, assemble the prompt, invoke the model, persist both turns and
// forward a telemetry record. Every collaborator is injected.
type Service struct {
	store      Store
	users      Users
	responder  Responder
	analyzer   Analyzer
	sink       telemetry.Sink
	dispatch   *dispatcher
	modelLimit time.Duration
}

// NewService wires the orchestrator.
func NewService(store Store, users Users, responder Responder, analyzer Analyzer, sink telemetry.Sink, opts Options) *Service {
	if sink == nil {
		sink = telemetry.Nop()
	}
	if opts.MaxInFlight < 1 {
		opts.MaxInFlight = 8
	}
	return &Service{
		store:      store,
		users:      users,
		responder:  responder,
		analyzer:   analyzer,
		sink:       sink,
		dispatch:   newDispatcher(opts.MaxInFlight),
		modelLimit: opts.ModelTimeout,
	}
}

// Login resolves the username to its durable session, creating and seeding
// one on first contact. Idempotent for a given username.
func (s *Service) Login(ctx context.Context, username string) (string, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return "", ErrUsernameRequired
	}
	return s.users.ResolveOrCreate(ctx, username)
}

// Chat runs the full pipeline for one user turn.
func (s *Service) Chat(ctx context.Context, sessionID, text string) (*Result, error) {
	return s.run(ctx, sessionID, text, nil)
}

// ChatStream behaves like Chat but forwards reply chunks to onDelta as the
// model produces them. With streaming disabled the full reply arrives as a
// single delta.
func (s *Service) ChatStream(ctx context.Context, sessionID, text string, onDelta func(chunk string) error) (*Result, error) {
	if onDelta == nil {
		return nil, fmt.Errorf("onDelta callback is required")
	}
	return s.run(ctx, sessionID, text, onDelta)
}

// History returns the persisted message log; missing sessions surface as
// session.ErrSessionNotFound, distinct from an empty log.
func (s *Service) History(ctx context.Context, sessionID string) ([]chatmodel.Message, error) {
	return s.store.Read(ctx, sessionID)
}

// Reset irreversibly deletes the session record.
func (s *Service) Reset(ctx context.Context, sessionID string) error {
	if err := s.store.Delete(ctx, sessionID); err != nil {
		return err
	}
	log.Printf("[chat] session %s reset by user request", sessionID)
	return nil
}

// FirstQuestion exposes the opening-question picker.
func (s *Service) FirstQuestion() string {
	return ai.FirstQuestion()
}

// Classify runs the sentiment adapter directly.
func (s *Service) Classify(ctx context.Context, text string) []analysis.Result {
	var results []analysis.Result
	if err := s.dispatch.Do(ctx, func() error {
		results = s.analyzer.Analyze(ctx, text)
		return nil
	}); err != nil {
		return []analysis.Result{{Label: analysis.Unknown, Score: 0}}
	}
	return results
}

func (s *Service) run(ctx context.Context, sessionID, text string, onDelta func(string) error) (*Result, error) {
	text = strings.TrimSpace(text)

	// Resolve the session; on store failure retry once as a fresh session
	// instead of failing the request.
	sid, isNew, err := s.store.CreateOrResolve(ctx, sessionID)
	if err != nil {
		log.Printf("[chat] session resolution failed, retrying with a fresh session: %v", err)
		sid, isNew, err = s.store.CreateOrResolve(ctx, "")
		if err != nil {
			return nil, fmt.Errorf("failed to resolve session: %w", err)
		}
	}

	// Rebuild conversation memory. If the session vanished between steps
	// (race with a concurrent reset), recover with a brand-new session.
	messages, err := s.store.Read(ctx, sid)
	if errors.Is(err, session.ErrSessionNotFound) {
		log.Printf("[chat] session %s vanished, creating a fresh one", sid)
		sid, isNew, err = s.store.CreateOrResolve(ctx, "")
		if err != nil {
			return nil, fmt.Errorf("failed to recreate session: %w", err)
		}
		messages, err = s.store.Read(ctx, sid)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session history: %w", err)
	}

	// Empty text is only tolerated while the session has no history.
	if text == "" && len(messages) > 0 {
		return nil, ErrEmptyMessage
	}

	transcript := memory.FromMessages(messages)

	// Sentiment is best-effort: the adapter absorbs its own failures and
	// the UNKNOWN fallback keeps the pipeline moving.
	best := analysis.Result{Label: analysis.Unknown, Score: 0}
	if err := s.dispatch.Do(ctx, func() error {
		if results := s.analyzer.Analyze(ctx, text); len(results) > 0 {
			best = results[0]
		}
		return nil
	}); err != nil {
		log.Printf("[chat] sentiment dispatch aborted, using fallback: %v", err)
	}

	req := ai.Request{
		SessionID:      sid,
		UserText:       text,
		History:        transcript.Render(),
		SentimentLabel: string(best.Label),
		Opening:        isNew,
		Username:       s.users.UsernameFor(sid),
	}

	reply, err := s.invokeModel(ctx, req, onDelta)
	if err != nil {
		return nil, err
	}

	// Persist only after a reply exists: user turn first, then assistant.
	// A durable-write failure here is logged, not surfaced; the caller
	// still gets the reply.
	sentiment := &chatmodel.Sentiment{Label: string(best.Label), Score: best.Score}
	if err := s.store.Append(ctx, sid, chatmodel.RoleUser, text, sentiment); err != nil {
		log.Printf("[chat] durability warning: failed to persist user turn for session %s: %v", sid, err)
	} else if err := s.store.Append(ctx, sid, chatmodel.RoleAssistant, reply, nil); err != nil {
		log.Printf("[chat] durability warning: failed to persist assistant turn for session %s: %v", sid, err)
	}

	s.sink.Record(telemetry.TurnRecord{
		SessionID:        sid,
		Username:         req.Username,
		UserMessage:      text,
		AssistantMessage: reply,
		SentimentLabel:   string(best.Label),
		SentimentScore:   best.Score,
		CreatedAt:        time.Now().UTC(),
	})

	return &Result{SessionID: sid, Reply: reply, Sentiment: sentiment}, nil
}

// invokeModel is the one step with no silent fallback: without a reply
// there is nothing to return, so failures and timeouts propagate.
func (s *Service) invokeModel(ctx context.Context, req ai.Request, onDelta func(string) error) (string, error) {
	invokeCtx := ctx
	if s.modelLimit > 0 {
		var cancel context.CancelFunc
		invokeCtx, cancel = context.WithTimeout(ctx, s.modelLimit)
		defer cancel()
	}

	var reply string
	err := s.dispatch.Do(invokeCtx, func() error {
		var invokeErr error
		if onDelta != nil && s.responder.StreamingEnabled() {
			reply, invokeErr = s.streamReply(invokeCtx, req, onDelta)
			return invokeErr
		}
		reply, invokeErr = s.responder.Generate(invokeCtx, req)
		if invokeErr == nil && onDelta != nil {
			invokeErr = onDelta(reply)
		}
		return invokeErr
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: %v", ErrModelTimeout, err)
		}
		return "", fmt.Errorf("%w: %v", ErrModelFailure, err)
	}
	return strings.TrimSpace(reply), nil
}

func (s *Service) streamReply(ctx context.Context, req ai.Request, onDelta func(string) error) (string, error) {
	stream, err := s.responder.Stream(ctx, req)
	if err != nil {
		return "", err
	}
	defer stream.Close()

	chunks := make([]*schema.Message, 0, 8)
	for {
		chunk, recvErr := stream.Recv()
		if errors.Is(recvErr, io.EOF) {
			break
		}
		if recvErr != nil {
			return "", recvErr
		}
		if chunk == nil {
			continue
		}
		chunks = append(chunks, chunk)
		if chunk.Content != "" {
			if err := onDelta(chunk.Content); err != nil {
				return "", err
			}
		}
	}

	response, err := schema.ConcatMessages(chunks)
	if err != nil {
		return "", err
	}
	return response.Content, nil
}
