package chat_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"

	analysis "github.com/pocketcoach/backend/internal/analysis/sentiment"
	chatmodel "github.com/pocketcoach/backend/internal/model/chat"
	"github.com/pocketcoach/backend/internal/service/ai"
	"github.com/pocketcoach/backend/internal/service/chat"
	"github.com/pocketcoach/backend/internal/service/session"
	"github.com/pocketcoach/backend/internal/telemetry"
)

type fakeResponder struct {
	reply     string
	err       error
	streaming bool

	mu      sync.Mutex
	lastReq ai.Request
	calls   int
}

func (f *fakeResponder) Generate(_ context.Context, req ai.Request) (string, error) {
	f.mu.Lock()
	f.lastReq = req
	f.calls++
	f.mu.Unlock()
	return f.reply, f.err
}

func (f *fakeResponder) Stream(context.Context, ai.Request) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("streaming unsupported in fake")
}

func (f *fakeResponder) StreamingEnabled() bool { return f.streaming }

func (f *fakeResponder) last() ai.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastReq
}

// blockingResponder never answers; it waits out the invocation context.
type blockingResponder struct{}

func (blockingResponder) Generate(ctx context.Context, _ ai.Request) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func (blockingResponder) Stream(context.Context, ai.Request) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("streaming unsupported")
}

func (blockingResponder) StreamingEnabled() bool { return false }

type fakeAnalyzer struct {
	results []analysis.Result
}

func (f fakeAnalyzer) Analyze(context.Context, string) []analysis.Result {
	return f.results
}

type recordingSink struct {
	mu      sync.Mutex
	records []telemetry.TurnRecord
}

func (r *recordingSink) Record(record telemetry.TurnRecord) {
	r.mu.Lock()
	r.records = append(r.records, record)
	r.mu.Unlock()
}

func (r *recordingSink) all() []telemetry.TurnRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]telemetry.TurnRecord(nil), r.records...)
}

type fixture struct {
	svc       *chat.Service
	store     *session.FileStore
	responder *fakeResponder
	sink      *recordingSink
}

func newFixture(t *testing.T, responder chat.Responder, analyzer chat.Analyzer, opts chat.Options) fixture {
	t.Helper()

	store, err := session.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore err: %v", err)
	}
	users := session.NewUserDirectory(store, func() string { return "How do you feel?" })
	sink := &recordingSink{}

	fake, _ := responder.(*fakeResponder)
	return fixture{
		svc:       chat.NewService(store, users, responder, analyzer, sink, opts),
		store:     store,
		responder: fake,
		sink:      sink,
	}
}

func TestLoginRequiresUsername(t *testing.T) {
	fx := newFixture(t, &fakeResponder{reply: "ok"}, fakeAnalyzer{}, chat.Options{})

	if _, err := fx.svc.Login(context.Background(), "   "); !errors.Is(err, chat.ErrUsernameRequired) {
		t.Fatalf("expected ErrUsernameRequired, got %v", err)
	}
}

func TestLoginIdempotent(t *testing.T) {
	fx := newFixture(t, &fakeResponder{reply: "ok"}, fakeAnalyzer{}, chat.Options{})
	ctx := context.Background()

	first, err := fx.svc.Login(ctx, "margaret")
	if err != nil {
		t.Fatalf("Login err: %v", err)
	}
	second, err := fx.svc.Login(ctx, "margaret")
	if err != nil {
		t.Fatalf("Login err: %v", err)
	}
	if first != second {
		t.Fatalf("login not idempotent: %s vs %s", first, second)
	}
}

func TestChatHappyPath(t *testing.T) {
	responder := &fakeResponder{reply: "I hear you. Rest is important."}
	analyzer := fakeAnalyzer{results: []analysis.Result{{Label: analysis.Sadness, Score: 0.75}}}
	fx := newFixture(t, responder, analyzer, chat.Options{})
	ctx := context.Background()

	sid, err := fx.svc.Login(ctx, "margaret")
	if err != nil {
		t.Fatalf("Login err: %v", err)
	}

	result, err := fx.svc.Chat(ctx, sid, "I feel tired today")
	if err != nil {
		t.Fatalf("Chat err: %v", err)
	}
	if result.SessionID != sid {
		t.Fatalf("unexpected session id: got %s want %s", result.SessionID, sid)
	}
	if result.Reply != responder.reply {
		t.Fatalf("unexpected reply: %q", result.Reply)
	}
	if result.Sentiment == nil || result.Sentiment.Label != "sadness" || result.Sentiment.Score != 0.75 {
		t.Fatalf("unexpected sentiment: %+v", result.Sentiment)
	}

	req := responder.last()
	if req.SentimentLabel != "sadness" {
		t.Fatalf("prompt missed the sentiment label: %+v", req)
	}
	if req.Opening {
		t.Fatal("an existing session must not use the opening prompt")
	}
	if req.Username != "margaret" {
		t.Fatalf("prompt missed the username: %q", req.Username)
	}

	messages, err := fx.store.Read(ctx, sid)
	if err != nil {
		t.Fatalf("Read err: %v", err)
	}
	// Seeded opener, then user turn, then assistant turn, in causal order.
	if len(messages) != 3 {
		t.Fatalf("unexpected message count: %d", len(messages))
	}
	if messages[1].Role != chatmodel.RoleUser || messages[1].Content != "I feel tired today" {
		t.Fatalf("user turn not persisted first: %+v", messages[1])
	}
	if messages[1].Sentiment == nil || messages[1].Sentiment.Label != "sadness" {
		t.Fatalf("user turn missing sentiment annotation: %+v", messages[1])
	}
	if messages[2].Role != chatmodel.RoleAssistant || messages[2].Content != responder.reply {
		t.Fatalf("assistant turn not persisted: %+v", messages[2])
	}
}

func TestChatCreatesSessionWhenIDMissing(t *testing.T) {
	responder := &fakeResponder{reply: "Hello there"}
	fx := newFixture(t, responder, fakeAnalyzer{}, chat.Options{})

	result, err := fx.svc.Chat(context.Background(), "", "hello")
	if err != nil {
		t.Fatalf("Chat err: %v", err)
	}
	if result.SessionID == "" {
		t.Fatal("expected an allocated session id")
	}
	if !responder.last().Opening {
		t.Fatal("a brand-new session must use the opening prompt")
	}
}

func TestChatRejectsEmptyMessageOnExistingHistory(t *testing.T) {
	responder := &fakeResponder{reply: "ok"}
	fx := newFixture(t, responder, fakeAnalyzer{}, chat.Options{})
	ctx := context.Background()

	sid, err := fx.svc.Login(ctx, "margaret")
	if err != nil {
		t.Fatalf("Login err: %v", err)
	}

	if _, err := fx.svc.Chat(ctx, sid, "   "); !errors.Is(err, chat.ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}
	if responder.calls != 0 {
		t.Fatal("rejected request must not reach the model")
	}

	messages, _ := fx.store.Read(ctx, sid)
	if len(messages) != 1 {
		t.Fatalf("rejected request mutated the session: %d messages", len(messages))
	}
}

func TestChatModelFailureLeavesSessionUntouched(t *testing.T) {
	responder := &fakeResponder{err: errors.New("upstream 500")}
	fx := newFixture(t, responder, fakeAnalyzer{}, chat.Options{})
	ctx := context.Background()

	sid, err := fx.svc.Login(ctx, "margaret")
	if err != nil {
		t.Fatalf("Login err: %v", err)
	}

	if _, err := fx.svc.Chat(ctx, sid, "hello"); !errors.Is(err, chat.ErrModelFailure) {
		t.Fatalf("expected ErrModelFailure, got %v", err)
	}

	messages, _ := fx.store.Read(ctx, sid)
	if len(messages) != 1 {
		t.Fatalf("failed turn must persist nothing: %d messages", len(messages))
	}
	if len(fx.sink.all()) != 0 {
		t.Fatal("failed turn must not reach telemetry")
	}
}

func TestChatModelTimeout(t *testing.T) {
	fx := newFixture(t, blockingResponder{}, fakeAnalyzer{}, chat.Options{ModelTimeout: 20 * time.Millisecond})

	if _, err := fx.svc.Chat(context.Background(), "", "hello"); !errors.Is(err, chat.ErrModelTimeout) {
		t.Fatalf("expected ErrModelTimeout, got %v", err)
	}
}

func TestChatSentimentFallbackToUnknown(t *testing.T) {
	responder := &fakeResponder{reply: "Tell me more."}
	fx := newFixture(t, responder, fakeAnalyzer{results: nil}, chat.Options{})

	result, err := fx.svc.Chat(context.Background(), "", "qwzx")
	if err != nil {
		t.Fatalf("Chat err: %v", err)
	}
	if result.Sentiment == nil || result.Sentiment.Label != string(analysis.Unknown) || result.Sentiment.Score != 0 {
		t.Fatalf("expected UNKNOWN fallback, got %+v", result.Sentiment)
	}
	if responder.last().SentimentLabel != string(analysis.Unknown) {
		t.Fatalf("prompt missed the fallback label: %+v", responder.last())
	}
}

func TestChatStreamWithoutStreamingDeliversSingleDelta(t *testing.T) {
	responder := &fakeResponder{reply: "full reply"}
	fx := newFixture(t, responder, fakeAnalyzer{}, chat.Options{})

	var deltas []string
	result, err := fx.svc.ChatStream(context.Background(), "", "hello", func(chunk string) error {
		deltas = append(deltas, chunk)
		return nil
	})
	if err != nil {
		t.Fatalf("ChatStream err: %v", err)
	}
	if len(deltas) != 1 || deltas[0] != "full reply" {
		t.Fatalf("unexpected deltas: %+v", deltas)
	}
	if result.Reply != "full reply" {
		t.Fatalf("unexpected reply: %q", result.Reply)
	}
}

func TestChatStreamRequiresCallback(t *testing.T) {
	fx := newFixture(t, &fakeResponder{reply: "ok"}, fakeAnalyzer{}, chat.Options{})

	if _, err := fx.svc.ChatStream(context.Background(), "", "hello", nil); err == nil {
		t.Fatal("expected an error without a delta callback")
	}
}

func TestChatRecordsTelemetry(t *testing.T) {
	responder := &fakeResponder{reply: "reply"}
	analyzer := fakeAnalyzer{results: []analysis.Result{{Label: analysis.Joy, Score: 0.5}}}
	fx := newFixture(t, responder, analyzer, chat.Options{})
	ctx := context.Background()

	sid, err := fx.svc.Login(ctx, "harold")
	if err != nil {
		t.Fatalf("Login err: %v", err)
	}
	if _, err := fx.svc.Chat(ctx, sid, "good morning"); err != nil {
		t.Fatalf("Chat err: %v", err)
	}

	records := fx.sink.all()
	if len(records) != 1 {
		t.Fatalf("expected one telemetry record, got %d", len(records))
	}
	record := records[0]
	if record.SessionID != sid || record.Username != "harold" {
		t.Fatalf("unexpected record identity: %+v", record)
	}
	if record.UserMessage != "good morning" || record.AssistantMessage != "reply" {
		t.Fatalf("unexpected record contents: %+v", record)
	}
	if record.SentimentLabel != "joy" || record.SentimentScore != 0.5 {
		t.Fatalf("unexpected record sentiment: %+v", record)
	}
}

func TestResetThenHistoryNotFound(t *testing.T) {
	fx := newFixture(t, &fakeResponder{reply: "ok"}, fakeAnalyzer{}, chat.Options{})
	ctx := context.Background()

	sid, err := fx.svc.Login(ctx, "margaret")
	if err != nil {
		t.Fatalf("Login err: %v", err)
	}
	if err := fx.svc.Reset(ctx, sid); err != nil {
		t.Fatalf("Reset err: %v", err)
	}
	if _, err := fx.svc.History(ctx, sid); !errors.Is(err, session.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if err := fx.svc.Reset(ctx, "missing"); !errors.Is(err, session.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound for unknown session, got %v", err)
	}
}

func TestClassifyPassesThroughAnalyzer(t *testing.T) {
	analyzer := fakeAnalyzer{results: []analysis.Result{{Label: analysis.Anger, Score: 0.6}}}
	fx := newFixture(t, &fakeResponder{reply: "ok"}, analyzer, chat.Options{})

	results := fx.svc.Classify(context.Background(), "this is so unfair")
	if len(results) != 1 || results[0].Label != analysis.Anger {
		t.Fatalf("unexpected results: %+v", results)
	}
}
