package memory_test

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/pocketcoach/backend/internal/model/chat"
	"github.com/pocketcoach/backend/internal/service/memory"
)

func msg(role, content string) chat.Message {
	return chat.Message{Role: role, Content: content}
}

func TestFromMessagesPairsExchanges(t *testing.T) {
	transcript := memory.FromMessages([]chat.Message{
		msg(chat.RoleUser, "A"),
		msg(chat.RoleAssistant, "B"),
		msg(chat.RoleUser, "C"),
		msg(chat.RoleAssistant, "D"),
	})

	want := []memory.Pair{{User: "A", Assistant: "B"}, {User: "C", Assistant: "D"}}
	if !reflect.DeepEqual(transcript.Pairs, want) {
		t.Fatalf("unexpected pairs: %+v", transcript.Pairs)
	}
}

func TestFromMessagesDropsTrailingUserTurn(t *testing.T) {
	transcript := memory.FromMessages([]chat.Message{
		msg(chat.RoleUser, "A"),
		msg(chat.RoleAssistant, "B"),
		msg(chat.RoleUser, "C"),
	})

	want := []memory.Pair{{User: "A", Assistant: "B"}}
	if !reflect.DeepEqual(transcript.Pairs, want) {
		t.Fatalf("unexpected pairs: %+v", transcript.Pairs)
	}
}

func TestFromMessagesDropsLeadingAssistantTurn(t *testing.T) {
	// The opening question has no preceding user turn; it must not pair.
	transcript := memory.FromMessages([]chat.Message{
		msg(chat.RoleAssistant, "X"),
		msg(chat.RoleUser, "A"),
		msg(chat.RoleAssistant, "B"),
	})

	want := []memory.Pair{{User: "A", Assistant: "B"}}
	if !reflect.DeepEqual(transcript.Pairs, want) {
		t.Fatalf("unexpected pairs: %+v", transcript.Pairs)
	}
}

func TestFromMessagesEmptyLog(t *testing.T) {
	transcript := memory.FromMessages(nil)
	if len(transcript.Pairs) != 0 {
		t.Fatalf("expected no pairs, got %+v", transcript.Pairs)
	}
	if transcript.Render() != "" {
		t.Fatalf("expected empty render, got %q", transcript.Render())
	}
}

func TestFromMessagesDeterministic(t *testing.T) {
	log := []chat.Message{
		msg(chat.RoleAssistant, "opener"),
		msg(chat.RoleUser, "A"),
		msg(chat.RoleAssistant, "B"),
		msg(chat.RoleUser, "dangling"),
	}

	first := memory.FromMessages(log)
	second := memory.FromMessages(log)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("replay not deterministic: %+v vs %+v", first, second)
	}
}

func TestRenderFormat(t *testing.T) {
	transcript := memory.FromMessages([]chat.Message{
		msg(chat.RoleUser, "I slept badly"),
		msg(chat.RoleAssistant, "I am sorry to hear that."),
		msg(chat.RoleUser, "It keeps happening"),
		msg(chat.RoleAssistant, "Tell me more."),
	})

	want := "Human: I slept badly\nAI: I am sorry to hear that.\nHuman: It keeps happening\nAI: Tell me more."
	if got := transcript.Render(); got != want {
		t.Fatalf("unexpected render:\ngot  %q\nwant %q", got, want)
	}
}

type stubLog struct {
	messages []chat.Message
	err      error
}

func (s stubLog) Read(context.Context, string) ([]chat.Message, error) {
	return s.messages, s.err
}

func TestBuildReadsFromLog(t *testing.T) {
	transcript, err := memory.Build(context.Background(), stubLog{messages: []chat.Message{
		msg(chat.RoleUser, "A"),
		msg(chat.RoleAssistant, "B"),
	}}, "sid")
	if err != nil {
		t.Fatalf("Build err: %v", err)
	}
	if len(transcript.Pairs) != 1 {
		t.Fatalf("unexpected pairs: %+v", transcript.Pairs)
	}
}

func TestBuildPropagatesReadError(t *testing.T) {
	readErr := errors.New("disk gone")
	if _, err := memory.Build(context.Background(), stubLog{err: readErr}, "sid"); !errors.Is(err, readErr) {
		t.Fatalf("expected read error, got %v", err)
	}
}
