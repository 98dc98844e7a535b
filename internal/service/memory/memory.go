package memory

import (
	"context"
	"strings"

	"github.com/pocketcoach/backend/internal/model/chat"
)

// Log is the read side of the session store the reconstructor needs.
type Log interface {
	Read(ctx context.Context, sessionID string) ([]chat.Message, error)
}

// Pair is one completed exchange: a user turn and the assistant reply.
type Pair struct {
	User      string
	Assistant string
}

// Transcript is the in-process conversation memory rebuilt per request.
// It is never persisted; callers discard it when the request completes.
type Transcript struct {
	Pairs []Pair
}

// Build replays the persisted message log into ordered exchange pairs.
// A user message only enters the transcript when the very next message is
// the assistant reply; a trailing unanswered user turn and any assistant
// message without a preceding user turn are dropped. The replay is a single
// pass, so rebuilding an unchanged log always yields the same transcript.
func Build(ctx context.Context, log Log, sessionID string) (*Transcript, error) {
	messages, err := log.Read(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return FromMessages(messages), nil
}

// FromMessages pairs an already-loaded message sequence.
func FromMessages(messages []chat.Message) *Transcript {
	transcript := &Transcript{}
	for i := 0; i < len(messages); {
		if messages[i].Role == chat.RoleUser && i+1 < len(messages) && messages[i+1].Role == chat.RoleAssistant {
			transcript.Pairs = append(transcript.Pairs, Pair{
				User:      messages[i].Content,
				Assistant: messages[i+1].Content,
			})
			i += 2
			continue
		}
		i++
	}
	return transcript
}

// Render flattens the transcript into the history text fed to the model.
func (t *Transcript) Render() string {
	if t == nil || len(t.Pairs) == 0 {
		return ""
	}

	var builder strings.Builder
	for i, pair := range t.Pairs {
		if i > 0 {
			builder.WriteString("\n")
		}
		builder.WriteString("Human: ")
		builder.WriteString(pair.User)
		builder.WriteString("\nAI: ")
		builder.WriteString(pair.Assistant)
	}
	return builder.String()
}
