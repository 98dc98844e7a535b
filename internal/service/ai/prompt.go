package ai

import (
	"fmt"
	"log"
	"math/rand/v2"
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultSystemPrompt is the coaching persona used when no override is
// configured.
const DefaultSystemPrompt = "You are a therapist for a 60 years old person from the baby boomer generation. " +
	"Be warm, patient and concrete, and speak plainly."

// historyCharLimit bounds the flat history text injected into the prompt.
// Older context beyond the limit is dropped, never summarized.
const historyCharLimit = 2000

var questions = []string{
	"How do you feel?",
	"How was your breakfast?",
	"How was your dinner?",
	"What is on your mind today?",
	"Did you sleep well last night?",
}

// FirstQuestion picks a random opening question, independent of any session.
func FirstQuestion() string {
	return questions[rand.IntN(len(questions))]
}

// buildSystemPrompt combines the persona prompt with the sentiment
// directive. The classifier result is weighted above the model's own
// inference and must never be revealed to the user.
func buildSystemPrompt(base, sentimentLabel string) string {
	if sentimentLabel == "" {
		sentimentLabel = "UNKNOWN"
	}

	var builder strings.Builder
	builder.WriteString(base)
	builder.WriteString(fmt.Sprintf(" The results of the sentiment classifier show that the person is %s, "+
		"please prioritize this analysis above your own! "+
		"Never mention that you analyse the person's feelings. "+
		"Limit yourself to 200-300 characters.", sentimentLabel))
	return builder.String()
}

// openingSystemPrompt is the variant for a brand-new session: it also
// instructs the model to open with a randomly chosen question.
func openingSystemPrompt(base, username string) string {
	prompt := base
	if username != "" {
		prompt += fmt.Sprintf(" The user's name is %s.", username)
	}
	return prompt + fmt.Sprintf(" Start the conversation by asking the user: %q", FirstQuestion())
}

// truncateHistory right-truncates the rendered history to the most recent
// historyCharLimit characters.
func truncateHistory(history string) string {
	runes := []rune(history)
	if len(runes) <= historyCharLimit {
		return history
	}
	return string(runes[len(runes)-historyCharLimit:])
}

var tokenEncoding *tiktoken.Tiktoken

func init() {
	encoding, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		log.Printf("[ai] tiktoken encoding unavailable, falling back to byte estimate: %v", err)
		return
	}
	tokenEncoding = encoding
}

// estimateTokens approximates the prompt cost for logging.
func estimateTokens(text string) int {
	if tokenEncoding == nil {
		return len(text) / 4
	}
	return len(tokenEncoding.Encode(text, nil, nil))
}
