package chat

import "time"

// Roles a persisted message can carry.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Sentiment is the classifier annotation attached to user-authored turns.
type Sentiment struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// Message persists individual turns for replay and audit.
type Message struct {
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	CreatedAt time.Time  `json:"createdAt"`
	Sentiment *Sentiment `json:"sentiment,omitempty"`
}
