package models

import (
	"encoding/json"
	"time"
)

// TurnRole identifies who produced a conversation turn.
type TurnRole string

const (
	TurnRoleUser      TurnRole = "user"
	TurnRoleAssistant TurnRole = "assistant"
	TurnRoleSystem    TurnRole = "system"
)

// Turn is one entry of the append-only conversation history.
type Turn struct {
	Role      TurnRole  `json:"role" yaml:"role"`
	Content   string    `json:"content" yaml:"content"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`

	// Actions holds the structured actions attached to an assistant turn.
	Actions json.RawMessage `json:"actions,omitempty" yaml:"-"`
}
