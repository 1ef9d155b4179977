// Package session holds the rolling conversational context the agent loop
// needs to resume mid-operation: recent messages, turn and cost accounting,
// and the pending-tool marker set while the loop is suspended.
package session

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a conversation session.
type Status string

const (
	StatusActive               Status = "active"
	StatusAwaitingConfirmation Status = "awaiting_confirmation"
	StatusAwaitingSignature    Status = "awaiting_signature"
	StatusWaitingPeriod        Status = "waiting_period"
	StatusComplete             Status = "complete"
	StatusError                Status = "error"
	StatusTimeout              Status = "timeout"
)

// IsTerminal reports whether the session can no longer be reused.
func (s Status) IsTerminal() bool {
	return s == StatusComplete || s == StatusError || s == StatusTimeout
}

// Role tags a message in the session history.
type Role string

const (
	RoleUser       Role = "user"
	RoleAssistant  Role = "assistant"
	RoleToolResult Role = "tool_result"
)

// Message is a single entry in the session history.
type Message struct {
	Role      Role   `json:"role"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

// PendingToolCall marks the tool the loop suspended on. It is set exactly when
// the loop suspends for user action and cleared when the resume path consumes
// it.
type PendingToolCall struct {
	ToolName       string `json:"toolName"`
	ToolID         string `json:"toolId"`
	ExpectedAction string `json:"expectedAction"`
}

const (
	// TTL is the inactivity window after which a session expires.
	TTL = 30 * time.Minute
	// maxMessages caps the retained history. Older entries are discarded,
	// not archived; only recent context feeds the model.
	maxMessages = 20
)

// Session is the rolling chat context for one (user, conversation).
type Session struct {
	SessionID       string           `json:"sessionId"`
	UserID          string           `json:"userId"`
	ConversationID  string           `json:"conversationId"`
	ChannelID       string           `json:"channelId"`
	Status          Status           `json:"status"`
	Messages        []Message        `json:"messages"`
	PendingToolCall *PendingToolCall `json:"pendingToolCall,omitempty"`
	TurnCount       int              `json:"turnCount"`
	EstimatedCost   float64          `json:"estimatedCost"`
	StartedAt       int64            `json:"startedAt"`
	LastActivityAt  int64            `json:"lastActivityAt"`
}

// New creates an active session with a fresh opaque ID.
func New(userID, conversationID, channelID string) *Session {
	now := time.Now().UnixMilli()
	return &Session{
		SessionID:      uuid.NewString(),
		UserID:         userID,
		ConversationID: conversationID,
		ChannelID:      channelID,
		Status:         StatusActive,
		StartedAt:      now,
		LastActivityAt: now,
	}
}

// Append records a message, discarding the oldest entries beyond the cap.
func (s *Session) Append(role Role, content string) {
	s.Messages = append(s.Messages, Message{
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UnixMilli(),
	})
	if len(s.Messages) > maxMessages {
		s.Messages = s.Messages[len(s.Messages)-maxMessages:]
	}
}

// Window returns the most recent n messages.
func (s *Session) Window(n int) []Message {
	if n <= 0 || len(s.Messages) <= n {
		return s.Messages
	}
	return s.Messages[len(s.Messages)-n:]
}
