package types

import (
	"time"

	"github.com/skillversus/duel-backend/internal/engine"
)

// ClientMessage is the inbound websocket envelope. The room is bound at
// connection time, so payloads never repeat it.
type ClientMessage struct {
	Type          string    `json:"type"`
	Ready         bool      `json:"ready,omitempty"`
	TypedText     string    `json:"typed_text,omitempty"`
	Code          string    `json:"code,omitempty"`
	Language      string    `json:"language,omitempty"`
	ViolationType string    `json:"violation_type,omitempty"`
	Message       string    `json:"message,omitempty"`
	BlurMs        int64     `json:"blur_ms,omitempty"`
	Timestamp     time.Time `json:"timestamp,omitzero"`
}

// Inbound message types.
const (
	MsgToggleReady      = "toggle-ready"
	MsgTypingProgress   = "typing-progress"
	MsgTypingCompletion = "typing-completion"
	MsgRestartTyping    = "restart-typing"
	MsgCodeSubmission   = "code-submission"
	MsgViolation        = "violation"
	MsgAckResult        = "ack-result"
	MsgStartVirtual     = "start-virtual"
)

// Outbound message types.
const (
	MsgSnapshot = "session-snapshot"
	MsgError    = "error"
)

type ServerMessage struct {
	Type    string        `json:"type"`
	Version int           `json:"version,omitempty"`
	State   *engine.State `json:"state,omitempty"`
	Events  []string      `json:"events,omitempty"`
	Error   *ErrorBody    `json:"error,omitempty"`
}

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type CreateDuelRequest struct {
	DuelType     string `json:"duel_type"`
	TimeLimitSec int    `json:"time_limit_sec,omitempty"`
}

type CreateDuelResponse struct {
	RoomCode  string          `json:"room_code"`
	DuelType  string          `json:"duel_type"`
	Staleness StalenessBounds `json:"staleness"`
}

// StalenessBounds tells polling clients how stale each read may be.
type StalenessBounds struct {
	LeaderboardSec int `json:"leaderboard_sec"`
	SubmissionsSec int `json:"submissions_sec"`
	StatusSec      int `json:"status_sec"`
}
