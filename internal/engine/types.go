package engine

import (
	"time"

	"github.com/skillversus/duel-backend/internal/anticheat"
)

type DuelType string

const (
	DuelTyping DuelType = "typing"
	DuelCoding DuelType = "coding"
)

type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
)

// Ordinal orders statuses for the monotonic-transition invariant:
// status only ever moves forward through waiting -> active -> completed.
func (s Status) Ordinal() int {
	switch s {
	case StatusWaiting:
		return 0
	case StatusActive:
		return 1
	case StatusCompleted:
		return 2
	}
	return -1
}

type CompletionReason string

const (
	// ReasonCorrectSubmission: first participant to fully complete the
	// content (all tests passed, or every word typed at 100% accuracy).
	ReasonCorrectSubmission CompletionReason = "correct-submission"
	// ReasonCompletion: a client-claimed finish that the server re-verified
	// against its own recorded progress.
	ReasonCompletion CompletionReason = "completion"
	// ReasonBestScore: time limit elapsed with nobody fully complete.
	ReasonBestScore CompletionReason = "best-score"
	// ReasonAntiCheat exists in the model but has no automatic trigger;
	// violations are informational-only pending a moderation decision.
	ReasonAntiCheat CompletionReason = "anti-cheat"
)

// Problem is the immutable coding-duel content. Judging is external; the
// engine only needs the test count to recognize a full pass.
type Problem struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	TestCount int    `json:"test_count"`
}

// Content is assigned at session creation and never mutated afterwards.
// Both participants share it by reference, read-only.
type Content struct {
	Words   []string `json:"words,omitempty"`
	Problem Problem  `json:"problem,omitzero"`
}

type Rules struct {
	TimeLimit      time.Duration `json:"time_limit"`
	ReadyCountdown time.Duration `json:"ready_countdown"`
	FocusGrace     time.Duration `json:"focus_grace"`
}

type TypingProgress struct {
	CurrentWordIndex int     `json:"current_word_index"`
	WPM              float64 `json:"wpm"`
	Accuracy         float64 `json:"accuracy"`
}

type CodingProgress struct {
	TestsPassed int  `json:"tests_passed"`
	TestsTotal  int  `json:"tests_total"`
	Submitted   bool `json:"submitted"`
}

type Participant struct {
	UserID    string                `json:"user_id"`
	IsReady   bool                  `json:"is_ready"`
	Connected bool                  `json:"connected"`
	Typing    TypingProgress        `json:"typing,omitzero"`
	Coding    CodingProgress        `json:"coding,omitzero"`
	Finished  bool                  `json:"finished"`
	// FinishSeq is the per-session receipt sequence of the event that
	// completed this participant; arbitration compares these, never
	// client timestamps.
	FinishSeq  int64                 `json:"-"`
	Violations []anticheat.Violation `json:"violations"`
}

// State is the full authoritative session state. Apply treats it as a
// value: callers get a fresh copy back and the old one stays valid.
type State struct {
	RoomCode     string           `json:"room_code"`
	Type         DuelType         `json:"duel_type"`
	Status       Status           `json:"status"`
	Content      Content          `json:"content"`
	Rules        Rules            `json:"rules"`
	Participants []Participant    `json:"participants"`
	StartedAt    time.Time        `json:"started_at,omitzero"`
	CompletesAt  time.Time        `json:"completes_at,omitzero"`
	CompletedAt  time.Time        `json:"completed_at,omitzero"`
	Reason       CompletionReason `json:"completion_reason,omitempty"`
	WinnerID     string           `json:"winner_id,omitempty"`
	Draw         bool             `json:"draw,omitempty"`
	// Seq is the last applied receipt sequence number.
	Seq int64 `json:"-"`
}

type CommandType string

const (
	CmdJoin             CommandType = "Join"
	CmdDisconnect       CommandType = "Disconnect"
	CmdSetReady         CommandType = "SetReady"
	CmdTypingProgress   CommandType = "TypingProgress"
	CmdTypingCompletion CommandType = "TypingCompletion"
	CmdRestartTyping    CommandType = "RestartTyping"
	CmdCodeResult       CommandType = "CodeResult"
	CmdRecordViolation  CommandType = "RecordViolation"
	CmdCountdownElapsed CommandType = "CountdownElapsed"
	CmdDeadlineElapsed  CommandType = "DeadlineElapsed"
	// CmdVirtualStart starts the clock immediately, without the ready
	// handshake. Used for solo virtual replays of finished contests.
	CmdVirtualStart CommandType = "VirtualStart"
)

// CodeResult is a pre-judged verdict from the external judge.
type CodeResult struct {
	Passed int `json:"passed"`
	Total  int `json:"total"`
}

type Command struct {
	Type      CommandType
	UserID    string
	Ready     bool
	TypedText string
	Result    CodeResult
	Violation anticheat.Violation
	// Now is the server receipt time, stamped by the session actor.
	Now time.Time
	// Seq is the per-session receipt sequence, stamped by the session actor.
	Seq int64
}

type EventType string

const (
	EvtParticipantJoined       EventType = "ParticipantJoined"
	EvtParticipantReconnected  EventType = "ParticipantReconnected"
	EvtParticipantDisconnected EventType = "ParticipantDisconnected"
	EvtReadyChanged            EventType = "ReadyChanged"
	EvtCountdownStarted        EventType = "CountdownStarted"
	EvtCountdownCancelled      EventType = "CountdownCancelled"
	EvtDuelStarted             EventType = "DuelStarted"
	EvtProgressUpdated         EventType = "ProgressUpdated"
	EvtTypingRestarted         EventType = "TypingRestarted"
	EvtViolationRecorded       EventType = "ViolationRecorded"
	EvtDuelCompleted           EventType = "DuelCompleted"
)

type Event struct {
	Type     EventType
	UserID   string
	Reason   CompletionReason
	WinnerID string
	Draw     bool
}
