package engine

import (
	"errors"
	"fmt"
	"slices"

	"github.com/skillversus/duel-backend/internal/anticheat"
)

var ErrSessionFull = errors.New("session full")
var ErrInvalidState = errors.New("invalid session state")
var ErrUnknownParticipant = errors.New("unknown participant")
var ErrUnsupportedCommand = errors.New("unsupported command")

const maxParticipants = 2

// NewState builds a fresh waiting session.
func NewState(roomCode string, duelType DuelType, content Content, rules Rules) State {
	return State{
		RoomCode:     roomCode,
		Type:         duelType,
		Status:       StatusWaiting,
		Content:      content,
		Rules:        rules,
		Participants: []Participant{},
	}
}

func (s State) participantIndex(userID string) int {
	for i := range s.Participants {
		if s.Participants[i].UserID == userID {
			return i
		}
	}
	return -1
}

func (s State) bothReady() bool {
	if len(s.Participants) != maxParticipants {
		return false
	}
	for i := range s.Participants {
		if !s.Participants[i].IsReady {
			return false
		}
	}
	return true
}

// TotalWords is the length of the typing corpus.
func (s State) TotalWords() int { return len(s.Content.Words) }

// Score is the best-score metric: typing is words completed scaled by
// accuracy, coding is test cases passed.
func (s State) Score(p Participant) float64 {
	if s.Type == DuelTyping {
		return float64(p.Typing.CurrentWordIndex) * p.Typing.Accuracy / 100
	}
	return float64(p.Coding.TestsPassed)
}

// Apply runs one command against the state and returns the emitted events
// and the next state. The input state is never mutated; on error it is
// returned unchanged. Commands arrive pre-stamped with the session's
// receipt sequence and server clock.
func Apply(s State, cmd Command) ([]Event, State, error) {
	if len(s.Participants) > maxParticipants {
		// A third slot means a tracker bug, not bad client input.
		panic(fmt.Sprintf("session %s has %d participants", s.RoomCode, len(s.Participants)))
	}

	next := s
	next.Participants = slices.Clone(s.Participants)
	next.Seq = cmd.Seq

	switch cmd.Type {
	case CmdJoin:
		return applyJoin(s, next, cmd)
	case CmdDisconnect:
		return applyDisconnect(s, next, cmd)
	case CmdSetReady:
		return applySetReady(s, next, cmd)
	case CmdCountdownElapsed:
		return applyCountdownElapsed(s, next, cmd)
	case CmdVirtualStart:
		return applyVirtualStart(s, next, cmd)
	case CmdTypingProgress:
		return applyTypingProgress(s, next, cmd)
	case CmdTypingCompletion:
		return applyTypingCompletion(s, next, cmd)
	case CmdRestartTyping:
		return applyRestartTyping(s, next, cmd)
	case CmdCodeResult:
		return applyCodeResult(s, next, cmd)
	case CmdRecordViolation:
		return applyRecordViolation(s, next, cmd)
	case CmdDeadlineElapsed:
		return applyDeadlineElapsed(s, next, cmd)
	default:
		return nil, s, ErrUnsupportedCommand
	}
}

func applyJoin(s, next State, cmd Command) ([]Event, State, error) {
	if i := s.participantIndex(cmd.UserID); i >= 0 {
		// Idempotent reconnect: same slot, progress and violations intact.
		next.Participants[i].Connected = true
		return []Event{{Type: EvtParticipantReconnected, UserID: cmd.UserID}}, next, nil
	}
	if s.Status != StatusWaiting {
		return nil, s, ErrInvalidState
	}
	if len(s.Participants) == maxParticipants {
		return nil, s, ErrSessionFull
	}
	next.Participants = append(next.Participants, Participant{
		UserID:     cmd.UserID,
		Connected:  true,
		Violations: []anticheat.Violation{},
	})
	return []Event{{Type: EvtParticipantJoined, UserID: cmd.UserID}}, next, nil
}

func applyDisconnect(s, next State, cmd Command) ([]Event, State, error) {
	i := s.participantIndex(cmd.UserID)
	if i < 0 {
		return nil, s, ErrUnknownParticipant
	}
	next.Participants[i].Connected = false
	events := []Event{{Type: EvtParticipantDisconnected, UserID: cmd.UserID}}

	// A disconnect while waiting drops readiness so a pending countdown
	// cannot start the duel against an absent opponent.
	if s.Status == StatusWaiting && s.Participants[i].IsReady {
		wasArmed := s.bothReady()
		next.Participants[i].IsReady = false
		events = append(events, Event{Type: EvtReadyChanged, UserID: cmd.UserID})
		if wasArmed {
			events = append(events, Event{Type: EvtCountdownCancelled})
		}
	}
	return events, next, nil
}

func applySetReady(s, next State, cmd Command) ([]Event, State, error) {
	if s.Status != StatusWaiting {
		return nil, s, ErrInvalidState
	}
	i := s.participantIndex(cmd.UserID)
	if i < 0 {
		return nil, s, ErrUnknownParticipant
	}
	wasArmed := s.bothReady()
	next.Participants[i].IsReady = cmd.Ready
	events := []Event{{Type: EvtReadyChanged, UserID: cmd.UserID}}

	if !wasArmed && next.bothReady() {
		events = append(events, Event{Type: EvtCountdownStarted})
	}
	if wasArmed && !next.bothReady() {
		events = append(events, Event{Type: EvtCountdownCancelled})
	}
	return events, next, nil
}

// applyCountdownElapsed fires when the ready countdown timer expires. The
// readiness is re-checked: an un-ready inside the window bumped the timer
// generation, but a racing stale fire must still not start the duel.
func applyCountdownElapsed(s, next State, cmd Command) ([]Event, State, error) {
	if s.Status != StatusWaiting || !s.bothReady() {
		return nil, s, ErrInvalidState
	}
	next.Status = StatusActive
	next.StartedAt = cmd.Now
	next.CompletesAt = cmd.Now.Add(s.Rules.TimeLimit)
	return []Event{{Type: EvtDuelStarted}}, next, nil
}

// applyVirtualStart begins a virtual session: same content and duration
// as a live duel, independently started clock, no opponent required.
func applyVirtualStart(s, next State, cmd Command) ([]Event, State, error) {
	if s.Status != StatusWaiting {
		return nil, s, ErrInvalidState
	}
	if s.participantIndex(cmd.UserID) < 0 {
		return nil, s, ErrUnknownParticipant
	}
	next.Status = StatusActive
	next.StartedAt = cmd.Now
	next.CompletesAt = cmd.Now.Add(s.Rules.TimeLimit)
	return []Event{{Type: EvtDuelStarted}}, next, nil
}

func applyTypingProgress(s, next State, cmd Command) ([]Event, State, error) {
	i, err := activeParticipant(s, cmd.UserID, DuelTyping)
	if err != nil {
		return nil, s, err
	}
	elapsed := cmd.Now.Sub(s.StartedAt)
	next.Participants[i].Typing = ScoreTyping(s.Content.Words, cmd.TypedText, elapsed)

	events := []Event{{Type: EvtProgressUpdated, UserID: cmd.UserID}}
	if typingComplete(next, i) {
		events = append(events, completeAs(&next, i, ReasonCorrectSubmission, cmd))
	}
	return events, next, nil
}

// applyTypingCompletion handles a client-claimed finish. The claim carries
// the final transcript, not client-computed metrics: the server rescores
// it and either confirms the finish or rejects the claim. This covers
// clients whose last progress update lagged behind their final keystroke.
func applyTypingCompletion(s, next State, cmd Command) ([]Event, State, error) {
	i, err := activeParticipant(s, cmd.UserID, DuelTyping)
	if err != nil {
		return nil, s, err
	}
	elapsed := cmd.Now.Sub(s.StartedAt)
	next.Participants[i].Typing = ScoreTyping(s.Content.Words, cmd.TypedText, elapsed)
	if !typingComplete(next, i) {
		return nil, s, ErrInvalidState
	}
	return []Event{
		{Type: EvtProgressUpdated, UserID: cmd.UserID},
		completeAs(&next, i, ReasonCompletion, cmd),
	}, next, nil
}

func applyRestartTyping(s, next State, cmd Command) ([]Event, State, error) {
	i, err := activeParticipant(s, cmd.UserID, DuelTyping)
	if err != nil {
		return nil, s, err
	}
	// Only valid before the participant reaches a perfect transcript.
	if typingComplete(s, i) {
		return nil, s, ErrInvalidState
	}
	next.Participants[i].Typing = TypingProgress{}
	return []Event{{Type: EvtTypingRestarted, UserID: cmd.UserID}}, next, nil
}

func applyCodeResult(s, next State, cmd Command) ([]Event, State, error) {
	i, err := activeParticipant(s, cmd.UserID, DuelCoding)
	if err != nil {
		return nil, s, err
	}
	next.Participants[i].Coding = CodingProgress{
		TestsPassed: cmd.Result.Passed,
		TestsTotal:  cmd.Result.Total,
		Submitted:   true,
	}
	events := []Event{{Type: EvtProgressUpdated, UserID: cmd.UserID}}
	if cmd.Result.Total > 0 && cmd.Result.Passed == cmd.Result.Total {
		events = append(events, completeAs(&next, i, ReasonCorrectSubmission, cmd))
	}
	return events, next, nil
}

func applyRecordViolation(s, next State, cmd Command) ([]Event, State, error) {
	// Late events during teardown are dropped, not errors.
	if s.Status != StatusActive {
		return nil, s, nil
	}
	i := s.participantIndex(cmd.UserID)
	if i < 0 {
		return nil, s, ErrUnknownParticipant
	}
	policy := violationPolicy(s.Rules)
	if !policy.ShouldRecord(cmd.Violation) {
		return nil, s, nil
	}
	p := &next.Participants[i]
	p.Violations = append(slices.Clone(s.Participants[i].Violations), cmd.Violation)
	return []Event{{Type: EvtViolationRecorded, UserID: cmd.UserID}}, next, nil
}

// applyDeadlineElapsed resolves best-score when the time limit fires with
// no prior completion. Equal scores are a declared draw.
func applyDeadlineElapsed(s, next State, cmd Command) ([]Event, State, error) {
	if s.Status != StatusActive {
		return nil, s, ErrInvalidState
	}
	next.Status = StatusCompleted
	next.CompletedAt = cmd.Now
	next.Reason = ReasonBestScore

	// Solo virtual sessions have nobody to beat: any score wins.
	if len(next.Participants) == 1 {
		if s.Score(next.Participants[0]) > 0 {
			next.WinnerID = next.Participants[0].UserID
		} else {
			next.Draw = true
		}
		return []Event{{
			Type:     EvtDuelCompleted,
			Reason:   ReasonBestScore,
			WinnerID: next.WinnerID,
			Draw:     next.Draw,
		}}, next, nil
	}

	a, b := next.Participants[0], next.Participants[1]
	switch sa, sb := s.Score(a), s.Score(b); {
	case sa > sb:
		next.WinnerID = a.UserID
	case sb > sa:
		next.WinnerID = b.UserID
	default:
		next.Draw = true
	}
	return []Event{{
		Type:     EvtDuelCompleted,
		Reason:   ReasonBestScore,
		WinnerID: next.WinnerID,
		Draw:     next.Draw,
	}}, next, nil
}

// completeAs performs the single status compare-and-set to completed. The
// caller has already checked the session is active, so the first
// qualifying event in receipt order wins and later triggers never reach
// this point.
func completeAs(next *State, winner int, reason CompletionReason, cmd Command) Event {
	next.Status = StatusCompleted
	next.CompletedAt = cmd.Now
	next.Reason = reason
	next.WinnerID = next.Participants[winner].UserID
	next.Participants[winner].Finished = true
	next.Participants[winner].FinishSeq = cmd.Seq
	return Event{Type: EvtDuelCompleted, Reason: reason, WinnerID: next.WinnerID}
}

func violationPolicy(r Rules) anticheat.Policy {
	return anticheat.Policy{FocusGrace: r.FocusGrace}
}

func typingComplete(s State, i int) bool {
	p := s.Participants[i]
	return p.Typing.CurrentWordIndex == s.TotalWords() && p.Typing.Accuracy == 100
}

func activeParticipant(s State, userID string, want DuelType) (int, error) {
	if s.Status != StatusActive || s.Type != want {
		return -1, ErrInvalidState
	}
	i := s.participantIndex(userID)
	if i < 0 {
		return -1, ErrUnknownParticipant
	}
	return i, nil
}
