package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skillversus/duel-backend/internal/anticheat"
)

var testRules = Rules{
	TimeLimit:      5 * time.Minute,
	ReadyCountdown: 2 * time.Second,
	FocusGrace:     3 * time.Second,
}

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type stepper struct {
	t   *testing.T
	s   State
	seq int64
}

func newStepper(t *testing.T, s State) *stepper {
	return &stepper{t: t, s: s}
}

// step applies a command that must succeed and returns its events.
func (st *stepper) step(cmd Command) []Event {
	st.t.Helper()
	events, err := st.try(cmd)
	require.NoError(st.t, err)
	return events
}

// try applies a command, stamping sequence and a default clock.
func (st *stepper) try(cmd Command) ([]Event, error) {
	st.t.Helper()
	st.seq++
	cmd.Seq = st.seq
	if cmd.Now.IsZero() {
		cmd.Now = t0.Add(time.Duration(st.seq) * time.Second)
	}
	events, next, err := Apply(st.s, cmd)
	if err == nil {
		require.GreaterOrEqual(st.t, next.Status.Ordinal(), st.s.Status.Ordinal(),
			"status must never move backwards")
		st.s = next
	}
	return events, err
}

func waitingTyping(t *testing.T, words []string) *stepper {
	st := newStepper(t, NewState("ABC123", DuelTyping, Content{Words: words}, testRules))
	st.step(Command{Type: CmdJoin, UserID: "alice"})
	st.step(Command{Type: CmdJoin, UserID: "bob"})
	return st
}

func activeTyping(t *testing.T, words []string) *stepper {
	st := waitingTyping(t, words)
	st.step(Command{Type: CmdSetReady, UserID: "alice", Ready: true})
	st.step(Command{Type: CmdSetReady, UserID: "bob", Ready: true})
	st.step(Command{Type: CmdCountdownElapsed})
	require.Equal(t, StatusActive, st.s.Status)
	return st
}

func activeCoding(t *testing.T, tests int) *stepper {
	st := newStepper(t, NewState("XYZ789", DuelCoding,
		Content{Problem: Problem{ID: "two-sum", TestCount: tests}}, testRules))
	st.step(Command{Type: CmdJoin, UserID: "alice"})
	st.step(Command{Type: CmdJoin, UserID: "bob"})
	st.step(Command{Type: CmdSetReady, UserID: "alice", Ready: true})
	st.step(Command{Type: CmdSetReady, UserID: "bob", Ready: true})
	st.step(Command{Type: CmdCountdownElapsed})
	return st
}

func hasEvent(events []Event, et EventType) bool {
	for _, ev := range events {
		if ev.Type == et {
			return true
		}
	}
	return false
}

func TestJoinFillsTwoSlotsAndRejectsThird(t *testing.T) {
	st := newStepper(t, NewState("ABC123", DuelTyping, Content{Words: []string{"go"}}, testRules))

	events := st.step(Command{Type: CmdJoin, UserID: "alice"})
	require.True(t, hasEvent(events, EvtParticipantJoined))

	st.step(Command{Type: CmdJoin, UserID: "bob"})
	require.Len(t, st.s.Participants, 2)

	_, err := st.try(Command{Type: CmdJoin, UserID: "carol"})
	require.ErrorIs(t, err, ErrSessionFull)
	require.Len(t, st.s.Participants, 2)
}

func TestJoinIsIdempotentReconnect(t *testing.T) {
	st := activeTyping(t, []string{"the", "quick", "brown"})

	st.step(Command{Type: CmdTypingProgress, UserID: "alice", TypedText: "the "})
	st.step(Command{Type: CmdDisconnect, UserID: "alice"})
	require.False(t, st.s.Participants[0].Connected)

	// Rejoining mid-duel resolves to the same slot with progress intact.
	events := st.step(Command{Type: CmdJoin, UserID: "alice"})
	require.True(t, hasEvent(events, EvtParticipantReconnected))
	require.Len(t, st.s.Participants, 2)
	assert.True(t, st.s.Participants[0].Connected)
	assert.Equal(t, 1, st.s.Participants[0].Typing.CurrentWordIndex)
}

func TestReadyHandshake(t *testing.T) {
	st := waitingTyping(t, []string{"go"})

	events := st.step(Command{Type: CmdSetReady, UserID: "alice", Ready: true})
	require.False(t, hasEvent(events, EvtCountdownStarted), "one ready is not enough")

	events = st.step(Command{Type: CmdSetReady, UserID: "bob", Ready: true})
	require.True(t, hasEvent(events, EvtCountdownStarted))
	// The countdown is scheduled, not synchronous: still waiting.
	require.Equal(t, StatusWaiting, st.s.Status)

	events = st.step(Command{Type: CmdSetReady, UserID: "bob", Ready: false})
	require.True(t, hasEvent(events, EvtCountdownCancelled))

	// A stale countdown fire after the cancel must not start the duel.
	_, err := st.try(Command{Type: CmdCountdownElapsed})
	require.ErrorIs(t, err, ErrInvalidState)
	require.Equal(t, StatusWaiting, st.s.Status)
}

func TestCountdownElapsedActivates(t *testing.T) {
	st := waitingTyping(t, []string{"go"})
	st.step(Command{Type: CmdSetReady, UserID: "alice", Ready: true})
	st.step(Command{Type: CmdSetReady, UserID: "bob", Ready: true})

	now := t0.Add(time.Minute)
	events := st.step(Command{Type: CmdCountdownElapsed, Now: now})
	require.True(t, hasEvent(events, EvtDuelStarted))
	require.Equal(t, StatusActive, st.s.Status)
	assert.Equal(t, now, st.s.StartedAt)
	assert.Equal(t, now.Add(testRules.TimeLimit), st.s.CompletesAt)
}

func TestDisconnectWhileWaitingDropsReadiness(t *testing.T) {
	st := waitingTyping(t, []string{"go"})
	st.step(Command{Type: CmdSetReady, UserID: "alice", Ready: true})
	st.step(Command{Type: CmdSetReady, UserID: "bob", Ready: true})

	events := st.step(Command{Type: CmdDisconnect, UserID: "bob"})
	require.True(t, hasEvent(events, EvtCountdownCancelled))
	require.False(t, st.s.Participants[1].IsReady)

	_, err := st.try(Command{Type: CmdCountdownElapsed})
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestSetReadyRejectedOutsideWaiting(t *testing.T) {
	st := activeTyping(t, []string{"go"})
	_, err := st.try(Command{Type: CmdSetReady, UserID: "alice", Ready: false})
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestTypingProgressAdvancesWordByWord(t *testing.T) {
	st := activeTyping(t, []string{"the", "quick", "brown"})

	st.step(Command{Type: CmdTypingProgress, UserID: "alice", TypedText: "the "})
	assert.Equal(t, 1, st.s.Participants[0].Typing.CurrentWordIndex)

	st.step(Command{Type: CmdTypingProgress, UserID: "alice", TypedText: "the quick "})
	assert.Equal(t, 2, st.s.Participants[0].Typing.CurrentWordIndex)

	events := st.step(Command{Type: CmdTypingProgress, UserID: "alice", TypedText: "the quick brown "})
	require.Equal(t, 3, st.s.Participants[0].Typing.CurrentWordIndex)

	require.True(t, hasEvent(events, EvtDuelCompleted))
	require.Equal(t, StatusCompleted, st.s.Status)
	assert.Equal(t, ReasonCorrectSubmission, st.s.Reason)
	assert.Equal(t, "alice", st.s.WinnerID)
	assert.EqualValues(t, 100, st.s.Participants[0].Typing.Accuracy)
}

func TestNoCompletionBelowFullAccuracy(t *testing.T) {
	st := activeTyping(t, []string{"the", "quick", "brown"})

	// A typo in the middle: index stalls and nothing completes even
	// though the last word matches.
	events := st.step(Command{Type: CmdTypingProgress, UserID: "alice", TypedText: "the quikc brown "})
	require.False(t, hasEvent(events, EvtDuelCompleted))
	require.Equal(t, StatusActive, st.s.Status)
	p := st.s.Participants[0]
	assert.Equal(t, 1, p.Typing.CurrentWordIndex)
	assert.Less(t, p.Typing.Accuracy, 100.0)

	// A completion claim with the same flawed transcript is rejected.
	_, err := st.try(Command{Type: CmdTypingCompletion, UserID: "alice", TypedText: "the quikc brown "})
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestTypingCompletionClaimVerified(t *testing.T) {
	st := activeTyping(t, []string{"the", "quick", "brown"})

	// The claim carries the final transcript; the server rescores it.
	events := st.step(Command{Type: CmdTypingCompletion, UserID: "alice", TypedText: "the quick brown "})
	require.True(t, hasEvent(events, EvtDuelCompleted))
	assert.Equal(t, ReasonCompletion, st.s.Reason)
	assert.Equal(t, "alice", st.s.WinnerID)
}

func TestFirstWriterWinsOnRacingCompletions(t *testing.T) {
	st := activeTyping(t, []string{"go"})

	st.step(Command{Type: CmdTypingProgress, UserID: "alice", TypedText: "go "})
	require.Equal(t, StatusCompleted, st.s.Status)
	require.Equal(t, "alice", st.s.WinnerID)

	// Bob's qualifying event arrives one receipt slot later and loses,
	// regardless of any client-side timestamps.
	_, err := st.try(Command{Type: CmdTypingProgress, UserID: "bob", TypedText: "go "})
	require.ErrorIs(t, err, ErrInvalidState)
	require.Equal(t, "alice", st.s.WinnerID)
	require.Equal(t, ReasonCorrectSubmission, st.s.Reason)
}

func TestRestartTypingResetsProgress(t *testing.T) {
	st := activeTyping(t, []string{"the", "quick", "brown"})

	st.step(Command{Type: CmdTypingProgress, UserID: "alice", TypedText: "the quick "})
	require.Equal(t, 2, st.s.Participants[0].Typing.CurrentWordIndex)

	events := st.step(Command{Type: CmdRestartTyping, UserID: "alice"})
	require.True(t, hasEvent(events, EvtTypingRestarted))
	assert.Equal(t, TypingProgress{}, st.s.Participants[0].Typing)
}

func TestCodeResultCompletesOnFullPass(t *testing.T) {
	st := activeCoding(t, 10)

	st.step(Command{Type: CmdCodeResult, UserID: "bob", Result: CodeResult{Passed: 7, Total: 10}})
	require.Equal(t, StatusActive, st.s.Status)

	events := st.step(Command{Type: CmdCodeResult, UserID: "alice", Result: CodeResult{Passed: 10, Total: 10}})
	require.True(t, hasEvent(events, EvtDuelCompleted))
	assert.Equal(t, ReasonCorrectSubmission, st.s.Reason)
	assert.Equal(t, "alice", st.s.WinnerID)
}

func TestDeadlineResolvesBestScore(t *testing.T) {
	st := activeTyping(t, []string{"one", "two", "three", "four", "five"})

	st.step(Command{Type: CmdTypingProgress, UserID: "alice", TypedText: "one two three "})
	st.step(Command{Type: CmdTypingProgress, UserID: "bob", TypedText: "one two "})

	events := st.step(Command{Type: CmdDeadlineElapsed})
	require.True(t, hasEvent(events, EvtDuelCompleted))
	require.Equal(t, StatusCompleted, st.s.Status)
	assert.Equal(t, ReasonBestScore, st.s.Reason)
	assert.Equal(t, "alice", st.s.WinnerID)
	assert.False(t, st.s.Draw)
}

func TestDeadlineEqualScoresDeclareDraw(t *testing.T) {
	st := activeTyping(t, []string{"one", "two", "three"})

	st.step(Command{Type: CmdTypingProgress, UserID: "alice", TypedText: "one "})
	st.step(Command{Type: CmdTypingProgress, UserID: "bob", TypedText: "one "})

	st.step(Command{Type: CmdDeadlineElapsed})
	assert.True(t, st.s.Draw)
	assert.Empty(t, st.s.WinnerID)

	// The deadline never resolves twice.
	_, err := st.try(Command{Type: CmdDeadlineElapsed})
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestCodingBestScoreComparesTestsPassed(t *testing.T) {
	st := activeCoding(t, 10)

	st.step(Command{Type: CmdCodeResult, UserID: "alice", Result: CodeResult{Passed: 6, Total: 10}})
	st.step(Command{Type: CmdCodeResult, UserID: "bob", Result: CodeResult{Passed: 4, Total: 10}})

	st.step(Command{Type: CmdDeadlineElapsed})
	assert.Equal(t, ReasonBestScore, st.s.Reason)
	assert.Equal(t, "alice", st.s.WinnerID)
}

func TestVirtualStartSkipsHandshake(t *testing.T) {
	st := newStepper(t, NewState("SOLO01", DuelTyping, Content{Words: []string{"go", "far"}}, testRules))
	st.step(Command{Type: CmdJoin, UserID: "alice"})

	events := st.step(Command{Type: CmdVirtualStart, UserID: "alice"})
	require.True(t, hasEvent(events, EvtDuelStarted))
	require.Equal(t, StatusActive, st.s.Status)

	// The clock ran out with partial progress: the solo participant
	// still gets credit for a scored run.
	st.step(Command{Type: CmdTypingProgress, UserID: "alice", TypedText: "go "})
	st.step(Command{Type: CmdDeadlineElapsed})
	assert.Equal(t, ReasonBestScore, st.s.Reason)
	assert.Equal(t, "alice", st.s.WinnerID)
}

func TestVirtualStartRequiresParticipant(t *testing.T) {
	st := newStepper(t, NewState("SOLO02", DuelTyping, Content{Words: []string{"go"}}, testRules))
	_, err := st.try(Command{Type: CmdVirtualStart, UserID: "nobody"})
	require.ErrorIs(t, err, ErrUnknownParticipant)
}

func TestViolationsRecordedOnlyWhileActive(t *testing.T) {
	st := waitingTyping(t, []string{"go"})

	v := anticheat.Violation{Type: anticheat.TabSwitch, At: t0}
	events, err := st.try(Command{Type: CmdRecordViolation, UserID: "alice", Violation: v})
	require.NoError(t, err, "late or early violations are dropped, not errors")
	require.Empty(t, events)
	require.Empty(t, st.s.Participants[0].Violations)

	st.step(Command{Type: CmdSetReady, UserID: "alice", Ready: true})
	st.step(Command{Type: CmdSetReady, UserID: "bob", Ready: true})
	st.step(Command{Type: CmdCountdownElapsed})

	events = st.step(Command{Type: CmdRecordViolation, UserID: "alice", Violation: v})
	require.True(t, hasEvent(events, EvtViolationRecorded))
	require.Len(t, st.s.Participants[0].Violations, 1)
}

func TestFocusLossUnderGraceIsDropped(t *testing.T) {
	st := activeTyping(t, []string{"go"})

	short := anticheat.Violation{Type: anticheat.FocusLost, At: t0, BlurFor: time.Second}
	events, err := st.try(Command{Type: CmdRecordViolation, UserID: "alice", Violation: short})
	require.NoError(t, err)
	require.Empty(t, events)

	long := anticheat.Violation{Type: anticheat.FocusLost, At: t0, BlurFor: 5 * time.Second}
	events = st.step(Command{Type: CmdRecordViolation, UserID: "alice", Violation: long})
	require.True(t, hasEvent(events, EvtViolationRecorded))
}

func TestViolationsAreAppendOnlyAcrossCopies(t *testing.T) {
	st := activeTyping(t, []string{"go"})

	v1 := anticheat.Violation{Type: anticheat.TabSwitch, At: t0}
	st.step(Command{Type: CmdRecordViolation, UserID: "alice", Violation: v1})
	before := st.s.Participants[0].Violations

	v2 := anticheat.Violation{Type: anticheat.DevToolsAttempt, At: t0.Add(time.Second)}
	st.step(Command{Type: CmdRecordViolation, UserID: "alice", Violation: v2})

	// The earlier snapshot still sees exactly one violation.
	require.Len(t, before, 1)
	require.Len(t, st.s.Participants[0].Violations, 2)
	assert.Equal(t, anticheat.TabSwitch, st.s.Participants[0].Violations[0].Type)
}

func TestUnknownParticipantAndWrongState(t *testing.T) {
	st := activeTyping(t, []string{"go"})

	_, err := st.try(Command{Type: CmdTypingProgress, UserID: "mallory", TypedText: "go "})
	require.ErrorIs(t, err, ErrUnknownParticipant)

	_, err = st.try(Command{Type: CmdCodeResult, UserID: "alice", Result: CodeResult{Passed: 1, Total: 1}})
	require.ErrorIs(t, err, ErrInvalidState, "code results make no sense in a typing duel")

	_, err = st.try(Command{Type: "Bogus"})
	require.ErrorIs(t, err, ErrUnsupportedCommand)
}

func TestCompletedSessionIsImmutable(t *testing.T) {
	st := activeTyping(t, []string{"go"})
	st.step(Command{Type: CmdTypingProgress, UserID: "alice", TypedText: "go "})
	require.Equal(t, StatusCompleted, st.s.Status)

	_, err := st.try(Command{Type: CmdTypingProgress, UserID: "bob", TypedText: "go "})
	require.ErrorIs(t, err, ErrInvalidState)
	_, err = st.try(Command{Type: CmdRestartTyping, UserID: "bob"})
	require.ErrorIs(t, err, ErrInvalidState)

	// Violations after completion are silently dropped.
	events, err := st.try(Command{Type: CmdRecordViolation, UserID: "bob",
		Violation: anticheat.Violation{Type: anticheat.TabSwitch, At: t0}})
	require.NoError(t, err)
	require.Empty(t, events)
}
