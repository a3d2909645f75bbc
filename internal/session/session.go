// Package session runs one actor goroutine per duel room. All state for a
// room is owned by its loop; client-facing calls are messages on the inbox
// and are applied in receipt order, which makes that order authoritative
// for win arbitration. Cross-room operations never contend with each other.
package session

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/skillversus/duel-backend/internal/engine"
)

type Msg interface{ isSessionMsg() }

// FromClient carries one engine command. Reply, if non-nil, receives the
// apply error (nil on success) and must be buffered.
type FromClient struct {
	Cmd   engine.Command
	Reply chan<- error
}

func (FromClient) isSessionMsg() {}

type Join struct {
	ClientID string
	Outbox   chan Snapshot // where this connection receives snapshots
}

func (Join) isSessionMsg() {}

type Leave struct{ ClientID string }

func (Leave) isSessionMsg() {}

// AckResult marks a participant as having seen the final result. Once all
// participants ack a completed session it is destroyed.
type AckResult struct{ UserID string }

func (AckResult) isSessionMsg() {}

type GetState struct {
	Reply chan View
}

func (GetState) isSessionMsg() {}

type Shutdown struct{}

func (Shutdown) isSessionMsg() {}

// Timer fires carry the generation they were armed under; stale fires are
// dropped in the loop.
type countdownFired struct{ gen int }
type deadlineFired struct{ gen int }
type idleFired struct{ gen int }
type lingerFired struct{ gen int }

func (countdownFired) isSessionMsg() {}
func (deadlineFired) isSessionMsg()  {}
func (idleFired) isSessionMsg()      {}
func (lingerFired) isSessionMsg()    {}

type Snapshot struct {
	Version int
	State   engine.State
	Events  []engine.Event
}

// View is a test-only reflection of loop internals without data races.
type View struct {
	Version    int
	NumClients int
	State      engine.State
}

// ResultSink receives a copy of the final state once, at completion.
type ResultSink interface {
	RecordResult(ctx context.Context, final engine.State) error
}

type Options struct {
	Logger *zap.Logger
	Sinks  []ResultSink
	// OnExpire is called (from the session goroutine) when the session
	// should be removed from the registry.
	OnExpire func(roomCode string)
	// IdleTimeout destroys a waiting session that never filled its
	// second slot.
	IdleTimeout time.Duration
	// ResultLinger bounds how long a completed session waits for result
	// acks before being destroyed anyway.
	ResultLinger time.Duration
	// Clock stamps command receipt times; tests may override.
	Clock func() time.Time
}

type Session struct {
	inbox   chan Msg
	state   engine.State
	version int
	seq     int64
	clients map[string]chan Snapshot
	acked   map[string]bool

	countdownGen int
	deadlineGen  int
	idleGen      int
	lingerGen    int

	opts   Options
	logger *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

func New(parent context.Context, initial engine.State, opts Options) *Session {
	ctx, cancel := context.WithCancel(parent)
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	s := &Session{
		inbox:   make(chan Msg, 64),
		state:   initial,
		clients: make(map[string]chan Snapshot),
		acked:   make(map[string]bool),
		opts:    opts,
		logger:  opts.Logger.With(zap.String("room", initial.RoomCode)),
		ctx:     ctx,
		cancel:  cancel,
	}
	if opts.IdleTimeout > 0 {
		s.idleGen++
		s.later(opts.IdleTimeout, idleFired{gen: s.idleGen})
	}
	go s.loop()
	return s
}

// Inbox exposes the message channel to the transport layer and tests.
func (s *Session) Inbox() chan<- Msg { return s.inbox }

func (s *Session) Code() string { return s.state.RoomCode }

func (s *Session) loop() {
	for {
		select {
		case <-s.ctx.Done():
			s.shutdown()
			return

		case m := <-s.inbox:
			switch msg := m.(type) {
			case Join:
				s.clients[msg.ClientID] = msg.Outbox
				msg.Outbox <- Snapshot{Version: s.version, State: s.state}

			case Leave:
				delete(s.clients, msg.ClientID)

			case FromClient:
				err := s.apply(msg.Cmd)
				if msg.Reply != nil {
					msg.Reply <- err
				}

			case AckResult:
				s.acked[msg.UserID] = true
				if s.state.Status == engine.StatusCompleted && s.allAcked() {
					s.expire()
					return
				}

			case countdownFired:
				if msg.gen != s.countdownGen {
					break
				}
				if err := s.apply(engine.Command{Type: engine.CmdCountdownElapsed}); err != nil {
					s.logger.Debug("countdown fire ignored", zap.Error(err))
				}

			case deadlineFired:
				if msg.gen != s.deadlineGen {
					break
				}
				// The deadline always fires; a completed session just
				// rejects it.
				if err := s.apply(engine.Command{Type: engine.CmdDeadlineElapsed}); err != nil {
					s.logger.Debug("deadline fire ignored", zap.Error(err))
				}

			case idleFired:
				if msg.gen != s.idleGen {
					break
				}
				if s.state.Status == engine.StatusWaiting {
					s.logger.Info("destroying idle waiting session")
					s.expire()
					return
				}

			case lingerFired:
				if msg.gen != s.lingerGen {
					break
				}
				s.expire()
				return

			case GetState:
				msg.Reply <- View{Version: s.version, NumClients: len(s.clients), State: s.state}

			case Shutdown:
				s.shutdown()
				return
			}
		}
	}
}

func (s *Session) apply(cmd engine.Command) error {
	s.seq++
	cmd.Seq = s.seq
	cmd.Now = s.opts.Clock()

	events, next, err := engine.Apply(s.state, cmd)
	if err != nil {
		return err
	}
	s.state = next
	if len(events) == 0 {
		return nil
	}
	s.version++
	s.broadcast(Snapshot{Version: s.version, State: s.state, Events: events})
	for _, ev := range events {
		s.handleEvent(ev)
	}
	return nil
}

func (s *Session) handleEvent(ev engine.Event) {
	switch ev.Type {
	case engine.EvtParticipantJoined:
		// Second join fills the room; the idle-destroy timer is done.
		if len(s.state.Participants) == 2 {
			s.idleGen++
		}

	case engine.EvtCountdownStarted:
		s.countdownGen++
		s.later(s.state.Rules.ReadyCountdown, countdownFired{gen: s.countdownGen})

	case engine.EvtCountdownCancelled:
		s.countdownGen++

	case engine.EvtDuelStarted:
		s.logger.Info("duel started", zap.Duration("time_limit", s.state.Rules.TimeLimit))
		s.deadlineGen++
		s.later(s.state.Rules.TimeLimit, deadlineFired{gen: s.deadlineGen})

	case engine.EvtDuelCompleted:
		s.logger.Info("duel completed",
			zap.String("reason", string(ev.Reason)),
			zap.String("winner", ev.WinnerID),
			zap.Bool("draw", ev.Draw))
		s.persist(s.state)
		s.lingerGen++
		linger := s.opts.ResultLinger
		if linger <= 0 {
			linger = time.Minute
		}
		s.later(linger, lingerFired{gen: s.lingerGen})
	}
}

// persist hands the final state to the sinks off the loop goroutine so a
// slow database never blocks other rooms' traffic through this one.
func (s *Session) persist(final engine.State) {
	sinks := s.opts.Sinks
	if len(sinks) == 0 {
		return
	}
	logger := s.logger
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		for _, sink := range sinks {
			if err := sink.RecordResult(ctx, final); err != nil {
				logger.Error("result sink failed", zap.Error(err))
			}
		}
	}()
}

func (s *Session) allAcked() bool {
	for i := range s.state.Participants {
		if !s.acked[s.state.Participants[i].UserID] {
			return false
		}
	}
	return len(s.state.Participants) > 0
}

func (s *Session) expire() {
	if s.opts.OnExpire != nil {
		s.opts.OnExpire(s.state.RoomCode)
	}
	s.shutdown()
}

func (s *Session) shutdown() {
	for id, ch := range s.clients {
		close(ch)
		delete(s.clients, id)
	}
	s.cancel()
}

func (s *Session) broadcast(snap Snapshot) {
	for id, ch := range s.clients {
		select {
		case ch <- snap:
		default:
			// Slow or full client: drop it rather than stall the room.
			close(ch)
			delete(s.clients, id)
		}
	}
}

// later arms a timer that posts m back onto the inbox unless the session
// is already gone.
func (s *Session) later(d time.Duration, m Msg) {
	time.AfterFunc(d, func() {
		select {
		case s.inbox <- m:
		case <-s.ctx.Done():
		}
	})
}
