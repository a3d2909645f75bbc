// Package hub is the session registry: one actor goroutine owning the
// room-code namespace. Allocation and destruction are serialized through
// the loop, so two concurrent creates can never mint the same code and a
// destroyed code is immediately safe to reuse.
package hub

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/skillversus/duel-backend/internal/content"
	"github.com/skillversus/duel-backend/internal/engine"
	"github.com/skillversus/duel-backend/internal/session"
)

var ErrSessionNotFound = errors.New("session not found")
var ErrCapacityExceeded = errors.New("session capacity exceeded")

const codeLen = 6
const codeCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

type HubMsg interface{ isHubMsg() }

type CreateSession struct {
	Type      engine.DuelType
	TimeLimit time.Duration
	Reply     chan CreateReply
}

type CreateReply struct {
	Code    string
	Session *session.Session
	Err     error
}

type GetSession struct {
	Code  string
	Reply chan *session.Session
}

type RemoveSession struct {
	Code string
}

type ShutdownHub struct{}

func (CreateSession) isHubMsg() {}
func (GetSession) isHubMsg()    {}
func (RemoveSession) isHubMsg() {}
func (ShutdownHub) isHubMsg()   {}

type Options struct {
	Logger      *zap.Logger
	Content     content.Source
	Sinks       []session.ResultSink
	MaxSessions int
	// Defaults applied to every session's rules.
	DefaultTimeLimit time.Duration
	ReadyCountdown   time.Duration
	FocusGrace       time.Duration
	IdleTimeout      time.Duration
	ResultLinger     time.Duration
	Clock            func() time.Time
}

type Hub struct {
	inbox    chan HubMsg
	sessions map[string]*session.Session
	opts     Options
	logger   *zap.Logger
	ctx      context.Context
	cancel   context.CancelFunc
}

func NewHub(parent context.Context, opts Options) *Hub {
	ctx, cancel := context.WithCancel(parent)
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Content == nil {
		opts.Content = content.Static{}
	}
	h := &Hub{
		inbox:    make(chan HubMsg, 64),
		sessions: make(map[string]*session.Session),
		opts:     opts,
		logger:   opts.Logger,
		ctx:      ctx,
		cancel:   cancel,
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

// NormalizeCode maps caller input to the canonical room-code form. Codes
// are matched case-insensitively but stored uppercase.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func (h *Hub) loop() {
	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case CreateSession:
				msg.Reply <- h.create(msg)

			case GetSession:
				msg.Reply <- h.sessions[NormalizeCode(msg.Code)]

			case RemoveSession:
				code := NormalizeCode(msg.Code)
				if _, ok := h.sessions[code]; ok {
					delete(h.sessions, code)
					h.logger.Info("session removed", zap.String("room", code))
				}

			case ShutdownHub:
				h.shutdown()
				return
			}
		}
	}
}

func (h *Hub) create(msg CreateSession) CreateReply {
	if h.opts.MaxSessions > 0 && len(h.sessions) >= h.opts.MaxSessions {
		return CreateReply{Err: ErrCapacityExceeded}
	}

	code, err := h.freeCode()
	if err != nil {
		return CreateReply{Err: err}
	}

	rules := engine.Rules{
		TimeLimit:      msg.TimeLimit,
		ReadyCountdown: h.opts.ReadyCountdown,
		FocusGrace:     h.opts.FocusGrace,
	}
	if rules.TimeLimit <= 0 {
		rules.TimeLimit = h.opts.DefaultTimeLimit
	}

	var c engine.Content
	switch msg.Type {
	case engine.DuelCoding:
		c = engine.Content{Problem: h.opts.Content.Coding()}
	default:
		c = engine.Content{Words: h.opts.Content.Typing()}
	}

	st := engine.NewState(code, msg.Type, c, rules)
	sess := session.New(h.ctx, st, session.Options{
		Logger:       h.logger,
		Sinks:        h.opts.Sinks,
		OnExpire:     h.scheduleRemove,
		IdleTimeout:  h.opts.IdleTimeout,
		ResultLinger: h.opts.ResultLinger,
		Clock:        h.opts.Clock,
	})
	h.sessions[code] = sess
	h.logger.Info("session created",
		zap.String("room", code),
		zap.String("duel_type", string(msg.Type)))
	return CreateReply{Code: code, Session: sess}
}

// freeCode draws codes until one misses the live set. The loop owns the
// map, so the check-and-claim is atomic.
func (h *Hub) freeCode() (string, error) {
	for {
		code, err := generateCode()
		if err != nil {
			return "", err
		}
		if _, taken := h.sessions[code]; !taken {
			return code, nil
		}
		h.logger.Debug("room code collision, regenerating", zap.String("room", code))
	}
}

func generateCode() (string, error) {
	code := make([]byte, codeLen)
	for i := range code {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(codeCharset))))
		if err != nil {
			return "", err
		}
		code[i] = codeCharset[n.Int64()]
	}
	return string(code), nil
}

// scheduleRemove is handed to sessions as their expiry callback. It runs
// on the session goroutine, so removal goes through the inbox.
func (h *Hub) scheduleRemove(code string) {
	select {
	case h.inbox <- RemoveSession{Code: code}:
	case <-h.ctx.Done():
	}
}

func (h *Hub) shutdown() {
	for _, sess := range h.sessions {
		sess.Inbox() <- session.Shutdown{}
	}
	clear(h.sessions)
	h.cancel()
}
