package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/skillversus/duel-backend/internal/anticheat"
	"github.com/skillversus/duel-backend/internal/engine"
	"github.com/skillversus/duel-backend/internal/hub"
	"github.com/skillversus/duel-backend/internal/judge"
	"github.com/skillversus/duel-backend/internal/session"
	"github.com/skillversus/duel-backend/internal/types"
)

const writeTimeout = 3 * time.Second
const readTimeout = 60 * time.Second

// Handler upgrades a duel connection. The room code comes from ?code= and
// the participant identity from ?user= (a guest id is minted when absent —
// real identity belongs to the external auth provider).
func Handler(h *hub.Hub, jd judge.Judge, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code := hub.NormalizeCode(r.URL.Query().Get("code"))
		if code == "" {
			http.Error(w, "missing code", http.StatusBadRequest)
			return
		}
		userID := r.URL.Query().Get("user")
		if userID == "" {
			userID = "guest-" + uuid.NewString()
		}

		reply := make(chan *session.Session, 1)
		h.Inbox() <- hub.GetSession{Code: code, Reply: reply}
		sess := <-reply
		if sess == nil {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		c := &client{
			sess:   sess,
			conn:   conn,
			judge:  jd,
			userID: userID,
			connID: uuid.NewString(),
			send:   make(chan types.ServerMessage, 16),
			logger: logger.With(zap.String("room", code), zap.String("user", userID)),
		}
		c.run(r.Context())
	}
}

type client struct {
	sess   *session.Session
	conn   *websocket.Conn
	judge  judge.Judge
	userID string
	connID string
	send   chan types.ServerMessage
	logger *zap.Logger
}

func (c *client) run(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	out := make(chan session.Snapshot, 8)
	c.sess.Inbox() <- session.Join{ClientID: c.connID, Outbox: out}
	defer func() {
		c.trySend(session.FromClient{Cmd: engine.Command{Type: engine.CmdDisconnect, UserID: c.userID}})
		c.trySend(session.Leave{ClientID: c.connID})
	}()

	// Claim a participant slot; reconnects resolve to the existing one.
	if err := c.command(ctx, engine.Command{Type: engine.CmdJoin, UserID: c.userID}); err != nil {
		c.writeNow(ctx, errorMessage(err))
		return
	}

	// Snapshot bridge: the session closes out when it dies, which ends
	// this connection too.
	go func() {
		for snap := range out {
			c.push(ctx, snapshotMessage(snap))
		}
		cancel()
	}()

	// Single writer goroutine owns the wire.
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-c.send:
				c.writeNow(ctx, msg)
			}
		}
	}()

	c.readLoop(ctx)
}

func (c *client) readLoop(ctx context.Context) {
	for {
		readCtx, cancel := context.WithTimeout(ctx, readTimeout)
		_, data, err := c.conn.Read(readCtx)
		cancel()
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return
			}
			return
		}

		var cm types.ClientMessage
		if err := json.Unmarshal(data, &cm); err != nil {
			c.push(ctx, types.ServerMessage{
				Type:  types.MsgError,
				Error: &types.ErrorBody{Code: "BAD_PAYLOAD", Message: "malformed message"},
			})
			continue
		}
		c.dispatch(ctx, cm)
	}
}

func (c *client) dispatch(ctx context.Context, cm types.ClientMessage) {
	switch cm.Type {
	case types.MsgToggleReady:
		c.reportErr(ctx, c.command(ctx, engine.Command{Type: engine.CmdSetReady, UserID: c.userID, Ready: cm.Ready}))

	case types.MsgTypingProgress:
		c.reportErr(ctx, c.command(ctx, engine.Command{Type: engine.CmdTypingProgress, UserID: c.userID, TypedText: cm.TypedText}))

	case types.MsgTypingCompletion:
		c.reportErr(ctx, c.command(ctx, engine.Command{Type: engine.CmdTypingCompletion, UserID: c.userID, TypedText: cm.TypedText}))

	case types.MsgRestartTyping:
		c.reportErr(ctx, c.command(ctx, engine.Command{Type: engine.CmdRestartTyping, UserID: c.userID}))

	case types.MsgCodeSubmission:
		c.submitCode(ctx, cm)

	case types.MsgViolation:
		c.reportErr(ctx, c.command(ctx, engine.Command{
			Type:   engine.CmdRecordViolation,
			UserID: c.userID,
			Violation: anticheat.Violation{
				Type:    anticheat.ViolationType(cm.ViolationType),
				Message: cm.Message,
				At:      cm.Timestamp,
				BlurFor: time.Duration(cm.BlurMs) * time.Millisecond,
			},
		}))

	case types.MsgStartVirtual:
		c.reportErr(ctx, c.command(ctx, engine.Command{Type: engine.CmdVirtualStart, UserID: c.userID}))

	case types.MsgAckResult:
		c.trySend(session.AckResult{UserID: c.userID})

	default:
		c.push(ctx, types.ServerMessage{
			Type:  types.MsgError,
			Error: &types.ErrorBody{Code: "UNKNOWN_TYPE", Message: "unknown message type: " + cm.Type},
		})
	}
}

// submitCode ships the code to the external judge and feeds the verdict
// back into the session without holding up the read loop.
func (c *client) submitCode(ctx context.Context, cm types.ClientMessage) {
	reply := make(chan session.View, 1)
	c.sess.Inbox() <- session.GetState{Reply: reply}
	var view session.View
	select {
	case view = <-reply:
	case <-ctx.Done():
		return
	}

	go func() {
		judgeCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
		defer cancel()
		result, err := c.judge.Evaluate(judgeCtx, view.State.Content.Problem, cm.Code, cm.Language)
		if err != nil {
			c.logger.Warn("judge evaluation failed", zap.Error(err))
			c.push(ctx, types.ServerMessage{
				Type:  types.MsgError,
				Error: &types.ErrorBody{Code: "JUDGE_UNAVAILABLE", Message: "submission could not be judged"},
			})
			return
		}
		c.reportErr(ctx, c.command(ctx, engine.Command{Type: engine.CmdCodeResult, UserID: c.userID, Result: result}))
	}()
}

// command sends one engine command and waits for its apply verdict. A
// session that dies mid-flight cancels ctx (via the snapshot bridge), so
// this never blocks on a loop that stopped draining.
func (c *client) command(ctx context.Context, cmd engine.Command) error {
	reply := make(chan error, 1)
	select {
	case c.sess.Inbox() <- session.FromClient{Cmd: cmd, Reply: reply}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *client) reportErr(ctx context.Context, err error) {
	if err == nil {
		return
	}
	c.push(ctx, errorMessage(err))
}

func (c *client) push(ctx context.Context, msg types.ServerMessage) {
	select {
	case c.send <- msg:
	case <-ctx.Done():
	}
}

// trySend never blocks: a dead session no longer drains its inbox.
func (c *client) trySend(m session.Msg) {
	select {
	case c.sess.Inbox() <- m:
	default:
	}
}

func (c *client) writeNow(ctx context.Context, msg types.ServerMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_ = c.conn.Write(writeCtx, websocket.MessageText, payload)
}

func snapshotMessage(snap session.Snapshot) types.ServerMessage {
	events := make([]string, len(snap.Events))
	for i, ev := range snap.Events {
		events[i] = string(ev.Type)
	}
	state := snap.State
	return types.ServerMessage{
		Type:    types.MsgSnapshot,
		Version: snap.Version,
		State:   &state,
		Events:  events,
	}
}

func errorMessage(err error) types.ServerMessage {
	return types.ServerMessage{
		Type:  types.MsgError,
		Error: &types.ErrorBody{Code: errorCode(err), Message: err.Error()},
	}
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, engine.ErrSessionFull):
		return "SESSION_FULL"
	case errors.Is(err, engine.ErrUnknownParticipant):
		return "UNKNOWN_PARTICIPANT"
	case errors.Is(err, engine.ErrInvalidState):
		return "INVALID_STATE"
	case errors.Is(err, hub.ErrSessionNotFound):
		return "SESSION_NOT_FOUND"
	case errors.Is(err, hub.ErrCapacityExceeded):
		return "CAPACITY_EXCEEDED"
	default:
		return "INTERNAL"
	}
}
