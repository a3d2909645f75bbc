package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/skillversus/duel-backend/internal/engine"
	"github.com/skillversus/duel-backend/internal/hub"
	"github.com/skillversus/duel-backend/internal/leaderboard"
	"github.com/skillversus/duel-backend/internal/session"
	"github.com/skillversus/duel-backend/internal/storage"
	"github.com/skillversus/duel-backend/internal/types"
)

type Handlers struct {
	hub    *hub.Hub
	board  *leaderboard.Board // nil when redis is not configured
	repo   *storage.Repo      // nil when postgres is not configured
	logger *zap.Logger
}

func NewHandlers(h *hub.Hub, board *leaderboard.Board, repo *storage.Repo, logger *zap.Logger) *Handlers {
	return &Handlers{hub: h, board: board, repo: repo, logger: logger}
}

func (hd *Handlers) CreateDuel(w http.ResponseWriter, r *http.Request) {
	var req types.CreateDuelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request body", http.StatusBadRequest)
		return
	}

	duelType := engine.DuelType(req.DuelType)
	if duelType != engine.DuelTyping && duelType != engine.DuelCoding {
		http.Error(w, "duel_type must be typing or coding", http.StatusBadRequest)
		return
	}

	reply := make(chan hub.CreateReply, 1)
	hd.hub.Inbox() <- hub.CreateSession{
		Type:      duelType,
		TimeLimit: time.Duration(req.TimeLimitSec) * time.Second,
		Reply:     reply,
	}
	res := <-reply
	if res.Err != nil {
		if res.Err == hub.ErrCapacityExceeded {
			http.Error(w, "server at capacity", http.StatusServiceUnavailable)
			return
		}
		hd.logger.Error("create session failed", zap.Error(res.Err))
		http.Error(w, "failed to create duel", http.StatusInternalServerError)
		return
	}

	bounds := types.StalenessBounds{}
	if hd.board != nil {
		b := hd.board.Bounds()
		bounds = types.StalenessBounds{
			LeaderboardSec: int(b.Leaderboard.Seconds()),
			SubmissionsSec: int(b.Submissions.Seconds()),
			StatusSec:      int(b.Status.Seconds()),
		}
	}
	writeJSON(w, http.StatusCreated, types.CreateDuelResponse{
		RoomCode:  res.Code,
		DuelType:  string(duelType),
		Staleness: bounds,
	})
}

// GetDuel is the status-polling read: a point-in-time snapshot of the
// session state.
func (hd *Handlers) GetDuel(w http.ResponseWriter, r *http.Request) {
	sess, ok := hd.lookup(w, r)
	if !ok {
		return
	}
	reply := make(chan session.View, 1)
	sess.Inbox() <- session.GetState{Reply: reply}
	var view session.View
	select {
	case view = <-reply:
	case <-time.After(2 * time.Second):
		// The session died between lookup and read.
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, types.ServerMessage{
		Type:    types.MsgSnapshot,
		Version: view.Version,
		State:   &view.State,
	})
}

// AckDuel lets a participant acknowledge the final result; a completed
// session is destroyed once everyone acked.
func (hd *Handlers) AckDuel(w http.ResponseWriter, r *http.Request) {
	sess, ok := hd.lookup(w, r)
	if !ok {
		return
	}
	var body struct {
		UserID string `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.UserID == "" {
		http.Error(w, "user_id required", http.StatusBadRequest)
		return
	}
	sess.Inbox() <- session.AckResult{UserID: body.UserID}
	w.WriteHeader(http.StatusNoContent)
}

func (hd *Handlers) Leaderboard(w http.ResponseWriter, r *http.Request) {
	if hd.board == nil {
		http.Error(w, "leaderboard not configured", http.StatusNotImplemented)
		return
	}
	limit := 10
	if q := r.URL.Query().Get("limit"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}
	entries, err := hd.board.Top(r.Context(), limit)
	if err != nil {
		hd.logger.Error("leaderboard read failed", zap.Error(err))
		http.Error(w, "leaderboard unavailable", http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// RecentResults serves finished-duel history from Postgres.
func (hd *Handlers) RecentResults(w http.ResponseWriter, r *http.Request) {
	if hd.repo == nil {
		http.Error(w, "results store not configured", http.StatusNotImplemented)
		return
	}
	results, err := hd.repo.RecentResults(r.Context(), 20)
	if err != nil {
		hd.logger.Error("results read failed", zap.Error(err))
		http.Error(w, "results unavailable", http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (hd *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (hd *Handlers) lookup(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	code := hub.NormalizeCode(chi.URLParam(r, "code"))
	reply := make(chan *session.Session, 1)
	hd.hub.Inbox() <- hub.GetSession{Code: code, Reply: reply}
	sess := <-reply
	if sess == nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return nil, false
	}
	return sess, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
