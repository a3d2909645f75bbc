package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/skillversus/duel-backend/internal/hub"
	"github.com/skillversus/duel-backend/internal/judge"
	"github.com/skillversus/duel-backend/internal/leaderboard"
	"github.com/skillversus/duel-backend/internal/storage"
	"github.com/skillversus/duel-backend/internal/ws"
)

func SetupRoutes(h *hub.Hub, board *leaderboard.Board, repo *storage.Repo, jd judge.Judge, logger *zap.Logger) http.Handler {
	hd := NewHandlers(h, board, repo, logger)

	r := chi.NewRouter()
	r.Use(cors.AllowAll().Handler)

	r.Post("/duels", hd.CreateDuel)
	r.Get("/duels/{code}", hd.GetDuel)
	r.Post("/duels/{code}/ack", hd.AckDuel)
	r.Get("/leaderboard", hd.Leaderboard)
	r.Get("/results", hd.RecentResults)
	r.Get("/healthz", hd.Healthz)
	r.Get("/ws", ws.Handler(h, jd, logger))
	return r
}
