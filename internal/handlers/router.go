package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/pburglin/EpicSagaBuilder/internal/middleware"
	"github.com/pburglin/EpicSagaBuilder/internal/services"
	"github.com/pburglin/EpicSagaBuilder/internal/session"
	"github.com/pburglin/EpicSagaBuilder/pkg/storage"
)

// Dependencies are the collaborators the API routes need. Cache and Redis
// may be nil when Redis is disabled.
type Dependencies struct {
	Store             storage.Storage
	Manager           *session.Manager
	Optimizer         Optimizer
	Cache             services.Cache
	Redis             *redis.Client
	DefaultImageStyle string
	Logger            *slog.Logger
}

// NewRouter mounts every API route.
func NewRouter(d Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(middleware.Logger(d.Logger))
	r.Use(chimw.Recoverer)

	stories := NewStoryHandler(d.Store, d.Manager, d.DefaultImageStyle, d.Logger)
	rounds := NewRoundHandler(d.Manager, d.Logger)
	karma := NewKarmaHandler(d.Store, d.Manager, d.Cache, d.Logger)

	r.Method(http.MethodGet, "/health", NewHealthHandler(d.Store, d.Cache, d.Logger))

	r.Route("/v1", func(r chi.Router) {
		r.Route("/stories", func(r chi.Router) {
			r.Get("/", stories.List)
			r.Post("/", stories.Create)

			r.Route("/{storyID}", func(r chi.Router) {
				r.Get("/", stories.Get)
				r.Get("/messages", stories.Messages)
				r.Post("/characters", stories.Join)
				r.Delete("/characters/{characterID}", stories.Leave)
				r.Post("/actions", rounds.Submit)
				r.Get("/round", rounds.Status)
				r.Post("/round/retry", rounds.Retry)
				r.Get("/progress", rounds.Progress)
				r.Post("/complete", rounds.Complete)
				r.Post("/restart", stories.Restart)
				r.Get("/export", stories.Export)
			})
		})

		r.Method(http.MethodGet, "/events/stories/{storyID}", NewEventsHandler(d.Redis, d.Logger))
		r.Method(http.MethodPost, "/optimize", NewOptimizeHandler(d.Optimizer, d.Logger))

		r.Post("/karma/votes", karma.Vote)
		r.Get("/leaderboard/stories", karma.Stories)
		r.Get("/leaderboard/users", karma.Users)
	})

	return r
}
