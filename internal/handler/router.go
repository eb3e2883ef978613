package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	agentHandler "github.com/zhouzirui/camp-guide/backend/internal/handler/agent"
	"github.com/zhouzirui/camp-guide/backend/internal/handler/catalog"
	"github.com/zhouzirui/camp-guide/backend/internal/handler/chat"
	middlewarePkg "github.com/zhouzirui/camp-guide/backend/internal/middleware"
	"github.com/zhouzirui/camp-guide/backend/internal/model/agent"
	"github.com/zhouzirui/camp-guide/backend/internal/repository/campdb"
	"github.com/zhouzirui/camp-guide/backend/pkg/utils"
)

// Deps 是路由所需的服务。Agents 与 Camps 可以为空，对应路由不注册。
type Deps struct {
	Chat        chat.Orchestrator
	AIEnabled   bool
	Camps       campdb.Repository
	Agents      agent.Store
	CORSOrigins []string
	Logger      *zap.Logger
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Deps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.AccessLog(logger))
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(deps.CORSOrigins))

	chatHandler := chat.New(deps.Chat, deps.AIEnabled, logger)

	r.Route("/api", func(api chi.Router) {
		api.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			utils.RespondJSON(w, http.StatusOK, map[string]string{
				"status": "ok",
				"time":   time.Now().UTC().Format(time.RFC3339),
			})
		})

		chatHandler.RegisterRoutes(api)

		if deps.Camps != nil {
			catalog.New(deps.Camps, logger).RegisterRoutes(api)
		}
		if deps.Agents != nil {
			agentHandler.New(deps.Agents).RegisterRoutes(api)
		}
	})

	return r
}
