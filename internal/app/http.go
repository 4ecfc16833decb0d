package app

import (
	"gorm.io/gorm"

	"github.com/yungbote/kanda-backend/internal/http"
	httpH "github.com/yungbote/kanda-backend/internal/http/handlers"
	httpMW "github.com/yungbote/kanda-backend/internal/http/middleware"
	"github.com/yungbote/kanda-backend/internal/observability"
	"github.com/yungbote/kanda-backend/internal/pkg/logger"
	"github.com/yungbote/kanda-backend/internal/realtime"
)

type Handlers struct {
	Health     *httpH.HealthHandler
	Auth       *httpH.AuthHandler
	User       *httpH.UserHandler
	Character  *httpH.CharacterHandler
	Story      *httpH.StoryHandler
	Statistics *httpH.StatisticsHandler
	Job        *httpH.JobHandler
	Realtime   *httpH.RealtimeHandler
}

func wireHandlers(db *gorm.DB, log *logger.Logger, reposet Repos, clients Clients, svc Services, hub *realtime.SSEHub) Handlers {
	log.Info("Wiring handlers...")
	return Handlers{
		Health:     httpH.NewHealthHandler(db, clients.Redis, clients.AI.Provider(), reposet.Characters, svc.JobService),
		Auth:       httpH.NewAuthHandler(svc.Auth),
		User:       httpH.NewUserHandler(svc.Auth),
		Character:  httpH.NewCharacterHandler(svc.Characters),
		Story:      httpH.NewStoryHandler(svc.Storytelling),
		Statistics: httpH.NewStatisticsHandler(svc.Characters),
		Job:        httpH.NewJobHandler(svc.JobService, svc.Characters),
		Realtime:   httpH.NewRealtimeHandler(log, hub),
	}
}

func wireServer(log *logger.Logger, cfg Config, metrics *observability.Metrics, handlers Handlers, svc Services) *http.Server {
	serviceName := ""
	if cfg.OtelEnabled {
		serviceName = cfg.OtelServiceName
	}
	return http.NewServer(http.RouterConfig{
		Log:               log,
		Metrics:           metrics,
		ServiceName:       serviceName,
		CORSOrigins:       []string{cfg.FrontendURL},
		AuthHandler:       handlers.Auth,
		AuthMiddleware:    httpMW.NewAuthMiddleware(log, svc.Auth),
		UserHandler:       handlers.User,
		CharacterHandler:  handlers.Character,
		StoryHandler:      handlers.Story,
		StatisticsHandler: handlers.Statistics,
		JobHandler:        handlers.Job,
		RealtimeHandler:   handlers.Realtime,
		HealthHandler:     handlers.Health,
	})
}
