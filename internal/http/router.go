package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/yungbote/kanda-backend/internal/http/handlers"
	httpMW "github.com/yungbote/kanda-backend/internal/http/middleware"
	"github.com/yungbote/kanda-backend/internal/observability"
	"github.com/yungbote/kanda-backend/internal/pkg/logger"
)

const sseStreamRoute = "/api/sse/stream"

type RouterConfig struct {
	Log         *logger.Logger
	Metrics     *observability.Metrics
	ServiceName string
	CORSOrigins []string

	AuthHandler       *httpH.AuthHandler
	AuthMiddleware    *httpMW.AuthMiddleware
	UserHandler       *httpH.UserHandler
	CharacterHandler  *httpH.CharacterHandler
	StoryHandler      *httpH.StoryHandler
	StatisticsHandler *httpH.StatisticsHandler
	JobHandler        *httpH.JobHandler
	RealtimeHandler   *httpH.RealtimeHandler
	HealthHandler     *httpH.HealthHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.ServiceName != "" {
		r.Use(otelgin.Middleware(cfg.ServiceName))
	}
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.Metrics(cfg.Metrics, sseStreamRoute))
	r.Use(httpMW.CORS(cfg.CORSOrigins...))

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
	}
	if cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapF(cfg.Metrics.WriteHTTP))
	}

	api := r.Group("/api")
	{
		// Auth (public)
		if cfg.AuthHandler != nil {
			api.POST("/register", cfg.AuthHandler.Register)
			api.POST("/login", cfg.AuthHandler.Login)
			api.GET("/activate/:token", cfg.AuthHandler.Activate)
			api.POST("/resend-activation", cfg.AuthHandler.ResendActivation)
		}
	}

	protected := api.Group("/")
	{
		if cfg.AuthMiddleware != nil {
			protected.Use(cfg.AuthMiddleware.RequireAuth())
		}

		// Auth (protected)
		if cfg.AuthHandler != nil {
			protected.POST("/logout", cfg.AuthHandler.Logout)
		}

		// User (Me)
		if cfg.UserHandler != nil {
			protected.GET("/me", cfg.UserHandler.GetMe)
		}

		// Realtime (SSE)
		if cfg.RealtimeHandler != nil {
			protected.GET("/sse/stream", cfg.RealtimeHandler.SSEStream)
		}

		// Characters
		if cfg.CharacterHandler != nil {
			protected.GET("/characters", cfg.CharacterHandler.List)
			protected.POST("/characters", cfg.CharacterHandler.Create)
			protected.GET("/characters/:id", cfg.CharacterHandler.Get)
			protected.PUT("/characters/:id", cfg.CharacterHandler.Update)
			protected.DELETE("/characters/:id", cfg.CharacterHandler.Delete)
			protected.GET("/characters/:id/status", cfg.CharacterHandler.Status)
			protected.POST("/characters/:id/retry", cfg.CharacterHandler.Retry)
			protected.GET("/characters/:id/export", cfg.CharacterHandler.Export)
			protected.GET("/characters/:id/export/:format", cfg.CharacterHandler.Export)
		}

		// Job
		if cfg.JobHandler != nil {
			protected.GET("/characters/:id/job", cfg.JobHandler.LatestForCharacter)
		}

		// Universes, rooms and stories
		if cfg.StoryHandler != nil {
			protected.GET("/universes", cfg.StoryHandler.ListUniverses)
			protected.POST("/universes", cfg.StoryHandler.CreateUniverse)
			protected.GET("/universes/:id", cfg.StoryHandler.GetUniverse)
			protected.PUT("/universes/:id", cfg.StoryHandler.UpdateUniverse)
			protected.DELETE("/universes/:id", cfg.StoryHandler.DeleteUniverse)

			protected.GET("/rooms", cfg.StoryHandler.ListRooms)
			protected.POST("/rooms", cfg.StoryHandler.CreateRoom)
			protected.GET("/rooms/mine", cfg.StoryHandler.MyRooms)
			protected.GET("/rooms/joined", cfg.StoryHandler.JoinedRooms)
			protected.POST("/rooms/join-code", cfg.StoryHandler.JoinWithCode)
			protected.GET("/rooms/:id", cfg.StoryHandler.GetRoom)
			protected.GET("/rooms/:id/participants", cfg.StoryHandler.ListParticipants)
			protected.POST("/rooms/:id/join", cfg.StoryHandler.JoinRoom)
			protected.POST("/rooms/:id/leave", cfg.StoryHandler.LeaveRoom)
			protected.POST("/rooms/:id/start", cfg.StoryHandler.StartGame)
			protected.POST("/rooms/:id/actions", cfg.StoryHandler.SubmitAction)
			protected.POST("/rooms/:id/narrative", cfg.StoryHandler.GenerateNarrative)
			protected.GET("/rooms/:id/story", cfg.StoryHandler.GetRoomStory)
			protected.PATCH("/participants/:id", cfg.StoryHandler.UpdateParticipant)

			protected.GET("/stories/:id", cfg.StoryHandler.GetStory)
			protected.GET("/stories/:id/chapters", cfg.StoryHandler.ListChapters)
			protected.GET("/chapters/:id", cfg.StoryHandler.GetChapter)
			protected.GET("/chapters/:id/actions", cfg.StoryHandler.ListActions)
		}

		// Statistics
		if cfg.StatisticsHandler != nil {
			protected.GET("/statistics/user", cfg.StatisticsHandler.User)
		}
	}

	staff := protected.Group("/")
	{
		if cfg.AuthMiddleware != nil {
			staff.Use(cfg.AuthMiddleware.RequireStaff())
		}
		if cfg.StatisticsHandler != nil {
			staff.GET("/statistics/admin", cfg.StatisticsHandler.Admin)
		}
		if cfg.HealthHandler != nil {
			staff.GET("/system/health", cfg.HealthHandler.SystemHealth)
		}
	}

	return r
}
