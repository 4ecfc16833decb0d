package app

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/yungbote/kanda-backend/internal/data/graph"
	"github.com/yungbote/kanda-backend/internal/jobs/pipeline/character_enrich"
	jobruntime "github.com/yungbote/kanda-backend/internal/jobs/runtime"
	"github.com/yungbote/kanda-backend/internal/jobs/worker"
	"github.com/yungbote/kanda-backend/internal/pkg/logger"
	"github.com/yungbote/kanda-backend/internal/realtime"
	"github.com/yungbote/kanda-backend/internal/realtime/bus"
	"github.com/yungbote/kanda-backend/internal/services"
)

type Services struct {
	Mailer       services.Mailer
	Auth         services.AuthService
	JobNotifier  services.JobNotifier
	JobService   services.JobService
	Characters   services.CharacterService
	Storytelling services.StorytellingService

	Graph       graph.CharacterGraph
	Publisher   *realtime.Publisher
	JobRegistry *jobruntime.Registry
	JobWorker   *worker.Worker
}

func wireServices(db *gorm.DB, log *logger.Logger, cfg Config, reposet Repos, clients Clients, hub *realtime.SSEHub) (Services, error) {
	log.Info("Wiring services...")
	var out Services

	var sseBus realtime.Bus
	if clients.Redis != nil {
		b, err := bus.NewRedisBus(clients.Redis, "kanda:sse", log)
		if err != nil {
			return out, fmt.Errorf("init sse bus: %w", err)
		}
		sseBus = b
	}
	out.Publisher = realtime.NewPublisher(hub, sseBus, log)
	out.JobNotifier = services.NewJobNotifier(out.Publisher)

	out.Mailer = services.NewMailer(log, clients.SendGrid, cfg.FrontendURL, cfg.ActivationTTL)
	out.Auth = services.NewAuthService(
		db,
		log,
		reposet.Users,
		clients.Sessions,
		out.Mailer,
		cfg.JWTSecretKey,
		cfg.SessionTTL,
		cfg.ActivationTTL,
	)

	out.Graph = graph.NewCharacterGraph(clients.Neo4j, log)
	out.JobService = services.NewJobService(db, log, reposet.Jobs, out.JobNotifier)
	out.Characters = services.NewCharacterService(
		db,
		log,
		reposet.Characters,
		reposet.Users,
		out.JobService,
		out.JobNotifier,
		out.Graph,
	)
	out.Storytelling = services.NewStorytellingService(
		db,
		log,
		reposet.Universes,
		reposet.Rooms,
		reposet.Stories,
		reposet.Characters,
		clients.AI,
		clients.Locker,
		services.StorytellingConfig{
			MaxTokens: cfg.AIMaxTokens,
			AITimeout: cfg.AITimeout,
		},
	)

	out.JobRegistry = jobruntime.NewRegistry()
	enrich := character_enrich.New(db, log, reposet.Characters, clients.AI, clients.Locker, out.Graph, character_enrich.Config{
		Temperature: cfg.AITemperature,
		MaxTokens:   cfg.AIMaxTokens,
		AITimeout:   cfg.AITimeout,
	})
	if err := out.JobRegistry.Register(enrich); err != nil {
		return out, fmt.Errorf("register %s: %w", enrich.Type(), err)
	}

	out.JobWorker = worker.NewWorker(db, log, reposet.Jobs, out.JobRegistry, out.JobNotifier, worker.Config{
		Concurrency:  cfg.WorkerConcurrency,
		MaxAttempts:  cfg.EnrichMaxAttempts,
		RetryDelay:   cfg.EnrichRetryDelay,
		StaleRunning: cfg.JobStaleRunning,
	})
	return out, nil
}
