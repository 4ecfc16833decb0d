package app

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/kanda-backend/internal/pkg/logger"
	"github.com/yungbote/kanda-backend/internal/platform/ai"
	"github.com/yungbote/kanda-backend/internal/platform/lock"
	"github.com/yungbote/kanda-backend/internal/platform/neo4jdb"
	"github.com/yungbote/kanda-backend/internal/platform/redisx"
	"github.com/yungbote/kanda-backend/internal/platform/sendgrid"
	"github.com/yungbote/kanda-backend/internal/platform/tokenstore"
)

type Clients struct {
	AI       ai.Client
	Redis    *goredis.Client
	Neo4j    *neo4jdb.Client
	SendGrid sendgrid.Client

	Sessions tokenstore.Store
	// MemorySessions is set when sessions live in process and need reaping.
	MemorySessions *tokenstore.MemoryStore
	Locker         lock.Locker
}

func wireClients(ctx context.Context, log *logger.Logger, cfg Config) (Clients, error) {
	log.Info("Wiring clients...")
	var out Clients

	aiClient, err := ai.New(ctx, log, ai.Config{
		Provider:      cfg.AIProvider,
		OpenAIAPIKey:  cfg.OpenAIAPIKey,
		OpenAIModel:   cfg.OpenAIModel,
		OpenAIBaseURL: cfg.OpenAIBaseURL,
		GeminiAPIKey:  cfg.GeminiAPIKey,
		GeminiModel:   cfg.GeminiModel,
		Timeout:       cfg.AITimeout,
		MaxRetries:    cfg.AIMaxRetries,
		RatePerSecond: cfg.AIRatePerSecond,
		RateBurst:     cfg.AIRateBurst,
	})
	if err != nil {
		return out, fmt.Errorf("init ai client: %w", err)
	}
	out.AI = aiClient

	rdb, err := redisx.New(ctx, redisx.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		return out, fmt.Errorf("init redis: %w", err)
	}
	out.Redis = rdb
	if rdb != nil {
		log.Info("Redis connected; sessions, locks and SSE fan-out are shared", "addr", cfg.RedisAddr)
		out.Sessions = tokenstore.NewRedisStore(rdb, "kanda:session:")
		out.Locker = lock.NewRedisLocker(rdb, "kanda:lock:")
	} else {
		log.Warn("REDIS_ADDR not set; sessions and locks are process local")
		mem := tokenstore.NewMemoryStore()
		out.Sessions = mem
		out.MemorySessions = mem
		out.Locker = lock.NewMemoryLocker()
	}

	neo, err := neo4jdb.New(neo4jdb.Config{
		URI:      cfg.Neo4jURI,
		User:     cfg.Neo4jUser,
		Password: cfg.Neo4jPassword,
		Database: cfg.Neo4jDatabase,
	}, log)
	if err != nil {
		// The relationship graph is a mirror; the API works without it.
		log.Warn("Neo4j unavailable; relationship graph disabled", "error", err)
		neo = nil
	}
	out.Neo4j = neo

	if cfg.SendGridAPIKey != "" {
		sg, err := sendgrid.New(log, sendgrid.Config{
			APIKey:           cfg.SendGridAPIKey,
			DefaultFromEmail: cfg.SendGridFromEmail,
			DefaultFromName:  cfg.SendGridFromName,
		})
		if err != nil {
			return out, fmt.Errorf("init sendgrid: %w", err)
		}
		out.SendGrid = sg
	} else {
		log.Warn("SENDGRID_API_KEY not set; activation links are logged instead of mailed")
	}
	return out, nil
}

func (c Clients) Close(ctx context.Context) {
	if c.Neo4j != nil {
		_ = c.Neo4j.Close(ctx)
	}
	if c.Redis != nil {
		_ = c.Redis.Close()
	}
}
