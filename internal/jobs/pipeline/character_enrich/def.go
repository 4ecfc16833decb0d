package character_enrich

import (
	"time"

	"gorm.io/gorm"

	"github.com/yungbote/kanda-backend/internal/data/graph"
	"github.com/yungbote/kanda-backend/internal/data/repos"
	jobsdomain "github.com/yungbote/kanda-backend/internal/domain/jobs"
	"github.com/yungbote/kanda-backend/internal/pkg/logger"
	"github.com/yungbote/kanda-backend/internal/platform/ai"
	"github.com/yungbote/kanda-backend/internal/platform/lock"
)

type Config struct {
	Temperature float64
	MaxTokens   int
	AITimeout   time.Duration
	// LockTTL bounds how long one attempt may hold the character. Keep it
	// above AITimeout.
	LockTTL    time.Duration
	DeferDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.Temperature <= 0 {
		c.Temperature = 0.7
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 2000
	}
	if c.AITimeout <= 0 {
		c.AITimeout = 90 * time.Second
	}
	if c.LockTTL <= c.AITimeout {
		c.LockTTL = c.AITimeout + time.Minute
	}
	if c.DeferDelay <= 0 {
		c.DeferDelay = 5 * time.Second
	}
	return c
}

type Pipeline struct {
	db         *gorm.DB
	log        *logger.Logger
	characters repos.CharacterRepo
	ai         ai.Client
	locker     lock.Locker
	graph      graph.CharacterGraph
	cfg        Config
}

// New wires the enrichment handler. graph may be nil.
func New(
	db *gorm.DB,
	baseLog *logger.Logger,
	characters repos.CharacterRepo,
	aiClient ai.Client,
	locker lock.Locker,
	characterGraph graph.CharacterGraph,
	cfg Config,
) *Pipeline {
	if locker == nil {
		locker = lock.NewMemoryLocker()
	}
	return &Pipeline{
		db:         db,
		log:        baseLog.With("job", jobsdomain.JobTypeCharacterEnrich),
		characters: characters,
		ai:         aiClient,
		locker:     locker,
		graph:      characterGraph,
		cfg:        cfg.withDefaults(),
	}
}

func (p *Pipeline) Type() string { return jobsdomain.JobTypeCharacterEnrich }
