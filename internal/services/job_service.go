package services

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/kanda-backend/internal/data/repos"
	types "github.com/yungbote/kanda-backend/internal/domain"
	jobsdomain "github.com/yungbote/kanda-backend/internal/domain/jobs"
	"github.com/yungbote/kanda-backend/internal/pkg/ctxutil"
	"github.com/yungbote/kanda-backend/internal/pkg/dbctx"
	"github.com/yungbote/kanda-backend/internal/pkg/logger"
)

// Reasons recorded on character enrichment jobs.
const (
	EnrichReasonCreated    = "created"
	EnrichReasonRegenerate = "regenerate"
	EnrichReasonRetry      = "retry"
)

type JobService interface {
	Enqueue(dbc dbctx.Context, ownerUserID uuid.UUID, jobType string, entityType string, entityID *uuid.UUID, payload map[string]any) (*types.JobRun, error)
	// EnqueueCharacterEnrichment queues one enrichment run for a character.
	// An already queued run is reused unless reason is a retry; runs waiting
	// out a retry delay are canceled so the new run starts with a full budget.
	EnqueueCharacterEnrichment(dbc dbctx.Context, ownerUserID uuid.UUID, characterID uuid.UUID, reason string) (*types.JobRun, bool, error)
	CancelForCharacter(dbc dbctx.Context, characterID uuid.UUID, reason string) (int64, error)
	GetLatestForCharacter(dbc dbctx.Context, ownerUserID uuid.UUID, characterID uuid.UUID) (*types.JobRun, error)
	QueueDepth(dbc dbctx.Context) (map[string]int64, error)
}

type jobService struct {
	db     *gorm.DB
	log    *logger.Logger
	repo   repos.JobRunRepo
	notify JobNotifier
}

func NewJobService(db *gorm.DB, baseLog *logger.Logger, repo repos.JobRunRepo, notify JobNotifier) JobService {
	if notify == nil {
		notify = NopJobNotifier{}
	}
	return &jobService{
		db:     db,
		log:    baseLog.With("service", "JobService"),
		repo:   repo,
		notify: notify,
	}
}

func (s *jobService) Enqueue(dbc dbctx.Context, ownerUserID uuid.UUID, jobType string, entityType string, entityID *uuid.UUID, payload map[string]any) (*types.JobRun, error) {
	if ownerUserID == uuid.Nil {
		return nil, fmt.Errorf("missing owner_user_id")
	}
	if jobType == "" {
		return nil, fmt.Errorf("missing job_type")
	}
	if payload == nil {
		payload = map[string]any{}
	}
	if td := ctxutil.GetTraceData(dbc.Ctx); td != nil {
		if td.TraceID != "" {
			if _, ok := payload["trace_id"]; !ok {
				payload["trace_id"] = td.TraceID
			}
		}
		if td.RequestID != "" {
			if _, ok := payload["request_id"]; !ok {
				payload["request_id"] = td.RequestID
			}
		}
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	now := time.Now().UTC()
	job := &types.JobRun{
		ID:          uuid.New(),
		OwnerUserID: ownerUserID,
		JobType:     jobType,
		EntityType:  entityType,
		EntityID:    entityID,
		Status:      jobsdomain.StatusQueued,
		Stage:       "queued",
		Message:     "Queued",
		Payload:     datatypes.JSON(b),
		Result:      datatypes.JSON([]byte(`{}`)),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if _, err := s.repo.Create(dbc, []*types.JobRun{job}); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	s.notify.JobCreated(ownerUserID, job)
	return job, nil
}

func (s *jobService) EnqueueCharacterEnrichment(dbc dbctx.Context, ownerUserID uuid.UUID, characterID uuid.UUID, reason string) (*types.JobRun, bool, error) {
	if characterID == uuid.Nil {
		return nil, false, fmt.Errorf("missing character id")
	}
	if reason != EnrichReasonRetry {
		existing, err := s.repo.GetQueuedForEntity(dbc, jobsdomain.EntityTypeCharacter, characterID, jobsdomain.JobTypeCharacterEnrich)
		if err != nil {
			return nil, false, err
		}
		if existing != nil {
			s.log.Debug("Reusing queued enrichment job", "job_id", existing.ID, "character_id", characterID)
			return existing, true, nil
		}
	}
	canceled, err := s.repo.CancelWaitingForEntity(dbc, jobsdomain.EntityTypeCharacter, characterID, jobsdomain.JobTypeCharacterEnrich, "superseded by "+reason)
	if err != nil {
		return nil, false, err
	}
	if canceled > 0 {
		s.log.Info("Canceled waiting enrichment jobs", "character_id", characterID, "count", canceled, "reason", reason)
	}
	entityID := characterID
	job, err := s.Enqueue(dbc, ownerUserID, jobsdomain.JobTypeCharacterEnrich, jobsdomain.EntityTypeCharacter, &entityID, map[string]any{
		"character_id": characterID.String(),
		"reason":       reason,
	})
	if err != nil {
		return nil, false, err
	}
	return job, false, nil
}

func (s *jobService) CancelForCharacter(dbc dbctx.Context, characterID uuid.UUID, reason string) (int64, error) {
	return s.repo.CancelWaitingForEntity(dbc, jobsdomain.EntityTypeCharacter, characterID, jobsdomain.JobTypeCharacterEnrich, reason)
}

func (s *jobService) GetLatestForCharacter(dbc dbctx.Context, ownerUserID uuid.UUID, characterID uuid.UUID) (*types.JobRun, error) {
	return s.repo.GetLatestByEntity(dbc, ownerUserID, jobsdomain.EntityTypeCharacter, characterID, jobsdomain.JobTypeCharacterEnrich)
}

func (s *jobService) QueueDepth(dbc dbctx.Context) (map[string]int64, error) {
	return s.repo.CountByStatus(dbc)
}
