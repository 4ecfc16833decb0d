package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/kanda-backend/internal/data/graph"
	"github.com/yungbote/kanda-backend/internal/data/repos"
	types "github.com/yungbote/kanda-backend/internal/domain"
	"github.com/yungbote/kanda-backend/internal/domain/character"
	"github.com/yungbote/kanda-backend/internal/pkg/ctxutil"
	"github.com/yungbote/kanda-backend/internal/pkg/dbctx"
	apperrors "github.com/yungbote/kanda-backend/internal/pkg/errors"
	"github.com/yungbote/kanda-backend/internal/pkg/logger"
)

const (
	maxNameLength        = 100
	maxDescriptionLength = 5000
)

type CreateCharacterInput struct {
	Name        string
	Description string
	Tags        []string
	IsPublic    bool
}

// UpdateCharacterInput is a patch; nil fields are left alone. Regenerate is
// honored only together with a new description.
type UpdateCharacterInput struct {
	Name        *string
	Description *string
	Tags        *[]string
	IsPublic    *bool
	Regenerate  bool
}

type CharacterListFilter struct {
	Tag    string
	Status string
	Public *bool
}

type CharacterService interface {
	Create(ctx context.Context, in CreateCharacterInput) (*types.CharacterProfile, error)
	List(ctx context.Context, filter CharacterListFilter) ([]*types.CharacterProfile, error)
	Get(ctx context.Context, id uuid.UUID) (*types.CharacterProfile, error)
	Update(ctx context.Context, id uuid.UUID, in UpdateCharacterInput) (*types.CharacterProfile, bool, error)
	Delete(ctx context.Context, id uuid.UUID) error
	Status(ctx context.Context, id uuid.UUID) (*types.CharacterProfile, error)
	Retry(ctx context.Context, id uuid.UUID) (*types.CharacterProfile, error)
	Export(ctx context.Context, id uuid.UUID, format string) (*ExportFile, error)
	UserStatistics(ctx context.Context) (*UserStatistics, error)
	AdminStatistics(ctx context.Context) (*AdminStatistics, error)
}

type characterService struct {
	db         *gorm.DB
	log        *logger.Logger
	characters repos.CharacterRepo
	users      repos.UserRepo
	jobs       JobService
	notify     JobNotifier
	graph      graph.CharacterGraph
}

func NewCharacterService(
	db *gorm.DB,
	baseLog *logger.Logger,
	characters repos.CharacterRepo,
	users repos.UserRepo,
	jobs JobService,
	notify JobNotifier,
	characterGraph graph.CharacterGraph,
) CharacterService {
	if notify == nil {
		notify = NopJobNotifier{}
	}
	return &characterService{
		db:         db,
		log:        baseLog.With("service", "CharacterService"),
		characters: characters,
		users:      users,
		jobs:       jobs,
		notify:     notify,
		graph:      characterGraph,
	}
}

func caller(ctx context.Context) (*ctxutil.RequestData, error) {
	rd := ctxutil.GetRequestData(ctx)
	if rd == nil || rd.UserID == uuid.Nil {
		return nil, apperrors.ErrUnauthorized
	}
	return rd, nil
}

func cleanTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := map[string]bool{}
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

func validateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: name is required", apperrors.ErrInvalidArgument)
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("%w: name must be at most %d characters", apperrors.ErrInvalidArgument, maxNameLength)
	}
	return nil
}

func validateDescription(description string) error {
	if description == "" {
		return fmt.Errorf("%w: description is required", apperrors.ErrInvalidArgument)
	}
	if len(description) > maxDescriptionLength {
		return fmt.Errorf("%w: description must be at most %d characters", apperrors.ErrInvalidArgument, maxDescriptionLength)
	}
	return nil
}

func (s *characterService) Create(ctx context.Context, in CreateCharacterInput) (*types.CharacterProfile, error) {
	rd, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSpace(in.Name)
	description := strings.TrimSpace(in.Description)
	if err := validateName(name); err != nil {
		return nil, err
	}
	if err := validateDescription(description); err != nil {
		return nil, err
	}

	var created *types.CharacterProfile
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: tx}
		owner, err := s.users.GetByID(dbc, rd.UserID)
		if err != nil {
			return fmt.Errorf("load user: %w", err)
		}
		if owner == nil {
			return apperrors.ErrUnauthorized
		}
		count, err := s.characters.CountByOwner(dbc, rd.UserID)
		if err != nil {
			return fmt.Errorf("count characters: %w", err)
		}
		if limit := owner.CharacterLimit(); count >= int64(limit) {
			return fmt.Errorf("%w: you have reached the limit of %d characters", apperrors.ErrLimitReached, limit)
		}
		taken, err := s.characters.NameTaken(dbc, rd.UserID, name, uuid.Nil)
		if err != nil {
			return fmt.Errorf("check name: %w", err)
		}
		if taken {
			return fmt.Errorf("%w: you already have a character named %s", apperrors.ErrConflict, name)
		}

		c := character.New(rd.UserID, name, description, cleanTags(in.Tags), in.IsPublic, time.Now().UTC())
		if err := s.characters.Create(dbc, c); err != nil {
			if isDuplicateKey(err) {
				return fmt.Errorf("%w: you already have a character named %s", apperrors.ErrConflict, name)
			}
			return fmt.Errorf("create character: %w", err)
		}
		if _, _, err := s.jobs.EnqueueCharacterEnrichment(dbc, rd.UserID, c.ID, EnrichReasonCreated); err != nil {
			return fmt.Errorf("enqueue enrichment: %w", err)
		}
		created = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("character created", "character_id", created.ID.String(), "user_id", rd.UserID.String())
	return created, nil
}

func (s *characterService) List(ctx context.Context, filter CharacterListFilter) ([]*types.CharacterProfile, error) {
	rd, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	f := repos.CharacterListFilter{IsPublic: filter.Public}
	if raw := strings.TrimSpace(filter.Status); raw != "" {
		st, err := character.ParseStatus(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", apperrors.ErrInvalidArgument, err)
		}
		f.Status = st
	}
	list, err := s.characters.ListByOwner(dbctx.Context{Ctx: ctx}, rd.UserID, f)
	if err != nil {
		return nil, fmt.Errorf("list characters: %w", err)
	}
	tag := strings.TrimSpace(filter.Tag)
	if tag == "" {
		return list, nil
	}
	out := make([]*types.CharacterProfile, 0, len(list))
	for _, c := range list {
		for _, t := range c.Tags {
			if t == tag {
				out = append(out, c)
				break
			}
		}
	}
	return out, nil
}

// load returns the character when the caller may read it: owners always,
// everyone else only for public characters.
func (s *characterService) load(ctx context.Context, id uuid.UUID, ownerOnly bool) (*types.CharacterProfile, *ctxutil.RequestData, error) {
	rd, err := caller(ctx)
	if err != nil {
		return nil, nil, err
	}
	c, err := s.characters.GetByID(dbctx.Context{Ctx: ctx}, id)
	if err != nil {
		return nil, nil, fmt.Errorf("load character: %w", err)
	}
	if c == nil {
		return nil, nil, fmt.Errorf("%w: character not found", apperrors.ErrNotFound)
	}
	if c.OwnerUserID == rd.UserID {
		return c, rd, nil
	}
	if ownerOnly || !c.IsPublic {
		return nil, nil, fmt.Errorf("%w: you do not have permission for this character", apperrors.ErrForbidden)
	}
	return c, rd, nil
}

func (s *characterService) Get(ctx context.Context, id uuid.UUID) (*types.CharacterProfile, error) {
	c, _, err := s.load(ctx, id, false)
	return c, err
}

func (s *characterService) Status(ctx context.Context, id uuid.UUID) (*types.CharacterProfile, error) {
	c, _, err := s.load(ctx, id, false)
	return c, err
}

func (s *characterService) Update(ctx context.Context, id uuid.UUID, in UpdateCharacterInput) (*types.CharacterProfile, bool, error) {
	c, rd, err := s.load(ctx, id, true)
	if err != nil {
		return nil, false, err
	}

	now := time.Now().UTC()
	updates := map[string]interface{}{}
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if err := validateName(name); err != nil {
			return nil, false, err
		}
		updates["name"] = name
	}
	if in.Description != nil {
		description := strings.TrimSpace(*in.Description)
		if err := validateDescription(description); err != nil {
			return nil, false, err
		}
		updates["description"] = description
	}
	if in.Tags != nil {
		updates["tags"] = datatypes.JSONSlice[string](cleanTags(*in.Tags))
	}
	if in.IsPublic != nil {
		updates["is_public"] = *in.IsPublic
	}
	regenerate := in.Description != nil && in.Regenerate
	if regenerate {
		updates["processing_status"] = character.StatusPending
		updates["processing_started_at"] = nil
		updates["processing_completed_at"] = nil
		updates["processing_error_message"] = ""
	}
	if len(updates) == 0 {
		return c, false, nil
	}
	updates["updated_at"] = now

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: tx}
		if name, ok := updates["name"].(string); ok && name != c.Name {
			taken, err := s.characters.NameTaken(dbc, rd.UserID, name, c.ID)
			if err != nil {
				return fmt.Errorf("check name: %w", err)
			}
			if taken {
				return fmt.Errorf("%w: you already have a character named %s", apperrors.ErrConflict, name)
			}
		}
		if err := s.characters.UpdateFields(dbc, c.ID, updates); err != nil {
			if isDuplicateKey(err) {
				return fmt.Errorf("%w: you already have a character with that name", apperrors.ErrConflict)
			}
			return fmt.Errorf("update character: %w", err)
		}
		if regenerate {
			if _, _, err := s.jobs.EnqueueCharacterEnrichment(dbc, rd.UserID, c.ID, EnrichReasonRegenerate); err != nil {
				return fmt.Errorf("enqueue enrichment: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	updated, err := s.characters.GetByID(dbctx.Context{Ctx: ctx}, c.ID)
	if err != nil {
		return nil, false, fmt.Errorf("reload character: %w", err)
	}
	if updated == nil {
		return nil, false, fmt.Errorf("%w: character not found", apperrors.ErrNotFound)
	}
	if regenerate {
		s.notify.CharacterStatusChanged(updated.OwnerUserID, updated)
		s.log.Info("character regeneration requested", "character_id", c.ID.String())
	}
	return updated, regenerate, nil
}

func (s *characterService) Delete(ctx context.Context, id uuid.UUID) error {
	c, _, err := s.load(ctx, id, true)
	if err != nil {
		return err
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: tx}
		if _, err := s.jobs.CancelForCharacter(dbc, c.ID, "character deleted"); err != nil {
			return fmt.Errorf("cancel jobs: %w", err)
		}
		if err := s.characters.Delete(dbc, c.ID); err != nil {
			return fmt.Errorf("delete character: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if s.graph != nil {
		if gerr := s.graph.DeleteCharacter(ctx, c.ID); gerr != nil {
			s.log.Warn("graph delete failed", "character_id", c.ID.String(), "error", gerr)
		}
	}
	s.log.Info("character deleted", "character_id", c.ID.String())
	return nil
}

// Retry sends the character back to pending from any status and queues a
// fresh run. The attempt counter is kept.
func (s *characterService) Retry(ctx context.Context, id uuid.UUID) (*types.CharacterProfile, error) {
	c, rd, err := s.load(ctx, id, true)
	if err != nil {
		return nil, err
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: tx}
		if err := s.characters.UpdateFields(dbc, c.ID, map[string]interface{}{
			"processing_status":        character.StatusPending,
			"processing_error_message": "",
		}); err != nil {
			return fmt.Errorf("reset status: %w", err)
		}
		if _, _, err := s.jobs.EnqueueCharacterEnrichment(dbc, rd.UserID, c.ID, EnrichReasonRetry); err != nil {
			return fmt.Errorf("enqueue enrichment: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.ProcessingStatus.Status = character.StatusPending
	c.ProcessingStatus.ErrorMessage = ""
	s.notify.CharacterStatusChanged(c.OwnerUserID, c)
	s.log.Info("character retry requested", "character_id", c.ID.String())
	return c, nil
}

func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key")
}
