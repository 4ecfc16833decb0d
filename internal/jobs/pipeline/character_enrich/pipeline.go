package character_enrich

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"

	types "github.com/yungbote/kanda-backend/internal/domain"
	"github.com/yungbote/kanda-backend/internal/domain/character"
	jobrt "github.com/yungbote/kanda-backend/internal/jobs/runtime"
	"github.com/yungbote/kanda-backend/internal/observability"
	"github.com/yungbote/kanda-backend/internal/pkg/dbctx"
	"github.com/yungbote/kanda-backend/internal/pkg/logger"
	"github.com/yungbote/kanda-backend/internal/platform/ai"
	"github.com/yungbote/kanda-backend/internal/platform/lock"
	"github.com/yungbote/kanda-backend/internal/services"
)

// errSuperseded means the row left processing while the attempt ran, e.g. a
// retry request reset it. The newer run owns the row.
var errSuperseded = errors.New("character no longer processing")

func lockKey(id uuid.UUID) string { return "character:" + id.String() }

/*
Run performs one enrichment attempt for a character:

	lock -> load -> mark processing -> generate -> parse -> persist

The whole attempt holds the per-character lock; the final write is also
guarded by version_number. Retryable failures leave the character in
processing and hand the job back to the worker until the last attempt,
which marks the character failed.
*/
func (p *Pipeline) Run(jc *jobrt.Context) error {
	if jc == nil || jc.Job == nil {
		return nil
	}
	charID, ok := jc.PayloadUUID("character_id")
	if !ok && jc.Job.EntityID != nil && *jc.Job.EntityID != uuid.Nil {
		charID, ok = *jc.Job.EntityID, true
	}
	if !ok {
		jc.Dead("validate", newError(KindNotFound, "validate", errors.New("missing character_id")))
		return nil
	}

	start := time.Now()
	ctx, span := observability.StartSpan(jc.Ctx, "character_enrich.run",
		attribute.String("character_id", charID.String()),
		attribute.Int("attempt", jc.Attempt()),
	)
	defer span.End()
	log := p.log.With("character_id", charID.String(), "job_id", jc.Job.ID.String(), "attempt", jc.Attempt())

	lease, err := p.locker.TryAcquire(ctx, lockKey(charID), p.cfg.LockTTL)
	if errors.Is(err, lock.ErrBusy) {
		log.Debug("character busy, deferring")
		jc.Defer(p.cfg.DeferDelay, "waiting for another run on this character")
		observability.Current().ObserveEnrichment("deferred", time.Since(start))
		return nil
	}
	if err != nil {
		return p.finishFailed(ctx, jc, log, charID, nil, start, newError(KindPersistence, "lock", err))
	}
	defer func() {
		if rerr := lease.Release(context.Background()); rerr != nil {
			log.Warn("release character lock failed", "error", rerr)
		}
	}()

	c, err := p.characters.GetByID(dbctx.Context{Ctx: ctx}, charID)
	if err != nil {
		return p.finishFailed(ctx, jc, log, charID, nil, start, newError(KindPersistence, "load", err))
	}
	if c == nil {
		return p.finishFailed(ctx, jc, log, charID, nil, start, newError(KindNotFound, "load", errCharacterNotFound))
	}

	now := time.Now().UTC()
	moved, err := p.characters.MarkProcessing(dbctx.Context{Ctx: ctx}, charID, now)
	if err != nil {
		return p.finishFailed(ctx, jc, log, charID, c, start, newError(KindPersistence, "mark_processing", err))
	}
	if !moved {
		log.Info("character not runnable, skipping", "status", c.ProcessingStatus.Status)
		jc.Succeed("superseded", map[string]any{
			"character_id": charID.String(),
			"status":       string(c.ProcessingStatus.Status),
		})
		observability.Current().ObserveEnrichment("skipped", time.Since(start))
		return nil
	}
	c.ProcessingStatus.Status = character.StatusProcessing
	c.ProcessingStatus.StartedAt = &now
	c.ProcessingStatus.LastAttempt = &now
	c.ProcessingStatus.Attempts++
	jc.Notify.CharacterStatusChanged(c.OwnerUserID, c)

	jc.Progress("generate", "Generating character profile")
	content, err := p.generate(ctx, c)
	if err != nil {
		span.RecordError(err)
		return p.finishFailed(ctx, jc, log, charID, c, start, err)
	}

	jc.Progress("persist", "Saving character profile")
	saved, err := p.persist(ctx, charID, content)
	if errors.Is(err, errSuperseded) {
		log.Info("character reset during enrichment, dropping result")
		jc.Succeed("superseded", map[string]any{"character_id": charID.String()})
		observability.Current().ObserveEnrichment("skipped", time.Since(start))
		return nil
	}
	if err != nil {
		span.RecordError(err)
		return p.finishFailed(ctx, jc, log, charID, c, start, err)
	}

	if p.graph != nil {
		if gerr := p.graph.SyncRelationships(ctx, saved); gerr != nil {
			log.Warn("relationship graph sync failed", "error", gerr)
		}
	}

	log.Info("character enriched", "version_number", saved.VersionNumber, "versions", len(saved.Versions))
	jc.Succeed("done", map[string]any{
		"status":         "success",
		"character_id":   charID.String(),
		"version_number": saved.VersionNumber,
		"message":        "character profile generated",
	})
	jc.Notify.CharacterStatusChanged(saved.OwnerUserID, saved)
	observability.Current().ObserveEnrichment("completed", time.Since(start))
	return nil
}

func (p *Pipeline) generate(ctx context.Context, c *types.CharacterProfile) (character.Content, error) {
	prompt, err := RenderPrompt(c.Name, c.Description)
	if err != nil {
		return character.Content{}, newError(KindMalformedResponse, "prompt", err)
	}
	if p.ai == nil {
		return character.Content{}, newError(KindTransientExternal, "generate", errors.New("ai client not configured"))
	}

	aiCtx, cancel := context.WithTimeout(ctx, p.cfg.AITimeout)
	defer cancel()
	temp := p.cfg.Temperature
	raw, err := p.ai.Complete(aiCtx, prompt, ai.Params{
		System:      systemPrompt,
		Temperature: &temp,
		MaxTokens:   p.cfg.MaxTokens,
		JSON:        true,
	})
	if err != nil {
		return character.Content{}, newError(KindTransientExternal, "generate", err)
	}

	content, err := ParseContent(raw)
	if err != nil {
		return character.Content{}, newError(KindMalformedResponse, "parse", err)
	}
	return content, nil
}

// persist archives the previous content and writes the new one in a single
// transaction. The row is re-read under lock so the archive reflects what is
// actually stored.
func (p *Pipeline) persist(ctx context.Context, id uuid.UUID, content character.Content) (*types.CharacterProfile, error) {
	var out *types.CharacterProfile
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: tx}
		c, err := p.characters.GetByIDForUpdate(dbc, id)
		if err != nil {
			return newError(KindPersistence, "persist", err)
		}
		if c == nil {
			return newError(KindNotFound, "persist", errCharacterNotFound)
		}
		if c.ProcessingStatus.Status != character.StatusProcessing {
			return errSuperseded
		}

		now := time.Now().UTC()
		expected := c.VersionNumber
		character.ArchiveIfNonEmpty(c, now)
		c.ApplyContent(content)
		c.ProcessingStatus.Status = character.StatusCompleted
		c.ProcessingStatus.CompletedAt = &now
		c.ProcessingStatus.ErrorMessage = ""
		c.UpdatedAt = now

		saved, err := p.characters.SaveEnrichment(dbc, c, expected)
		if err != nil {
			return newError(KindPersistence, "persist", err)
		}
		if !saved {
			return newError(KindConflict, "persist", errVersionConflict)
		}
		out = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// finishFailed decides between another attempt and giving up. c may be nil
// when the failure happened before the character was loaded; the character
// is still marked failed by id on the last attempt.
func (p *Pipeline) finishFailed(ctx context.Context, jc *jobrt.Context, log *logger.Logger, charID uuid.UUID, c *types.CharacterProfile, start time.Time, err error) error {
	kind := classify(err)
	stage := "run"
	var pe *Error
	if errors.As(err, &pe) && pe.Stage != "" {
		stage = pe.Stage
	}

	if kind == KindNotFound {
		log.Warn("character enrichment abandoned", "stage", stage, "error", err)
		jc.Dead(stage, err)
		observability.Current().ObserveEnrichment("failed", time.Since(start))
		return nil
	}

	if kind.Retryable() && !jc.LastAttempt() {
		log.Warn("character enrichment attempt failed, will retry",
			"stage", stage,
			"kind", kind.String(),
			"max_attempts", jc.Policy.MaxAttempts,
			"error", err,
		)
		jc.Fail(stage, err)
		observability.Current().ObserveEnrichment("retry", time.Since(start))
		return nil
	}

	log.Error("character enrichment failed", "stage", stage, "kind", kind.String(), "error", err)
	p.markFailed(ctx, log, jc.Notify, charID, c, statusMessage(err))
	jc.Dead(stage, err)
	observability.Current().ObserveEnrichment("failed", time.Since(start))
	return nil
}

// markFailed moves a processing character to failed and notifies its owner.
// c is reloaded when the caller never got to load it.
func (p *Pipeline) markFailed(ctx context.Context, log *logger.Logger, notify services.JobNotifier, charID uuid.UUID, c *types.CharacterProfile, msg string) {
	if charID == uuid.Nil {
		return
	}
	dbc := dbctx.Context{Ctx: ctx}
	moved, err := p.characters.MarkFailed(dbc, charID, msg, time.Now().UTC())
	if err != nil {
		log.Error("mark character failed", "error", err)
		return
	}
	if !moved {
		return
	}
	if c == nil {
		if c, err = p.characters.GetByID(dbc, charID); err != nil || c == nil {
			return
		}
	} else {
		c.ProcessingStatus.Status = character.StatusFailed
		c.ProcessingStatus.ErrorMessage = msg
	}
	if notify != nil {
		notify.CharacterStatusChanged(c.OwnerUserID, c)
	}
}

// OnExhausted marks the character failed when the worker gives up on a job
// outside Run: a panic on the last attempt or a stale run with no budget left.
func (p *Pipeline) OnExhausted(ctx context.Context, job *types.JobRun, notify services.JobNotifier, cause error) {
	if job == nil {
		return
	}
	charID := uuid.Nil
	if job.EntityID != nil {
		charID = *job.EntityID
	}
	if id, ok := payloadCharacterID(job); ok {
		charID = id
	}
	log := p.log.With("character_id", charID.String(), "job_id", job.ID.String())
	log.Error("character enrichment exhausted", "error", cause)
	p.markFailed(ctx, log, notify, charID, nil, statusMessage(cause))
	observability.Current().ObserveEnrichment("failed", 0)
}

func payloadCharacterID(job *types.JobRun) (uuid.UUID, bool) {
	var payload struct {
		CharacterID string `json:"character_id"`
	}
	if len(job.Payload) == 0 || json.Unmarshal(job.Payload, &payload) != nil {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(payload.CharacterID)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, false
	}
	return id, true
}
