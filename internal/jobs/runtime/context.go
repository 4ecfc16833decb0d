package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/kanda-backend/internal/data/repos"
	types "github.com/yungbote/kanda-backend/internal/domain"
	jobsdomain "github.com/yungbote/kanda-backend/internal/domain/jobs"
	"github.com/yungbote/kanda-backend/internal/pkg/ctxutil"
	"github.com/yungbote/kanda-backend/internal/pkg/dbctx"
	"github.com/yungbote/kanda-backend/internal/services"
)

// Policy is the retry budget the worker claims jobs with.
type Policy struct {
	MaxAttempts int
	RetryDelay  time.Duration
}

/*
Context is the execution handle for a single claimed job run. Pipelines
report progress and finish the run only through it, never by writing
job_run directly.

Terminal helpers are guarded so a canceled row is never overwritten; when
the guard rejects a write no notification is sent.
*/
type Context struct {
	Ctx     context.Context
	DB      *gorm.DB
	Job     *types.JobRun
	Repo    repos.JobRunRepo
	Notify  services.JobNotifier
	Policy  Policy
	payload map[string]any
}

func NewContext(ctx context.Context, db *gorm.DB, job *types.JobRun, repo repos.JobRunRepo, notify services.JobNotifier, policy Policy) *Context {
	if notify == nil {
		notify = services.NopJobNotifier{}
	}
	c := &Context{
		Ctx:    ctx,
		DB:     db,
		Job:    job,
		Repo:   repo,
		Notify: notify,
		Policy: policy,
	}
	_ = c.decodePayload()
	c.applyTraceData()
	return c
}

// decodePayload leaves an empty map behind on malformed JSON; handlers
// validate the fields they need.
func (c *Context) decodePayload() error {
	if c.Job == nil || len(c.Job.Payload) == 0 {
		c.payload = map[string]any{}
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(c.Job.Payload, &m); err != nil {
		c.payload = map[string]any{}
		return err
	}
	c.payload = m
	return nil
}

func (c *Context) applyTraceData() {
	if c.Ctx == nil {
		return
	}
	traceID, _ := c.Payload()["trace_id"].(string)
	reqID, _ := c.Payload()["request_id"].(string)
	if traceID == "" && reqID == "" {
		return
	}
	c.Ctx = ctxutil.WithTraceData(c.Ctx, &ctxutil.TraceData{
		TraceID:   strings.TrimSpace(traceID),
		RequestID: strings.TrimSpace(reqID),
	})
}

func (c *Context) Payload() map[string]any {
	if c.payload == nil {
		c.payload = map[string]any{}
	}
	return c.payload
}

func (c *Context) PayloadUUID(key string) (uuid.UUID, bool) {
	v, ok := c.Payload()[key]
	if !ok || v == nil {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(fmt.Sprint(v))
	if err != nil || id == uuid.Nil {
		return uuid.Nil, false
	}
	return id, true
}

// Attempt is the 1-based number of the current claim of this row.
func (c *Context) Attempt() int {
	if c.Job == nil {
		return 0
	}
	return c.Job.Attempts
}

// LastAttempt reports whether a retryable failure now would exhaust the budget.
func (c *Context) LastAttempt() bool {
	return c.Policy.MaxAttempts > 0 && c.Attempt() >= c.Policy.MaxAttempts
}

func (c *Context) ctx() context.Context {
	return ctxutil.Default(c.Ctx)
}

func (c *Context) dbc() dbctx.Context {
	return dbctx.Context{Ctx: c.ctx()}
}

func (c *Context) write(updates map[string]interface{}) bool {
	if c.Repo == nil || c.Job == nil || c.Job.ID == uuid.Nil {
		return true
	}
	ok, err := c.Repo.UpdateFieldsUnlessStatus(c.dbc(), c.Job.ID, []string{jobsdomain.StatusCanceled}, updates)
	return err == nil && ok
}

// Progress records a non-terminal stage and refreshes the heartbeat.
func (c *Context) Progress(stage string, msg string) {
	now := time.Now().UTC()
	if !c.write(map[string]interface{}{
		"stage":        stage,
		"message":      msg,
		"heartbeat_at": now,
	}) {
		return
	}
	if c.Job != nil {
		c.Job.Stage = stage
		c.Job.Message = msg
		c.Job.HeartbeatAt = &now
		c.Notify.JobProgress(c.Job.OwnerUserID, c.Job, stage, msg)
	}
}

// Fail records a retryable failure. The worker claims the row again once
// the retry delay has passed, while attempts remain.
func (c *Context) Fail(stage string, err error) {
	c.finishWithError(jobsdomain.StatusFailed, stage, err)
}

// Dead records a failure that must not be retried.
func (c *Context) Dead(stage string, err error) {
	c.finishWithError(jobsdomain.StatusDead, stage, err)
}

func (c *Context) finishWithError(status string, stage string, err error) {
	now := time.Now().UTC()
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	if !c.write(map[string]interface{}{
		"status":        status,
		"stage":         stage,
		"message":       "",
		"error":         msg,
		"last_error_at": now,
		"locked_at":     nil,
	}) {
		return
	}
	if c.Job != nil {
		c.Job.Status = status
		c.Job.Stage = stage
		c.Job.Message = ""
		c.Job.Error = msg
		c.Job.LastErrorAt = &now
		c.Job.LockedAt = nil
		c.Notify.JobFailed(c.Job.OwnerUserID, c.Job, stage, msg)
	}
}

// Defer returns the row to the queue without spending an attempt.
func (c *Context) Defer(after time.Duration, msg string) {
	runAfter := time.Now().UTC().Add(after)
	if c.Repo != nil && c.Job != nil {
		if err := c.Repo.Defer(c.dbc(), c.Job.ID, runAfter, msg); err != nil {
			return
		}
	}
	if c.Job != nil {
		c.Job.Status = jobsdomain.StatusQueued
		c.Job.Stage = "deferred"
		c.Job.Message = msg
		c.Job.RunAfter = &runAfter
		c.Job.LockedAt = nil
		c.Job.HeartbeatAt = nil
		if c.Job.Attempts > 0 {
			c.Job.Attempts--
		}
	}
}

// Succeed marks the row succeeded and stores result as JSON.
func (c *Context) Succeed(finalStage string, result any) {
	now := time.Now().UTC()
	res := datatypes.JSON([]byte(`{}`))
	if result != nil {
		if b, err := json.Marshal(result); err == nil {
			res = datatypes.JSON(b)
		}
	}
	if !c.write(map[string]interface{}{
		"status":       jobsdomain.StatusSucceeded,
		"stage":        finalStage,
		"message":      "",
		"error":        "",
		"result":       res,
		"locked_at":    nil,
		"heartbeat_at": now,
	}) {
		return
	}
	if c.Job != nil {
		c.Job.Status = jobsdomain.StatusSucceeded
		c.Job.Stage = finalStage
		c.Job.Message = ""
		c.Job.Error = ""
		c.Job.Result = res
		c.Job.LockedAt = nil
		c.Job.HeartbeatAt = &now
		c.Notify.JobDone(c.Job.OwnerUserID, c.Job)
	}
}
