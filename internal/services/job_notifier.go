package services

import (
	"context"

	"github.com/google/uuid"

	types "github.com/yungbote/kanda-backend/internal/domain"
	"github.com/yungbote/kanda-backend/internal/realtime"
)

type JobNotifier interface {
	JobCreated(userID uuid.UUID, job *types.JobRun)
	JobProgress(userID uuid.UUID, job *types.JobRun, stage string, message string)
	JobFailed(userID uuid.UUID, job *types.JobRun, stage string, errorMessage string)
	JobDone(userID uuid.UUID, job *types.JobRun)
	CharacterStatusChanged(userID uuid.UUID, c *types.CharacterProfile)
}

type jobNotifier struct {
	pub *realtime.Publisher
}

func NewJobNotifier(pub *realtime.Publisher) JobNotifier {
	return &jobNotifier{pub: pub}
}

func (n *jobNotifier) send(userID uuid.UUID, event realtime.SSEEvent, data map[string]any) {
	n.pub.Publish(context.Background(), realtime.SSEMessage{
		Channel: userID.String(),
		Event:   event,
		Data:    data,
	})
}

func (n *jobNotifier) JobCreated(userID uuid.UUID, job *types.JobRun) {
	n.send(userID, realtime.SSEEventJobCreated, map[string]any{"job": job})
}

func (n *jobNotifier) JobProgress(userID uuid.UUID, job *types.JobRun, stage string, message string) {
	n.send(userID, realtime.SSEEventJobProgress, map[string]any{
		"job_id":   job.ID,
		"job_type": job.JobType,
		"stage":    stage,
		"message":  message,
	})
}

func (n *jobNotifier) JobFailed(userID uuid.UUID, job *types.JobRun, stage string, errorMessage string) {
	n.send(userID, realtime.SSEEventJobFailed, map[string]any{
		"job_id":   job.ID,
		"job_type": job.JobType,
		"stage":    stage,
		"error":    errorMessage,
		"attempts": job.Attempts,
	})
}

func (n *jobNotifier) JobDone(userID uuid.UUID, job *types.JobRun) {
	n.send(userID, realtime.SSEEventJobDone, map[string]any{
		"job_id":   job.ID,
		"job_type": job.JobType,
		"result":   job.Result,
	})
}

func (n *jobNotifier) CharacterStatusChanged(userID uuid.UUID, c *types.CharacterProfile) {
	if c == nil {
		return
	}
	n.send(userID, realtime.SSEEventCharacterStatusChanged, map[string]any{
		"character_id":      c.ID,
		"processing_status": c.ProcessingStatus,
		"version_number":    c.VersionNumber,
	})
}

// NopJobNotifier drops every event.
type NopJobNotifier struct{}

func (NopJobNotifier) JobCreated(uuid.UUID, *types.JobRun)                       {}
func (NopJobNotifier) JobProgress(uuid.UUID, *types.JobRun, string, string)      {}
func (NopJobNotifier) JobFailed(uuid.UUID, *types.JobRun, string, string)        {}
func (NopJobNotifier) JobDone(uuid.UUID, *types.JobRun)                          {}
func (NopJobNotifier) CharacterStatusChanged(uuid.UUID, *types.CharacterProfile) {}
