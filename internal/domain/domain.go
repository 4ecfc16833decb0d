package domain

import (
	"github.com/yungbote/kanda-backend/internal/domain/character"
	"github.com/yungbote/kanda-backend/internal/domain/jobs"
	"github.com/yungbote/kanda-backend/internal/domain/story"
	"github.com/yungbote/kanda-backend/internal/domain/user"
)

type User = user.User

type CharacterProfile = character.CharacterProfile
type CharacterStatus = character.Status
type ProcessingStatus = character.ProcessingStatus
type VersionSnapshot = character.VersionSnapshot
type CharacterContent = character.Content

type JobRun = jobs.JobRun

type Universe = story.Universe
type Room = story.Room
type RoomParticipant = story.RoomParticipant
type Story = story.Story
type Chapter = story.Chapter
type PlayerAction = story.PlayerAction

// Models lists every persisted type, in migration order.
func Models() []any {
	return []any{
		&user.User{},
		&character.CharacterProfile{},
		&jobs.JobRun{},
		&story.Universe{},
		&story.Room{},
		&story.RoomParticipant{},
		&story.Story{},
		&story.Chapter{},
		&story.PlayerAction{},
	}
}
