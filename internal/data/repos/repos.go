package repos

import (
	"gorm.io/gorm"

	"github.com/yungbote/kanda-backend/internal/data/repos/character"
	"github.com/yungbote/kanda-backend/internal/data/repos/jobs"
	"github.com/yungbote/kanda-backend/internal/data/repos/story"
	"github.com/yungbote/kanda-backend/internal/data/repos/user"
	"github.com/yungbote/kanda-backend/internal/pkg/logger"
)

type UserRepo = user.UserRepo
type CharacterRepo = character.CharacterRepo
type CharacterListFilter = character.ListFilter
type JobRunRepo = jobs.JobRunRepo
type UniverseRepo = story.UniverseRepo
type RoomRepo = story.RoomRepo
type StoryRepo = story.StoryRepo

func NewUserRepo(db *gorm.DB, baseLog *logger.Logger) UserRepo { return user.NewUserRepo(db, baseLog) }

func NewCharacterRepo(db *gorm.DB, baseLog *logger.Logger) CharacterRepo {
	return character.NewCharacterRepo(db, baseLog)
}

func NewJobRunRepo(db *gorm.DB, baseLog *logger.Logger) JobRunRepo {
	return jobs.NewJobRunRepo(db, baseLog)
}

func NewUniverseRepo(db *gorm.DB, baseLog *logger.Logger) UniverseRepo {
	return story.NewUniverseRepo(db, baseLog)
}

func NewRoomRepo(db *gorm.DB, baseLog *logger.Logger) RoomRepo { return story.NewRoomRepo(db, baseLog) }

func NewStoryRepo(db *gorm.DB, baseLog *logger.Logger) StoryRepo { return story.NewStoryRepo(db, baseLog) }
