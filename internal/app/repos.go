package app

import (
	"gorm.io/gorm"

	"github.com/yungbote/kanda-backend/internal/data/repos"
	"github.com/yungbote/kanda-backend/internal/pkg/logger"
)

type Repos struct {
	Users      repos.UserRepo
	Characters repos.CharacterRepo
	Jobs       repos.JobRunRepo
	Universes  repos.UniverseRepo
	Rooms      repos.RoomRepo
	Stories    repos.StoryRepo
}

func wireRepos(db *gorm.DB, log *logger.Logger) Repos {
	log.Info("Wiring repos...")
	return Repos{
		Users:      repos.NewUserRepo(db, log),
		Characters: repos.NewCharacterRepo(db, log),
		Jobs:       repos.NewJobRunRepo(db, log),
		Universes:  repos.NewUniverseRepo(db, log),
		Rooms:      repos.NewRoomRepo(db, log),
		Stories:    repos.NewStoryRepo(db, log),
	}
}
