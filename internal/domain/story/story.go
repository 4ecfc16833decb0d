package story

import (
	"crypto/rand"
	"math/big"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type RoomStatus string

const (
	RoomWaiting  RoomStatus = "waiting"
	RoomPlaying  RoomStatus = "playing"
	RoomFinished RoomStatus = "finished"
)

type StoryStatus string

const (
	StoryInProgress StoryStatus = "in_progress"
	StoryCompleted  StoryStatus = "completed"
	StoryPaused     StoryStatus = "paused"
)

type ChapterStatus string

const (
	ChapterWriting    ChapterStatus = "writing"
	ChapterDiscussion ChapterStatus = "discussion"
	ChapterCompleted  ChapterStatus = "completed"
)

const (
	DefaultMaxPlayers     = 6
	DefaultTotalChapters  = 5
	DefaultDiscussionTime = 300
	AccessCodeLength      = 6
)

// Universe is the shared setting rooms play in.
type Universe struct {
	ID                   uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	Name                 string     `gorm:"column:name;not null;index" json:"name"`
	Description          string     `gorm:"column:description;type:text;not null" json:"description"`
	Context              string     `gorm:"column:context;type:text;not null" json:"context"`
	Rules                string     `gorm:"column:rules;type:text" json:"rules"`
	CoverImage           string     `gorm:"column:cover_image" json:"cover_image"`
	BackgroundImage      string     `gorm:"column:background_image" json:"background_image"`
	TimePeriod           string     `gorm:"column:time_period" json:"time_period"`
	Location             string     `gorm:"column:location" json:"location"`
	TechnologyLevel      string     `gorm:"column:technology_level" json:"technology_level"`
	MagicAllowed         bool       `gorm:"column:magic_allowed;not null;default:false" json:"magic_allowed"`
	SupernaturalElements bool       `gorm:"column:supernatural_elements;not null;default:false" json:"supernatural_elements"`
	IsPublic             bool       `gorm:"column:is_public;not null;index" json:"is_public"`
	CreatedByUserID      *uuid.UUID `gorm:"type:uuid;column:created_by_user_id;index" json:"created_by"`

	CreatedAt time.Time `gorm:"not null;index" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (Universe) TableName() string { return "universe" }

// Room is a game lobby bound to one universe. Players are the room's
// participant rows.
type Room struct {
	ID              uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	Name            string     `gorm:"column:name;not null" json:"name"`
	Description     string     `gorm:"column:description;type:text" json:"description"`
	UniverseID      uuid.UUID  `gorm:"type:uuid;column:universe_id;not null;index" json:"universe_id"`
	IsPublic        bool       `gorm:"column:is_public;not null;index" json:"is_public"`
	AccessCode      string     `gorm:"column:access_code;index" json:"access_code,omitempty"`
	MaxPlayers      int        `gorm:"column:max_players;not null;default:6" json:"max_players"`
	AdminUserID     uuid.UUID  `gorm:"type:uuid;column:admin_user_id;not null;index" json:"admin"`
	Status          RoomStatus `gorm:"column:status;not null;default:waiting;index" json:"status"`
	TotalChapters   int        `gorm:"column:total_chapters;not null;default:5" json:"total_chapters"`
	DiscussionTime  int        `gorm:"column:discussion_time;not null;default:300" json:"discussion_time"`
	AllowDiscussion bool       `gorm:"column:allow_discussion;not null" json:"allow_discussion"`

	CreatedAt time.Time `gorm:"not null;index" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (Room) TableName() string { return "room" }

// RoomParticipant is a player seat in a room with the characters the player
// brings to the story.
type RoomParticipant struct {
	ID           uuid.UUID                      `gorm:"type:uuid;primaryKey" json:"id"`
	RoomID       uuid.UUID                      `gorm:"type:uuid;column:room_id;not null;uniqueIndex:idx_room_participant,priority:1" json:"room_id"`
	UserID       uuid.UUID                      `gorm:"type:uuid;column:user_id;not null;uniqueIndex:idx_room_participant,priority:2;index" json:"user_id"`
	CharacterIDs datatypes.JSONSlice[uuid.UUID] `gorm:"column:character_ids" json:"characters"`
	IsReady      bool                           `gorm:"column:is_ready;not null;default:false" json:"is_ready"`
	JoinedAt     time.Time                      `gorm:"column:joined_at;not null" json:"joined_at"`
}

func (RoomParticipant) TableName() string { return "room_participant" }

type Story struct {
	ID             uuid.UUID   `gorm:"type:uuid;primaryKey" json:"id"`
	RoomID         uuid.UUID   `gorm:"type:uuid;column:room_id;not null;index" json:"room_id"`
	Title          string      `gorm:"column:title" json:"title"`
	TotalChapters  int         `gorm:"column:total_chapters;not null" json:"total_chapters"`
	CurrentChapter int         `gorm:"column:current_chapter;not null;default:0" json:"current_chapter"`
	Status         StoryStatus `gorm:"column:status;not null;default:in_progress;index" json:"status"`
	StartedAt      time.Time   `gorm:"column:started_at;not null;index" json:"started_at"`
	CompletedAt    *time.Time  `gorm:"column:completed_at" json:"completed_at"`
}

func (Story) TableName() string { return "story" }

type Chapter struct {
	ID            uuid.UUID     `gorm:"type:uuid;primaryKey" json:"id"`
	StoryID       uuid.UUID     `gorm:"type:uuid;column:story_id;not null;uniqueIndex:idx_story_chapter,priority:1" json:"story_id"`
	ChapterNumber int           `gorm:"column:chapter_number;not null;uniqueIndex:idx_story_chapter,priority:2" json:"chapter_number"`
	Content       string        `gorm:"column:content;type:text;not null" json:"content"`
	Status        ChapterStatus `gorm:"column:status;not null;default:writing" json:"status"`
	CreatedAt     time.Time     `gorm:"not null" json:"created_at"`
	CompletedAt   *time.Time    `gorm:"column:completed_at" json:"completed_at"`
}

func (Chapter) TableName() string { return "chapter" }

type PlayerAction struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ChapterID   uuid.UUID `gorm:"type:uuid;column:chapter_id;not null;index" json:"chapter_id"`
	UserID      uuid.UUID `gorm:"type:uuid;column:user_id;not null;index" json:"user_id"`
	CharacterID uuid.UUID `gorm:"type:uuid;column:character_id;not null" json:"character_id"`
	ActionText  string    `gorm:"column:action_text;type:text;not null" json:"action_text"`
	SubmittedAt time.Time `gorm:"column:submitted_at;not null;index" json:"submitted_at"`
}

func (PlayerAction) TableName() string { return "player_action" }

const accessCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// NewAccessCode returns a random code for a private room.
func NewAccessCode() (string, error) {
	out := make([]byte, AccessCodeLength)
	max := big.NewInt(int64(len(accessCodeAlphabet)))
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		out[i] = accessCodeAlphabet[n.Int64()]
	}
	return string(out), nil
}

// Finished reports whether every chapter of the story has been written.
func (s *Story) Finished() bool {
	return s.CurrentChapter >= s.TotalChapters
}
