package character

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// SchemaVersion is bumped whenever the stored document shape changes.
const SchemaVersion = 1

// Entry is one element of the relationships or abilities lists.
type Entry = map[string]any

// ProcessingStatus is the enrichment lifecycle read model embedded in the
// character row.
type ProcessingStatus struct {
	Status       Status     `gorm:"column:status;not null;default:pending;index" json:"status"`
	StartedAt    *time.Time `gorm:"column:started_at" json:"started_at"`
	CompletedAt  *time.Time `gorm:"column:completed_at" json:"completed_at"`
	ErrorMessage string     `gorm:"column:error_message" json:"error_message"`
	Attempts     int        `gorm:"column:attempts;not null;default:0" json:"attempts"`
	LastAttempt  *time.Time `gorm:"column:last_attempt" json:"last_attempt"`
}

// VersionSnapshot is an archived copy of the generated content.
type VersionSnapshot struct {
	VersionNumber int            `json:"version_number"`
	Personality   map[string]any `json:"personality"`
	Background    map[string]any `json:"background"`
	Appearance    map[string]any `json:"appearance"`
	Relationships []Entry        `json:"relationships"`
	Abilities     []Entry        `json:"abilities"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// CharacterProfile rows are hard-deleted so a name can be reused by its owner.
type CharacterProfile struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	OwnerUserID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_character_owner_name,priority:1" json:"owner_user_id"`
	Name        string    `gorm:"column:name;not null;uniqueIndex:idx_character_owner_name,priority:2" json:"name"`
	Description string    `gorm:"column:description;type:text;not null" json:"description"`

	Personality   datatypes.JSONMap          `gorm:"column:personality" json:"personality"`
	Background    datatypes.JSONMap          `gorm:"column:background" json:"background"`
	Appearance    datatypes.JSONMap          `gorm:"column:appearance" json:"appearance"`
	Relationships datatypes.JSONSlice[Entry] `gorm:"column:relationships" json:"relationships"`
	Abilities     datatypes.JSONSlice[Entry] `gorm:"column:abilities" json:"abilities"`

	ProcessingStatus ProcessingStatus `gorm:"embedded;embeddedPrefix:processing_" json:"processing_status"`

	Versions      datatypes.JSONSlice[VersionSnapshot] `gorm:"column:versions" json:"versions"`
	VersionNumber int                                  `gorm:"column:version_number;not null;default:1" json:"version_number"`

	IsPublic      bool                        `gorm:"column:is_public;not null;default:false;index" json:"is_public"`
	Tags          datatypes.JSONSlice[string] `gorm:"column:tags" json:"tags"`
	SchemaVersion int                         `gorm:"column:schema_version;not null;default:1" json:"schema_version"`

	CreatedAt time.Time `gorm:"not null;index" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;index" json:"updated_at"`
}

func (CharacterProfile) TableName() string { return "character_profile" }

// New builds a character in its initial state: pending, empty content,
// version 1, no history.
func New(ownerUserID uuid.UUID, name, description string, tags []string, isPublic bool, now time.Time) *CharacterProfile {
	if tags == nil {
		tags = []string{}
	}
	return &CharacterProfile{
		ID:            uuid.New(),
		OwnerUserID:   ownerUserID,
		Name:          name,
		Description:   description,
		Personality:   datatypes.JSONMap{},
		Background:    datatypes.JSONMap{},
		Appearance:    datatypes.JSONMap{},
		Relationships: datatypes.JSONSlice[Entry]{},
		Abilities:     datatypes.JSONSlice[Entry]{},
		ProcessingStatus: ProcessingStatus{
			Status: StatusPending,
		},
		Versions:      datatypes.JSONSlice[VersionSnapshot]{},
		VersionNumber: 1,
		IsPublic:      isPublic,
		Tags:          datatypes.JSONSlice[string](tags),
		SchemaVersion: SchemaVersion,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Content is the five generated sections as produced by the enrichment step.
type Content struct {
	Personality   map[string]any
	Background    map[string]any
	Appearance    map[string]any
	Relationships []Entry
	Abilities     []Entry
}

// HasContent reports whether any of the three mapping sections holds data.
// Relationships and abilities alone never count as content.
func (c *CharacterProfile) HasContent() bool {
	return len(c.Personality) > 0 || len(c.Background) > 0 || len(c.Appearance) > 0
}

// ApplyContent overwrites all five sections. Missing sections become empty
// containers, never nil.
func (c *CharacterProfile) ApplyContent(content Content) {
	c.Personality = datatypes.JSONMap(orEmptyMap(content.Personality))
	c.Background = datatypes.JSONMap(orEmptyMap(content.Background))
	c.Appearance = datatypes.JSONMap(orEmptyMap(content.Appearance))
	c.Relationships = datatypes.JSONSlice[Entry](orEmptyEntries(content.Relationships))
	c.Abilities = datatypes.JSONSlice[Entry](orEmptyEntries(content.Abilities))
}

// CurrentContent returns the generated sections as plain values.
func (c *CharacterProfile) CurrentContent() Content {
	return Content{
		Personality:   orEmptyMap(c.Personality),
		Background:    orEmptyMap(c.Background),
		Appearance:    orEmptyMap(c.Appearance),
		Relationships: orEmptyEntries(c.Relationships),
		Abilities:     orEmptyEntries(c.Abilities),
	}
}

func orEmptyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func orEmptyEntries(e []Entry) []Entry {
	if e == nil {
		return []Entry{}
	}
	return e
}
