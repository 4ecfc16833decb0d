package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	types "github.com/yungbote/kanda-backend/internal/domain"
	"github.com/yungbote/kanda-backend/internal/domain/character"
	"github.com/yungbote/kanda-backend/internal/pkg/dbctx"
	apperrors "github.com/yungbote/kanda-backend/internal/pkg/errors"
)

const (
	ExportFormatJSON = "json"
	ExportFormatText = "txt"
)

type ExportFile struct {
	Filename    string
	ContentType string
	Body        []byte
}

// ExportDocument is the downloadable form of a completed character.
type ExportDocument struct {
	ID               uuid.UUID                   `json:"id"`
	Name             string                      `json:"name"`
	Description      string                      `json:"description"`
	Owner            string                      `json:"owner"`
	Personality      map[string]any              `json:"personality"`
	Background       map[string]any              `json:"background"`
	Appearance       map[string]any              `json:"appearance"`
	Relationships    []character.Entry           `json:"relationships"`
	Abilities        []character.Entry           `json:"abilities"`
	Tags             []string                    `json:"tags"`
	IsPublic         bool                        `json:"is_public"`
	VersionNumber    int                         `json:"version_number"`
	Versions         []character.VersionSnapshot `json:"versions"`
	ProcessingStatus character.ProcessingStatus  `json:"processing_status"`
	CreatedAt        time.Time                   `json:"created_at"`
	UpdatedAt        time.Time                   `json:"updated_at"`
}

func (s *characterService) Export(ctx context.Context, id uuid.UUID, format string) (*ExportFile, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		format = ExportFormatJSON
	}
	if format != ExportFormatJSON && format != ExportFormatText {
		return nil, fmt.Errorf("%w: unsupported export format: %s", apperrors.ErrInvalidArgument, format)
	}

	c, _, err := s.load(ctx, id, false)
	if err != nil {
		return nil, err
	}
	if c.ProcessingStatus.Status != character.StatusCompleted {
		return nil, fmt.Errorf("%w: the character has not been fully processed yet", apperrors.ErrNotReady)
	}

	ownerName := ""
	if owner, err := s.users.GetByID(dbctx.Context{Ctx: ctx}, c.OwnerUserID); err != nil {
		return nil, fmt.Errorf("load owner: %w", err)
	} else if owner != nil {
		ownerName = owner.Username
	}

	base := strings.ReplaceAll(c.Name, " ", "_")
	switch format {
	case ExportFormatText:
		return &ExportFile{
			Filename:    base + ".txt",
			ContentType: "text/plain; charset=utf-8",
			Body:        []byte(RenderCharacterText(c, ownerName)),
		}, nil
	default:
		body, err := json.MarshalIndent(NewExportDocument(c, ownerName), "", "    ")
		if err != nil {
			return nil, fmt.Errorf("encode export: %w", err)
		}
		return &ExportFile{
			Filename:    base + ".json",
			ContentType: "application/json",
			Body:        body,
		}, nil
	}
}

func NewExportDocument(c *types.CharacterProfile, ownerName string) ExportDocument {
	content := c.CurrentContent()
	versions := []character.VersionSnapshot(c.Versions)
	if versions == nil {
		versions = []character.VersionSnapshot{}
	}
	tags := []string(c.Tags)
	if tags == nil {
		tags = []string{}
	}
	return ExportDocument{
		ID:               c.ID,
		Name:             c.Name,
		Description:      c.Description,
		Owner:            ownerName,
		Personality:      content.Personality,
		Background:       content.Background,
		Appearance:       content.Appearance,
		Relationships:    content.Relationships,
		Abilities:        content.Abilities,
		Tags:             tags,
		IsPublic:         c.IsPublic,
		VersionNumber:    c.VersionNumber,
		Versions:         versions,
		ProcessingStatus: c.ProcessingStatus,
		CreatedAt:        c.CreatedAt,
		UpdatedAt:        c.UpdatedAt,
	}
}

// RenderCharacterText is the plain-text profile sheet. Map sections are
// written in key order so the output is stable.
func RenderCharacterText(c *types.CharacterProfile, ownerName string) string {
	content := c.CurrentContent()
	var b strings.Builder
	title := "CHARACTER PROFILE: " + c.Name
	b.WriteString(title + "\n")
	b.WriteString(strings.Repeat("=", len(title)) + "\n\n")
	b.WriteString("DESCRIPTION:\n" + c.Description + "\n\n")

	writeMap := func(heading string, m map[string]any) {
		b.WriteString(heading + ":\n")
		for _, k := range sortedMapKeys(m) {
			fmt.Fprintf(&b, "- %s: %v\n", k, m[k])
		}
		b.WriteString("\n")
	}
	writeEntries := func(heading string, entries []character.Entry) {
		b.WriteString(heading + ":\n")
		for _, e := range entries {
			for _, k := range sortedMapKeys(e) {
				fmt.Fprintf(&b, "- %s: %v\n", k, e[k])
			}
			b.WriteString("\n")
		}
	}

	writeMap("PERSONALITY", content.Personality)
	writeMap("BACKGROUND", content.Background)
	writeMap("APPEARANCE", content.Appearance)
	writeEntries("RELATIONSHIPS", content.Relationships)
	writeEntries("ABILITIES", content.Abilities)

	fmt.Fprintf(&b, "\nCreated by: %s\n", ownerName)
	fmt.Fprintf(&b, "Created: %s\n", c.CreatedAt.Format("02/01/2006"))
	fmt.Fprintf(&b, "Last updated: %s\n", c.UpdatedAt.Format("02/01/2006"))
	return b.String()
}

func sortedMapKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
