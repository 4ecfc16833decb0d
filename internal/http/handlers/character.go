package handlers

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	types "github.com/yungbote/kanda-backend/internal/domain"
	"github.com/yungbote/kanda-backend/internal/domain/character"
	"github.com/yungbote/kanda-backend/internal/http/response"
	"github.com/yungbote/kanda-backend/internal/platform/apierr"
	"github.com/yungbote/kanda-backend/internal/services"
)

type CharacterHandler struct {
	characters services.CharacterService
}

func NewCharacterHandler(characters services.CharacterService) *CharacterHandler {
	return &CharacterHandler{characters: characters}
}

type characterSummary struct {
	ID               uuid.UUID        `json:"id"`
	Name             string           `json:"name"`
	Description      string           `json:"description"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
	ProcessingStatus character.Status `json:"processing_status"`
	IsPublic         bool             `json:"is_public"`
	Tags             []string         `json:"tags"`
	Version          int              `json:"version"`
}

func summarize(c *types.CharacterProfile) characterSummary {
	tags := []string(c.Tags)
	if tags == nil {
		tags = []string{}
	}
	return characterSummary{
		ID:               c.ID,
		Name:             c.Name,
		Description:      c.Description,
		CreatedAt:        c.CreatedAt,
		UpdatedAt:        c.UpdatedAt,
		ProcessingStatus: c.ProcessingStatus.Status,
		IsPublic:         c.IsPublic,
		Tags:             tags,
		Version:          c.VersionNumber,
	}
}

func characterID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondServiceError(c, apierr.New(http.StatusBadRequest, "invalid_character_id", err))
		return uuid.Nil, false
	}
	return id, true
}

// GET /api/characters
func (h *CharacterHandler) List(c *gin.Context) {
	filter := services.CharacterListFilter{
		Tag:    c.Query("tag"),
		Status: c.Query("status"),
	}
	if raw, ok := c.GetQuery("public"); ok {
		public := strings.EqualFold(strings.TrimSpace(raw), "true")
		filter.Public = &public
	}
	list, err := h.characters.List(c.Request.Context(), filter)
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	out := make([]characterSummary, 0, len(list))
	for _, ch := range list {
		out = append(out, summarize(ch))
	}
	response.RespondOK(c, gin.H{"status": "success", "count": len(out), "characters": out})
}

// POST /api/characters
func (h *CharacterHandler) Create(c *gin.Context) {
	var req struct {
		Name        string   `json:"name" binding:"required"`
		Description string   `json:"description" binding:"required"`
		Tags        []string `json:"tags"`
		IsPublic    bool     `json:"is_public"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondServiceError(c, apierr.New(http.StatusBadRequest, "invalid_request", err))
		return
	}
	created, err := h.characters.Create(c.Request.Context(), services.CreateCharacterInput{
		Name:        req.Name,
		Description: req.Description,
		Tags:        req.Tags,
		IsPublic:    req.IsPublic,
	})
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	response.RespondCreated(c, gin.H{
		"status":    "success",
		"message":   "Character created. AI processing has started.",
		"character": summarize(created),
	})
}

// GET /api/characters/:id
func (h *CharacterHandler) Get(c *gin.Context) {
	id, ok := characterID(c)
	if !ok {
		return
	}
	ch, err := h.characters.Get(c.Request.Context(), id)
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"status": "success", "character": ch})
}

// PUT /api/characters/:id
func (h *CharacterHandler) Update(c *gin.Context) {
	id, ok := characterID(c)
	if !ok {
		return
	}
	var req struct {
		Name        *string   `json:"name"`
		Description *string   `json:"description"`
		Tags        *[]string `json:"tags"`
		IsPublic    *bool     `json:"is_public"`
		Regenerate  bool      `json:"regenerate"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondServiceError(c, apierr.New(http.StatusBadRequest, "invalid_request", err))
		return
	}
	updated, regenerating, err := h.characters.Update(c.Request.Context(), id, services.UpdateCharacterInput{
		Name:        req.Name,
		Description: req.Description,
		Tags:        req.Tags,
		IsPublic:    req.IsPublic,
		Regenerate:  req.Regenerate,
	})
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	msg := "Character updated."
	if regenerating {
		msg = "Character updated. AI processing has been restarted."
	}
	response.RespondOK(c, gin.H{
		"status":       "success",
		"message":      msg,
		"regenerating": regenerating,
		"character":    updated,
	})
}

// DELETE /api/characters/:id
func (h *CharacterHandler) Delete(c *gin.Context) {
	id, ok := characterID(c)
	if !ok {
		return
	}
	if err := h.characters.Delete(c.Request.Context(), id); err != nil {
		response.RespondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"status": "success", "message": "Character deleted."})
}

// GET /api/characters/:id/status
func (h *CharacterHandler) Status(c *gin.Context) {
	id, ok := characterID(c)
	if !ok {
		return
	}
	ch, err := h.characters.Status(c.Request.Context(), id)
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{
		"status": "success",
		"result": gin.H{
			"character_id":      ch.ID,
			"name":              ch.Name,
			"processing_status": ch.ProcessingStatus,
		},
	})
}

// POST /api/characters/:id/retry
func (h *CharacterHandler) Retry(c *gin.Context) {
	id, ok := characterID(c)
	if !ok {
		return
	}
	ch, err := h.characters.Retry(c.Request.Context(), id)
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{
		"status":       "success",
		"message":      "Processing restarted.",
		"character_id": ch.ID,
	})
}

// GET /api/characters/:id/export and /api/characters/:id/export/:format
func (h *CharacterHandler) Export(c *gin.Context) {
	id, ok := characterID(c)
	if !ok {
		return
	}
	format := c.Param("format")
	if format == "" {
		format = c.DefaultQuery("format", services.ExportFormatJSON)
	}
	file, err := h.characters.Export(c.Request.Context(), id, format)
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", file.Filename))
	c.Data(http.StatusOK, file.ContentType, file.Body)
}
