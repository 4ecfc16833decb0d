package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/kanda-backend/internal/http/response"
	"github.com/yungbote/kanda-backend/internal/platform/apierr"
	"github.com/yungbote/kanda-backend/internal/services"
)

// StoryHandler serves universes, rooms and the stories played in them.
type StoryHandler struct {
	stories services.StorytellingService
}

func NewStoryHandler(stories services.StorytellingService) *StoryHandler {
	return &StoryHandler{stories: stories}
}

func pathID(c *gin.Context, code string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondServiceError(c, apierr.New(http.StatusBadRequest, code, err))
		return uuid.Nil, false
	}
	return id, true
}

func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		response.RespondServiceError(c, apierr.New(http.StatusBadRequest, "invalid_request", err))
		return false
	}
	return true
}

type universeRequest struct {
	Name                 *string `json:"name"`
	Description          *string `json:"description"`
	Context              *string `json:"context"`
	Rules                *string `json:"rules"`
	CoverImage           *string `json:"cover_image"`
	BackgroundImage      *string `json:"background_image"`
	TimePeriod           *string `json:"time_period"`
	Location             *string `json:"location"`
	TechnologyLevel      *string `json:"technology_level"`
	MagicAllowed         *bool   `json:"magic_allowed"`
	SupernaturalElements *bool   `json:"supernatural_elements"`
	IsPublic             *bool   `json:"is_public"`
}

func (r universeRequest) input() services.UniverseInput {
	return services.UniverseInput{
		Name:                 r.Name,
		Description:          r.Description,
		Context:              r.Context,
		Rules:                r.Rules,
		CoverImage:           r.CoverImage,
		BackgroundImage:      r.BackgroundImage,
		TimePeriod:           r.TimePeriod,
		Location:             r.Location,
		TechnologyLevel:      r.TechnologyLevel,
		MagicAllowed:         r.MagicAllowed,
		SupernaturalElements: r.SupernaturalElements,
		IsPublic:             r.IsPublic,
	}
}

// GET /api/universes
func (h *StoryHandler) ListUniverses(c *gin.Context) {
	list, err := h.stories.ListUniverses(c.Request.Context())
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"status": "success", "count": len(list), "universes": list})
}

// POST /api/universes
func (h *StoryHandler) CreateUniverse(c *gin.Context) {
	var req universeRequest
	if !bindJSON(c, &req) {
		return
	}
	u, err := h.stories.CreateUniverse(c.Request.Context(), req.input())
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	response.RespondCreated(c, gin.H{"status": "success", "universe": u})
}

// GET /api/universes/:id
func (h *StoryHandler) GetUniverse(c *gin.Context) {
	id, ok := pathID(c, "invalid_universe_id")
	if !ok {
		return
	}
	u, err := h.stories.GetUniverse(c.Request.Context(), id)
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"status": "success", "universe": u})
}

// PUT /api/universes/:id
func (h *StoryHandler) UpdateUniverse(c *gin.Context) {
	id, ok := pathID(c, "invalid_universe_id")
	if !ok {
		return
	}
	var req universeRequest
	if !bindJSON(c, &req) {
		return
	}
	u, err := h.stories.UpdateUniverse(c.Request.Context(), id, req.input())
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"status": "success", "universe": u})
}

// DELETE /api/universes/:id
func (h *StoryHandler) DeleteUniverse(c *gin.Context) {
	id, ok := pathID(c, "invalid_universe_id")
	if !ok {
		return
	}
	if err := h.stories.DeleteUniverse(c.Request.Context(), id); err != nil {
		response.RespondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"status": "success", "message": "Universe deleted."})
}

func roomPayload(v *services.RoomView) gin.H {
	return gin.H{"status": "success", "room": v.Room, "participants": v.Participants}
}

// GET /api/rooms
func (h *StoryHandler) ListRooms(c *gin.Context) {
	list, err := h.stories.ListRooms(c.Request.Context())
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"status": "success", "count": len(list), "rooms": list})
}

// GET /api/rooms/mine
func (h *StoryHandler) MyRooms(c *gin.Context) {
	list, err := h.stories.MyRooms(c.Request.Context())
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"status": "success", "count": len(list), "rooms": list})
}

// GET /api/rooms/joined
func (h *StoryHandler) JoinedRooms(c *gin.Context) {
	list, err := h.stories.JoinedRooms(c.Request.Context())
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"status": "success", "count": len(list), "rooms": list})
}

// POST /api/rooms
func (h *StoryHandler) CreateRoom(c *gin.Context) {
	var req struct {
		Name            string    `json:"name" binding:"required"`
		Description     string    `json:"description"`
		UniverseID      uuid.UUID `json:"universe" binding:"required"`
		IsPublic        bool      `json:"is_public"`
		MaxPlayers      int       `json:"max_players"`
		TotalChapters   int       `json:"total_chapters"`
		DiscussionTime  int       `json:"discussion_time"`
		AllowDiscussion *bool     `json:"allow_discussion"`
	}
	if !bindJSON(c, &req) {
		return
	}
	v, err := h.stories.CreateRoom(c.Request.Context(), services.CreateRoomInput{
		Name:            req.Name,
		Description:     req.Description,
		UniverseID:      req.UniverseID,
		IsPublic:        req.IsPublic,
		MaxPlayers:      req.MaxPlayers,
		TotalChapters:   req.TotalChapters,
		DiscussionTime:  req.DiscussionTime,
		AllowDiscussion: req.AllowDiscussion,
	})
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	response.RespondCreated(c, roomPayload(v))
}

// GET /api/rooms/:id
func (h *StoryHandler) GetRoom(c *gin.Context) {
	id, ok := pathID(c, "invalid_room_id")
	if !ok {
		return
	}
	v, err := h.stories.GetRoom(c.Request.Context(), id)
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	response.RespondOK(c, roomPayload(v))
}

// GET /api/rooms/:id/participants
func (h *StoryHandler) ListParticipants(c *gin.Context) {
	id, ok := pathID(c, "invalid_room_id")
	if !ok {
		return
	}
	v, err := h.stories.GetRoom(c.Request.Context(), id)
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"status": "success", "count": len(v.Participants), "participants": v.Participants})
}

// POST /api/rooms/:id/join
func (h *StoryHandler) JoinRoom(c *gin.Context) {
	id, ok := pathID(c, "invalid_room_id")
	if !ok {
		return
	}
	var req struct {
		AccessCode string `json:"access_code"`
	}
	if c.Request.ContentLength > 0 && !bindJSON(c, &req) {
		return
	}
	v, err := h.stories.JoinRoom(c.Request.Context(), id, req.AccessCode)
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	response.RespondOK(c, roomPayload(v))
}

// POST /api/rooms/join-code
func (h *StoryHandler) JoinWithCode(c *gin.Context) {
	var req struct {
		AccessCode string `json:"access_code" binding:"required"`
	}
	if !bindJSON(c, &req) {
		return
	}
	v, err := h.stories.JoinRoomWithCode(c.Request.Context(), req.AccessCode)
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	response.RespondOK(c, roomPayload(v))
}

// POST /api/rooms/:id/leave
func (h *StoryHandler) LeaveRoom(c *gin.Context) {
	id, ok := pathID(c, "invalid_room_id")
	if !ok {
		return
	}
	if err := h.stories.LeaveRoom(c.Request.Context(), id); err != nil {
		response.RespondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"status": "success", "message": "You left the room."})
}

// PATCH /api/participants/:id
func (h *StoryHandler) UpdateParticipant(c *gin.Context) {
	id, ok := pathID(c, "invalid_participant_id")
	if !ok {
		return
	}
	var req struct {
		IsReady    *bool        `json:"is_ready"`
		Characters *[]uuid.UUID `json:"characters"`
	}
	if !bindJSON(c, &req) {
		return
	}
	p, err := h.stories.UpdateParticipant(c.Request.Context(), id, services.ParticipantUpdate{
		IsReady:      req.IsReady,
		CharacterIDs: req.Characters,
	})
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"status": "success", "participant": p})
}

// POST /api/rooms/:id/start
func (h *StoryHandler) StartGame(c *gin.Context) {
	id, ok := pathID(c, "invalid_room_id")
	if !ok {
		return
	}
	st, err := h.stories.StartGame(c.Request.Context(), id)
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"status": "success", "message": "The game has started.", "story": st})
}

// POST /api/rooms/:id/actions
func (h *StoryHandler) SubmitAction(c *gin.Context) {
	id, ok := pathID(c, "invalid_room_id")
	if !ok {
		return
	}
	var req struct {
		ChapterID  uuid.UUID `json:"chapter_id" binding:"required"`
		ActionText string    `json:"action_text" binding:"required"`
	}
	if !bindJSON(c, &req) {
		return
	}
	a, err := h.stories.SubmitAction(c.Request.Context(), id, req.ChapterID, req.ActionText)
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	response.RespondCreated(c, gin.H{"status": "success", "action": a})
}

// POST /api/rooms/:id/narrative
func (h *StoryHandler) GenerateNarrative(c *gin.Context) {
	id, ok := pathID(c, "invalid_room_id")
	if !ok {
		return
	}
	res, err := h.stories.GenerateNarrative(c.Request.Context(), id)
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{
		"status":    "success",
		"narrative": res.Narrative,
		"chapter":   res.Chapter,
		"finished":  res.Finished,
	})
}

// GET /api/rooms/:id/story
func (h *StoryHandler) GetRoomStory(c *gin.Context) {
	id, ok := pathID(c, "invalid_room_id")
	if !ok {
		return
	}
	st, err := h.stories.GetRoomStory(c.Request.Context(), id)
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"status": "success", "story": st})
}

// GET /api/stories/:id
func (h *StoryHandler) GetStory(c *gin.Context) {
	id, ok := pathID(c, "invalid_story_id")
	if !ok {
		return
	}
	st, err := h.stories.GetStory(c.Request.Context(), id)
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"status": "success", "story": st})
}

// GET /api/stories/:id/chapters
func (h *StoryHandler) ListChapters(c *gin.Context) {
	id, ok := pathID(c, "invalid_story_id")
	if !ok {
		return
	}
	list, err := h.stories.ListChapters(c.Request.Context(), id)
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"status": "success", "count": len(list), "chapters": list})
}

// GET /api/chapters/:id
func (h *StoryHandler) GetChapter(c *gin.Context) {
	id, ok := pathID(c, "invalid_chapter_id")
	if !ok {
		return
	}
	ch, err := h.stories.GetChapter(c.Request.Context(), id)
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"status": "success", "chapter": ch})
}

// GET /api/chapters/:id/actions
func (h *StoryHandler) ListActions(c *gin.Context) {
	id, ok := pathID(c, "invalid_chapter_id")
	if !ok {
		return
	}
	list, err := h.stories.ListActions(c.Request.Context(), id)
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"status": "success", "count": len(list), "actions": list})
}
