package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/yungbote/kanda-backend/internal/http/response"
	"github.com/yungbote/kanda-backend/internal/services"
)

type StatisticsHandler struct {
	characters services.CharacterService
}

func NewStatisticsHandler(characters services.CharacterService) *StatisticsHandler {
	return &StatisticsHandler{characters: characters}
}

// GET /api/statistics/user
func (h *StatisticsHandler) User(c *gin.Context) {
	stats, err := h.characters.UserStatistics(c.Request.Context())
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{
		"status":            "success",
		"statistics":        stats.Statistics,
		"recent_characters": stats.RecentCharacters,
		"failed_characters": stats.FailedCharacters,
	})
}

// GET /api/statistics/admin
func (h *StatisticsHandler) Admin(c *gin.Context) {
	stats, err := h.characters.AdminStatistics(c.Request.Context())
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{
		"status":            "success",
		"global_statistics": stats.GlobalStatistics,
		"user_statistics":   stats.UserStatistics,
		"top_users":         stats.TopUsers,
		"recent_characters": stats.RecentCharacters,
		"failed_characters": stats.FailedCharacters,
	})
}
