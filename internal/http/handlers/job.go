package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/kanda-backend/internal/http/response"
	"github.com/yungbote/kanda-backend/internal/pkg/ctxutil"
	"github.com/yungbote/kanda-backend/internal/pkg/dbctx"
	apperrors "github.com/yungbote/kanda-backend/internal/pkg/errors"
	"github.com/yungbote/kanda-backend/internal/services"
)

type JobHandler struct {
	jobs       services.JobService
	characters services.CharacterService
}

func NewJobHandler(jobs services.JobService, characters services.CharacterService) *JobHandler {
	return &JobHandler{jobs: jobs, characters: characters}
}

// GET /api/characters/:id/job returns the most recent enrichment job.
func (h *JobHandler) LatestForCharacter(c *gin.Context) {
	id, ok := characterID(c)
	if !ok {
		return
	}
	ch, err := h.characters.Status(c.Request.Context(), id)
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	rd := ctxutil.GetRequestData(c.Request.Context())
	if rd == nil || rd.UserID != ch.OwnerUserID {
		response.RespondServiceError(c, apperrors.ErrForbidden)
		return
	}
	job, err := h.jobs.GetLatestForCharacter(dbctx.Context{Ctx: c.Request.Context()}, ch.OwnerUserID, ch.ID)
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	if job == nil {
		response.RespondError(c, http.StatusNotFound, "job_not_found", apperrors.ErrNotFound)
		return
	}
	response.RespondOK(c, gin.H{"job": job})
}
