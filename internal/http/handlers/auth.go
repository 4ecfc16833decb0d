package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/kanda-backend/internal/http/response"
	"github.com/yungbote/kanda-backend/internal/platform/apierr"
	"github.com/yungbote/kanda-backend/internal/services"
)

type AuthHandler struct {
	authService services.AuthService
}

func NewAuthHandler(authService services.AuthService) *AuthHandler {
	return &AuthHandler{authService: authService}
}

// POST /api/register
func (ah *AuthHandler) Register(c *gin.Context) {
	var req struct {
		Username  string `json:"username" binding:"omitempty,max=150"`
		Email     string `json:"email" binding:"required,email"`
		Password  string `json:"password" binding:"required,min=8"`
		FirstName string `json:"first_name" binding:"max=150"`
		LastName  string `json:"last_name" binding:"max=150"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondServiceError(c, apierr.New(http.StatusBadRequest, "invalid_request", err))
		return
	}
	u, err := ah.authService.Register(c.Request.Context(), services.RegisterInput{
		Username:  req.Username,
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	response.RespondCreated(c, gin.H{
		"status":  "success",
		"message": "Registration complete. Check your e-mail to activate your account.",
		"user":    u,
	})
}

// GET /api/activate/:token
func (ah *AuthHandler) Activate(c *gin.Context) {
	alreadyActive, err := ah.authService.Activate(c.Request.Context(), c.Param("token"))
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	msg := "Account activated. You can now log in."
	if alreadyActive {
		msg = "Account is already active."
	}
	response.RespondOK(c, gin.H{"status": "success", "message": msg})
}

// POST /api/resend-activation
func (ah *AuthHandler) ResendActivation(c *gin.Context) {
	var req struct {
		Email string `json:"email" binding:"required,email"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondServiceError(c, apierr.New(http.StatusBadRequest, "invalid_request", err))
		return
	}
	if err := ah.authService.ResendActivation(c.Request.Context(), req.Email); err != nil {
		response.RespondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{
		"status":  "success",
		"message": "If the account exists and is inactive, a new activation e-mail has been sent.",
	})
}

// POST /api/login
func (ah *AuthHandler) Login(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondServiceError(c, apierr.New(http.StatusBadRequest, "invalid_request", err))
		return
	}
	res, err := ah.authService.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		response.RespondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{
		"status":     "success",
		"token":      res.Token,
		"expires_in": int(res.ExpiresIn.Seconds()),
		"user":       res.User,
	})
}

// POST /api/logout
func (ah *AuthHandler) Logout(c *gin.Context) {
	if err := ah.authService.Logout(c.Request.Context()); err != nil {
		response.RespondServiceError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"status": "success"})
}
