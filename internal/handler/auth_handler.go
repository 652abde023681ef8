package handler

import (
	"astro_chat_server/internal/dto/request"
	"astro_chat_server/internal/service"

	"github.com/gin-gonic/gin"
)

type AuthHandler struct {
	authSvc service.AuthService
}

func NewAuthHandler(authSvc service.AuthService) *AuthHandler {
	return &AuthHandler{authSvc: authSvc}
}

// SendOtp POST /api/otp/send
func (h *AuthHandler) SendOtp(c *gin.Context) {
	var req request.SendOtpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		HandleParamError(c, err)
		return
	}
	if err := h.authSvc.SendOtp(c.Request.Context(), req.Phone); err != nil {
		HandleError(c, err)
		return
	}
	HandleSuccess(c, nil)
}

// VerifyOtp POST /api/otp/verify
// Responds with an access and a refresh token. Logging in again invalidates
// refresh tokens issued earlier for the same phone.
func (h *AuthHandler) VerifyOtp(c *gin.Context) {
	var req request.VerifyOtpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		HandleParamError(c, err)
		return
	}
	tokens, err := h.authSvc.VerifyOtp(c.Request.Context(), req)
	if err != nil {
		HandleError(c, err)
		return
	}
	HandleSuccess(c, tokens)
}

// Refresh POST /api/auth/refresh
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req request.RefreshTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		HandleParamError(c, err)
		return
	}
	tokens, err := h.authSvc.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		HandleError(c, err)
		return
	}
	HandleSuccess(c, tokens)
}
