package router

import (
	"github.com/gin-gonic/gin"
)

// RegisterAuthRoutes OTP login and token refresh, no token required.
func (rt *Router) RegisterAuthRoutes(r *gin.Engine) {
	otpGroup := r.Group("/api/otp")
	{
		otpGroup.POST("/send", rt.handlers.Auth.SendOtp)
		otpGroup.POST("/verify", rt.handlers.Auth.VerifyOtp)
	}
	r.POST("/api/auth/refresh", rt.handlers.Auth.Refresh)
}
