package request

// SendOtpRequest body of POST /api/otp/send.
type SendOtpRequest struct {
	Phone string `json:"phone" binding:"required,min=8,max=16"`
}

// VerifyOtpRequest body of POST /api/otp/verify.
type VerifyOtpRequest struct {
	Phone string `json:"phone" binding:"required,min=8,max=16"`
	Code  string `json:"code" binding:"required,numeric,min=4,max=8"`
}

// RefreshTokenRequest body of POST /api/auth/refresh.
type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// SettingItem one entry of PUT /api/admin/settings.
type SettingItem struct {
	Key         string `json:"key" binding:"required,max=64"`
	Value       string `json:"value" binding:"required,max=255"`
	Description string `json:"description" binding:"max=255"`
}

// UpdateSettingsRequest body of PUT /api/admin/settings.
type UpdateSettingsRequest struct {
	Settings []SettingItem `json:"settings" binding:"required,min=1,dive"`
}

// ListCallsRequest query of GET /api/calls.
type ListCallsRequest struct {
	ParticipantId string `form:"participant_id"`
	Limit         int    `form:"limit" binding:"omitempty,min=1,max=200"`
}

// ListMessagesRequest query of GET /api/chat/sessions/:sessionId/messages.
type ListMessagesRequest struct {
	Limit int `form:"limit" binding:"omitempty,min=1,max=200"`
}
