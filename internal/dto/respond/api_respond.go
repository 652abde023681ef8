package respond

// TokenRespond is returned by OTP verification and token refresh.
type TokenRespond struct {
	UserId       string `json:"user_id"`
	Role         string `json:"role"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// SettingRespond one admin setting.
type SettingRespond struct {
	Key         string `json:"key"`
	Value       string `json:"value"`
	Description string `json:"description"`
	UpdatedAt   string `json:"updated_at"`
}

// CallSessionRespond one call history row.
type CallSessionRespond struct {
	CallId     string `json:"call_id"`
	CallerId   string `json:"caller_id"`
	CalleeId   string `json:"callee_id"`
	CallerName string `json:"caller_name"`
	Status     string `json:"status"`
	EndReason  string `json:"end_reason,omitempty"`
	StartedAt  string `json:"started_at,omitempty"`
	AnsweredAt string `json:"answered_at,omitempty"`
	EndedAt    string `json:"ended_at,omitempty"`
}

// UploadRespond is returned as-is by POST /upload, outside the {code,msg,data} envelope.
type UploadRespond struct {
	Ok           bool   `json:"ok"`
	Url          string `json:"url"`
	OriginalName string `json:"originalName"`
	MimeType     string `json:"mimeType"`
}

// PresenceRespond answers GET /api/relay/online/:id.
type PresenceRespond struct {
	Id     string `json:"id"`
	Online bool   `json:"online"`
}

// ICEServerRespond mirrors RTCIceServer.
type ICEServerRespond struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential any      `json:"credential,omitempty"`
}
