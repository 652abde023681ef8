// Package service defines the business interfaces used by the HTTP handlers.
package service

import (
	"context"
	"mime/multipart"

	"astro_chat_server/internal/dto/request"
	"astro_chat_server/internal/dto/respond"
	"astro_chat_server/internal/service/relay"
)

// AuthService handles OTP login and token refresh.
type AuthService interface {
	SendOtp(ctx context.Context, phone string) error
	VerifyOtp(ctx context.Context, req request.VerifyOtpRequest) (*respond.TokenRespond, error)
	Refresh(ctx context.Context, refreshToken string) (*respond.TokenRespond, error)
}

// SettingService reads and updates admin settings.
type SettingService interface {
	List(ctx context.Context) ([]respond.SettingRespond, error)
	Get(ctx context.Context, key string) (*respond.SettingRespond, error)
	Update(ctx context.Context, items []request.SettingItem) ([]respond.SettingRespond, error)
}

// HistoryService reads stored chat messages.
type HistoryService interface {
	SessionMessages(ctx context.Context, requesterID, sessionID string, limit int) ([]respond.ChatMessageRespond, error)
}

// CallService records and lists calls.
type CallService interface {
	relay.CallRecorder
	ListByParticipant(participantID string, limit int) ([]respond.CallSessionRespond, error)
}

// UploadService stores chat media.
type UploadService interface {
	Save(fileHeader *multipart.FileHeader) (*respond.UploadRespond, error)
}
