package service

import (
	"astro_chat_server/internal/dao/mysql/repository"
	myredis "astro_chat_server/internal/dao/redis"
	"astro_chat_server/internal/infrastructure/sms"
	"astro_chat_server/internal/service/auth"
	"astro_chat_server/internal/service/call"
	"astro_chat_server/internal/service/history"
	"astro_chat_server/internal/service/setting"
	"astro_chat_server/internal/service/upload"
)

// Services aggregates every service for injection into the handlers.
type Services struct {
	Auth    AuthService
	Setting SettingService
	History HistoryService
	Call    CallService
	Upload  UploadService
}

// Deps are the lower layers the services are built on.
type Deps struct {
	Repos       *repository.Repositories
	Cache       myredis.AsyncCacheService
	Sms         sms.SmsService
	IsAdmin     func(phone string) bool
	UploadDir   string
	UploadURL   string
	UploadLimit int64
}

func NewServices(d Deps) *Services {
	return &Services{
		Auth:    auth.NewAuthService(d.Cache, d.Sms, d.IsAdmin),
		Setting: setting.NewSettingService(d.Repos, d.Cache),
		History: history.NewHistoryService(d.Repos, d.Cache),
		Call:    call.NewCallService(d.Repos),
		Upload:  upload.NewUploadService(d.UploadDir, d.UploadURL, d.UploadLimit),
	}
}
