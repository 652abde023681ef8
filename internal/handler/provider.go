// Package handler holds the gin handlers. Each handler wraps one service
// and is built once by NewHandlers.
package handler

import (
	"astro_chat_server/internal/gateway/websocket"
	"astro_chat_server/internal/service"
	"astro_chat_server/internal/service/relay"

	"github.com/pion/webrtc/v4"
)

// Handlers is what the router registers routes against.
type Handlers struct {
	Auth    *AuthHandler
	Setting *SettingHandler
	History *HistoryHandler
	Call    *CallHandler
	Upload  *UploadHandler
	Relay   *RelayHandler
}

func NewHandlers(svc *service.Services, r *relay.Relay, gw *websocket.Gateway, iceServers func() ([]webrtc.ICEServer, error)) *Handlers {
	return &Handlers{
		Auth:    NewAuthHandler(svc.Auth),
		Setting: NewSettingHandler(svc.Setting),
		History: NewHistoryHandler(svc.History),
		Call:    NewCallHandler(svc.Call),
		Upload:  NewUploadHandler(svc.Upload),
		Relay:   NewRelayHandler(r, gw, iceServers),
	}
}
