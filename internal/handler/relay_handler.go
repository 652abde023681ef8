package handler

import (
	"context"
	"net/http"
	"time"

	"astro_chat_server/internal/dto/respond"
	"astro_chat_server/internal/gateway/websocket"
	"astro_chat_server/internal/service/relay"
	"astro_chat_server/pkg/errorx"
	"astro_chat_server/pkg/util/jwt"

	"github.com/gin-gonic/gin"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

// RelayHandler exposes the relay over http: the websocket upgrade and
// the small read-only endpoints the web app polls.
type RelayHandler struct {
	relay      *relay.Relay
	gateway    *websocket.Gateway
	iceServers func() ([]webrtc.ICEServer, error)
}

func NewRelayHandler(r *relay.Relay, gw *websocket.Gateway, iceServers func() ([]webrtc.ICEServer, error)) *RelayHandler {
	return &RelayHandler{relay: r, gateway: gw, iceServers: iceServers}
}

// Socket GET /socket[?token=]
// A valid access token joins its participant id right after the upgrade;
// without one the client must send join-room itself.
func (h *RelayHandler) Socket(c *gin.Context) {
	var joinID string
	if token := c.Query("token"); token != "" {
		claims, err := jwt.ParseToken(token)
		if err != nil || claims.Subject != "access_token" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, ResponseData{
				Code: errorx.CodeUnauthorized,
				Msg:  "token expired or invalid",
			})
			return
		}
		joinID = claims.UserID
	}
	h.gateway.ServeWS(c, joinID)
}

// Online GET /api/relay/online/:id
func (h *RelayHandler) Online(c *gin.Context) {
	id := c.Param("id")
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	online, err := h.relay.Online(ctx, id)
	if err != nil {
		HandleError(c, errorx.Wrap(err, errorx.CodeCacheError, "presence lookup failed"))
		return
	}
	HandleSuccess(c, respond.PresenceRespond{Id: id, Online: online})
}

// ICEServers GET /api/rtc/ice-servers
func (h *RelayHandler) ICEServers(c *gin.Context) {
	servers, err := h.iceServers()
	if err != nil {
		zap.L().Error("ice server config", zap.Error(err))
		HandleError(c, errorx.ErrServerBusy)
		return
	}
	out := make([]respond.ICEServerRespond, 0, len(servers))
	for _, s := range servers {
		out = append(out, respond.ICEServerRespond{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	HandleSuccess(c, out)
}

// Health GET /health
func (h *RelayHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":       "ok",
		"participants": h.relay.Registry().Len(),
		"calls":        h.relay.Calls().Len(),
	})
}
