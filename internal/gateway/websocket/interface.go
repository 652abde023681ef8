package websocket

import (
	"context"

	"astro_chat_server/internal/service/relay"
)

// FrameHandler is what the gateway hands connections and messages to.
// *relay.Relay implements it; the gateway never routes frames itself.
type FrameHandler interface {
	Connect(conn relay.Conn)
	Disconnect(ctx context.Context, conn relay.Conn)
	HandleMessage(ctx context.Context, conn relay.Conn, raw []byte) error
	Dispatch(ctx context.Context, conn relay.Conn, frame relay.Frame) error
	// Touch is called on every ping tick to keep presence alive.
	Touch(ctx context.Context, conn relay.Conn) error
}

var _ FrameHandler = (*relay.Relay)(nil)
