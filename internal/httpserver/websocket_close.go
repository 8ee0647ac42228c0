package httpserver

import (
	"log/slog"

	"github.com/coder/websocket"
)

// closeWebsocket ends a sample stream connection with a normal-closure
// status. A failed close is only worth a debug line; the stream is
// already over.
func closeWebsocket(logger *slog.Logger, conn *websocket.Conn) {
	if conn == nil {
		return
	}
	err := conn.Close(websocket.StatusNormalClosure, "stream closed")
	if err != nil && logger != nil {
		logger.Debug("sample stream close failed", "err", err)
	}
}
