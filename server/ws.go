// server/ws.go
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// 本地看板，不做跨域检查
	CheckOrigin: func(r *http.Request) bool { return true },
}

const wsWriteTimeout = 10 * time.Second

// GET /api/v1/events — 把任务生命周期事件推给看板
func (h *apiHandler) eventsFeed(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.WithError(err).Debug("websocket upgrade")
		return
	}
	defer conn.Close()

	// 劫持后请求上下文不可靠，订阅生命周期跟着连接走
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := h.events.Subscribe(ctx)
	if err != nil {
		h.log.WithError(err).Error("subscribe events")
		return
	}

	// 读协程只为发现对端关闭
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case event, ok := <-events:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(event); err != nil {
				h.log.WithError(err).Debug("websocket write")
				return
			}
		case <-done:
			return
		case <-ctx.Done():
			return
		}
	}
}
