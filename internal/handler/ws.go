package handler

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/psds-microservice/support-chat-service/internal/service"
	"github.com/psds-microservice/support-chat-service/internal/ws"
)

// ServeWS — GET /ws?user_id=... Апгрейд соединения и запуск сессии.
// Идентификация здесь такая же доверительная, как в остальном API:
// аутентификацию делает внешний периметр.
func ServeWS(hub *ws.Hub, chat *service.ChatService, allowedOrigin string) gin.HandlerFunc {
	upgrader := ws.Upgrader(allowedOrigin)
	return func(c *gin.Context) {
		userID := c.Query("user_id")
		if userID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
			return
		}
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Printf("ws: upgrade: %v", err)
			return
		}
		s := ws.NewSession(hub, conn, chat, userID)
		hub.Add(s)
		s.Start()
	}
}
