package approuters

import (
	"github.com/gin-gonic/gin"

	"github.com/derek-dv/errand-backend/internal/configuration"
	"github.com/derek-dv/errand-backend/internal/handler"
)

func ChatRouters(router *gin.Engine, container *configuration.Container) {
	chat := router.Group("/api/chat")
	chat.Use(handler.AuthRequired(container.Tokens, container.Users))
	{
		chat.GET("/conversations", container.ChatHandler.ListConversations)
		chat.GET("/conversations/:id", container.ChatHandler.GetConversation)
		chat.POST("/conversations", container.ChatHandler.CreateConversation)
		chat.POST("/conversations/:id/messages", container.ChatHandler.SendMessage)
		chat.PUT("/conversations/:id/read", container.ChatHandler.MarkRead)
		chat.PUT("/conversations/:id/archive", container.ChatHandler.ArchiveConversation)
		chat.PUT("/conversations/:id/close", container.ChatHandler.CloseConversation)
		chat.GET("/unread-count", container.ChatHandler.UnreadCount)
	}
}
