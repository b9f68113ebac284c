package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/derek-dv/errand-backend/internal/apperr"
	"github.com/derek-dv/errand-backend/internal/model"
	"github.com/derek-dv/errand-backend/internal/repo"
	"github.com/derek-dv/errand-backend/internal/service"
)

// ChatHandler serves the synchronous companion surface of the chat core.
type ChatHandler interface {
	ListConversations(c *gin.Context)
	GetConversation(c *gin.Context)
	CreateConversation(c *gin.Context)
	SendMessage(c *gin.Context)
	MarkRead(c *gin.Context)
	ArchiveConversation(c *gin.Context)
	CloseConversation(c *gin.Context)
	UnreadCount(c *gin.Context)
}

type chatHandler struct {
	chats    service.ChatService
	validate *validator.Validate
}

func NewChatHandler(chats service.ChatService) ChatHandler {
	return &chatHandler{
		chats:    chats,
		validate: validator.New(),
	}
}

type createConversationRequest struct {
	RecipientID string `json:"recipientId" validate:"required"`
	Message     string `json:"message" validate:"required,min=1,max=1000"`
	DeliveryID  string `json:"deliveryId" validate:"omitempty"`
	ChatType    string `json:"chatType" validate:"omitempty,oneof=delivery_related general_inquiry"`
}

type sendMessageRequest struct {
	Message     string `json:"message" validate:"omitempty,max=1000"`
	MessageType string `json:"messageType" validate:"omitempty,oneof=text image"`
	ImageURL    string `json:"imageUrl"`
}

type markReadRequest struct {
	MessageIDs []string `json:"messageIds"`
}

func (h *chatHandler) ListConversations(c *gin.Context) {
	user := currentUser(c)

	limit, _ := strconv.ParseInt(c.DefaultQuery("limit", "20"), 10, 64)
	skip, _ := strconv.ParseInt(c.DefaultQuery("skip", "0"), 10, 64)

	chats, err := h.chats.List(c.Request.Context(), user.ID.Hex(), repo.ListQuery{
		Status:          c.DefaultQuery("status", model.StatusActive),
		Limit:           limit,
		Skip:            skip,
		IncludeArchived: c.Query("includeArchived") == "true",
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "chats": chats})
}

func (h *chatHandler) GetConversation(c *gin.Context) {
	user := currentUser(c)

	page, err := strconv.ParseInt(c.DefaultQuery("page", "1"), 10, 64)
	if err != nil || page < 1 {
		respondError(c, apperr.Validation("invalid page number"))
		return
	}

	chat, messages, err := h.chats.Get(c.Request.Context(), user.ID.Hex(), c.Param("id"), page)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "chat": chat, "messages": messages})
}

func (h *chatHandler) CreateConversation(c *gin.Context) {
	user := currentUser(c)

	var req createConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperr.Validation("invalid request body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		respondError(c, apperr.Validation(err.Error()))
		return
	}

	chat, err := h.chats.CreateOrGet(c.Request.Context(), user.ID.Hex(), req.RecipientID, req.DeliveryID, req.ChatType, req.Message)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "chat": chat})
}

func (h *chatHandler) SendMessage(c *gin.Context) {
	user := currentUser(c)

	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperr.Validation("invalid request body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		respondError(c, apperr.Validation(err.Error()))
		return
	}

	message, err := h.chats.Send(c.Request.Context(), user.ID.Hex(), c.Param("id"), req.Message, req.MessageType, req.ImageURL)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "message": message})
}

func (h *chatHandler) MarkRead(c *gin.Context) {
	user := currentUser(c)

	var req markReadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperr.Validation("invalid request body"))
		return
	}

	chat, err := h.chats.MarkRead(c.Request.Context(), user.ID.Hex(), c.Param("id"), req.MessageIDs)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "chat": chat})
}

func (h *chatHandler) ArchiveConversation(c *gin.Context) {
	user := currentUser(c)

	chat, err := h.chats.Archive(c.Request.Context(), user.ID.Hex(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "chat": chat})
}

func (h *chatHandler) CloseConversation(c *gin.Context) {
	user := currentUser(c)

	chat, err := h.chats.Close(c.Request.Context(), user.ID.Hex(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "chat": chat})
}

func (h *chatHandler) UnreadCount(c *gin.Context) {
	user := currentUser(c)

	summary, err := h.chats.UnreadSummary(c.Request.Context(), user.ID.Hex())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "unread": summary})
}

func respondError(c *gin.Context, err error) {
	c.JSON(apperr.HTTPStatus(err), gin.H{
		"success": false,
		"message": apperr.Message(err),
	})
}
