package hub

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/derek-dv/errand-backend/internal/apperr"
	"github.com/derek-dv/errand-backend/internal/auth"
	"github.com/derek-dv/errand-backend/internal/event"
	"github.com/derek-dv/errand-backend/internal/model"
	"github.com/derek-dv/errand-backend/internal/repo"
	"github.com/derek-dv/errand-backend/internal/service"
)

// ChatHandler processes the realtime event protocol: authentication, room
// membership, typing, presence and message sending. Every failure is
// reported as a typed event to the originating connection only; the
// connection itself is never terminated on error.
type ChatHandler struct {
	hub    *Hub
	chats  service.ChatService
	store  repo.ConversationRepository
	users  repo.UserRepository
	tokens *auth.TokenManager
	logger *zap.Logger
}

func NewChatHandler(hub *Hub, chats service.ChatService, store repo.ConversationRepository, users repo.UserRepository, tokens *auth.TokenManager, logger *zap.Logger) *ChatHandler {
	return &ChatHandler{
		hub:    hub,
		chats:  chats,
		store:  store,
		users:  users,
		tokens: tokens,
		logger: logger,
	}
}

func (ch *ChatHandler) HandleEvent(ev event.WsEvent, c *Client) {
	switch ev.Event {
	case event.EventAuthenticate:
		ch.handleAuthenticate(ev, c)
	case event.EventJoinChat:
		ch.handleJoinChat(ev, c)
	case event.EventLeaveChat:
		ch.handleLeaveChat(ev, c)
	case event.EventTypingStart:
		ch.handleTypingStart(ev, c)
	case event.EventTypingStop:
		ch.handleTypingStop(ev, c)
	case event.EventUpdateStatus:
		ch.handleUpdateStatus(ev, c)
	case event.EventSendMessage:
		ch.handleSendMessage(ev, c)
	default:
		ch.logger.Debug("unknown event type", zap.String("event", ev.Event))
	}
}

// handleAuthenticate verifies the credential token, resolves the identity
// and binds it to this connection. Re-authentication replaces the binding
// idempotently; a previous identity on the same connection is unbound first.
func (ch *ChatHandler) handleAuthenticate(ev event.WsEvent, c *Client) {
	var payload event.AuthenticatePayload
	if err := json.Unmarshal(ev.Payload, &payload); err != nil {
		ch.sendAuthError(c, "Authentication failed")
		return
	}

	claims, err := ch.tokens.Validate(payload.Token)
	if err != nil {
		ch.logger.Debug("socket authentication failed", zap.Error(err))
		ch.sendAuthError(c, apperr.Message(err))
		return
	}

	user, err := ch.users.GetUser(context.Background(), claims.UserID)
	if err != nil {
		ch.sendAuthError(c, "Authentication failed")
		return
	}

	if prev := c.Identity(); prev != nil && prev.ID != user.ID {
		ch.hub.presence.Unbind(prev.ID.Hex(), c.ID)
	}

	c.bindIdentity(user)
	ch.hub.presence.Bind(user.ID.Hex(), c)

	ch.logger.Info("socket authenticated",
		zap.String("user_id", user.ID.Hex()),
		zap.String("client_id", c.ID),
	)

	c.SafeSend(event.New(event.EventAuthSuccess, event.AuthSuccessPayload{User: userRef(user)}), sendTimeout)

	ch.broadcastPresence(user.ID.Hex(), StatusOnline)
}

func (ch *ChatHandler) handleJoinChat(ev event.WsEvent, c *Client) {
	user, ok := ch.requireAuth(c)
	if !ok {
		return
	}

	var payload event.ChatRef
	if err := json.Unmarshal(ev.Payload, &payload); err != nil || payload.ChatID == "" {
		ch.sendError(c, apperr.Validation("Chat ID required"))
		return
	}

	conv, err := ch.store.GetByID(context.Background(), payload.ChatID)
	if err != nil {
		ch.sendError(c, err)
		return
	}
	if !conv.IsParticipant(user.ID.Hex()) {
		ch.sendError(c, apperr.Authorization("Access denied"))
		return
	}

	ch.hub.JoinRoom(c, payload.ChatID)

	c.SafeSend(event.New(event.EventChatJoined, event.ChatRef{ChatID: payload.ChatID}), sendTimeout)

	ch.hub.publishToRoomExcept(payload.ChatID, event.New(event.EventUserJoinedChat, event.ChatUserPayload{
		ChatID: payload.ChatID,
		User:   userRef(user),
	}), c)
}

func (ch *ChatHandler) handleLeaveChat(ev event.WsEvent, c *Client) {
	user, ok := ch.requireAuth(c)
	if !ok {
		return
	}

	var payload event.ChatRef
	if err := json.Unmarshal(ev.Payload, &payload); err != nil || payload.ChatID == "" {
		return
	}

	ch.leaveRoom(c, user, payload.ChatID)

	c.SafeSend(event.New(event.EventChatLeft, event.ChatRef{ChatID: payload.ChatID}), sendTimeout)
}

// leaveRoom removes the connection from the room, stops its typing entry
// and notifies the remaining members. Idempotent.
func (ch *ChatHandler) leaveRoom(c *Client, user *model.User, chatID string) {
	ch.hub.LeaveRoom(c, chatID)

	if ch.hub.typing.Stop(chatID, user.ID.Hex()) {
		ch.broadcastTypingStop(chatID, user.ID.Hex(), c)
	}

	ch.hub.publishToRoomExcept(chatID, event.New(event.EventUserLeftChat, event.ChatUserPayload{
		ChatID: chatID,
		User:   userRef(user),
	}), c)
}

func (ch *ChatHandler) handleTypingStart(ev event.WsEvent, c *Client) {
	user, ok := ch.requireAuth(c)
	if !ok {
		return
	}

	var payload event.ChatRef
	if err := json.Unmarshal(ev.Payload, &payload); err != nil || payload.ChatID == "" {
		return
	}
	// membership was checked at join time; an unjoined room is rejected here
	if !c.hasJoined(payload.ChatID) {
		ch.sendError(c, apperr.Authorization("Access denied"))
		return
	}

	ch.hub.typing.Start(payload.ChatID, user.ID.Hex())

	ch.hub.publishToRoomExcept(payload.ChatID, event.New(event.EventUserTypingStart, event.ChatUserPayload{
		ChatID: payload.ChatID,
		User:   userRef(user),
	}), c)
}

func (ch *ChatHandler) handleTypingStop(ev event.WsEvent, c *Client) {
	user, ok := ch.requireAuth(c)
	if !ok {
		return
	}

	var payload event.ChatRef
	if err := json.Unmarshal(ev.Payload, &payload); err != nil || payload.ChatID == "" {
		return
	}

	ch.hub.typing.Stop(payload.ChatID, user.ID.Hex())
	ch.broadcastTypingStop(payload.ChatID, user.ID.Hex(), c)
}

func (ch *ChatHandler) handleUpdateStatus(ev event.WsEvent, c *Client) {
	user, ok := ch.requireAuth(c)
	if !ok {
		return
	}

	var payload event.UpdateStatusPayload
	if err := json.Unmarshal(ev.Payload, &payload); err != nil {
		ch.sendError(c, apperr.Validation("Invalid status"))
		return
	}

	if err := ch.hub.presence.SetStatus(user.ID.Hex(), payload.Status); err != nil {
		ch.sendError(c, err)
		return
	}

	c.SafeSend(event.New(event.EventStatusUpdated, event.StatusUpdatedPayload{Status: payload.Status}), sendTimeout)

	ch.broadcastPresence(user.ID.Hex(), payload.Status)
}

func (ch *ChatHandler) handleSendMessage(ev event.WsEvent, c *Client) {
	user, ok := ch.requireAuth(c)
	if !ok {
		return
	}

	var payload event.SendMessagePayload
	if err := json.Unmarshal(ev.Payload, &payload); err != nil || payload.ChatID == "" {
		ch.sendError(c, apperr.Validation("Chat ID required"))
		return
	}

	// persistence and fanout happen in the service; store writes are not
	// tied to the connection's lifetime
	_, err := ch.chats.Send(context.Background(), user.ID.Hex(), payload.ChatID, payload.Message, payload.MessageType, payload.ImageURL)
	if err != nil {
		ch.sendError(c, err)
	}
}

// handleDisconnect tears down all ephemeral state of a connection in one
// invocation: typing entries, room memberships, then the presence binding.
func (ch *ChatHandler) handleDisconnect(c *Client) {
	user := c.Identity()
	if user == nil {
		return
	}
	userID := user.ID.Hex()

	for _, chatID := range ch.hub.typing.ClearAll(userID) {
		ch.broadcastTypingStop(chatID, userID, c)
	}

	for _, chatID := range c.joinedRooms() {
		ch.hub.LeaveRoom(c, chatID)
		ch.hub.publishToRoomExcept(chatID, event.New(event.EventUserLeftChat, event.ChatUserPayload{
			ChatID: chatID,
			User:   userRef(user),
		}), c)
	}

	if ch.hub.presence.Unbind(userID, c.ID) {
		ch.broadcastPresence(userID, StatusOffline)
	}

	ch.logger.Info("socket disconnected",
		zap.String("user_id", userID),
		zap.String("client_id", c.ID),
	)
}

// broadcastPresence emits a status-changed event to every identity sharing
// at least one active conversation with userID. Not a global broadcast.
func (ch *ChatHandler) broadcastPresence(userID, status string) {
	peers, err := ch.store.ActivePeerIDs(context.Background(), userID)
	if err != nil {
		ch.logger.Warn("presence broadcast failed",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return
	}

	ev := event.New(event.EventUserStatusUpdate, event.UserStatusUpdatePayload{
		UserID:    userID,
		Status:    status,
		Timestamp: time.Now().UTC(),
	})
	for _, peer := range peers {
		ch.hub.SendToUser(peer, ev)
	}
}

func (ch *ChatHandler) broadcastTypingStop(chatID, userID string, except *Client) {
	ref := event.UserRef{ID: userID}
	if conns := ch.hub.presence.ConnectionsOf(userID); len(conns) > 0 {
		if u := conns[0].Identity(); u != nil {
			ref = userRef(u)
		}
	}

	ch.hub.publishToRoomExcept(chatID, event.New(event.EventUserTypingStop, event.ChatUserPayload{
		ChatID: chatID,
		User:   ref,
	}), except)
}

func (ch *ChatHandler) requireAuth(c *Client) (*model.User, bool) {
	user := c.Identity()
	if user == nil {
		ch.sendError(c, apperr.Authentication("Not authenticated"))
		return nil, false
	}
	return user, true
}

func (ch *ChatHandler) sendError(c *Client, err error) {
	c.SafeSend(event.New(event.EventError, event.ErrorPayload{
		Code:    apperr.Code(err),
		Message: apperr.Message(err),
	}), sendTimeout)
}

func (ch *ChatHandler) sendAuthError(c *Client, msg string) {
	c.SafeSend(event.New(event.EventAuthError, event.ErrorPayload{Message: msg}), sendTimeout)
}

func userRef(u *model.User) event.UserRef {
	return event.UserRef{
		ID:           u.ID.Hex(),
		FullName:     u.FullName,
		ProfilePhoto: u.ProfilePhoto,
	}
}
