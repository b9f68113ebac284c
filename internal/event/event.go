package event

import (
	"encoding/json"
	"time"
)

// Client -> Server events
const (
	EventAuthenticate = "authenticate"
	EventJoinChat     = "join_chat"
	EventLeaveChat    = "leave_chat"
	EventTypingStart  = "typing_start"
	EventTypingStop   = "typing_stop"
	EventUpdateStatus = "update_status"
	EventSendMessage  = "send_message"
)

// Server -> Client events
const (
	EventAuthSuccess      = "auth_success"
	EventAuthError        = "auth_error"
	EventChatJoined       = "chat_joined"
	EventChatLeft         = "chat_left"
	EventUserJoinedChat   = "user_joined_chat"
	EventUserLeftChat     = "user_left_chat"
	EventUserTypingStart  = "user_typing_start"
	EventUserTypingStop   = "user_typing_stop"
	EventStatusUpdated    = "status_updated"
	EventUserStatusUpdate = "user_status_update"
	EventNewMessage       = "new_message"
	EventError            = "error"
)

// WsEvent is the wire envelope for both directions of the duplex channel.
type WsEvent struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// New marshals payload into an envelope. A payload that fails to marshal
// yields a null payload rather than an error; outbound payloads are
// plain structs and cannot fail in practice.
func New(name string, payload any) WsEvent {
	raw, err := json.Marshal(payload)
	if err != nil {
		raw = json.RawMessage("null")
	}
	return WsEvent{Event: name, Payload: raw}
}

// -----------------------------------------------------------------
// Client -> Server payloads
// -----------------------------------------------------------------

type AuthenticatePayload struct {
	Token string `json:"token"`
}

// ChatRef addresses a conversation for join/leave/typing events.
type ChatRef struct {
	ChatID string `json:"chatId"`
}

type UpdateStatusPayload struct {
	Status string `json:"status"`
}

type SendMessagePayload struct {
	ChatID      string `json:"chatId"`
	Message     string `json:"message"`
	MessageType string `json:"messageType"`
	ImageURL    string `json:"imageUrl"`
}

// -----------------------------------------------------------------
// Server -> Client payloads
// -----------------------------------------------------------------

// UserRef is the public identity shape embedded in broadcasts.
type UserRef struct {
	ID           string `json:"id"`
	FullName     string `json:"fullName"`
	ProfilePhoto string `json:"profilePhoto,omitempty"`
}

type AuthSuccessPayload struct {
	User UserRef `json:"user"`
}

type ErrorPayload struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// ChatUserPayload carries room membership and typing broadcasts.
type ChatUserPayload struct {
	ChatID string  `json:"chatId"`
	User   UserRef `json:"user"`
}

type StatusUpdatedPayload struct {
	Status string `json:"status"`
}

type UserStatusUpdatePayload struct {
	UserID    string    `json:"userId"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// MessageView is the broadcast shape of a persisted message, with the sender
// display fields denormalized for clients.
type MessageView struct {
	ID                 string    `json:"id"`
	SenderID           string    `json:"senderId"`
	SenderName         string    `json:"senderName"`
	SenderProfilePhoto string    `json:"senderProfilePhoto,omitempty"`
	Message            *string   `json:"message"`
	MessageType        string    `json:"messageType"`
	ImageURL           *string   `json:"imageUrl"`
	CreatedAt          time.Time `json:"createdAt"`
}

type NewMessagePayload struct {
	ChatID  string      `json:"chatId"`
	Message MessageView `json:"message"`
}
