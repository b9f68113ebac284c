package model

import (
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/derek-dv/errand-backend/internal/apperr"
)

const (
	MessageTypeText  = "text"
	MessageTypeImage = "image"

	// MaxMessageLength bounds the text body of a single message.
	MaxMessageLength = 1000
)

// Message is an embedded document inside a Conversation. Messages are
// append-only; only the read/edit flags are mutated after creation.
type Message struct {
	ID          primitive.ObjectID `json:"id" bson:"_id"`
	SenderID    string             `json:"senderId" bson:"sender_id"`
	Body        *string            `json:"message" bson:"message"`
	MessageType string             `json:"messageType" bson:"message_type"`
	ImageURL    *string            `json:"imageUrl" bson:"image_url"`
	IsRead      bool               `json:"isRead" bson:"is_read"`
	ReadAt      *time.Time         `json:"readAt" bson:"read_at"`
	IsEdited    bool               `json:"isEdited" bson:"is_edited"`
	EditedAt    *time.Time         `json:"editedAt" bson:"edited_at"`
	CreatedAt   time.Time          `json:"createdAt" bson:"created_at"`
}

// ValidateMessagePayload checks an outgoing message payload before it is
// appended: text messages need a non-empty body within the length cap, image
// messages need an image URL.
func ValidateMessagePayload(body, messageType, imageURL string) error {
	switch messageType {
	case MessageTypeText:
		if body == "" {
			return apperr.Validation("message body is required")
		}
		if len(body) > MaxMessageLength {
			return apperr.Validation(fmt.Sprintf("message exceeds %d characters", MaxMessageLength))
		}
	case MessageTypeImage:
		if imageURL == "" {
			return apperr.Validation("imageUrl is required for image messages")
		}
	default:
		return apperr.Validation("messageType must be 'text' or 'image'")
	}
	return nil
}
