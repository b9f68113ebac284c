package model

import (
	"time"

	"github.com/samber/lo"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/derek-dv/errand-backend/internal/apperr"
)

const (
	StatusActive   = "active"
	StatusArchived = "archived"
	StatusClosed   = "closed"

	ChatTypeDelivery = "delivery_related"
	ChatTypeInquiry  = "general_inquiry"

	RoleCustomer = "customer"
	RoleDriver   = "driver"
)

// Conversation is the durable chat aggregate: participants, the embedded
// ordered message sequence, the last-message cache for list views and the
// per-participant unread counters. Version backs the optimistic
// compare-and-swap used by the repository to serialize concurrent writers.
type Conversation struct {
	ID             primitive.ObjectID  `json:"id" bson:"_id,omitempty"`
	Participants   []Participant       `json:"participants" bson:"participants"`
	ParticipantIDs []string            `json:"participantIds" bson:"participant_ids"`
	DeliveryID     *primitive.ObjectID `json:"deliveryId" bson:"delivery_id"`
	ChatType       string              `json:"chatType" bson:"chat_type"`
	Title          string              `json:"title" bson:"title"`
	Messages       []Message           `json:"messages" bson:"messages"`
	LastMessage    *LastMessage        `json:"lastMessage" bson:"last_message"`
	UnreadCounts   map[string]int      `json:"unreadCounts" bson:"unread_counts"`
	Status         string              `json:"status" bson:"status"`
	Metadata       Metadata            `json:"metadata" bson:"metadata"`
	Version        int64               `json:"-" bson:"version"`
	CreatedAt      time.Time           `json:"createdAt" bson:"created_at"`
	UpdatedAt      time.Time           `json:"updatedAt" bson:"updated_at"`
}

// Participant is a capability-typed reference: the identity id plus a role
// tag and display fields resolved once at creation and stored denormalized.
type Participant struct {
	UserID       string    `json:"userId" bson:"user_id"`
	Role         string    `json:"role" bson:"role"`
	FullName     string    `json:"fullName" bson:"full_name"`
	ProfilePhoto string    `json:"profilePhoto" bson:"profile_photo"`
	JoinedAt     time.Time `json:"joinedAt" bson:"joined_at"`
}

// LastMessage caches the most recent message for conversation list views.
// Body is nil for image messages, ImageURL is nil for text messages.
type LastMessage struct {
	SenderID  string    `json:"senderId" bson:"sender_id"`
	Body      *string   `json:"message" bson:"message"`
	ImageURL  *string   `json:"imageUrl" bson:"image_url"`
	Timestamp time.Time `json:"timestamp" bson:"timestamp"`
}

type Metadata struct {
	CreatedBy  string     `json:"createdBy" bson:"created_by"`
	ClosedBy   string     `json:"closedBy,omitempty" bson:"closed_by,omitempty"`
	ClosedAt   *time.Time `json:"closedAt,omitempty" bson:"closed_at,omitempty"`
	ArchivedAt *time.Time `json:"archivedAt,omitempty" bson:"archived_at,omitempty"`
}

// NewConversation builds an active conversation between two participants.
// Unread counters start at zero for both; the title is derived from the
// delivery context.
func NewConversation(a, b Participant, deliveryID *primitive.ObjectID, chatType, createdBy string) *Conversation {
	now := time.Now().UTC()
	a.JoinedAt = now
	b.JoinedAt = now

	title := "General Inquiry"
	if deliveryID != nil {
		title = "Delivery Discussion"
	}

	return &Conversation{
		Participants:   []Participant{a, b},
		ParticipantIDs: []string{a.UserID, b.UserID},
		DeliveryID:     deliveryID,
		ChatType:       chatType,
		Title:          title,
		Messages:       []Message{},
		UnreadCounts:   map[string]int{a.UserID: 0, b.UserID: 0},
		Status:         StatusActive,
		Metadata:       Metadata{CreatedBy: createdBy},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func (c *Conversation) IsParticipant(userID string) bool {
	return lo.ContainsBy(c.Participants, func(p Participant) bool {
		return p.UserID == userID
	})
}

func (c *Conversation) ParticipantByID(userID string) (Participant, bool) {
	return lo.Find(c.Participants, func(p Participant) bool {
		return p.UserID == userID
	})
}

// OtherParticipantIDs returns every participant id except userID.
func (c *Conversation) OtherParticipantIDs(userID string) []string {
	others := lo.Filter(c.Participants, func(p Participant, _ int) bool {
		return p.UserID != userID
	})
	return lo.Map(others, func(p Participant, _ int) string { return p.UserID })
}

// AddMessage appends a message, refreshes the last-message cache and
// increments the unread counter of every participant except the sender.
// Callers are expected to have checked status, membership and payload first.
func (c *Conversation) AddMessage(senderID, body, messageType, imageURL string) *Message {
	now := time.Now().UTC()

	msg := Message{
		ID:          primitive.NewObjectID(),
		SenderID:    senderID,
		MessageType: messageType,
		CreatedAt:   now,
	}
	if messageType == MessageTypeText {
		msg.Body = &body
	} else {
		msg.ImageURL = &imageURL
	}

	c.Messages = append(c.Messages, msg)
	c.LastMessage = &LastMessage{
		SenderID:  senderID,
		Body:      msg.Body,
		ImageURL:  msg.ImageURL,
		Timestamp: now,
	}

	for _, p := range c.Participants {
		if p.UserID != senderID {
			c.UnreadCounts[p.UserID]++
		}
	}
	c.UpdatedAt = now

	return &c.Messages[len(c.Messages)-1]
}

// MarkMessagesRead marks messages not authored by userID as read. With an
// empty id list every unread message qualifies; otherwise only the listed
// ids. The unread counter is recomputed from the messages still unread for
// userID, so it stays consistent for partial reads too. Returns the number
// of messages newly marked.
func (c *Conversation) MarkMessagesRead(userID string, messageIDs []string) int {
	now := time.Now().UTC()
	wanted := map[string]struct{}{}
	for _, id := range messageIDs {
		wanted[id] = struct{}{}
	}

	marked := 0
	for i := range c.Messages {
		msg := &c.Messages[i]
		if msg.SenderID == userID || msg.IsRead {
			continue
		}
		if len(wanted) > 0 {
			if _, ok := wanted[msg.ID.Hex()]; !ok {
				continue
			}
		}
		msg.IsRead = true
		t := now
		msg.ReadAt = &t
		marked++
	}

	c.UnreadCounts[userID] = c.countUnread(userID)
	if marked > 0 {
		c.UpdatedAt = now
	}
	return marked
}

func (c *Conversation) countUnread(userID string) int {
	return lo.CountBy(c.Messages, func(m Message) bool {
		return m.SenderID != userID && !m.IsRead
	})
}

func (c *Conversation) UnreadFor(userID string) int {
	return c.UnreadCounts[userID]
}

// Archive transitions active -> archived. Archived is terminal.
func (c *Conversation) Archive() error {
	if c.Status != StatusActive {
		return apperr.State("Conversation inactive")
	}
	now := time.Now().UTC()
	c.Status = StatusArchived
	c.Metadata.ArchivedAt = &now
	c.UpdatedAt = now
	return nil
}

// Close transitions active -> closed. Closed is terminal.
func (c *Conversation) Close(closedBy string) error {
	if c.Status != StatusActive {
		return apperr.State("Conversation inactive")
	}
	now := time.Now().UTC()
	c.Status = StatusClosed
	c.Metadata.ClosedBy = closedBy
	c.Metadata.ClosedAt = &now
	c.UpdatedAt = now
	return nil
}

// UnreadSummary is the response shape of the unread-count endpoint.
type UnreadSummary struct {
	Total          int            `json:"total"`
	ByConversation map[string]int `json:"byConversation"`
}
