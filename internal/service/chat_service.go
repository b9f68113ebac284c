package service

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/derek-dv/errand-backend/internal/apperr"
	"github.com/derek-dv/errand-backend/internal/db"
	"github.com/derek-dv/errand-backend/internal/event"
	"github.com/derek-dv/errand-backend/internal/model"
	"github.com/derek-dv/errand-backend/internal/repo"
)

const (
	// lockStripes sizes the per-conversation mutex table that keeps the
	// broadcast order equal to the durable append order.
	lockStripes = 64

	messagesPageSize = 15

	notifyTimeout = 5 * time.Second
)

// RoomBroadcaster fans a persisted event out to every connection currently
// joined to a conversation's room. Implemented by the hub.
type RoomBroadcaster interface {
	PublishToRoom(chatID string, ev event.WsEvent)
}

// PresenceReader answers whether an identity has a live connection.
type PresenceReader interface {
	IsOnline(userID string) bool
}

// ChatService is the write path of the chat core plus the companion
// request/response operations. Both the realtime channel and the REST
// surface go through it, so fanout behavior is identical.
type ChatService interface {
	// AttachRealtime wires the hub in after construction; the hub's event
	// handler needs the service, so the two cannot be built in one step.
	AttachRealtime(rb RoomBroadcaster)

	CreateOrGet(ctx context.Context, creatorID, recipientID, deliveryID, chatType, initialMessage string) (*model.Conversation, error)
	Send(ctx context.Context, senderID, chatID, body, messageType, imageURL string) (*model.Message, error)
	MarkRead(ctx context.Context, userID, chatID string, messageIDs []string) (*model.Conversation, error)
	Archive(ctx context.Context, userID, chatID string) (*model.Conversation, error)
	Close(ctx context.Context, userID, chatID string) (*model.Conversation, error)
	List(ctx context.Context, userID string, q repo.ListQuery) ([]model.Conversation, error)
	Get(ctx context.Context, userID, chatID string, page int64) (*model.Conversation, *db.PaginatedResult[model.Message], error)
	UnreadSummary(ctx context.Context, userID string) (*model.UnreadSummary, error)
}

type chatService struct {
	store    repo.ConversationRepository
	users    repo.UserRepository
	notifier NotificationDispatcher
	presence PresenceReader
	logger   *zap.Logger

	realtimeMu sync.RWMutex
	realtime   RoomBroadcaster

	locks [lockStripes]sync.Mutex
}

func NewChatService(store repo.ConversationRepository, users repo.UserRepository, notifier NotificationDispatcher, presence PresenceReader, logger *zap.Logger) ChatService {
	return &chatService{
		store:    store,
		users:    users,
		notifier: notifier,
		presence: presence,
		logger:   logger,
	}
}

func (s *chatService) AttachRealtime(rb RoomBroadcaster) {
	s.realtimeMu.Lock()
	s.realtime = rb
	s.realtimeMu.Unlock()
}

func (s *chatService) broadcaster() RoomBroadcaster {
	s.realtimeMu.RLock()
	defer s.realtimeMu.RUnlock()
	return s.realtime
}

// lockFor returns the stripe mutex serializing writes to one conversation
// within this process.
func (s *chatService) lockFor(chatID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(chatID))
	return &s.locks[h.Sum32()%lockStripes]
}

// CreateOrGet returns the active conversation for this participant pair and
// delivery context, creating it when absent. Calling it twice with the same
// arguments yields the same conversation; the initial message, when present,
// is appended each time.
func (s *chatService) CreateOrGet(ctx context.Context, creatorID, recipientID, deliveryID, chatType, initialMessage string) (*model.Conversation, error) {
	if recipientID == "" || creatorID == recipientID {
		return nil, apperr.Validation("valid recipient id required")
	}

	if chatType == "" {
		chatType = model.ChatTypeDelivery
	}
	if chatType != model.ChatTypeDelivery && chatType != model.ChatTypeInquiry {
		return nil, apperr.Validation("invalid chat type")
	}

	var deliveryRef *primitive.ObjectID
	if deliveryID != "" {
		oid, err := primitive.ObjectIDFromHex(deliveryID)
		if err != nil {
			return nil, apperr.Validation("invalid delivery id")
		}
		deliveryRef = &oid
	}

	creator, err := s.users.GetUser(ctx, creatorID)
	if err != nil {
		return nil, err
	}
	recipient, err := s.users.GetUser(ctx, recipientID)
	if err != nil {
		return nil, err
	}

	conv, _, err := s.store.CreateOrGet(ctx, creator.AsParticipant(), recipient.AsParticipant(), deliveryRef, chatType, creatorID)
	if err != nil {
		return nil, err
	}

	// the initial message goes through the normal send path on both the
	// created and the existing conversation; a client "creating" an
	// already-open chat must not lose its text
	if initialMessage != "" {
		if _, err := s.Send(ctx, creatorID, conv.ID.Hex(), initialMessage, model.MessageTypeText, ""); err != nil {
			return nil, err
		}
		return s.store.GetByID(ctx, conv.ID.Hex())
	}
	return conv, nil
}

// Send is the fanout write path: validate, persist atomically (append +
// last-message cache + unread counters), then broadcast to the room and
// dispatch push notifications to offline participants. Durability precedes
// visibility; a failure after persistence never un-sends the message.
func (s *chatService) Send(ctx context.Context, senderID, chatID, body, messageType, imageURL string) (*model.Message, error) {
	if messageType == "" {
		messageType = model.MessageTypeText
	}

	mu := s.lockFor(chatID)
	mu.Lock()
	defer mu.Unlock()

	var msg *model.Message
	conv, err := s.store.Mutate(ctx, chatID, func(c *model.Conversation) error {
		if c.Status != model.StatusActive {
			return apperr.State("Conversation inactive")
		}
		if !c.IsParticipant(senderID) {
			return apperr.Authorization("You are not a participant")
		}
		if err := model.ValidateMessagePayload(body, messageType, imageURL); err != nil {
			return err
		}
		msg = c.AddMessage(senderID, body, messageType, imageURL)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.fanout(conv, msg)
	return msg, nil
}

// fanout broadcasts a persisted message and requests out-of-band delivery
// for participants without a live connection. Dispatch failures are logged;
// the message is already durable.
func (s *chatService) fanout(conv *model.Conversation, msg *model.Message) {
	view := s.messageView(conv, msg)

	if rb := s.broadcaster(); rb != nil {
		rb.PublishToRoom(conv.ID.Hex(), event.New(event.EventNewMessage, event.NewMessagePayload{
			ChatID:  conv.ID.Hex(),
			Message: view,
		}))
	}

	for _, pid := range conv.OtherParticipantIDs(msg.SenderID) {
		if s.presence != nil && s.presence.IsOnline(pid) {
			continue
		}
		go func(userID string) {
			ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
			defer cancel()
			if err := s.notifier.NotifyNewMessage(ctx, userID, conv.ID.Hex(), view); err != nil {
				s.logger.Warn("push notification dispatch failed",
					zap.String("user_id", userID),
					zap.String("conversation_id", conv.ID.Hex()),
					zap.Error(err),
				)
			}
		}(pid)
	}
}

func (s *chatService) messageView(conv *model.Conversation, msg *model.Message) event.MessageView {
	view := event.MessageView{
		ID:          msg.ID.Hex(),
		SenderID:    msg.SenderID,
		Message:     msg.Body,
		MessageType: msg.MessageType,
		ImageURL:    msg.ImageURL,
		CreatedAt:   msg.CreatedAt,
	}
	if sender, ok := conv.ParticipantByID(msg.SenderID); ok {
		view.SenderName = sender.FullName
		view.SenderProfilePhoto = sender.ProfilePhoto
	}
	return view
}

// MarkRead marks messages as read for userID. An empty id list reads
// everything; the counter is recomputed from the remaining unread messages
// either way.
func (s *chatService) MarkRead(ctx context.Context, userID, chatID string, messageIDs []string) (*model.Conversation, error) {
	mu := s.lockFor(chatID)
	mu.Lock()
	defer mu.Unlock()

	return s.store.Mutate(ctx, chatID, func(c *model.Conversation) error {
		if !c.IsParticipant(userID) {
			return apperr.Authorization("You are not a participant")
		}
		c.MarkMessagesRead(userID, messageIDs)
		return nil
	})
}

func (s *chatService) Archive(ctx context.Context, userID, chatID string) (*model.Conversation, error) {
	mu := s.lockFor(chatID)
	mu.Lock()
	defer mu.Unlock()

	return s.store.Mutate(ctx, chatID, func(c *model.Conversation) error {
		if !c.IsParticipant(userID) {
			return apperr.Authorization("You are not a participant")
		}
		return c.Archive()
	})
}

func (s *chatService) Close(ctx context.Context, userID, chatID string) (*model.Conversation, error) {
	mu := s.lockFor(chatID)
	mu.Lock()
	defer mu.Unlock()

	return s.store.Mutate(ctx, chatID, func(c *model.Conversation) error {
		if !c.IsParticipant(userID) {
			return apperr.Authorization("You are not a participant")
		}
		return c.Close(userID)
	})
}

func (s *chatService) List(ctx context.Context, userID string, q repo.ListQuery) ([]model.Conversation, error) {
	return s.store.FindForUser(ctx, userID, q)
}

// Get fetches one conversation with a page of its messages, in append
// order. Fetching marks the requester's unread messages as read.
func (s *chatService) Get(ctx context.Context, userID, chatID string, page int64) (*model.Conversation, *db.PaginatedResult[model.Message], error) {
	mu := s.lockFor(chatID)
	mu.Lock()

	conv, err := s.store.Mutate(ctx, chatID, func(c *model.Conversation) error {
		if !c.IsParticipant(userID) {
			return apperr.Authorization("You are not a participant")
		}
		c.MarkMessagesRead(userID, nil)
		return nil
	})
	mu.Unlock()
	if err != nil {
		return nil, nil, err
	}

	return conv, paginateMessages(conv.Messages, page), nil
}

func (s *chatService) UnreadSummary(ctx context.Context, userID string) (*model.UnreadSummary, error) {
	return s.store.UnreadSummary(ctx, userID)
}

// paginateMessages slices the embedded message sequence without disturbing
// the append order.
func paginateMessages(messages []model.Message, page int64) *db.PaginatedResult[model.Message] {
	if page < 1 {
		page = 1
	}

	total := int64(len(messages))
	start := (page - 1) * messagesPageSize
	if start > total {
		start = total
	}
	end := start + messagesPageSize
	if end > total {
		end = total
	}

	totalPages := total / messagesPageSize
	if total%messagesPageSize > 0 {
		totalPages++
	}

	return &db.PaginatedResult[model.Message]{
		Data:       messages[start:end],
		Total:      total,
		Page:       page,
		PageSize:   messagesPageSize,
		TotalPages: totalPages,
	}
}
