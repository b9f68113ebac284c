package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/derek-dv/errand-backend/internal/apperr"
	"github.com/derek-dv/errand-backend/internal/event"
	"github.com/derek-dv/errand-backend/internal/model"
	"github.com/derek-dv/errand-backend/internal/repo"
)

// fakeStore is an in-memory ConversationRepository. Mutate applies fn
// directly under a lock; the service's stripe locks provide the ordering
// guarantees under test.
type fakeStore struct {
	mu    sync.Mutex
	convs map[string]*model.Conversation
}

func newFakeStore() *fakeStore {
	return &fakeStore{convs: make(map[string]*model.Conversation)}
}

func (s *fakeStore) put(c *model.Conversation) {
	s.mu.Lock()
	s.convs[c.ID.Hex()] = c
	s.mu.Unlock()
}

func (s *fakeStore) GetByID(_ context.Context, id string) (*model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[id]
	if !ok {
		return nil, apperr.NotFound("Chat not found")
	}
	return c, nil
}

func (s *fakeStore) CreateOrGet(_ context.Context, a, b model.Participant, deliveryID *primitive.ObjectID, chatType, createdBy string) (*model.Conversation, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range s.convs {
		if c.Status != model.StatusActive {
			continue
		}
		if !c.IsParticipant(a.UserID) || !c.IsParticipant(b.UserID) {
			continue
		}
		if (c.DeliveryID == nil) != (deliveryID == nil) {
			continue
		}
		if c.DeliveryID != nil && *c.DeliveryID != *deliveryID {
			continue
		}
		return c, false, nil
	}

	conv := model.NewConversation(a, b, deliveryID, chatType, createdBy)
	conv.ID = primitive.NewObjectID()
	s.convs[conv.ID.Hex()] = conv
	return conv, true, nil
}

func (s *fakeStore) Mutate(_ context.Context, id string, fn func(*model.Conversation) error) (*model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.convs[id]
	if !ok {
		return nil, apperr.NotFound("Chat not found")
	}
	if err := fn(c); err != nil {
		return nil, err
	}
	c.Version++
	return c, nil
}

func (s *fakeStore) FindForUser(_ context.Context, userID string, q repo.ListQuery) ([]model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.Conversation
	for _, c := range s.convs {
		if !c.IsParticipant(userID) {
			continue
		}
		if !q.IncludeArchived && c.Status != model.StatusActive {
			continue
		}
		out = append(out, *c)
	}
	return out, nil
}

func (s *fakeStore) ActivePeerIDs(_ context.Context, userID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := map[string]struct{}{}
	var peers []string
	for _, c := range s.convs {
		if c.Status != model.StatusActive || !c.IsParticipant(userID) {
			continue
		}
		for _, pid := range c.OtherParticipantIDs(userID) {
			if _, ok := seen[pid]; !ok {
				seen[pid] = struct{}{}
				peers = append(peers, pid)
			}
		}
	}
	return peers, nil
}

func (s *fakeStore) UnreadSummary(_ context.Context, userID string) (*model.UnreadSummary, error) {
	conversations, err := s.FindForUser(context.Background(), userID, repo.ListQuery{})
	if err != nil {
		return nil, err
	}
	summary := &model.UnreadSummary{ByConversation: make(map[string]int)}
	for _, c := range conversations {
		if n := c.UnreadFor(userID); n > 0 {
			summary.ByConversation[c.ID.Hex()] = n
			summary.Total += n
		}
	}
	return summary, nil
}

type fakeUsers struct {
	users map[string]*model.User
}

func (f *fakeUsers) GetUser(_ context.Context, id string) (*model.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, apperr.NotFound("User not found")
	}
	return u, nil
}

type fakeBroadcaster struct {
	mu     sync.Mutex
	events []event.WsEvent
}

func (f *fakeBroadcaster) PublishToRoom(_ string, ev event.WsEvent) {
	f.mu.Lock()
	f.events = append(f.events, ev)
	f.mu.Unlock()
}

func (f *fakeBroadcaster) published() []event.WsEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]event.WsEvent(nil), f.events...)
}

type fakePresence struct {
	online map[string]bool
}

func (f *fakePresence) IsOnline(userID string) bool { return f.online[userID] }

type notification struct {
	userID string
	chatID string
}

type fakeNotifier struct {
	ch chan notification
}

func (f *fakeNotifier) NotifyNewMessage(_ context.Context, userID, chatID string, _ event.MessageView) error {
	f.ch <- notification{userID: userID, chatID: chatID}
	return nil
}

type fixture struct {
	service   ChatService
	store     *fakeStore
	broadcast *fakeBroadcaster
	presence  *fakePresence
	notified  chan notification

	customer *model.User
	driver   *model.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	customer := &model.User{ID: primitive.NewObjectID(), FullName: "Ada Obi", Role: model.RoleCustomer}
	driver := &model.User{ID: primitive.NewObjectID(), FullName: "Tunde Bello", Role: model.RoleDriver}

	store := newFakeStore()
	broadcast := &fakeBroadcaster{}
	presence := &fakePresence{online: make(map[string]bool)}
	notified := make(chan notification, 8)

	svc := NewChatService(
		store,
		&fakeUsers{users: map[string]*model.User{
			customer.ID.Hex(): customer,
			driver.ID.Hex():   driver,
		}},
		&fakeNotifier{ch: notified},
		presence,
		zap.NewNop(),
	)
	svc.AttachRealtime(broadcast)

	return &fixture{
		service:   svc,
		store:     store,
		broadcast: broadcast,
		presence:  presence,
		notified:  notified,
		customer:  customer,
		driver:    driver,
	}
}

func (f *fixture) activeConversation() *model.Conversation {
	conv := model.NewConversation(
		f.customer.AsParticipant(),
		f.driver.AsParticipant(),
		nil,
		model.ChatTypeInquiry,
		f.customer.ID.Hex(),
	)
	conv.ID = primitive.NewObjectID()
	f.store.put(conv)
	return conv
}

func (f *fixture) waitForNotification(t *testing.T) notification {
	t.Helper()
	select {
	case n := <-f.notified:
		return n
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for notification dispatch")
		return notification{}
	}
}

func TestSendPersistsBroadcastsAndNotifies(t *testing.T) {
	f := newFixture(t)
	conv := f.activeConversation()

	msg, err := f.service.Send(context.Background(), f.customer.ID.Hex(), conv.ID.Hex(), "where are you?", "", "")
	require.NoError(t, err)
	require.NotNil(t, msg.Body)
	require.Equal(t, "where are you?", *msg.Body)
	require.Equal(t, model.MessageTypeText, msg.MessageType)

	stored, err := f.store.GetByID(context.Background(), conv.ID.Hex())
	require.NoError(t, err)
	require.Len(t, stored.Messages, 1)
	require.Equal(t, 1, stored.UnreadFor(f.driver.ID.Hex()))
	require.Equal(t, 0, stored.UnreadFor(f.customer.ID.Hex()))

	events := f.broadcast.published()
	require.Len(t, events, 1)
	require.Equal(t, event.EventNewMessage, events[0].Event)

	var payload event.NewMessagePayload
	require.NoError(t, json.Unmarshal(events[0].Payload, &payload))
	require.Equal(t, conv.ID.Hex(), payload.ChatID)
	require.Equal(t, "Ada Obi", payload.Message.SenderName)
	require.Equal(t, "where are you?", *payload.Message.Message)

	// the driver is offline, so a push dispatch is requested
	n := f.waitForNotification(t)
	require.Equal(t, f.driver.ID.Hex(), n.userID)
	require.Equal(t, conv.ID.Hex(), n.chatID)
}

func TestSendSkipsNotificationWhenRecipientOnline(t *testing.T) {
	f := newFixture(t)
	conv := f.activeConversation()
	f.presence.online[f.driver.ID.Hex()] = true

	_, err := f.service.Send(context.Background(), f.customer.ID.Hex(), conv.ID.Hex(), "ping", "", "")
	require.NoError(t, err)

	select {
	case n := <-f.notified:
		t.Fatalf("unexpected notification for %s", n.userID)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestSendToInactiveConversation(t *testing.T) {
	f := newFixture(t)
	conv := f.activeConversation()
	require.NoError(t, conv.Archive())

	_, err := f.service.Send(context.Background(), f.customer.ID.Hex(), conv.ID.Hex(), "hello?", "", "")
	require.Error(t, err)
	require.Equal(t, apperr.KindState, apperr.KindOf(err))
	require.Equal(t, "Conversation inactive", apperr.Message(err))
	require.Empty(t, f.broadcast.published())
}

func TestSendByNonParticipant(t *testing.T) {
	f := newFixture(t)
	conv := f.activeConversation()

	_, err := f.service.Send(context.Background(), primitive.NewObjectID().Hex(), conv.ID.Hex(), "let me in", "", "")
	require.Error(t, err)
	require.Equal(t, apperr.KindAuthorization, apperr.KindOf(err))
	require.Empty(t, f.broadcast.published())
}

func TestSendInvalidPayload(t *testing.T) {
	f := newFixture(t)
	conv := f.activeConversation()

	_, err := f.service.Send(context.Background(), f.customer.ID.Hex(), conv.ID.Hex(), "", model.MessageTypeText, "")
	require.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = f.service.Send(context.Background(), f.customer.ID.Hex(), conv.ID.Hex(), "", model.MessageTypeImage, "")
	require.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestSendUnknownConversation(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.Send(context.Background(), f.customer.ID.Hex(), primitive.NewObjectID().Hex(), "hello", "", "")
	require.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestCreateOrGetIsIdempotent(t *testing.T) {
	f := newFixture(t)

	first, err := f.service.CreateOrGet(context.Background(), f.customer.ID.Hex(), f.driver.ID.Hex(), "", model.ChatTypeInquiry, "hello there")
	require.NoError(t, err)
	require.Len(t, first.Messages, 1)
	require.Equal(t, 1, first.UnreadFor(f.driver.ID.Hex()))

	second, err := f.service.CreateOrGet(context.Background(), f.customer.ID.Hex(), f.driver.ID.Hex(), "", model.ChatTypeInquiry, "hello again")
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	// the accompanying message lands on the existing conversation too
	require.Len(t, second.Messages, 2)
	require.Equal(t, "hello again", *second.Messages[1].Body)
	require.Equal(t, 2, second.UnreadFor(f.driver.ID.Hex()))

	third, err := f.service.CreateOrGet(context.Background(), f.customer.ID.Hex(), f.driver.ID.Hex(), "", model.ChatTypeInquiry, "")
	require.NoError(t, err)
	require.Equal(t, first.ID, third.ID)
	require.Len(t, third.Messages, 2)
}

func TestCreateOrGetSeparatesDeliveryContexts(t *testing.T) {
	f := newFixture(t)
	deliveryID := primitive.NewObjectID()

	inquiry, err := f.service.CreateOrGet(context.Background(), f.customer.ID.Hex(), f.driver.ID.Hex(), "", model.ChatTypeInquiry, "")
	require.NoError(t, err)

	delivery, err := f.service.CreateOrGet(context.Background(), f.customer.ID.Hex(), f.driver.ID.Hex(), deliveryID.Hex(), model.ChatTypeDelivery, "")
	require.NoError(t, err)

	require.NotEqual(t, inquiry.ID, delivery.ID)
	require.Equal(t, "Delivery Discussion", delivery.Title)
}

func TestCreateOrGetValidation(t *testing.T) {
	f := newFixture(t)
	self := f.customer.ID.Hex()

	_, err := f.service.CreateOrGet(context.Background(), self, "", "", "", "")
	require.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = f.service.CreateOrGet(context.Background(), self, self, "", "", "")
	require.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = f.service.CreateOrGet(context.Background(), self, f.driver.ID.Hex(), "not-hex", "", "")
	require.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = f.service.CreateOrGet(context.Background(), self, f.driver.ID.Hex(), "", "group", "")
	require.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = f.service.CreateOrGet(context.Background(), self, primitive.NewObjectID().Hex(), "", "", "")
	require.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestMarkReadClearsCounter(t *testing.T) {
	f := newFixture(t)
	conv := f.activeConversation()

	_, err := f.service.Send(context.Background(), f.customer.ID.Hex(), conv.ID.Hex(), "one", "", "")
	require.NoError(t, err)
	_, err = f.service.Send(context.Background(), f.customer.ID.Hex(), conv.ID.Hex(), "two", "", "")
	require.NoError(t, err)

	updated, err := f.service.MarkRead(context.Background(), f.driver.ID.Hex(), conv.ID.Hex(), nil)
	require.NoError(t, err)
	require.Equal(t, 0, updated.UnreadFor(f.driver.ID.Hex()))
	for _, m := range updated.Messages {
		require.True(t, m.IsRead)
	}
}

func TestMarkReadPartial(t *testing.T) {
	f := newFixture(t)
	conv := f.activeConversation()

	first, err := f.service.Send(context.Background(), f.customer.ID.Hex(), conv.ID.Hex(), "one", "", "")
	require.NoError(t, err)
	_, err = f.service.Send(context.Background(), f.customer.ID.Hex(), conv.ID.Hex(), "two", "", "")
	require.NoError(t, err)

	updated, err := f.service.MarkRead(context.Background(), f.driver.ID.Hex(), conv.ID.Hex(), []string{first.ID.Hex()})
	require.NoError(t, err)
	require.Equal(t, 1, updated.UnreadFor(f.driver.ID.Hex()))
}

func TestMarkReadNonParticipant(t *testing.T) {
	f := newFixture(t)
	conv := f.activeConversation()

	_, err := f.service.MarkRead(context.Background(), primitive.NewObjectID().Hex(), conv.ID.Hex(), nil)
	require.Equal(t, apperr.KindAuthorization, apperr.KindOf(err))
}

func TestArchiveBlocksFurtherSends(t *testing.T) {
	f := newFixture(t)
	conv := f.activeConversation()

	archived, err := f.service.Archive(context.Background(), f.customer.ID.Hex(), conv.ID.Hex())
	require.NoError(t, err)
	require.Equal(t, model.StatusArchived, archived.Status)

	_, err = f.service.Send(context.Background(), f.driver.ID.Hex(), conv.ID.Hex(), "too late", "", "")
	require.Equal(t, apperr.KindState, apperr.KindOf(err))
}

func TestCloseRecordsActor(t *testing.T) {
	f := newFixture(t)
	conv := f.activeConversation()

	closed, err := f.service.Close(context.Background(), f.driver.ID.Hex(), conv.ID.Hex())
	require.NoError(t, err)
	require.Equal(t, model.StatusClosed, closed.Status)
	require.Equal(t, f.driver.ID.Hex(), closed.Metadata.ClosedBy)

	_, err = f.service.Close(context.Background(), f.driver.ID.Hex(), conv.ID.Hex())
	require.Equal(t, apperr.KindState, apperr.KindOf(err))
}

func TestGetMarksReadAndPaginatesInAppendOrder(t *testing.T) {
	f := newFixture(t)
	conv := f.activeConversation()

	for i := 0; i < 20; i++ {
		conv.AddMessage(f.customer.ID.Hex(), "message", model.MessageTypeText, "")
	}
	require.Equal(t, 20, conv.UnreadFor(f.driver.ID.Hex()))

	fetched, page1, err := f.service.Get(context.Background(), f.driver.ID.Hex(), conv.ID.Hex(), 1)
	require.NoError(t, err)
	require.Equal(t, 0, fetched.UnreadFor(f.driver.ID.Hex()))

	require.Len(t, page1.Data, messagesPageSize)
	require.Equal(t, int64(20), page1.Total)
	require.Equal(t, int64(2), page1.TotalPages)
	require.Equal(t, conv.Messages[0].ID, page1.Data[0].ID)

	_, page2, err := f.service.Get(context.Background(), f.driver.ID.Hex(), conv.ID.Hex(), 2)
	require.NoError(t, err)
	require.Len(t, page2.Data, 5)
	require.Equal(t, conv.Messages[15].ID, page2.Data[0].ID)

	_, page3, err := f.service.Get(context.Background(), f.driver.ID.Hex(), conv.ID.Hex(), 3)
	require.NoError(t, err)
	require.Empty(t, page3.Data)
}

func TestUnreadSummaryAggregates(t *testing.T) {
	f := newFixture(t)
	conv := f.activeConversation()

	_, err := f.service.Send(context.Background(), f.customer.ID.Hex(), conv.ID.Hex(), "one", "", "")
	require.NoError(t, err)
	_, err = f.service.Send(context.Background(), f.customer.ID.Hex(), conv.ID.Hex(), "two", "", "")
	require.NoError(t, err)

	summary, err := f.service.UnreadSummary(context.Background(), f.driver.ID.Hex())
	require.NoError(t, err)
	require.Equal(t, 2, summary.Total)
	require.Equal(t, 2, summary.ByConversation[conv.ID.Hex()])

	empty, err := f.service.UnreadSummary(context.Background(), f.customer.ID.Hex())
	require.NoError(t, err)
	require.Equal(t, 0, empty.Total)
}
