package hub

import (
	"context"
	"crypto/sha1"
	"encoding/binary"
	"hash/fnv"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/derek-dv/errand-backend/internal/event"
)

const (
	shardCount = 64 // tune: 16/64/128 depending on load
)

type inboundMessage struct {
	event  event.WsEvent
	client *Client
}

type roomBucket struct {
	sync.RWMutex
	rooms map[string]map[string]*Client
}

// Hub owns every live websocket connection, the sharded conversation rooms,
// and the process-local presence and typing state. Inbound events are
// dispatched to a worker pool sharded by connection id, so one connection's
// events are always handled in arrival order while unrelated connections
// proceed independently.
type Hub struct {
	shards     [shardCount]*roomBucket
	register   chan *Client
	unregister chan *Client
	inbound    [workerPoolSize]chan inboundMessage

	presence *PresenceRegistry
	typing   *TypingTracker
	handler  *ChatHandler
	logger   *zap.Logger

	clientsMu sync.RWMutex
	clients   map[string]*Client

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

func NewHub(presence *PresenceRegistry, typing *TypingTracker, logger *zap.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		register:   make(chan *Client, 1024),
		unregister: make(chan *Client, 1024),
		presence:   presence,
		typing:     typing,
		logger:     logger,
		clients:    make(map[string]*Client),
		ctx:        ctx,
		cancel:     cancel,
	}

	for i := 0; i < shardCount; i++ {
		h.shards[i] = &roomBucket{
			rooms: make(map[string]map[string]*Client),
		}
	}

	for i := range h.inbound {
		h.inbound[i] = make(chan inboundMessage, 256)
	}

	// run manager loop
	go h.run()

	// start worker loop, one goroutine per inbound shard
	for i := 0; i < workerPoolSize; i++ {
		h.wg.Add(1)
		go func(queue <-chan inboundMessage) {
			defer h.wg.Done()
			for {
				select {
				case <-h.ctx.Done():
					return
				case in := <-queue:
					h.handleEvent(in.event, in.client)
				}
			}
		}(h.inbound[i])
	}

	// background sweep for typing entries that never saw a clean stop
	go h.typingSweepLoop()

	return h
}

// SetHandler wires the event handler. Must be called before serving
// connections; split from the constructor because the handler needs the hub.
func (h *Hub) SetHandler(handler *ChatHandler) {
	h.handler = handler
}

func (h *Hub) handleEvent(ev event.WsEvent, c *Client) {
	if h.handler == nil {
		log.Printf("no handler wired, dropping event %s", ev.Event)
		return
	}
	h.handler.HandleEvent(ev, c)
}

// inboundFor picks the worker queue for a connection. Same connection, same
// queue: events keep arrival order.
func (h *Hub) inboundFor(c *Client) chan inboundMessage {
	hash := fnv.New32a()
	hash.Write([]byte(c.ID))
	return h.inbound[hash.Sum32()%workerPoolSize]
}

func getShard(chatID string) uint32 {
	if chatID == "" {
		return 0
	}

	sum := sha1.Sum([]byte(chatID))
	return binary.BigEndian.Uint32(sum[:4]) % shardCount
}

// JoinRoom admits a connection into a conversation's broadcast group.
func (h *Hub) JoinRoom(c *Client, chatID string) {
	b := h.shards[getShard(chatID)]
	b.Lock()
	room, ok := b.rooms[chatID]
	if !ok {
		room = make(map[string]*Client)
		b.rooms[chatID] = room
	}
	room[c.ID] = c
	b.Unlock()

	c.markJoined(chatID)
}

// LeaveRoom removes a connection from a conversation's broadcast group.
// Safe to call for rooms the connection never joined.
func (h *Hub) LeaveRoom(c *Client, chatID string) {
	b := h.shards[getShard(chatID)]
	b.Lock()
	if room, ok := b.rooms[chatID]; ok {
		delete(room, c.ID)
		if len(room) == 0 {
			delete(b.rooms, chatID)
		}
	}
	b.Unlock()

	c.markLeft(chatID)
}

// RoomMembers snapshots the connections currently joined to a conversation.
func (h *Hub) RoomMembers(chatID string) []*Client {
	b := h.shards[getShard(chatID)]
	b.RLock()
	defer b.RUnlock()

	room, ok := b.rooms[chatID]
	if !ok {
		return nil
	}
	clients := make([]*Client, 0, len(room))
	for _, c := range room {
		clients = append(clients, c)
	}
	return clients
}

// PublishToRoom delivers an event to every connection joined to the
// conversation, the originating connection included.
func (h *Hub) PublishToRoom(chatID string, ev event.WsEvent) {
	h.publishToRoomExcept(chatID, ev, nil)
}

// publishToRoomExcept delivers to every room member except one connection.
func (h *Hub) publishToRoomExcept(chatID string, ev event.WsEvent, except *Client) {
	for _, c := range h.RoomMembers(chatID) {
		if except != nil && c.ID == except.ID {
			continue
		}
		if !c.SafeSend(ev, sendTimeout) {
			// egress full -> apply policy
			log.Printf("egress full for client %s in chat %s", c.ID, chatID)
			if kickOnFull {
				select {
				case h.unregister <- c:
				default:
				}
			}
		}
	}
}

// SendToUser delivers an event to every live connection of an identity.
// Returns false when the identity has none.
func (h *Hub) SendToUser(userID string, ev event.WsEvent) bool {
	clients := h.presence.ConnectionsOf(userID)
	for _, c := range clients {
		c.SafeSend(ev, sendTimeout)
	}
	return len(clients) > 0
}

// Presence exposes the registry for collaborators outside the hub.
func (h *Hub) Presence() *PresenceRegistry {
	return h.presence
}

// Typing exposes the tracker for collaborators outside the hub.
func (h *Hub) Typing() *TypingTracker {
	return h.typing
}

func (h *Hub) addClient(c *Client) {
	h.clientsMu.Lock()
	h.clients[c.ID] = c
	h.clientsMu.Unlock()
}

func (h *Hub) removeClient(c *Client) {
	// tear down ephemeral state before dropping the connection: presence
	// binding, room memberships and typing entries, each with its broadcast
	if h.handler != nil {
		h.handler.handleDisconnect(c)
	}

	h.clientsMu.Lock()
	delete(h.clients, c.ID)
	h.clientsMu.Unlock()

	c.Close()
	log.Printf("client %s removed", c.ID)
}

// ClientCount returns the number of live connections.
func (h *Hub) ClientCount() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

func (h *Hub) run() {
	for {
		select {
		case <-h.ctx.Done():
			return
		case c := <-h.register:
			h.addClient(c)
		case c := <-h.unregister:
			h.removeClient(c)
		}
	}
}

func (h *Hub) typingSweepLoop() {
	ticker := time.NewTicker(typingSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.ctx.Done():
			return
		case <-ticker.C:
			for chatID, userIDs := range h.typing.SweepExpired() {
				for _, userID := range userIDs {
					if h.handler != nil {
						h.handler.broadcastTypingStop(chatID, userID, nil)
					}
				}
			}
		}
	}
}

// Stop shuts the hub down: stops the workers and closes every connection.
// The inbound queues are left open; a read pump racing shutdown may still be
// enqueuing, so the workers exit through the context only.
func (h *Hub) Stop() {
	h.cancel()

	h.clientsMu.RLock()
	for _, c := range h.clients {
		c.Close()
	}
	h.clientsMu.RUnlock()

	h.wg.Wait()
}

var websocketUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ServeWS upgrades an HTTP request to a websocket connection and registers
// it with the hub. The connection stays unauthenticated until it sends an
// authenticate event.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocketUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println(err)
		return
	}

	RegisterClient(conn, h)
}
