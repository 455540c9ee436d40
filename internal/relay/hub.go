// Package relay реализует stateless relay сервер: ретранслятор
// непрозрачных кадров между пирами одной комнаты. Relay не хранит
// ничего долговременно и не интерпретирует содержимое кадров -
// вся семантика (шифрование, merge) живет на клиентах.
package relay

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/iudanet/caseboard/pkg/wire"
)

// Hub держит активные комнаты и их участников.
// Комната существует, пока в ней есть хотя бы один участник.
type Hub struct {
	rooms  map[string]map[*client]struct{}
	logger *slog.Logger
	mu     sync.Mutex
}

// NewHub создает пустой hub
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		rooms:  make(map[string]map[*client]struct{}),
		logger: logger,
	}
}

// outMessage - одно исходящее websocket сообщение
type outMessage struct {
	data        []byte
	messageType int
}

// client представляет одно подключение пира к комнате
type client struct {
	conn   *websocket.Conn
	send   chan outMessage
	room   string
	mu     sync.Mutex
	closed bool
}

// join регистрирует клиента в комнате и анонсирует новый состав
func (h *Hub) join(roomID string, c *client) {
	h.mu.Lock()
	room, ok := h.rooms[roomID]
	if !ok {
		room = make(map[*client]struct{})
		h.rooms[roomID] = room
	}
	room[c] = struct{}{}
	members := h.members(roomID)
	h.mu.Unlock()

	h.logger.Info("peer joined room", "room", roomID, "peers", len(members))
	h.announcePeers(members)
}

// leave удаляет клиента из комнаты и анонсирует новый состав.
// Пустая комната удаляется - relay не хранит состояния.
func (h *Hub) leave(c *client) {
	h.mu.Lock()
	room, ok := h.rooms[c.room]
	if ok {
		delete(room, c)
		if len(room) == 0 {
			delete(h.rooms, c.room)
		}
	}
	members := h.members(c.room)
	h.mu.Unlock()

	c.shutdown()

	h.logger.Info("peer left room", "room", c.room, "peers", len(members))
	h.announcePeers(members)
}

// members возвращает срез участников комнаты. Вызывается под блокировкой.
func (h *Hub) members(roomID string) []*client {
	room := h.rooms[roomID]
	members := make([]*client, 0, len(room))
	for c := range room {
		members = append(members, c)
	}
	return members
}

// announcePeers рассылает каждому участнику количество других пиров
// (исключая его самого)
func (h *Hub) announcePeers(members []*client) {
	for _, c := range members {
		control := wire.Control{
			Type:  wire.ControlPeers,
			Peers: len(members) - 1,
		}
		data, err := json.Marshal(control)
		if err != nil {
			h.logger.Error("failed to marshal peers control", "error", err)
			return
		}
		c.trySend(outMessage{messageType: websocket.TextMessage, data: data})
	}
}

// broadcast ретранслирует кадр всем участникам комнаты, кроме отправителя
func (h *Hub) broadcast(sender *client, messageType int, data []byte) {
	h.mu.Lock()
	members := h.members(sender.room)
	h.mu.Unlock()

	for _, c := range members {
		if c == sender {
			continue
		}
		c.trySend(outMessage{messageType: messageType, data: data})
	}
}

// RoomCount возвращает количество активных комнат (для мониторинга)
func (h *Hub) RoomCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.rooms)
}

// Close принудительно отключает всех участников всех комнат.
// Используется при остановке сервера.
func (h *Hub) Close() {
	h.mu.Lock()
	var clients []*client
	for _, room := range h.rooms {
		for c := range room {
			clients = append(clients, c)
		}
	}
	h.rooms = make(map[string]map[*client]struct{})
	h.mu.Unlock()

	for _, c := range clients {
		c.shutdown()
		if err := c.conn.Close(); err != nil {
			h.logger.Debug("failed to close client connection", "error", err)
		}
	}
}

// trySend ставит сообщение в очередь отправки.
// Если очередь медленного клиента переполнена, сообщение отбрасывается:
// пир доберет состояние через state_request после реконнекта.
func (c *client) trySend(msg outMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	select {
	case c.send <- msg:
	default:
	}
}

// shutdown закрывает очередь отправки клиента. Повторный вызов безопасен.
func (c *client) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}
