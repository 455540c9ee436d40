package relay

import (
	"log/slog"
	"net/http"
	"regexp"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// maxFrameSize ограничивает размер входящего кадра (4MB)
	maxFrameSize = 4 * 1024 * 1024
	// sendQueueSize - глубина очереди исходящих сообщений на клиента
	sendQueueSize = 64
	// writeTimeout - таймаут записи одного сообщения
	writeTimeout = 10 * time.Second
	// pongTimeout - максимум ожидания pong от клиента
	pongTimeout = 60 * time.Second
	// pingInterval - период keepalive ping
	pingInterval = 30 * time.Second
)

// roomIDPattern - room id это hex-идентификатор фиксированной ширины,
// выведенный клиентом из document id и ключа (см. crypto.DeriveRoomID)
var roomIDPattern = regexp.MustCompile(`^[0-9a-f]{32}$`)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Relay не различает origins: он ничего не знает о клиентах
	// и не имеет собственного состояния, которое можно было бы угнать
	CheckOrigin: func(r *http.Request) bool { return true },
}

// RoomHandler обрабатывает GET /room/{roomID}: поднимает websocket
// и включает клиента в ретрансляцию комнаты.
func (h *Hub) RoomHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID := r.PathValue("roomID")
		if !roomIDPattern.MatchString(roomID) {
			http.Error(w, "invalid room id", http.StatusBadRequest)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.logger.Error("failed to upgrade websocket", "error", err)
			return
		}

		c := &client{
			conn: conn,
			send: make(chan outMessage, sendQueueSize),
			room: roomID,
		}

		h.join(roomID, c)
		go h.writePump(c)
		h.readPump(c)
	}
}

// readPump читает кадры клиента и ретранслирует их комнате.
// Выход из цикла (ошибка или закрытие) снимает клиента с учета.
func (h *Hub) readPump(c *client) {
	defer func() {
		h.leave(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxFrameSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("websocket read failed", "room", c.room, "error", err)
			}
			return
		}

		switch messageType {
		case websocket.BinaryMessage, websocket.TextMessage:
			// Содержимое не интерпретируется - только ретрансляция
			h.broadcast(c, messageType, data)
		default:
		}
	}
}

// writePump пишет очередь исходящих сообщений и шлет keepalive pings
func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(msg.messageType, msg.data); err != nil {
				h.logger.Debug("websocket write failed", "room", c.room, "error", err)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// NewRouter собирает HTTP роутер relay сервера с middleware цепочкой
func NewRouter(hub *Hub, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /room/{roomID}", hub.RoomHandler())
	mux.Handle("GET /healthz", NewHealthHandler(logger))

	var handler http.Handler = mux
	handler = RateLimitMiddleware(60, time.Minute, logger)(handler)
	handler = LoggingMiddleware(logger)(handler)
	handler = RecoveryMiddleware(logger)(handler)

	return handler
}
