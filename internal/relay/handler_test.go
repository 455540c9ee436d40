package relay

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/caseboard/pkg/wire"
)

const testRoomID = "0123456789abcdef0123456789abcdef"

func startServer(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()

	hub := NewHub(testLogger())
	server := httptest.NewServer(NewRouter(hub, testLogger()))
	t.Cleanup(func() {
		server.Close()
		hub.Close()
	})
	return hub, server
}

func dialRoom(t *testing.T, server *httptest.Server, roomID string) *websocket.Conn {
	t.Helper()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/room/" + roomID
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readPeers читает сообщения до первого peers control
func readPeers(t *testing.T, conn *websocket.Conn) int {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		messageType, data, err := conn.ReadMessage()
		require.NoError(t, err)
		if messageType != websocket.TextMessage {
			continue
		}
		var control wire.Control
		require.NoError(t, json.Unmarshal(data, &control))
		if control.Type == wire.ControlPeers {
			return control.Peers
		}
	}
}

func TestHealthz(t *testing.T) {
	_, server := startServer(t)

	resp, err := http.Get(server.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRoomHandler_InvalidRoomID(t *testing.T) {
	_, server := startServer(t)

	tests := []string{
		"short",
		"0123456789ABCDEF0123456789ABCDEF", // uppercase
		"0123456789abcdef0123456789abcdeg", // не hex
	}

	for _, roomID := range tests {
		resp, err := http.Get(server.URL + "/room/" + roomID)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, roomID)
	}
}

func TestHub_PeerAnnouncements(t *testing.T) {
	hub, server := startServer(t)

	first := dialRoom(t, server, testRoomID)

	// Один в комнате: ноль других пиров
	assert.Equal(t, 0, readPeers(t, first))
	assert.Equal(t, 1, hub.RoomCount())

	second := dialRoom(t, server, testRoomID)
	assert.Equal(t, 1, readPeers(t, second))

	// Первый получает обновленный состав
	assert.Equal(t, 1, readPeers(t, first))

	// Отключение второго анонсируется первому
	require.NoError(t, second.Close())
	assert.Equal(t, 0, readPeers(t, first))
}

func TestHub_BroadcastSkipsSender(t *testing.T) {
	_, server := startServer(t)

	sender := dialRoom(t, server, testRoomID)
	receiver := dialRoom(t, server, testRoomID)

	// Дожидаемся, пока оба в комнате
	assert.Equal(t, 0, readPeers(t, sender))
	assert.Equal(t, 1, readPeers(t, receiver))

	payload := []byte{0xde, 0xad, 0xbe, 0xef}
	require.NoError(t, sender.WriteMessage(websocket.BinaryMessage, payload))

	// Получатель видит кадр как есть - relay не интерпретирует содержимое
	require.NoError(t, receiver.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		messageType, data, err := receiver.ReadMessage()
		require.NoError(t, err)
		if messageType == websocket.BinaryMessage {
			assert.Equal(t, payload, data)
			break
		}
	}

	// Отправителю его же кадр не возвращается: единственное, что он
	// может получить - text controls
	require.NoError(t, sender.SetReadDeadline(time.Now().Add(300*time.Millisecond)))
	for {
		messageType, _, err := sender.ReadMessage()
		if err != nil {
			break // таймаут - эха не было
		}
		assert.NotEqual(t, websocket.BinaryMessage, messageType)
	}
}

func TestHub_RoomIsolation(t *testing.T) {
	_, server := startServer(t)

	otherRoom := "ffffffffffffffffffffffffffffffff"
	a := dialRoom(t, server, testRoomID)
	b := dialRoom(t, server, otherRoom)

	// Комнаты не видят друг друга
	assert.Equal(t, 0, readPeers(t, a))
	assert.Equal(t, 0, readPeers(t, b))

	require.NoError(t, a.WriteMessage(websocket.BinaryMessage, []byte("x")))

	require.NoError(t, b.SetReadDeadline(time.Now().Add(300*time.Millisecond)))
	for {
		messageType, _, err := b.ReadMessage()
		if err != nil {
			break
		}
		assert.NotEqual(t, websocket.BinaryMessage, messageType)
	}
}
