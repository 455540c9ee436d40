// Package transport реализует клиентский канал к relay серверу:
// duplex websocket, через который кадры updates документа уходят
// другим пирам комнаты и приходят от них.
//
// Исходящие кадры шифруются, входящие дешифруются, если настроен ключ;
// без ключа кадры идут как есть (явный opt-in plaintext режим).
// Ошибки транспорта никогда не пробрасываются в несвязанные call sites -
// они доставляются только через сигнал OnError, а канал переподключается
// сам. Разрыв соединения не трогает ни документ, ни локальную реплику:
// работа продолжается offline, после реконнекта состояние доезжает.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/iudanet/caseboard/internal/crdt"
	"github.com/iudanet/caseboard/internal/crypto"
	"github.com/iudanet/caseboard/pkg/wire"
)

const (
	// DefaultReannounceDelay - задержка повторного анонса присутствия
	// после появления нового пира. Tunable, не correctness-critical:
	// это обход известной особенности relay, когда новый участник
	// может не сразу увидеть presence существующих.
	DefaultReannounceDelay = 200 * time.Millisecond

	// sendQueueSize - глубина очереди исходящих кадров
	sendQueueSize = 256

	// dialTimeout - таймаут одной попытки подключения
	dialTimeout = 10 * time.Second

	// maxBackoff - потолок паузы между попытками реконнекта
	maxBackoff = 30 * time.Second
)

// Options настраивает подключение к relay
type Options struct {
	// Key - ключ шифрования кадров. nil означает plaintext режим.
	Key crypto.Key
	// DisplayName - отображаемое имя пира, уходит в hello анонсах
	DisplayName string
	// ReannounceDelay - задержка повторного hello после роста peer count.
	// Ноль означает DefaultReannounceDelay.
	ReannounceDelay time.Duration
	// Logger для событий транспорта
	Logger *slog.Logger

	// Сигналы наблюдаемого состояния. Любой из них может быть nil.
	OnStatus     func(connected bool)
	OnSyncStatus func(syncing bool)
	OnPeerCount  func(count int)
	OnError      func(err error)
}

// outFrame - один элемент очереди отправки
type outFrame struct {
	data    []byte
	control bool // control кадры - JSON метаданные, не шифруются
}

// Conn представляет канал репликации одного документа через relay.
// Живет до Close: внутри переподключается сама.
type Conn struct {
	doc         *crdt.Doc
	logger      *slog.Logger
	opts        Options
	wsURL       string
	sendCh      chan outFrame
	closeCh     chan struct{}
	unsubscribe func()

	mu        sync.Mutex
	peerCount int
	synced    bool
	closed    bool
	reTimer   *time.Timer
}

// Connect запускает канал репликации к комнате roomID на relay serverURL.
// Сам вызов не ждет сетевого round-trip: подключение происходит
// конкурентно, его статус наблюдается через сигналы Options.
// Ошибка возвращается только за невалидный URL (configuration error).
func Connect(serverURL, roomID string, doc *crdt.Doc, opts Options) (*Conn, error) {
	wsURL, err := buildRoomURL(serverURL, roomID)
	if err != nil {
		return nil, err
	}

	if opts.ReannounceDelay == 0 {
		opts.ReannounceDelay = DefaultReannounceDelay
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	c := &Conn{
		doc:     doc,
		logger:  opts.Logger,
		opts:    opts,
		wsURL:   wsURL,
		sendCh:  make(chan outFrame, sendQueueSize),
		closeCh: make(chan struct{}),
	}

	// Локальные транзакции уходят пирам; удаленные updates не
	// ретранслируются - relay уже доставил их всем участникам
	c.unsubscribe = doc.OnUpdate(func(data []byte, origin crdt.Origin) {
		if origin == crdt.OriginLocal {
			c.enqueue(outFrame{data: data})
		}
	})

	go c.run()

	return c, nil
}

// buildRoomURL превращает server URL (http/https/ws/wss) в websocket URL комнаты
func buildRoomURL(serverURL, roomID string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("invalid relay server url: %w", err)
	}

	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("invalid relay server url scheme %q", u.Scheme)
	}

	u.Path = "/room/" + roomID
	return u.String(), nil
}

// run - цикл жизни канала: подключение, обмен, реконнект с backoff
func (c *Conn) run() {
	backoff := time.Second

	for {
		if c.isClosed() {
			return
		}

		ws, err := c.dial()
		if err != nil {
			c.reportError(fmt.Errorf("relay connection failed: %w", err))

			select {
			case <-time.After(backoff):
			case <-c.closeCh:
				return
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}
		backoff = time.Second

		c.setStatus(true)
		c.setSyncing(true)
		c.handshake()

		readDone := make(chan struct{})
		go c.readPump(ws, readDone)
		c.writeLoop(ws, readDone)

		_ = ws.Close()
		c.setStatus(false)
	}
}

func (c *Conn) dial() (*websocket.Conn, error) {
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, c.wsURL, nil)
	return ws, err
}

// handshake ставит в очередь начальный обмен: анонс присутствия,
// свое полное состояние (seed для остальных) и запрос чужого состояния
func (c *Conn) handshake() {
	c.enqueueControl(wire.Control{
		Type:   wire.ControlHello,
		NodeID: c.doc.NodeID(),
		Name:   c.opts.DisplayName,
	})

	state, err := c.doc.EncodeStateAsUpdate()
	if err != nil {
		c.reportError(fmt.Errorf("failed to encode document state: %w", err))
	} else {
		c.enqueue(outFrame{data: state})
	}

	c.enqueueControl(wire.Control{
		Type:   wire.ControlStateRequest,
		NodeID: c.doc.NodeID(),
	})
}

// readPump читает входящие кадры до ошибки чтения
func (c *Conn) readPump(ws *websocket.Conn, readDone chan struct{}) {
	defer close(readDone)

	for {
		messageType, data, err := ws.ReadMessage()
		if err != nil {
			if !c.isClosed() {
				c.logger.Debug("relay read closed", "error", err)
			}
			return
		}

		switch messageType {
		case websocket.TextMessage:
			c.handleControl(data)
		case websocket.BinaryMessage:
			c.handleFrame(data)
		}
	}
}

// writeLoop пишет очередь исходящих кадров, шифруя update кадры
func (c *Conn) writeLoop(ws *websocket.Conn, readDone chan struct{}) {
	for {
		select {
		case frame := <-c.sendCh:
			if err := c.writeFrame(ws, frame); err != nil {
				c.logger.Debug("relay write failed", "error", err)
				return
			}
		case <-readDone:
			return
		case <-c.closeCh:
			_ = ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (c *Conn) writeFrame(ws *websocket.Conn, frame outFrame) error {
	if frame.control {
		return ws.WriteMessage(websocket.TextMessage, frame.data)
	}

	data := frame.data
	if c.opts.Key != nil {
		encrypted, err := crypto.Encrypt(c.opts.Key, data)
		if err != nil {
			c.reportError(fmt.Errorf("failed to encrypt frame: %w", err))
			return nil
		}
		data = encrypted
	}
	return ws.WriteMessage(websocket.BinaryMessage, data)
}

// handleControl обрабатывает JSON control сообщение
func (c *Conn) handleControl(data []byte) {
	var control wire.Control
	if err := json.Unmarshal(data, &control); err != nil {
		c.logger.Warn("malformed control message", "error", err)
		return
	}

	switch control.Type {
	case wire.ControlPeers:
		c.handlePeers(control.Peers)

	case wire.ControlStateRequest:
		// Пир просит состояние - отвечаем полным снимком документа
		state, err := c.doc.EncodeStateAsUpdate()
		if err != nil {
			c.reportError(fmt.Errorf("failed to encode document state: %w", err))
			return
		}
		c.enqueue(outFrame{data: state})

	case wire.ControlHello:
		// Информационный анонс присутствия; состав комнаты ведет relay
		c.logger.Debug("peer hello", "node_id", control.NodeID, "name", control.Name)
	}
}

// handlePeers обновляет peer count и планирует повторный анонс
// присутствия при появлении нового участника
func (c *Conn) handlePeers(count int) {
	c.mu.Lock()
	prev := c.peerCount
	c.peerCount = count

	// Один в комнате и начальный обмен делать не с кем - мы synced
	becameSynced := count == 0 && !c.synced
	if becameSynced {
		c.synced = true
	}

	var schedule bool
	if count > prev && !c.closed {
		schedule = true
		if c.reTimer != nil {
			c.reTimer.Stop()
		}
	}
	c.mu.Unlock()

	if c.opts.OnPeerCount != nil {
		c.opts.OnPeerCount(count)
	}
	if becameSynced && c.opts.OnSyncStatus != nil {
		c.opts.OnSyncStatus(false)
	}

	if schedule {
		timer := time.AfterFunc(c.opts.ReannounceDelay, func() {
			if c.isClosed() {
				return
			}
			c.enqueueControl(wire.Control{
				Type:   wire.ControlHello,
				NodeID: c.doc.NodeID(),
				Name:   c.opts.DisplayName,
			})
		})
		c.mu.Lock()
		c.reTimer = timer
		c.mu.Unlock()
	}
}

// handleFrame дешифрует и применяет входящий update кадр.
// Несошедшийся auth tag означает подмену, порчу или чужой ключ:
// кадр отбрасывается целиком, ошибка уходит в сигнал OnError.
func (c *Conn) handleFrame(data []byte) {
	if c.opts.Key != nil {
		plaintext, err := crypto.Decrypt(c.opts.Key, data)
		if err != nil {
			if errors.Is(err, crypto.ErrAuthenticationFailed) {
				c.reportError(err)
				return
			}
			c.reportError(fmt.Errorf("failed to decrypt frame: %w", err))
			return
		}
		data = plaintext
	}

	if err := c.doc.ApplyUpdate(data); err != nil {
		if errors.Is(err, crdt.ErrDocDestroyed) {
			// Документ закрыт, пока кадр был в полете - молча отбрасываем
			return
		}
		c.reportError(fmt.Errorf("failed to apply remote update: %w", err))
		return
	}

	c.markSynced()
}

// markSynced помечает канал синхронизированным после первого
// примененного удаленного кадра
func (c *Conn) markSynced() {
	c.mu.Lock()
	already := c.synced
	c.synced = true
	c.mu.Unlock()

	if !already && c.opts.OnSyncStatus != nil {
		c.opts.OnSyncStatus(false)
	}
}

// enqueue ставит кадр в очередь отправки. Переполненная очередь
// означает мертвое/медленное соединение - кадр отбрасывается,
// состояние доедет полным снимком после реконнекта.
func (c *Conn) enqueue(frame outFrame) {
	select {
	case c.sendCh <- frame:
	default:
		c.logger.Warn("send queue full, dropping frame")
	}
}

func (c *Conn) enqueueControl(control wire.Control) {
	data, err := json.Marshal(control)
	if err != nil {
		c.logger.Error("failed to marshal control message", "error", err)
		return
	}
	c.enqueue(outFrame{data: data, control: true})
}

// PeerCount возвращает текущее количество других пиров комнаты
func (c *Conn) PeerCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.peerCount
}

// Synced сообщает, завершен ли начальный обмен состоянием
func (c *Conn) Synced() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.synced
}

// Close останавливает канал и отписывается от документа.
// Сам документ и локальная реплика не затрагиваются.
// Повторный вызов безопасен.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	if c.reTimer != nil {
		c.reTimer.Stop()
	}
	c.mu.Unlock()

	c.unsubscribe()
	close(c.closeCh)
	return nil
}

func (c *Conn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.closed
}

func (c *Conn) setStatus(connected bool) {
	if c.opts.OnStatus != nil {
		c.opts.OnStatus(connected)
	}
}

func (c *Conn) setSyncing(syncing bool) {
	c.mu.Lock()
	c.synced = !syncing
	c.mu.Unlock()

	if c.opts.OnSyncStatus != nil {
		c.opts.OnSyncStatus(syncing)
	}
}

func (c *Conn) reportError(err error) {
	c.logger.Warn("transport error", "error", err)
	if c.opts.OnError != nil {
		c.opts.OnError(err)
	}
}
