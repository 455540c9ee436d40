// Package session реализует менеджер сессии репликации: владеет жизненным
// циклом открытого документа (документ + локальная реплика + реконсайлер
// кэша + опциональный транспорт) и публикует наблюдаемое состояние.
//
// Одновременно открыт не более чем один документ. Все переходы между
// режимами идут через менеджер; прямых ссылок на транспорт или реплику
// наружу не выдается.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/iudanet/caseboard/internal/crdt"
	"github.com/iudanet/caseboard/internal/crypto"
	"github.com/iudanet/caseboard/internal/reconcile"
	"github.com/iudanet/caseboard/internal/replica"
	"github.com/iudanet/caseboard/internal/settings"
	"github.com/iudanet/caseboard/internal/transport"
	"github.com/iudanet/caseboard/internal/validation"
)

var (
	// ErrServerNotConfigured возвращается shared-операциями,
	// когда relay server URL не задан в настройках
	ErrServerNotConfigured = errors.New("relay server url is not configured")

	// ErrInvalidKey возвращается при попытке открыть shared-документ
	// с ключом неверного формата
	ErrInvalidKey = errors.New("invalid encryption key")

	// ErrNotOpen возвращается операциями, требующими открытого документа
	ErrNotOpen = errors.New("no document is open")
)

// transportConn - используемая менеджером часть транспортного соединения.
// Интерфейс вынесен ради подмены транспорта в тестах.
type transportConn interface {
	PeerCount() int
	Synced() bool
	Close() error
}

// connectFunc абстрагирует установку транспортного соединения
type connectFunc func(serverURL, roomID string, doc *crdt.Doc, opts transport.Options) (transportConn, error)

// Manager владеет текущей сессией и ее ресурсами
type Manager struct {
	settings   *settings.Store
	reconciler *reconcile.Service
	dataDir    string
	logger     *slog.Logger
	connect    connectFunc

	mu       sync.Mutex
	state    State
	doc      *crdt.Doc
	replica  *replica.Store
	conn     transportConn
	key      string
	epoch    int // инкремент на каждый переход: гасит callbacks умершего транспорта
	listMu   sync.Mutex
	listener map[int]func(State)
	nextID   int
}

// NewManager creates a new session manager
func NewManager(st *settings.Store, rec *reconcile.Service, dataDir string, logger *slog.Logger) *Manager {
	m := &Manager{
		settings:   st,
		reconciler: rec,
		dataDir:    dataDir,
		logger:     logger,
		listener:   make(map[int]func(State)),
	}
	m.connect = func(serverURL, roomID string, doc *crdt.Doc, opts transport.Options) (transportConn, error) {
		return transport.Connect(serverURL, roomID, doc, opts)
	}
	return m
}

// State возвращает снимок текущего состояния сессии
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Subscribe регистрирует слушателя изменений состояния сессии.
// Возвращает функцию отписки.
func (m *Manager) Subscribe(fn func(State)) func() {
	m.listMu.Lock()
	defer m.listMu.Unlock()

	id := m.nextID
	m.nextID++
	m.listener[id] = fn

	return func() {
		m.listMu.Lock()
		defer m.listMu.Unlock()
		delete(m.listener, id)
	}
}

// setState мутирует состояние под замком и уведомляет слушателей вне его
func (m *Manager) setState(mutate func(*State)) {
	m.mu.Lock()
	mutate(&m.state)
	snapshot := m.state
	m.mu.Unlock()

	m.notify(snapshot)
}

func (m *Manager) notify(snapshot State) {
	m.listMu.Lock()
	fns := make([]func(State), 0, len(m.listener))
	for _, fn := range m.listener {
		fns = append(fns, fn)
	}
	m.listMu.Unlock()

	for _, fn := range fns {
		fn(snapshot)
	}
}

// OpenLocal открывает документ в локальном режиме без репликации.
// Уже открытый документ предварительно закрывается. При ошибке
// персистентности частично присоединенные ресурсы откатываются.
func (m *Manager) OpenLocal(ctx context.Context, documentID string) error {
	if err := validation.ValidateDocumentID(documentID); err != nil {
		return err
	}
	if err := m.Close(); err != nil {
		return err
	}
	if err := m.openDoc(ctx, documentID); err != nil {
		return err
	}

	m.setState(func(s *State) {
		*s = State{Mode: ModeLocal, DocumentID: documentID}
	})
	m.logger.Info("opened local document", "document_id", documentID)
	return nil
}

// OpenShared открывает документ и присоединяет транспорт к комнате,
// детерминированно выведенной из пары (documentID, key). Пустой ключ -
// явный выбор plaintext-режима: кадры идут через relay без шифрования,
// комната выводится из (documentID, "").
func (m *Manager) OpenShared(ctx context.Context, documentID, keyString string) error {
	if err := validation.ValidateDocumentID(documentID); err != nil {
		return err
	}
	if keyString != "" && !crypto.IsValidKeyString(keyString) {
		return ErrInvalidKey
	}
	serverURL, err := m.settings.ServerURL()
	if err != nil {
		return fmt.Errorf("failed to read server url: %w", err)
	}
	if serverURL == "" {
		return ErrServerNotConfigured
	}

	if err := m.Close(); err != nil {
		return err
	}
	if err := m.openDoc(ctx, documentID); err != nil {
		return err
	}
	if err := m.attachTransport(documentID, keyString, serverURL); err != nil {
		m.teardown()
		return err
	}

	m.logger.Info("opened shared document",
		"document_id", documentID,
		"room_id", crypto.DeriveRoomID(documentID, keyString))
	return nil
}

// Share переводит открытый документ в shared-режим под совершенно новым
// ключом. Каждый вызов генерирует новый ключ и новую комнату: старые
// приглашения перестают действовать. Возвращает ключ для ссылки.
func (m *Manager) Share(ctx context.Context) (string, error) {
	m.mu.Lock()
	doc := m.doc
	documentID := m.state.DocumentID
	m.mu.Unlock()

	if doc == nil {
		return "", ErrNotOpen
	}

	serverURL, err := m.settings.ServerURL()
	if err != nil {
		return "", fmt.Errorf("failed to read server url: %w", err)
	}
	if serverURL == "" {
		return "", ErrServerNotConfigured
	}

	keyString, err := crypto.GenerateKey()
	if err != nil {
		return "", fmt.Errorf("failed to generate key: %w", err)
	}

	m.detachTransport()
	if err := m.attachTransport(documentID, keyString, serverURL); err != nil {
		// Документ остается открытым локально
		m.setState(func(s *State) {
			s.Mode = ModeLocal
			s.RoomID = ""
			s.Connected = false
			s.Syncing = false
			s.PeerCount = 0
		})
		return "", err
	}

	m.logger.Info("document shared", "document_id", documentID)
	return keyString, nil
}

// Unshare останавливает репликацию и возвращает документ в локальный
// режим. Локальная реплика и кэш не затрагиваются.
func (m *Manager) Unshare() {
	m.detachTransport()
	m.setState(func(s *State) {
		if s.Mode == ModeShared {
			s.Mode = ModeLocal
		}
		s.RoomID = ""
		s.Connected = false
		s.Syncing = false
		s.PeerCount = 0
		s.Err = nil
	})
}

// ShareURL собирает ссылку приглашения для текущей shared-сессии
func (m *Manager) ShareURL(baseURL string) (string, error) {
	m.mu.Lock()
	documentID := m.state.DocumentID
	mode := m.state.Mode
	key := m.key
	m.mu.Unlock()

	if mode != ModeShared {
		return "", ErrNotOpen
	}

	serverURL, err := m.settings.ServerURL()
	if err != nil {
		return "", err
	}
	displayName, err := m.settings.DisplayName()
	if err != nil {
		return "", err
	}

	return BuildShareURL(baseURL, documentID, serverURL, displayName, key)
}

// Close закрывает текущую сессию: транспорт, реконсайлер, реплику
// и документ, в этом порядке. Идемпотентен: без открытого документа - no-op.
func (m *Manager) Close() error {
	m.detachTransport()
	m.teardown()
	m.setState(func(s *State) {
		*s = State{}
	})
	return nil
}

// openDoc создает документ, проигрывает реплику и присоединяет
// реконсайлер. Любая ошибка откатывает уже присоединенные ресурсы.
func (m *Manager) openDoc(ctx context.Context, documentID string) error {
	nodeID, err := m.settings.NodeID()
	if err != nil {
		return fmt.Errorf("failed to get node id: %w", err)
	}

	doc := crdt.NewDocWithNodeID(nodeID)

	rep, err := replica.Open(m.dataDir, documentID, doc, m.logger)
	if err != nil {
		doc.Destroy()
		return fmt.Errorf("failed to open replica: %w", err)
	}

	if err := m.reconciler.Attach(ctx, doc, documentID); err != nil {
		if cerr := rep.Close(); cerr != nil {
			m.logger.Error("failed to close replica during rollback", "error", cerr)
		}
		doc.Destroy()
		return fmt.Errorf("failed to attach reconciler: %w", err)
	}

	m.mu.Lock()
	m.doc = doc
	m.replica = rep
	m.mu.Unlock()

	return nil
}

// teardown освобождает документ, реплику и реконсайлер
func (m *Manager) teardown() {
	m.mu.Lock()
	doc := m.doc
	rep := m.replica
	m.doc = nil
	m.replica = nil
	m.key = ""
	m.mu.Unlock()

	if doc == nil {
		return
	}

	m.reconciler.Detach()
	if err := rep.Close(); err != nil {
		m.logger.Error("failed to close replica", "error", err)
	}
	doc.Destroy()
}

// attachTransport подключает документ к relay-комнате.
// Пустой keyString означает plaintext-режим: транспорту передается nil-ключ.
func (m *Manager) attachTransport(documentID, keyString, serverURL string) error {
	var key crypto.Key
	if keyString != "" {
		imported, err := crypto.ImportKey(keyString)
		if err != nil {
			return ErrInvalidKey
		}
		key = imported
	}
	displayName, err := m.settings.DisplayName()
	if err != nil {
		return fmt.Errorf("failed to read display name: %w", err)
	}

	m.mu.Lock()
	doc := m.doc
	m.epoch++
	epoch := m.epoch
	m.mu.Unlock()

	if doc == nil {
		return ErrNotOpen
	}

	roomID := crypto.DeriveRoomID(documentID, keyString)

	conn, err := m.connect(serverURL, roomID, doc, transport.Options{
		Key:         key,
		DisplayName: displayName,
		Logger:      m.logger,
		OnStatus: func(connected bool) {
			m.setEpochState(epoch, func(s *State) { s.Connected = connected })
		},
		OnSyncStatus: func(syncing bool) {
			m.setEpochState(epoch, func(s *State) { s.Syncing = syncing })
		},
		OnPeerCount: func(count int) {
			m.setEpochState(epoch, func(s *State) { s.PeerCount = count })
		},
		OnError: func(err error) {
			m.logger.Warn("transport error", "error", err)
			m.setEpochState(epoch, func(s *State) { s.Err = err })
		},
	})
	if err != nil {
		return fmt.Errorf("failed to connect to relay: %w", err)
	}

	m.mu.Lock()
	m.conn = conn
	m.key = keyString
	m.mu.Unlock()

	m.setState(func(s *State) {
		s.Mode = ModeShared
		s.DocumentID = documentID
		s.RoomID = roomID
		s.Connected = false
		s.Syncing = true
		s.PeerCount = 0
		s.Err = nil
	})
	return nil
}

// detachTransport закрывает транспорт, если он подключен
func (m *Manager) detachTransport() {
	m.mu.Lock()
	conn := m.conn
	m.conn = nil
	m.key = ""
	m.epoch++
	m.mu.Unlock()

	if conn == nil {
		return
	}
	if err := conn.Close(); err != nil {
		m.logger.Error("failed to close transport", "error", err)
	}
}

// setEpochState применяет мутацию состояния, только если callback
// принадлежит живому транспортному соединению
func (m *Manager) setEpochState(epoch int, mutate func(*State)) {
	m.mu.Lock()
	if epoch != m.epoch {
		m.mu.Unlock()
		return
	}
	mutate(&m.state)
	snapshot := m.state
	m.mu.Unlock()

	m.notify(snapshot)
}
