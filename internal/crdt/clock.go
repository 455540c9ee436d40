package crdt

import (
	"sync"

	"github.com/google/uuid"
)

// LamportClock выдает логические timestamp'ы для регистров полей.
// Каждая локальная запись получает Tick, каждый входящий update-кадр
// подтягивает счетчик через Update: так запись, сделанная после
// применения чужого состояния, гарантированно его перебивает.
// nodeID разрешает ничьи при равных timestamp'ах (больший побеждает).
type LamportClock struct {
	nodeID  string // стабильный идентификатор реплики
	counter int64
	mu      sync.Mutex
}

// NewLamportClock создает часы со случайным идентификатором реплики
func NewLamportClock() *LamportClock {
	return &LamportClock{nodeID: uuid.New().String()}
}

// NewLamportClockWithNodeID создает часы с заданным идентификатором.
// Реплика документа использует node id из настроек, чтобы ее записи
// разрешались одинаково между перезапусками.
func NewLamportClockWithNodeID(nodeID string) *LamportClock {
	return &LamportClock{nodeID: nodeID}
}

// Tick выдает timestamp для новой локальной записи
func (lc *LamportClock) Tick() int64 {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	lc.counter++
	return lc.counter
}

// Update подтягивает счетчик по timestamp'у из удаленного кадра:
// counter = max(counter, remote) + 1
func (lc *LamportClock) Update(remoteTimestamp int64) int64 {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	if remoteTimestamp > lc.counter {
		lc.counter = remoteTimestamp
	}
	lc.counter++

	return lc.counter
}

// GetTimestamp возвращает текущий счетчик, не продвигая его
func (lc *LamportClock) GetTimestamp() int64 {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	return lc.counter
}

// GetNodeID возвращает идентификатор реплики
func (lc *LamportClock) GetNodeID() string {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	return lc.nodeID
}

// SetTimestamp восстанавливает счетчик после replay реплики
func (lc *LamportClock) SetTimestamp(timestamp int64) {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	lc.counter = timestamp
}
