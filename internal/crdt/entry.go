package crdt

import "encoding/json"

// Register представляет LWW-регистр одного поля сущности:
// значение плюс Lamport timestamp и node id версии, которая его записала.
type Register struct {
	Value     json.RawMessage `json:"value"`     // Value сериализованное значение поля
	NodeID    string          `json:"node_id"`   // NodeID узел, записавший эту версию
	Timestamp int64           `json:"timestamp"` // Timestamp Lamport timestamp записи
}

// IsNewerThan сравнивает два регистра по правилу LWW (Last-Write-Wins):
// 1. Сначала сравнивается Timestamp (больший выигрывает)
// 2. При равных Timestamp сравнивается NodeID (лексикографически)
func (r *Register) IsNewerThan(other *Register) bool {
	if r.Timestamp > other.Timestamp {
		return true
	}
	if r.Timestamp < other.Timestamp {
		return false
	}
	// Timestamps равны - сравниваем NodeID для детерминизма
	return r.NodeID > other.NodeID
}

// Clone создает копию регистра
func (r *Register) Clone() *Register {
	value := make(json.RawMessage, len(r.Value))
	copy(value, r.Value)

	return &Register{
		Value:     value,
		Timestamp: r.Timestamp,
		NodeID:    r.NodeID,
	}
}

// Entry представляет одну сущность в коллекции реплицируемого документа.
// Каждое поле - независимый LWW-регистр, поэтому конкурентные правки
// разных полей одной сущности сливаются без конфликта.
type Entry struct {
	Fields    map[string]*Register `json:"fields"`              // Fields регистры полей сущности
	Tombstone *Register            `json:"tombstone,omitempty"` // Tombstone регистр soft delete (bool значение)
}

// NewEntry создает пустую сущность
func NewEntry() *Entry {
	return &Entry{
		Fields: make(map[string]*Register),
	}
}

// Field возвращает сырое значение поля и флаг его наличия
func (e *Entry) Field(name string) (json.RawMessage, bool) {
	reg, ok := e.Fields[name]
	if !ok {
		return nil, false
	}
	return reg.Value, true
}

// StringField декодирует строковое поле. Возвращает "" если поля нет
// или оно не строка.
func (e *Entry) StringField(name string) string {
	raw, ok := e.Field(name)
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

// IsDeleted возвращает true, если сущность помечена как удаленная
func (e *Entry) IsDeleted() bool {
	if e.Tombstone == nil {
		return false
	}
	var deleted bool
	if err := json.Unmarshal(e.Tombstone.Value, &deleted); err != nil {
		return false
	}
	return deleted
}

// MaxTimestamp возвращает максимальный timestamp среди всех регистров сущности
func (e *Entry) MaxTimestamp() int64 {
	var maxTS int64
	for _, reg := range e.Fields {
		if reg.Timestamp > maxTS {
			maxTS = reg.Timestamp
		}
	}
	if e.Tombstone != nil && e.Tombstone.Timestamp > maxTS {
		maxTS = e.Tombstone.Timestamp
	}
	return maxTS
}

// Clone создает глубокую копию сущности
func (e *Entry) Clone() *Entry {
	clone := NewEntry()
	for name, reg := range e.Fields {
		clone.Fields[name] = reg.Clone()
	}
	if e.Tombstone != nil {
		clone.Tombstone = e.Tombstone.Clone()
	}
	return clone
}

// mergeRegister применяет LWW-правило к одному регистру.
// Возвращает (новый регистр, был ли он обновлен).
func mergeRegister(existing, incoming *Register) (*Register, bool) {
	if existing == nil {
		return incoming.Clone(), true
	}
	if incoming.IsNewerThan(existing) {
		return incoming.Clone(), true
	}
	return existing, false
}
