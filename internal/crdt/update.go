package crdt

import (
	"encoding/json"
	"fmt"
)

// Op представляет запись одного LWW-регистра в составе update.
// Пустое имя поля означает запись tombstone.
type Op struct {
	Register   Register `json:"register"`
	Collection string   `json:"collection"`
	EntityID   string   `json:"entity_id"`
	Field      string   `json:"field,omitempty"`
}

// Update представляет сериализуемую пачку операций одной транзакции.
// Применение update коммутативно и идемпотентно: повторная доставка
// или доставка в другом порядке дает тот же результат (LWW merge).
type Update struct {
	Ops []Op `json:"ops"`
}

// EncodeUpdate сериализует update в байтовый кадр
func EncodeUpdate(u *Update) ([]byte, error) {
	data, err := json.Marshal(u)
	if err != nil {
		return nil, fmt.Errorf("failed to encode update: %w", err)
	}
	return data, nil
}

// DecodeUpdate десериализует байтовый кадр в update
func DecodeUpdate(data []byte) (*Update, error) {
	var u Update
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("failed to decode update: %w", err)
	}
	return &u, nil
}
