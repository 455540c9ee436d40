package models

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Report представляет отчет расследования - локальную кэш-сущность,
// которая зеркалируется в реплицируемый документ.
// Источником истины для чтений UI остается локальный кэш.
type Report struct {
	CreatedAt time.Time `json:"created_at"` // CreatedAt время создания отчета
	UpdatedAt time.Time `json:"updated_at"` // UpdatedAt время последнего изменения
	ID        string    `json:"id"`         // ID уникальный идентификатор отчета (UUID)
	BoardID   string    `json:"board_id"`   // BoardID идентификатор владеющего документа (расследования)
	Title     string    `json:"title"`      // Title заголовок отчета
	Sections  []Section `json:"sections"`   // Sections упорядоченный список секций
}

// Section представляет одну секцию отчета
type Section struct {
	Snapshot      *Snapshot `json:"snapshot,omitempty"`       // Snapshot опциональный визуальный снимок
	ID            string    `json:"id"`                       // ID уникальный идентификатор секции
	Title         string    `json:"title"`                    // Title заголовок секции
	Content       string    `json:"content"`                  // Content свободный текст (может содержать ссылки на сущности)
	ReferencedIDs []string  `json:"referenced_ids,omitempty"` // ReferencedIDs идентификаторы упомянутых сущностей
	Order         int       `json:"order"`                    // Order позиция секции, всегда плотно 0..n-1
}

// Snapshot представляет захваченный визуальный снимок секции.
// Сами байты изображения лежат в blob store, здесь только content hash.
type Snapshot struct {
	CapturedAt time.Time `json:"captured_at"` // CapturedAt момент захвата
	BlobHash   string    `json:"blob_hash"`   // BlobHash content-адрес изображения в blob store
	Viewport   Viewport  `json:"viewport"`    // Viewport видимая область на момент захвата
}

// Viewport описывает видимую область доски
type Viewport struct {
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Zoom float64 `json:"zoom"`
}

// NormalizeSectionOrder восстанавливает инвариант порядка секций:
// после любой вставки/удаления/перестановки значения Order должны быть
// ровно 0..n-1 без пропусков и дубликатов. Сортировка стабильная,
// поэтому секции с равными Order сохраняют относительный порядок.
func NormalizeSectionOrder(sections []Section) {
	sort.SliceStable(sections, func(i, j int) bool {
		return sections[i].Order < sections[j].Order
	})
	for i := range sections {
		sections[i].Order = i
	}
}

// SectionByID возвращает индекс секции с заданным ID или -1
func (r *Report) SectionByID(id string) int {
	for i := range r.Sections {
		if r.Sections[i].ID == id {
			return i
		}
	}
	return -1
}

// Clone создает глубокую копию отчета
func (r *Report) Clone() *Report {
	clone := *r
	clone.Sections = make([]Section, len(r.Sections))
	for i, s := range r.Sections {
		cs := s
		if s.Snapshot != nil {
			snap := *s.Snapshot
			cs.Snapshot = &snap
		}
		if s.ReferencedIDs != nil {
			cs.ReferencedIDs = append([]string(nil), s.ReferencedIDs...)
		}
		clone.Sections[i] = cs
	}
	return &clone
}

// CanonicalJSON возвращает каноническую сериализацию отчета.
// Используется реконсайлером для сравнения "изменилось ли что-то на самом деле"
// перед записью в кэш (защита от шторма обновлений).
func (r *Report) CanonicalJSON() ([]byte, error) {
	clone := r.Clone()
	NormalizeSectionOrder(clone.Sections)

	data, err := json.Marshal(clone)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal report: %w", err)
	}
	return data, nil
}
