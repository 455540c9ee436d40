package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/iudanet/caseboard/internal/crdt"
)

// Имена полей отчета в зеркалируемой коллекции документа.
// Каждое поле - независимый LWW-регистр, поэтому конкурентная правка
// заголовка и секций у разных пиров сливается без конфликта.
const (
	SharedFieldBoardID   = "board_id"
	SharedFieldTitle     = "title"
	SharedFieldSections  = "sections"
	SharedFieldCreatedAt = "created_at"
	SharedFieldUpdatedAt = "updated_at"
)

// ReportsCollection - имя зеркалируемой коллекции отчетов в документе
const ReportsCollection = "reports"

// ToShared конвертирует отчет в набор полей зеркалируемой коллекции.
// Обратная функция - ReportFromShared. Вместе они заменяют
// динамический доступ к полям строгой схемой.
func ToShared(r *Report) map[string]any {
	sections := r.Sections
	if sections == nil {
		sections = []Section{}
	}
	return map[string]any{
		SharedFieldBoardID:   r.BoardID,
		SharedFieldTitle:     r.Title,
		SharedFieldSections:  sections,
		SharedFieldCreatedAt: r.CreatedAt,
		SharedFieldUpdatedAt: r.UpdatedAt,
	}
}

// ReportFromShared восстанавливает отчет из сущности зеркалируемой коллекции.
// Функция тотальна для любых структурно валидных сущностей: отсутствующие
// опциональные поля получают нулевые значения, порядок секций нормализуется.
// Возвращает ошибку только для сущностей, не являющихся отчетом
// (нет board_id или поля не декодируются).
func ReportFromShared(id string, e *crdt.Entry) (*Report, error) {
	if e == nil {
		return nil, fmt.Errorf("nil entry for report %q", id)
	}

	rawBoardID, ok := e.Field(SharedFieldBoardID)
	if !ok {
		return nil, fmt.Errorf("entry %q has no %s field", id, SharedFieldBoardID)
	}

	r := &Report{ID: id, Sections: []Section{}}

	if err := json.Unmarshal(rawBoardID, &r.BoardID); err != nil {
		return nil, fmt.Errorf("failed to decode %s of %q: %w", SharedFieldBoardID, id, err)
	}

	if raw, ok := e.Field(SharedFieldTitle); ok {
		if err := json.Unmarshal(raw, &r.Title); err != nil {
			return nil, fmt.Errorf("failed to decode %s of %q: %w", SharedFieldTitle, id, err)
		}
	}

	if raw, ok := e.Field(SharedFieldSections); ok {
		if err := json.Unmarshal(raw, &r.Sections); err != nil {
			return nil, fmt.Errorf("failed to decode %s of %q: %w", SharedFieldSections, id, err)
		}
		if r.Sections == nil {
			r.Sections = []Section{}
		}
	}

	if raw, ok := e.Field(SharedFieldCreatedAt); ok {
		if err := decodeTime(raw, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to decode %s of %q: %w", SharedFieldCreatedAt, id, err)
		}
	}
	if raw, ok := e.Field(SharedFieldUpdatedAt); ok {
		if err := decodeTime(raw, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to decode %s of %q: %w", SharedFieldUpdatedAt, id, err)
		}
	}

	// Инвариант порядка восстанавливается на каждой конвертации
	NormalizeSectionOrder(r.Sections)

	return r, nil
}

func decodeTime(raw json.RawMessage, dst *time.Time) error {
	return json.Unmarshal(raw, dst)
}
