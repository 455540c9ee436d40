// Package cache определяет контракт локального query-friendly кэша
// отчетов. Кэш - источник истины для чтений UI и экспорта; зеркальная
// копия в реплицируемом документе считается репликой.
package cache

import (
	"context"
	"errors"

	"github.com/iudanet/caseboard/internal/models"
)

var (
	// ErrNotFound возвращается, когда отчет не найден в кэше
	ErrNotFound = errors.New("report not found")

	// ErrStorageClosed возвращается при операции над закрытым хранилищем
	ErrStorageClosed = errors.New("cache storage is closed")
)

//go:generate moq -out store_mock.go . Store

// Store определяет key-value контракт кэша отчетов:
// get/put/delete плюс выборка по владеющему документу.
// Сериализацию конфликтующих записей одной сущности обеспечивает
// само хранилище (last write wins на уровне записи).
type Store interface {
	// Get возвращает отчет по id или ErrNotFound
	Get(ctx context.Context, id string) (*models.Report, error)

	// Put сохраняет или перезаписывает отчет целиком
	Put(ctx context.Context, report *models.Report) error

	// Delete удаляет отчет. Отсутствие отчета - не ошибка.
	Delete(ctx context.Context, id string) error

	// ListByBoard возвращает все отчеты владеющего документа
	ListByBoard(ctx context.Context, boardID string) ([]*models.Report, error)
}
