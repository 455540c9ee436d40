// Package reconcile держит локальный кэш отчетов и зеркалируемую
// коллекцию реплицируемого документа сходящимися в обе стороны.
//
// Кэш -> документ: каждая мутирующая операция кэша синхронно зеркалирует
// то же изменение в документ одной транзакцией. Без открытого документа
// шаг зеркалирования пропускается (локальный, не-shared режим).
//
// Документ -> кэш: наблюдатель коллекции через debounce-окно склеивает
// всплески низкоуровневых операций, вычисляет эффективную форму сущности
// и пишет в кэш только при фактическом отличии сериализованных форм.
// Это сравнение-перед-записью - ключевая защита от шторма
// write-observe-write между пирами.
package reconcile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/iudanet/caseboard/internal/cache"
	"github.com/iudanet/caseboard/internal/crdt"
	"github.com/iudanet/caseboard/internal/models"
)

// DefaultDebounceWindow - окно склейки входящих операций.
// Одна удаленная правка порождает много низкоуровневых операций;
// окно сводит их к одному пересчету и максимум одной записи в кэш.
const DefaultDebounceWindow = 50 * time.Millisecond

// flushTimeout ограничивает работу одного debounce-прохода с кэшем
const flushTimeout = 5 * time.Second

// Service реализует двунаправленную синхронизацию кэша отчетов
// с зеркалируемой коллекцией документа.
type Service struct {
	store  cache.Store
	logger *slog.Logger
	window time.Duration

	mu        sync.Mutex
	doc       *crdt.Doc
	boardID   string
	unobserve func()
	gen       int // поколение привязки: защита от late-timer после Detach
	pending   map[string]struct{}
	timer     *time.Timer

	listeners  map[int]func(reportID string)
	nextListID int
}

// Option настраивает Service
type Option func(*Service)

// WithDebounceWindow задает окно склейки входящих операций
func WithDebounceWindow(d time.Duration) Option {
	return func(s *Service) { s.window = d }
}

// NewService creates a new reconcile service
func NewService(store cache.Store, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		store:     store,
		logger:    logger,
		window:    DefaultDebounceWindow,
		pending:   make(map[string]struct{}),
		listeners: make(map[int]func(string)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Subscribe регистрирует слушателя изменений кэша.
// Слушатель вызывается после каждой фактической записи в кэш
// (и никогда - при подавленных no-op записях).
// Возвращает функцию отписки.
func (s *Service) Subscribe(fn func(reportID string)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextListID
	s.nextListID++
	s.listeners[id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

func (s *Service) notify(reportID string) {
	s.mu.Lock()
	fns := make([]func(string), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(reportID)
	}
}

// Attach привязывает реконсайлер к открытому документу и выполняет
// merge-политику первого открытия:
//   - сущность есть в документе, но нет в кэше - принимаем удаленную
//     (adopt remote: копия документа авторитетна);
//   - отчет есть в кэше, но нет в документе - засеваем документ
//     (seed remote);
//   - есть и там и там - автоматического примирения нет, стороны
//     сойдутся через наблюдателя, когда обе будут живы.
func (s *Service) Attach(ctx context.Context, doc *crdt.Doc, boardID string) error {
	s.mu.Lock()
	if s.doc != nil {
		s.mu.Unlock()
		return fmt.Errorf("reconciler already attached")
	}
	s.doc = doc
	s.boardID = boardID
	s.gen++
	gen := s.gen
	s.mu.Unlock()

	if err := s.firstOpenMerge(ctx, doc, boardID); err != nil {
		s.mu.Lock()
		s.doc = nil
		s.boardID = ""
		s.mu.Unlock()
		return err
	}

	unobserve := doc.Observe(models.ReportsCollection, func(ev crdt.Event) {
		// Локальные события - наши же зеркалирования, их не возвращаем в кэш
		if ev.Origin != crdt.OriginRemote {
			return
		}
		s.schedule(gen, ev.EntityIDs)
	})

	s.mu.Lock()
	s.unobserve = unobserve
	s.mu.Unlock()

	return nil
}

// Detach отвязывает реконсайлер от документа и отменяет отложенный
// debounce-проход. Проход, чей таймер уже сработал, увидит смену
// поколения и молча завершится.
func (s *Service) Detach() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.unobserve != nil {
		s.unobserve()
		s.unobserve = nil
	}
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.pending = make(map[string]struct{})
	s.doc = nil
	s.boardID = ""
	s.gen++
}

// firstOpenMerge выполняет одноразовую merge-политику открытия документа
func (s *Service) firstOpenMerge(ctx context.Context, doc *crdt.Doc, boardID string) error {
	cached, err := s.store.ListByBoard(ctx, boardID)
	if err != nil {
		return fmt.Errorf("failed to list cached reports: %w", err)
	}
	inCache := make(map[string]*models.Report, len(cached))
	for _, r := range cached {
		inCache[r.ID] = r
	}

	entities := doc.Entities(models.ReportsCollection)

	// adopt remote: документ знает отчеты, которых нет в кэше
	for id, entry := range entities {
		if entry.IsDeleted() {
			continue
		}
		if _, ok := inCache[id]; ok {
			continue
		}

		report, err := models.ReportFromShared(id, entry)
		if err != nil {
			s.logger.Warn("skipping malformed shared report", "report_id", id, "error", err)
			continue
		}
		if report.BoardID != boardID {
			continue
		}
		if err := s.store.Put(ctx, report); err != nil {
			return fmt.Errorf("failed to adopt remote report %q: %w", id, err)
		}
		s.logger.Info("adopted remote report", "report_id", id)
	}

	// seed remote: кэш знает отчеты, которых нет в документе
	for id, report := range inCache {
		if _, ok := entities[id]; ok {
			continue
		}
		if err := s.mirrorPut(doc, report); err != nil {
			return fmt.Errorf("failed to seed report %q into document: %w", id, err)
		}
		s.logger.Info("seeded report into document", "report_id", id)
	}

	return nil
}

// schedule добавляет сущности во множество ожидающих и взводит
// debounce-таймер, если он еще не взведен (машина состояний
// idle -> pending-flush).
func (s *Service) schedule(gen int, entityIDs []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.gen {
		return
	}

	for _, id := range entityIDs {
		s.pending[id] = struct{}{}
	}

	if s.timer == nil {
		s.timer = time.AfterFunc(s.window, func() {
			s.flush(gen)
		})
	}
}

// flush - один debounce-проход: для каждой ожидающей сущности вычисляет
// эффективную форму из документа и переносит в кэш только фактические
// отличия. Сработавший после Detach таймер видит чужое поколение
// и молча завершается.
func (s *Service) flush(gen int) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	ids := s.pending
	s.pending = make(map[string]struct{})
	s.timer = nil
	doc := s.doc
	boardID := s.boardID
	s.mu.Unlock()

	if doc == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()

	for id := range ids {
		if err := s.reconcileEntity(ctx, doc, boardID, id); err != nil {
			s.logger.Warn("failed to reconcile report", "report_id", id, "error", err)
		}
	}
}

// reconcileEntity переносит одну сущность документа в кэш
func (s *Service) reconcileEntity(ctx context.Context, doc *crdt.Doc, boardID, id string) error {
	entry := doc.Get(models.ReportsCollection, id)
	if entry == nil {
		return nil
	}

	if entry.IsDeleted() {
		_, err := s.store.Get(ctx, id)
		if errors.Is(err, cache.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := s.store.Delete(ctx, id); err != nil {
			return err
		}
		s.notify(id)
		return nil
	}

	incoming, err := models.ReportFromShared(id, entry)
	if err != nil {
		return err
	}
	if incoming.BoardID != boardID {
		return nil
	}

	current, err := s.store.Get(ctx, id)
	if err != nil && !errors.Is(err, cache.ErrNotFound) {
		return err
	}

	// Сравнение-перед-записью: идентичная форма - ни записи, ни уведомления
	if current != nil {
		currentJSON, err := current.CanonicalJSON()
		if err != nil {
			return err
		}
		incomingJSON, err := incoming.CanonicalJSON()
		if err != nil {
			return err
		}
		if bytes.Equal(currentJSON, incomingJSON) {
			return nil
		}
	}

	if err := s.store.Put(ctx, incoming); err != nil {
		return err
	}
	s.notify(id)
	return nil
}

// mirrorPut зеркалирует отчет в документ одной транзакцией
func (s *Service) mirrorPut(doc *crdt.Doc, report *models.Report) error {
	return doc.Transact(func(tx *crdt.Txn) error {
		return tx.SetFields(models.ReportsCollection, report.ID, models.ToShared(report))
	})
}

// mirror зеркалирует отчет в документ, если он привязан.
// Шаг fire-and-forget с точки зрения вызывающего API кэша:
// ошибки логируются, но не прерывают операцию (кэш уже обновлен).
func (s *Service) mirror(report *models.Report) {
	s.mu.Lock()
	doc := s.doc
	s.mu.Unlock()

	if doc == nil {
		return
	}
	if err := s.mirrorPut(doc, report); err != nil {
		s.logger.Error("failed to mirror report into document",
			"report_id", report.ID, "error", err)
	}
}

// mirrorDelete зеркалирует удаление отчета в документ
func (s *Service) mirrorDelete(reportID string) {
	s.mu.Lock()
	doc := s.doc
	s.mu.Unlock()

	if doc == nil {
		return
	}
	err := doc.Transact(func(tx *crdt.Txn) error {
		tx.Delete(models.ReportsCollection, reportID)
		return nil
	})
	if err != nil {
		s.logger.Error("failed to mirror report deletion",
			"report_id", reportID, "error", err)
	}
}

// GetReport возвращает отчет из кэша
func (s *Service) GetReport(ctx context.Context, id string) (*models.Report, error) {
	return s.store.Get(ctx, id)
}

// ListReports возвращает все отчеты документа из кэша
func (s *Service) ListReports(ctx context.Context, boardID string) ([]*models.Report, error) {
	return s.store.ListByBoard(ctx, boardID)
}

// CreateReport создает новый отчет в кэше и зеркалирует его в документ
func (s *Service) CreateReport(ctx context.Context, boardID, title string) (*models.Report, error) {
	now := time.Now().UTC()
	report := &models.Report{
		ID:        uuid.New().String(),
		BoardID:   boardID,
		Title:     title,
		Sections:  []models.Section{},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.store.Put(ctx, report); err != nil {
		return nil, fmt.Errorf("failed to create report: %w", err)
	}
	s.mirror(report)
	s.notify(report.ID)

	return report, nil
}

// RenameReport обновляет заголовок отчета
func (s *Service) RenameReport(ctx context.Context, id, title string) error {
	return s.updateReport(ctx, id, func(r *models.Report) error {
		r.Title = title
		return nil
	})
}

// AddSection добавляет секцию в конец отчета.
// Пустой Section.ID означает сгенерировать новый.
func (s *Service) AddSection(ctx context.Context, reportID string, section models.Section) (string, error) {
	if section.ID == "" {
		section.ID = uuid.New().String()
	}

	err := s.updateReport(ctx, reportID, func(r *models.Report) error {
		if r.SectionByID(section.ID) >= 0 {
			return fmt.Errorf("section %q already exists", section.ID)
		}
		section.Order = len(r.Sections)
		r.Sections = append(r.Sections, section)
		return nil
	})
	if err != nil {
		return "", err
	}
	return section.ID, nil
}

// UpdateSection заменяет содержимое существующей секции.
// Позиция секции не меняется (Order игнорируется).
func (s *Service) UpdateSection(ctx context.Context, reportID string, section models.Section) error {
	return s.updateReport(ctx, reportID, func(r *models.Report) error {
		idx := r.SectionByID(section.ID)
		if idx < 0 {
			return fmt.Errorf("section %q not found", section.ID)
		}
		section.Order = r.Sections[idx].Order
		r.Sections[idx] = section
		return nil
	})
}

// RemoveSection удаляет секцию отчета
func (s *Service) RemoveSection(ctx context.Context, reportID, sectionID string) error {
	return s.updateReport(ctx, reportID, func(r *models.Report) error {
		idx := r.SectionByID(sectionID)
		if idx < 0 {
			return fmt.Errorf("section %q not found", sectionID)
		}
		r.Sections = append(r.Sections[:idx], r.Sections[idx+1:]...)
		return nil
	})
}

// ReorderSections переставляет секции в порядке orderedIDs.
// Секции, не упомянутые в orderedIDs, сохраняют относительный порядок
// после упомянутых.
func (s *Service) ReorderSections(ctx context.Context, reportID string, orderedIDs []string) error {
	return s.updateReport(ctx, reportID, func(r *models.Report) error {
		position := make(map[string]int, len(orderedIDs))
		for i, id := range orderedIDs {
			position[id] = i
		}

		for i := range r.Sections {
			if pos, ok := position[r.Sections[i].ID]; ok {
				r.Sections[i].Order = pos
			} else {
				r.Sections[i].Order = len(orderedIDs) + r.Sections[i].Order
			}
		}
		return nil
	})
}

// DeleteReport удаляет отчет из кэша и помечает его удаленным в документе
func (s *Service) DeleteReport(ctx context.Context, id string) error {
	if err := s.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete report: %w", err)
	}
	s.mirrorDelete(id)
	s.notify(id)
	return nil
}

// updateReport - общий путь мутирующих операций: загрузить, изменить,
// нормализовать порядок секций, сохранить, зеркалировать в документ
func (s *Service) updateReport(ctx context.Context, id string, mutate func(*models.Report) error) error {
	report, err := s.store.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load report: %w", err)
	}

	if err := mutate(report); err != nil {
		return err
	}

	// Инвариант: Order секций всегда ровно 0..n-1
	models.NormalizeSectionOrder(report.Sections)
	report.UpdatedAt = time.Now().UTC()

	if err := s.store.Put(ctx, report); err != nil {
		return fmt.Errorf("failed to save report: %w", err)
	}
	s.mirror(report)
	s.notify(report.ID)

	return nil
}
