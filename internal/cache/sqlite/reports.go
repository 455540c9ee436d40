package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/iudanet/caseboard/internal/cache"
	"github.com/iudanet/caseboard/internal/models"
)

// Get возвращает отчет по id
func (s *Storage) Get(ctx context.Context, id string) (*models.Report, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, board_id, title, sections, created_at, updated_at
		 FROM reports WHERE id = ?`, id)

	report, err := scanReport(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, cache.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get report: %w", err)
	}

	return report, nil
}

// Put сохраняет или перезаписывает отчет целиком (upsert).
// Конфликтующие записи одной сущности сериализует сама БД:
// последняя запись выигрывает на уровне строки.
func (s *Storage) Put(ctx context.Context, report *models.Report) error {
	sections := report.Sections
	if sections == nil {
		sections = []models.Section{}
	}
	sectionsJSON, err := json.Marshal(sections)
	if err != nil {
		return fmt.Errorf("failed to marshal sections: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO reports (id, board_id, title, sections, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		     board_id = excluded.board_id,
		     title = excluded.title,
		     sections = excluded.sections,
		     created_at = excluded.created_at,
		     updated_at = excluded.updated_at`,
		report.ID,
		report.BoardID,
		report.Title,
		string(sectionsJSON),
		report.CreatedAt.UTC().Format(time.RFC3339Nano),
		report.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to put report: %w", err)
	}

	return nil
}

// Delete удаляет отчет. Отсутствие строки - не ошибка.
func (s *Storage) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM reports WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete report: %w", err)
	}
	return nil
}

// ListByBoard возвращает все отчеты владеющего документа
func (s *Storage) ListByBoard(ctx context.Context, boardID string) ([]*models.Report, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, board_id, title, sections, created_at, updated_at
		 FROM reports WHERE board_id = ? ORDER BY created_at`, boardID)
	if err != nil {
		return nil, fmt.Errorf("failed to list reports: %w", err)
	}
	defer rows.Close()

	var reports []*models.Report
	for rows.Next() {
		report, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan report: %w", err)
		}
		reports = append(reports, report)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate reports: %w", err)
	}

	return reports, nil
}

// scanner покрывает *sql.Row и *sql.Rows
type scanner interface {
	Scan(dest ...any) error
}

func scanReport(row scanner) (*models.Report, error) {
	var (
		report       models.Report
		sectionsJSON string
		createdAt    string
		updatedAt    string
	)

	if err := row.Scan(&report.ID, &report.BoardID, &report.Title,
		&sectionsJSON, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(sectionsJSON), &report.Sections); err != nil {
		return nil, fmt.Errorf("failed to unmarshal sections: %w", err)
	}
	if report.Sections == nil {
		report.Sections = []models.Section{}
	}

	var err error
	if report.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if report.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("failed to parse updated_at: %w", err)
	}

	return &report, nil
}
