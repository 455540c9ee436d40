// Package replica реализует долговременное локальное хранилище
// реплицируемого документа: append-only лог updates в BoltDB,
// переживающий перезагрузки и работающий offline.
package replica

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.etcd.io/bbolt"

	"github.com/iudanet/caseboard/internal/crdt"
)

const (
	// appPrefix - префикс имен файлов локальных реплик
	appPrefix = "caseboard"
	// namespaceInfix отделяет префикс приложения от document id
	namespaceInfix = "-ydoc-"
	// defaultMaxLogEntries - порог компактации лога updates
	defaultMaxLogEntries = 512
)

var (
	// bucketUpdates хранит updates по возрастающему sequence number
	bucketUpdates = []byte("updates")

	// ErrStorageClosed возвращается при операции над закрытым хранилищем
	ErrStorageClosed = errors.New("replica storage is closed")
)

// Store персистит лог updates одного документа и воспроизводит его
// при открытии. Подписывается на документ и дописывает каждый update
// (локальный и удаленный) в лог.
type Store struct {
	db          *bbolt.DB
	doc         *crdt.Doc
	logger      *slog.Logger
	unsubscribe func()
	path        string
	maxLog      int
	mu          sync.Mutex
	closed      bool
}

// Filename возвращает имя файла реплики для document id.
// Формат namespace: {appPrefix}-ydoc-{documentId}.
func Filename(documentID string) string {
	return appPrefix + namespaceInfix + documentID + ".db"
}

// Path возвращает полный путь к файлу реплики
func Path(dir, documentID string) string {
	return filepath.Join(dir, Filename(documentID))
}

// Exists проверяет наличие локальных данных документа без открытия хранилища.
// Используется для решения "есть локальные данные - спросить пользователя"
// перед discard-vs-join.
func Exists(dir, documentID string) bool {
	_, err := os.Stat(Path(dir, documentID))
	return err == nil
}

// Open открывает (или создает) локальную реплику документа и воспроизводит
// все ранее сохраненные updates в документ. Возврат без ошибки означает,
// что документ полностью загружен и готов к использованию.
// Отсутствие файла - не ошибка: реплика начинается пустой.
func Open(dir, documentID string, doc *crdt.Doc, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create replica dir: %w", err)
	}

	dbPath := Path(dir, documentID)
	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open replica db: %w", err)
	}

	s := &Store{
		db:     db,
		doc:    doc,
		logger: logger,
		path:   dbPath,
		maxLog: defaultMaxLogEntries,
	}

	if err := s.initBucket(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize replica bucket: %w", err)
	}

	// Воспроизводим весь лог в документ (merge идемпотентен)
	if err := s.replay(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to replay replica log: %w", err)
	}

	// Подписываемся уже после replay, чтобы не дописывать его же обратно
	s.unsubscribe = doc.OnUpdate(func(data []byte, origin crdt.Origin) {
		s.appendUpdate(data)
	})

	return s, nil
}

func (s *Store) initBucket() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketUpdates)
		return err
	})
}

// replay применяет все сохраненные updates к документу в порядке записи
func (s *Store) replay() error {
	return s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketUpdates)
		if bucket == nil {
			return nil
		}

		return bucket.ForEach(func(k, v []byte) error {
			if err := s.doc.ApplyUpdate(v); err != nil {
				return fmt.Errorf("failed to apply persisted update: %w", err)
			}
			return nil
		})
	})
}

// appendUpdate дописывает update в лог. Ошибки логируются, но не
// прерывают вызывающую транзакцию документа - update уже применен
// в памяти и уйдет пирам; потерянная запись лога восстановится
// следующей компактацией полного состояния.
func (s *Store) appendUpdate(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	var count int
	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketUpdates)
		if bucket == nil {
			return fmt.Errorf("updates bucket not found")
		}

		seq, err := bucket.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to get next sequence: %w", err)
		}

		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, seq)

		if err := bucket.Put(key, data); err != nil {
			return fmt.Errorf("failed to append update: %w", err)
		}

		count = bucket.Stats().KeyN + 1
		return nil
	})
	if err != nil {
		s.logger.Error("failed to persist update", "path", s.path, "error", err)
		return
	}

	if count > s.maxLog {
		if err := s.compactLocked(); err != nil {
			s.logger.Warn("replica log compaction failed", "path", s.path, "error", err)
		}
	}
}

// compactLocked переписывает лог одним update полного состояния.
// Вызывается под s.mu.
func (s *Store) compactLocked() error {
	state, err := s.doc.EncodeStateAsUpdate()
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(bucketUpdates); err != nil {
			return fmt.Errorf("failed to delete updates bucket: %w", err)
		}

		bucket, err := tx.CreateBucket(bucketUpdates)
		if err != nil {
			return fmt.Errorf("failed to recreate updates bucket: %w", err)
		}

		seq, err := bucket.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to get next sequence: %w", err)
		}

		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, seq)

		return bucket.Put(key, state)
	})
}

// UpdateCount возвращает текущее количество записей в логе
func (s *Store) UpdateCount() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrStorageClosed
	}

	var count int
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketUpdates)
		if bucket == nil {
			return nil
		}
		count = bucket.Stats().KeyN
		return nil
	})
	return count, err
}

// Close отписывается от документа, сбрасывает и закрывает хранилище.
// Повторный вызов безопасен.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if s.unsubscribe != nil {
		s.unsubscribe()
	}

	return s.db.Close()
}

// List перечисляет document ids всех локальных реплик в директории.
// Работает независимо от открытых документов - используется
// в maintenance-потоке "освободить место".
func List(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read replica dir: %w", err)
	}

	prefix := appPrefix + namespaceInfix
	var ids []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".db") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(strings.TrimPrefix(name, prefix), ".db"))
	}
	return ids, nil
}

// Purge удаляет локальную реплику документа.
// Документ не должен быть открыт в этот момент.
func Purge(dir, documentID string) error {
	err := os.Remove(Path(dir, documentID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to purge replica: %w", err)
	}
	return nil
}
