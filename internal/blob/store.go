// Package blob реализует content-addressed хранилище бинарных блобов
// (снимки секций, вложенные ассеты). Адрес блоба - SHA-256 hex его
// содержимого; ядро синхронизации передает между пирами только адреса,
// сами байты через реплицируемый документ не ходят.
package blob

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"go.etcd.io/bbolt"
)

var (
	// bucketBlobs хранит блобы по content hash
	bucketBlobs = []byte("blobs")

	// ErrNotFound возвращается, когда блоба с таким hash нет
	ErrNotFound = errors.New("blob not found")
)

// Store represents BoltDB content-addressed blob storage
type Store struct {
	db *bbolt.DB
}

// New creates a new blob store instance
func New(dbPath string) (*Store, error) {
	db, err := bbolt.Open(dbPath, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open blob db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketBlobs)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize blob bucket: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Hash вычисляет content-адрес для данных
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Put сохраняет блоб и возвращает его content hash.
// Повторная запись того же содержимого - no-op (адрес детерминирован).
func (s *Store) Put(data []byte) (string, error) {
	hash := Hash(data)

	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketBlobs)
		if bucket.Get([]byte(hash)) != nil {
			return nil
		}
		return bucket.Put([]byte(hash), data)
	})
	if err != nil {
		return "", fmt.Errorf("failed to put blob: %w", err)
	}

	return hash, nil
}

// Get возвращает блоб по content hash
func (s *Store) Get(hash string) ([]byte, error) {
	var data []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		stored := tx.Bucket(bucketBlobs).Get([]byte(hash))
		if stored == nil {
			return ErrNotFound
		}
		data = append([]byte(nil), stored...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Has проверяет наличие блоба без чтения содержимого
func (s *Store) Has(hash string) (bool, error) {
	var found bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		found = tx.Bucket(bucketBlobs).Get([]byte(hash)) != nil
		return nil
	})
	return found, err
}
