// Package settings реализует key-value хранилище настроек приложения
// поверх BoltDB: relay server URL, отображаемое имя, стабильный node id.
package settings

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"
)

var (
	// bucketSettings хранит настройки приложения
	bucketSettings = []byte("settings")

	// ErrNotFound возвращается, когда настройка не задана
	ErrNotFound = errors.New("setting not found")
)

// Ключи настроек
const (
	keyServerURL   = "server_url"
	keyDisplayName = "display_name"
	keyNodeID      = "node_id"
)

// Store represents BoltDB settings storage
type Store struct {
	db *bbolt.DB
}

// New creates a new settings store instance.
// dbPath is the path to the BoltDB database file.
func New(dbPath string) (*Store, error) {
	db, err := bbolt.Open(dbPath, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open settings db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketSettings)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize settings bucket: %w", err)
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

// get возвращает значение настройки или ErrNotFound
func (s *Store) get(key string) (string, error) {
	var value string
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketSettings).Get([]byte(key))
		if data == nil {
			return ErrNotFound
		}
		value = string(data)
		return nil
	})
	return value, err
}

// set сохраняет значение настройки
func (s *Store) set(key, value string) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSettings).Put([]byte(key), []byte(value))
	})
	if err != nil {
		return fmt.Errorf("failed to save setting %q: %w", key, err)
	}
	return nil
}

// ServerURL возвращает настроенный relay server URL.
// Пустая строка означает, что сервер не настроен.
func (s *Store) ServerURL() (string, error) {
	value, err := s.get(keyServerURL)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	return value, err
}

// SetServerURL сохраняет relay server URL
func (s *Store) SetServerURL(url string) error {
	return s.set(keyServerURL, url)
}

// DisplayName возвращает отображаемое имя пользователя
func (s *Store) DisplayName() (string, error) {
	value, err := s.get(keyDisplayName)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	return value, err
}

// SetDisplayName сохраняет отображаемое имя пользователя
func (s *Store) SetDisplayName(name string) error {
	return s.set(keyDisplayName, name)
}

// NodeID возвращает стабильный идентификатор этой инсталляции.
// Генерируется при первом обращении и дальше не меняется.
func (s *Store) NodeID() (string, error) {
	value, err := s.get(keyNodeID)
	if err == nil {
		return value, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return "", err
	}

	nodeID := uuid.New().String()
	if err := s.set(keyNodeID, nodeID); err != nil {
		return "", err
	}
	return nodeID, nil
}
