package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
)

const (
	// NonceSize - размер nonce для AES-GCM (12 bytes стандартный размер)
	NonceSize = 12
	// KeySize - размер симметричного ключа (AES-256)
	KeySize = 32
	// TagSize - размер authentication tag GCM
	TagSize = 16
)

var (
	// ErrInvalidKeyFormat возвращается, когда строка ключа не декодируется
	// или имеет неправильную длину
	ErrInvalidKeyFormat = errors.New("invalid key format")

	// ErrAuthenticationFailed возвращается, когда auth tag не сходится:
	// данные повреждены, подменены или расшифровываются чужим ключом.
	// Эта ошибка никогда не должна молча игнорироваться вызывающим кодом.
	ErrAuthenticationFailed = errors.New("authentication failed")
)

// Key представляет симметричный ключ AES-256
type Key []byte

// keyEncoding - URL-safe base64 без padding, чтобы ключ можно было
// переносить во фрагменте URL без экранирования
var keyEncoding = base64.RawURLEncoding

// GenerateKey генерирует новый случайный 256-битный ключ
// и возвращает его в URL-safe кодировке
func GenerateKey() (string, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("failed to generate key: %w", err)
	}
	return keyEncoding.EncodeToString(key), nil
}

// ImportKey парсит строку ключа и проверяет длину (ровно 32 bytes)
func ImportKey(s string) (Key, error) {
	if s == "" {
		return nil, fmt.Errorf("%w: empty key string", ErrInvalidKeyFormat)
	}

	raw, err := keyEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKeyFormat, err)
	}
	if len(raw) != KeySize {
		return nil, fmt.Errorf("%w: key must be %d bytes, got %d", ErrInvalidKeyFormat, KeySize, len(raw))
	}

	return Key(raw), nil
}

// IsValidKeyString проверяет валидность строки ключа без возврата ошибки.
// Используется до того, как сессия зафиксирует ключ.
func IsValidKeyString(s string) bool {
	_, err := ImportKey(s)
	return err == nil
}

// String возвращает URL-safe представление ключа
func (k Key) String() string {
	return keyEncoding.EncodeToString(k)
}

// Encrypt шифрует данные с использованием AES-256-GCM.
// Для каждого вызова генерируется свежий случайный nonce - повторное
// использование nonce под одним ключом исключено по построению.
// Формат результата: nonce (12 bytes) + ciphertext + auth_tag (16 bytes)
func Encrypt(key Key, plaintext []byte) ([]byte, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: key must be %d bytes, got %d", ErrInvalidKeyFormat, KeySize, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	aesGCM, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	// Генерируем случайный nonce
	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	// GCM автоматически добавляет authentication tag в конец
	ciphertext := aesGCM.Seal(nil, nonce, plaintext, nil)

	// Формируем кадр: nonce + ciphertext + auth_tag
	frame := make([]byte, 0, len(nonce)+len(ciphertext))
	frame = append(frame, nonce...)
	frame = append(frame, ciphertext...)

	return frame, nil
}

// Decrypt дешифрует кадр, созданный Encrypt, и проверяет authentication tag.
// При несовпадении tag возвращает ErrAuthenticationFailed - частично
// расшифрованные данные наружу не отдаются никогда.
func Decrypt(key Key, frame []byte) ([]byte, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: key must be %d bytes, got %d", ErrInvalidKeyFormat, KeySize, len(key))
	}
	if len(frame) < NonceSize+TagSize {
		return nil, fmt.Errorf("%w: frame too short", ErrAuthenticationFailed)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	aesGCM, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	// Извлекаем nonce из первых 12 bytes
	nonce := frame[:NonceSize]
	ciphertext := frame[NonceSize:]

	plaintext, err := aesGCM.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthenticationFailed, err)
	}

	return plaintext, nil
}
