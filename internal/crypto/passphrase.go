package crypto

import (
	"crypto/sha256"
	"fmt"

	"golang.org/x/crypto/argon2"
)

// Параметры Argon2id для деривации ключа из passphrase
const (
	// Argon2Time - количество итераций (time cost)
	Argon2Time = 1
	// Argon2Memory - объем памяти в KB (64MB = 64*1024 KB)
	Argon2Memory = 64 * 1024
	// Argon2Threads - количество параллельных потоков
	Argon2Threads = 4
	// MinPassphraseLen минимальная длина passphrase для share по паролю
	MinPassphraseLen = 8
)

// DeriveKeyFromPassphrase выводит 256-битный ключ шифрования из passphrase.
// Соль детерминированно зависит от document id, чтобы два пира, знающие
// passphrase и document id, получили одинаковый ключ без обмена солью.
// Используется как альтернатива случайному ключу в share-ссылке.
func DeriveKeyFromPassphrase(passphrase, documentID string) (string, error) {
	if len(passphrase) < MinPassphraseLen {
		return "", fmt.Errorf("passphrase must be at least %d characters long", MinPassphraseLen)
	}
	if documentID == "" {
		return "", fmt.Errorf("document id cannot be empty")
	}

	// Детерминированная соль: домен-разделитель + document id
	salt := sha256.Sum256([]byte("caseboard-share:" + documentID))

	key := argon2.IDKey([]byte(passphrase), salt[:], Argon2Time, Argon2Memory, Argon2Threads, KeySize)

	return keyEncoding.EncodeToString(key), nil
}
