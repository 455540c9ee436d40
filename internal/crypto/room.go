package crypto

import (
	"crypto/sha256"
	"encoding/hex"
)

// RoomIDSize - длина room id в байтах (128 bits).
// Вероятность коллизии на реалистичном количестве комнат пренебрежимо мала.
const RoomIDSize = 16

// DeriveRoomID детерминированно выводит идентификатор комнаты из
// document id и строки ключа. Relay сервер видит только room id и не может
// восстановить из него ни document id, ни ключ (one-way hash).
// Два пира с одинаковыми document id и ключом всегда получают один room id.
func DeriveRoomID(documentID, keyString string) string {
	hash := sha256.Sum256([]byte(documentID + keyString))
	return hex.EncodeToString(hash[:RoomIDSize])
}
