package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveRoomID(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	roomID := DeriveRoomID("case-2024-001", key)

	// 16 bytes hex = 32 символа
	assert.Len(t, roomID, 32)
	assert.Regexp(t, "^[0-9a-f]{32}$", roomID)

	// Детерминированность: обе стороны по одной паре получают одну комнату
	assert.Equal(t, roomID, DeriveRoomID("case-2024-001", key))
}

func TestDeriveRoomID_DistinctInputs(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)
	otherKey, err := GenerateKey()
	require.NoError(t, err)

	base := DeriveRoomID("case-2024-001", key)

	// Другой документ или другой ключ - другая комната
	assert.NotEqual(t, base, DeriveRoomID("case-2024-002", key))
	assert.NotEqual(t, base, DeriveRoomID("case-2024-001", otherKey))
}
