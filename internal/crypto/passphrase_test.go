package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveKeyFromPassphrase(t *testing.T) {
	keyString, err := DeriveKeyFromPassphrase("correct horse battery", "case-2024-001")
	require.NoError(t, err)

	// Результат - валидный ключ в транспортном формате
	assert.True(t, IsValidKeyString(keyString))

	// Детерминированность: та же фраза + тот же документ = тот же ключ
	again, err := DeriveKeyFromPassphrase("correct horse battery", "case-2024-001")
	require.NoError(t, err)
	assert.Equal(t, keyString, again)
}

func TestDeriveKeyFromPassphrase_DistinctInputs(t *testing.T) {
	base, err := DeriveKeyFromPassphrase("correct horse battery", "case-2024-001")
	require.NoError(t, err)

	otherPhrase, err := DeriveKeyFromPassphrase("wrong horse battery", "case-2024-001")
	require.NoError(t, err)
	assert.NotEqual(t, base, otherPhrase)

	otherDoc, err := DeriveKeyFromPassphrase("correct horse battery", "case-2024-002")
	require.NoError(t, err)
	assert.NotEqual(t, base, otherDoc)
}

func TestDeriveKeyFromPassphrase_TooShort(t *testing.T) {
	_, err := DeriveKeyFromPassphrase("short", "case-2024-001")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least")
}
