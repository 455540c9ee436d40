package settings

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := New(filepath.Join(t.TempDir(), "settings.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})
	return store
}

func TestStore_ServerURL(t *testing.T) {
	store := newTestStore(t)

	// Не настроен - пустая строка без ошибки
	url, err := store.ServerURL()
	require.NoError(t, err)
	assert.Empty(t, url)

	require.NoError(t, store.SetServerURL("wss://relay.example.com"))

	url, err = store.ServerURL()
	require.NoError(t, err)
	assert.Equal(t, "wss://relay.example.com", url)
}

func TestStore_DisplayName(t *testing.T) {
	store := newTestStore(t)

	name, err := store.DisplayName()
	require.NoError(t, err)
	assert.Empty(t, name)

	require.NoError(t, store.SetDisplayName("Алиса"))

	name, err = store.DisplayName()
	require.NoError(t, err)
	assert.Equal(t, "Алиса", name)
}

func TestStore_NodeID_Stable(t *testing.T) {
	dir := t.TempDir()

	store, err := New(filepath.Join(dir, "settings.db"))
	require.NoError(t, err)

	first, err := store.NodeID()
	require.NoError(t, err)
	assert.NotEmpty(t, first)

	// Повторное обращение - тот же id
	again, err := store.NodeID()
	require.NoError(t, err)
	assert.Equal(t, first, again)

	// И после переоткрытия хранилища
	require.NoError(t, store.Close())
	reopened, err := New(filepath.Join(dir, "settings.db"))
	require.NoError(t, err)
	defer reopened.Close()

	persisted, err := reopened.NodeID()
	require.NoError(t, err)
	assert.Equal(t, first, persisted)
}
