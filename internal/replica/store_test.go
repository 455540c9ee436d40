package replica

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/caseboard/internal/crdt"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func setTitle(t *testing.T, doc *crdt.Doc, entityID, title string) {
	t.Helper()
	err := doc.Transact(func(tx *crdt.Txn) error {
		return tx.Set("reports", entityID, "title", title)
	})
	require.NoError(t, err)
}

func TestStore_PersistAndReload(t *testing.T) {
	dir := t.TempDir()

	doc := crdt.NewDocWithNodeID("node-a")
	store, err := Open(dir, "case-1", doc, testLogger())
	require.NoError(t, err)

	setTitle(t, doc, "r1", "Findings")
	setTitle(t, doc, "r2", "Timeline")

	require.NoError(t, store.Close())
	doc.Destroy()

	// Повторное открытие воспроизводит весь лог в свежий документ
	reloaded := crdt.NewDocWithNodeID("node-a")
	store2, err := Open(dir, "case-1", reloaded, testLogger())
	require.NoError(t, err)
	defer store2.Close()

	assert.Equal(t, "Findings", reloaded.Get("reports", "r1").StringField("title"))
	assert.Equal(t, "Timeline", reloaded.Get("reports", "r2").StringField("title"))
}

func TestStore_PersistsRemoteUpdates(t *testing.T) {
	dir := t.TempDir()

	remote := crdt.NewDocWithNodeID("node-b")
	setTitle(t, remote, "r1", "From peer")
	remoteState, err := remote.EncodeStateAsUpdate()
	require.NoError(t, err)

	doc := crdt.NewDocWithNodeID("node-a")
	store, err := Open(dir, "case-1", doc, testLogger())
	require.NoError(t, err)

	// Удаленный update тоже попадает в лог
	require.NoError(t, doc.ApplyUpdate(remoteState))
	require.NoError(t, store.Close())
	doc.Destroy()

	reloaded := crdt.NewDocWithNodeID("node-a")
	store2, err := Open(dir, "case-1", reloaded, testLogger())
	require.NoError(t, err)
	defer store2.Close()

	assert.Equal(t, "From peer", reloaded.Get("reports", "r1").StringField("title"))
}

func TestStore_Compaction(t *testing.T) {
	dir := t.TempDir()

	doc := crdt.NewDocWithNodeID("node-a")
	store, err := Open(dir, "case-1", doc, testLogger())
	require.NoError(t, err)
	defer store.Close()

	// Низкий порог, чтобы не писать сотни updates в тесте
	store.maxLog = 10

	for i := 0; i < 25; i++ {
		setTitle(t, doc, "r1", "revision")
	}

	count, err := store.UpdateCount()
	require.NoError(t, err)
	assert.LessOrEqual(t, count, 10)

	// Состояние после компактации полное
	require.NoError(t, store.Close())
	doc.Destroy()

	reloaded := crdt.NewDocWithNodeID("node-a")
	store2, err := Open(dir, "case-1", reloaded, testLogger())
	require.NoError(t, err)
	defer store2.Close()

	assert.Equal(t, "revision", reloaded.Get("reports", "r1").StringField("title"))
}

func TestStore_CloseIdempotent(t *testing.T) {
	dir := t.TempDir()

	doc := crdt.NewDocWithNodeID("node-a")
	store, err := Open(dir, "case-1", doc, testLogger())
	require.NoError(t, err)

	require.NoError(t, store.Close())
	require.NoError(t, store.Close())

	// После Close записи в лог не идут и не паникуют
	setTitle(t, doc, "r1", "after close")

	_, err = store.UpdateCount()
	assert.ErrorIs(t, err, ErrStorageClosed)
}

func TestFilename(t *testing.T) {
	assert.Equal(t, "caseboard-ydoc-case-1.db", Filename("case-1"))
	assert.Equal(t, "/data/caseboard-ydoc-x.db", Path("/data", "x"))
}

func TestExistsListPurge(t *testing.T) {
	dir := t.TempDir()

	assert.False(t, Exists(dir, "case-1"))

	ids, err := List(dir)
	require.NoError(t, err)
	assert.Empty(t, ids)

	doc := crdt.NewDocWithNodeID("node-a")
	store, err := Open(dir, "case-1", doc, testLogger())
	require.NoError(t, err)
	require.NoError(t, store.Close())

	doc2 := crdt.NewDocWithNodeID("node-a")
	store2, err := Open(dir, "case-2", doc2, testLogger())
	require.NoError(t, err)
	require.NoError(t, store2.Close())

	assert.True(t, Exists(dir, "case-1"))

	ids, err = List(dir)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"case-1", "case-2"}, ids)

	require.NoError(t, Purge(dir, "case-1"))
	assert.False(t, Exists(dir, "case-1"))
	assert.True(t, Exists(dir, "case-2"))

	// Purge отсутствующей реплики - не ошибка
	require.NoError(t, Purge(dir, "missing"))
}

func TestList_MissingDir(t *testing.T) {
	ids, err := List(t.TempDir() + "/nope")
	require.NoError(t, err)
	assert.Nil(t, ids)
}
