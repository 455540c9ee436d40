package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/caseboard/internal/crdt"
)

// mirrorIntoDoc записывает отчет в документ так же, как это делает реконсайлер
func mirrorIntoDoc(t *testing.T, doc *crdt.Doc, r *Report) {
	t.Helper()
	err := doc.Transact(func(tx *crdt.Txn) error {
		return tx.SetFields(ReportsCollection, r.ID, ToShared(r))
	})
	require.NoError(t, err)
}

func TestSharedRoundTrip(t *testing.T) {
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	original := &Report{
		ID:        "r1",
		BoardID:   "case-1",
		Title:     "Network Findings",
		CreatedAt: now,
		UpdatedAt: now.Add(time.Hour),
		Sections: []Section{
			{
				ID:            "s1",
				Title:         "Summary",
				Content:       "see [[entity:e42]]",
				ReferencedIDs: []string{"e42"},
				Order:         0,
			},
			{
				ID:    "s2",
				Title: "Screenshots",
				Order: 1,
				Snapshot: &Snapshot{
					BlobHash:   "deadbeef",
					CapturedAt: now,
					Viewport:   Viewport{X: 10, Y: -5, Zoom: 1.5},
				},
			},
		},
	}

	doc := crdt.NewDocWithNodeID("node-a")
	mirrorIntoDoc(t, doc, original)

	restored, err := ReportFromShared("r1", doc.Get(ReportsCollection, "r1"))
	require.NoError(t, err)

	assert.Equal(t, original, restored)
}

func TestReportFromShared_MinimalEntity(t *testing.T) {
	doc := crdt.NewDocWithNodeID("node-a")
	err := doc.Transact(func(tx *crdt.Txn) error {
		return tx.Set(ReportsCollection, "r1", SharedFieldBoardID, "case-1")
	})
	require.NoError(t, err)

	// Отсутствующие опциональные поля дают нулевые значения
	report, err := ReportFromShared("r1", doc.Get(ReportsCollection, "r1"))
	require.NoError(t, err)

	assert.Equal(t, "case-1", report.BoardID)
	assert.Empty(t, report.Title)
	assert.Empty(t, report.Sections)
	assert.True(t, report.CreatedAt.IsZero())
}

func TestReportFromShared_Invalid(t *testing.T) {
	doc := crdt.NewDocWithNodeID("node-a")

	// Сущность без board_id - не отчет
	err := doc.Transact(func(tx *crdt.Txn) error {
		return tx.Set(ReportsCollection, "r1", SharedFieldTitle, "no board")
	})
	require.NoError(t, err)

	_, err = ReportFromShared("r1", doc.Get(ReportsCollection, "r1"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), SharedFieldBoardID)

	_, err = ReportFromShared("r2", nil)
	require.Error(t, err)

	// board_id не строка
	err = doc.Transact(func(tx *crdt.Txn) error {
		return tx.Set(ReportsCollection, "r3", SharedFieldBoardID, 42)
	})
	require.NoError(t, err)

	_, err = ReportFromShared("r3", doc.Get(ReportsCollection, "r3"))
	require.Error(t, err)
}

func TestReportFromShared_NormalizesOrder(t *testing.T) {
	report := &Report{
		ID:      "r1",
		BoardID: "case-1",
		Sections: []Section{
			{ID: "s1", Order: 7},
			{ID: "s2", Order: 2},
		},
	}

	doc := crdt.NewDocWithNodeID("node-a")
	mirrorIntoDoc(t, doc, report)

	restored, err := ReportFromShared("r1", doc.Get(ReportsCollection, "r1"))
	require.NoError(t, err)

	require.Len(t, restored.Sections, 2)
	assert.Equal(t, "s2", restored.Sections[0].ID)
	assert.Equal(t, 0, restored.Sections[0].Order)
	assert.Equal(t, "s1", restored.Sections[1].ID)
	assert.Equal(t, 1, restored.Sections[1].Order)
}
