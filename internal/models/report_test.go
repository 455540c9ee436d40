package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeSectionOrder(t *testing.T) {
	tests := []struct {
		name     string
		sections []Section
		wantIDs  []string
	}{
		{
			name:     "empty",
			sections: []Section{},
			wantIDs:  []string{},
		},
		{
			name: "already dense",
			sections: []Section{
				{ID: "a", Order: 0},
				{ID: "b", Order: 1},
			},
			wantIDs: []string{"a", "b"},
		},
		{
			name: "gaps after removal",
			sections: []Section{
				{ID: "a", Order: 0},
				{ID: "c", Order: 4},
				{ID: "b", Order: 2},
			},
			wantIDs: []string{"a", "b", "c"},
		},
		{
			name: "duplicate orders keep relative position",
			sections: []Section{
				{ID: "a", Order: 1},
				{ID: "b", Order: 1},
				{ID: "c", Order: 0},
			},
			wantIDs: []string{"c", "a", "b"},
		},
		{
			name: "negative orders",
			sections: []Section{
				{ID: "a", Order: 3},
				{ID: "b", Order: -1},
			},
			wantIDs: []string{"b", "a"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			NormalizeSectionOrder(tt.sections)

			gotIDs := make([]string, 0, len(tt.sections))
			for i, s := range tt.sections {
				// Инвариант: Order всегда ровно 0..n-1
				assert.Equal(t, i, s.Order)
				gotIDs = append(gotIDs, s.ID)
			}
			assert.Equal(t, tt.wantIDs, gotIDs)
		})
	}
}

func TestReport_SectionByID(t *testing.T) {
	r := &Report{Sections: []Section{{ID: "a"}, {ID: "b"}}}

	assert.Equal(t, 0, r.SectionByID("a"))
	assert.Equal(t, 1, r.SectionByID("b"))
	assert.Equal(t, -1, r.SectionByID("missing"))
}

func TestReport_Clone(t *testing.T) {
	original := &Report{
		ID:    "r1",
		Title: "Original",
		Sections: []Section{
			{
				ID:            "s1",
				ReferencedIDs: []string{"e1"},
				Snapshot:      &Snapshot{BlobHash: "abc"},
			},
		},
	}

	clone := original.Clone()
	clone.Sections[0].ReferencedIDs[0] = "mutated"
	clone.Sections[0].Snapshot.BlobHash = "mutated"
	clone.Sections[0].Title = "mutated"

	assert.Equal(t, "e1", original.Sections[0].ReferencedIDs[0])
	assert.Equal(t, "abc", original.Sections[0].Snapshot.BlobHash)
	assert.Empty(t, original.Sections[0].Title)
}

func TestReport_CanonicalJSON(t *testing.T) {
	// Одинаковое содержимое с разными внутренними Order дает
	// одинаковую каноническую форму
	a := &Report{
		ID: "r1",
		Sections: []Section{
			{ID: "s1", Order: 0},
			{ID: "s2", Order: 5},
		},
	}
	b := &Report{
		ID: "r1",
		Sections: []Section{
			{ID: "s1", Order: 0},
			{ID: "s2", Order: 1},
		},
	}

	aJSON, err := a.CanonicalJSON()
	require.NoError(t, err)
	bJSON, err := b.CanonicalJSON()
	require.NoError(t, err)

	assert.Equal(t, aJSON, bJSON)

	// Каноникализация не мутирует исходный отчет
	assert.Equal(t, 5, a.Sections[1].Order)
}
