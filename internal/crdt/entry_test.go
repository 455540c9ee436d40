package crdt

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegister_IsNewerThan(t *testing.T) {
	tests := []struct {
		name  string
		a     Register
		b     Register
		aWins bool
	}{
		{
			name:  "higher timestamp wins",
			a:     Register{Timestamp: 5, NodeID: "aaa"},
			b:     Register{Timestamp: 3, NodeID: "zzz"},
			aWins: true,
		},
		{
			name:  "lower timestamp loses",
			a:     Register{Timestamp: 2, NodeID: "zzz"},
			b:     Register{Timestamp: 3, NodeID: "aaa"},
			aWins: false,
		},
		{
			name:  "equal timestamp larger node id wins",
			a:     Register{Timestamp: 3, NodeID: "zzz"},
			b:     Register{Timestamp: 3, NodeID: "aaa"},
			aWins: true,
		},
		{
			name:  "identical register is not newer",
			a:     Register{Timestamp: 3, NodeID: "aaa"},
			b:     Register{Timestamp: 3, NodeID: "aaa"},
			aWins: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.aWins, tt.a.IsNewerThan(&tt.b))
		})
	}
}

func TestMergeRegister_Deterministic(t *testing.T) {
	a := &Register{Value: json.RawMessage(`"from-a"`), Timestamp: 3, NodeID: "node-a"}
	b := &Register{Value: json.RawMessage(`"from-b"`), Timestamp: 3, NodeID: "node-b"}

	// Порядок слияния не влияет на победителя
	mergedAB, _ := mergeRegister(a.Clone(), b)
	mergedBA, _ := mergeRegister(b.Clone(), a)

	assert.Equal(t, mergedAB.Value, mergedBA.Value)
	assert.Equal(t, "node-b", mergedAB.NodeID)
}

func TestEntry_IsDeleted(t *testing.T) {
	entry := NewEntry()
	assert.False(t, entry.IsDeleted())

	entry.Tombstone = &Register{Value: json.RawMessage(`true`), Timestamp: 1, NodeID: "n"}
	assert.True(t, entry.IsDeleted())

	// Воскрешение: tombstone перезаписан значением false
	entry.Tombstone = &Register{Value: json.RawMessage(`false`), Timestamp: 2, NodeID: "n"}
	assert.False(t, entry.IsDeleted())
}

func TestEntry_Clone(t *testing.T) {
	entry := NewEntry()
	entry.Fields["title"] = &Register{Value: json.RawMessage(`"original"`), Timestamp: 1, NodeID: "n"}

	clone := entry.Clone()
	clone.Fields["title"].Value = json.RawMessage(`"mutated"`)

	assert.Equal(t, `"original"`, string(entry.Fields["title"].Value))
}
