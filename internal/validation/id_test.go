package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateDocumentID(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		{name: "simple", id: "case-2024-001", wantErr: false},
		{name: "underscores", id: "my_case", wantErr: false},
		{name: "single char", id: "x", wantErr: false},
		{name: "max length", id: strings.Repeat("a", 64), wantErr: false},
		{name: "empty", id: "", wantErr: true},
		{name: "too long", id: strings.Repeat("a", 65), wantErr: true},
		{name: "spaces", id: "my case", wantErr: true},
		{name: "path traversal", id: "../etc/passwd", wantErr: true},
		{name: "unicode", id: "дело-1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDocumentID(tt.id)

			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateDisplayName(t *testing.T) {
	assert.NoError(t, ValidateDisplayName(""))
	assert.NoError(t, ValidateDisplayName("Alice"))
	assert.Error(t, ValidateDisplayName(strings.Repeat("x", 65)))
}
