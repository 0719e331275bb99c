package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "enrolld/pkg/domain-errors"
)

// TestParseNationalID_Invariants validates the parsing invariant:
// "a DNI is 7 to 9 digits once separators are removed"
func TestParseNationalID_Invariants(t *testing.T) {
	t.Run("rejects empty string", func(t *testing.T) {
		_, err := ParseNationalID("")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("strips separators", func(t *testing.T) {
		id, err := ParseNationalID(" 30.111.222 ")
		require.NoError(t, err)
		assert.Equal(t, NationalID("30111222"), id)
	})

	t.Run("rejects too few digits", func(t *testing.T) {
		_, err := ParseNationalID("12345")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})
}

// TestParseNationalID_SecurityInvariants covers hostile input at the trust boundary.
// National IDs end up in file names, so anything but digits must be refused.
func TestParseNationalID_SecurityInvariants(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"SQL injection attempt", "'; DROP TABLE students;--", true},
		{"Path traversal", "../../30111222", true},
		{"Null byte injection", "30111\x00222", true},
		{"Oversized input", strings.Repeat("1", 1000), true},
		{"Unicode digits", "３０１１１２２２", true},
		{"Whitespace only", "   ", true},
		{"Eight digits", "30111222", false},
		{"Dashes", "30-111-222", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseNationalID(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestParseCatalogID(t *testing.T) {
	v, err := ParseCatalogID("plan_id", "5")
	require.NoError(t, err)
	assert.Equal(t, int64(5), v)

	_, err = ParseCatalogID("plan_id", "0")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))

	_, err = ParseCatalogID("plan_id", "abc")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
}
