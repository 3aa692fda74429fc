package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidSanitizeInput(t *testing.T) {
	assert.Equal(t, "chargeback", SanitizeInput("  chargeback\n"))
	assert.Equal(t, "&lt;b&gt;fraud&lt;/b&gt;", SanitizeInput("<b>fraud</b>"))
	assert.Equal(t, "ab", SanitizeInput("a\x00b"))
	assert.Empty(t, SanitizeInput("   "))
}

func TestValidSanitizeIdentifier(t *testing.T) {
	id, err := SanitizeIdentifier("  user-42 ")
	require.NoError(t, err)
	assert.Equal(t, "user-42", id)

	for _, bad := range []string{"", "   ", "a b", "a/b", "a\tb", strings.Repeat("x", maxIdentifierLength+1)} {
		_, err := SanitizeIdentifier(bad)
		assert.Error(t, err, "%q", bad)
	}
}
