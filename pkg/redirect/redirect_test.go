package redirect

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandoffURL(t *testing.T) {
	url, err := HandoffURL("https://erp.example.com", "sess-123")
	require.NoError(t, err)
	assert.Equal(t, "https://erp.example.com/auth/sess-123", url)
}

func TestHandoffURL_TrailingSlash(t *testing.T) {
	url, err := HandoffURL("https://erp.example.com/", "sess-123")
	require.NoError(t, err)
	assert.Equal(t, "https://erp.example.com/auth/sess-123", url)
}

func TestHandoffURL_EscapesSession(t *testing.T) {
	url, err := HandoffURL("https://erp.example.com", "a b/c")
	require.NoError(t, err)
	assert.Equal(t, "https://erp.example.com/auth/a%20b%2Fc", url)
}

func TestHandoffURL_EmptyBase(t *testing.T) {
	_, err := HandoffURL("", "sess-123")
	assert.Error(t, err)
}
