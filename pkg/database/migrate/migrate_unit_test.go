package migrate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationsEmbedded(t *testing.T) {
	entries, err := migrations.ReadDir("migrations")
	require.NoError(t, err)

	expectedFiles := []string{
		"000001_challenges.up.sql",
		"000001_challenges.down.sql",
		"000002_sessions.up.sql",
		"000002_sessions.down.sql",
	}
	assert.Len(t, entries, len(expectedFiles))

	fileNames := make(map[string]bool)
	for _, e := range entries {
		fileNames[e.Name()] = true
	}

	for _, expected := range expectedFiles {
		assert.True(t, fileNames[expected], "expected migration file %s to exist", expected)
	}
}

func TestMigrationFilesNotEmpty(t *testing.T) {
	entries, err := migrations.ReadDir("migrations")
	require.NoError(t, err)

	for _, e := range entries {
		data, err := migrations.ReadFile("migrations/" + e.Name())
		require.NoError(t, err)
		assert.NotEmpty(t, data, "migration file %s is empty", e.Name())
	}
}
