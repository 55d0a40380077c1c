package db

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationSources(t *testing.T) {
	sources, err := MigrationSources()
	require.NoError(t, err)
	require.Len(t, sources, 4)
	assert.True(t, strings.HasSuffix(sources[0], "00001_analysis_jobs.sql"))

	for _, path := range sources {
		content, err := fs.ReadFile(migrationFS, path)
		require.NoError(t, err)
		assert.Contains(t, string(content), "-- +goose Up", path)
		assert.Contains(t, string(content), "-- +goose Down", path)
	}
}

func TestNullableAndDeref(t *testing.T) {
	assert.Nil(t, nullable(""))
	require.NotNil(t, nullable("x"))
	assert.Equal(t, "x", deref(nullable("x")))
	assert.Equal(t, "", deref(nil))
	assert.Equal(t, []string{}, nonNil(nil))
}
