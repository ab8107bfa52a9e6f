package util

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanOldLogs(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()

	names := []string{"sacredlobby_2026-01-01.log", "sacredlobby_2026-01-02.log", "sacredlobby_2026-01-03.log"}
	for i, name := range names {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte("x"), 0644))
		mod := now.Add(time.Duration(i-len(names)) * time.Hour)
		require.NoError(t, os.Chtimes(path, mod, mod))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.log"), []byte("x"), 0644))

	cleanOldLogs(dir, 2)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var left []string
	for _, e := range entries {
		left = append(left, e.Name())
	}
	assert.ElementsMatch(t, []string{"other.log", "sacredlobby_2026-01-02.log", "sacredlobby_2026-01-03.log"}, left)
}

func TestGetSystemInfo(t *testing.T) {
	info := GetSystemInfo()
	assert.NotEmpty(t, info.Architecture)
	assert.Positive(t, info.CPUCores)
	assert.NotEmpty(t, info.GoVersion)
}
