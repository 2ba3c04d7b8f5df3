package local

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreWritesAtomically(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s, err := New(filepath.Join(dir, "cache"))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "transport:M1_1AF", []byte(`{"v":1}`), time.Hour))
	require.NoError(t, s.Set(ctx, "transport:M1_1AF", []byte(`{"v":2}`), time.Hour))

	got, found, err := s.Get(ctx, "transport:M1_1AF")
	require.NoError(t, err)
	require.True(t, found)
	assert.JSONEq(t, `{"v":2}`, string(got))

	entries, err := os.ReadDir(filepath.Join(dir, "cache", "transport"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "M1_1AF.json", entries[0].Name())
}

func TestStoreMissAndTraversal(t *testing.T) {
	t.Parallel()

	s, err := New(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	_, found, err := s.Get(ctx, "income:SW1A_1AA")
	require.NoError(t, err)
	assert.False(t, found)

	require.Error(t, s.Set(ctx, "../../etc/passwd", []byte("x"), 0))
	_, _, err = s.Get(ctx, "")
	require.Error(t, err)
}

func TestNewRejectsFiles(t *testing.T) {
	t.Parallel()

	_, err := New("")
	require.Error(t, err)

	file := filepath.Join(t.TempDir(), "plain")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
	_, err = New(file)
	require.Error(t, err)
}
