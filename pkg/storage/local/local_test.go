package local

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/document-extractor/pkg/logger"
)

func newStorage(t *testing.T) *LocalStorage {
	t.Helper()
	s, err := NewLocalStorage(t.TempDir(), logger.NewTestLogger())
	require.NoError(t, err)
	return s
}

func TestStoreAndGet(t *testing.T) {
	s := newStorage(t)
	ctx := context.Background()

	key, err := s.Store(ctx, strings.NewReader(`{"a":"b"}`), "results/t1.json")
	require.NoError(t, err)
	assert.Equal(t, "results/t1.json", key)

	rc, err := s.Get(ctx, key)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, `{"a":"b"}`, string(data))
}

func TestGetMissingIsNotExist(t *testing.T) {
	s := newStorage(t)

	_, err := s.Get(context.Background(), "results/missing.json")
	assert.True(t, errors.Is(err, fs.ErrNotExist))
}

func TestPathRejectsEscapes(t *testing.T) {
	s := newStorage(t)

	for _, key := range []string{"../secret", "a/../../secret", "/etc/passwd", "", "."} {
		_, err := s.Path(key)
		assert.Error(t, err, key)
	}

	p, err := s.Path("a/../b.json")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(s.root, "b.json"), p)
}

func TestDeleteIsIdempotent(t *testing.T) {
	s := newStorage(t)
	ctx := context.Background()

	_, err := s.Store(ctx, strings.NewReader("x"), "f.txt")
	require.NoError(t, err)
	require.NoError(t, s.Delete(ctx, "f.txt"))
	assert.NoError(t, s.Delete(ctx, "f.txt"))
}

func TestCleanupBefore(t *testing.T) {
	s := newStorage(t)
	ctx := context.Background()

	_, err := s.Store(ctx, strings.NewReader("old"), "results/old.json")
	require.NoError(t, err)
	_, err = s.Store(ctx, strings.NewReader("new"), "results/new.json")
	require.NoError(t, err)

	oldPath, _ := s.Path("results/old.json")
	past := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(oldPath, past, past))

	require.NoError(t, s.CleanupBefore(ctx, time.Now().Add(-24*time.Hour)))

	_, err = os.Stat(oldPath)
	assert.True(t, os.IsNotExist(err))
	newPath, _ := s.Path("results/new.json")
	_, err = os.Stat(newPath)
	assert.NoError(t, err)
}
