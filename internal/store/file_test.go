// File: internal/store/file_test.go
package store

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestFileStore(t *testing.T) (*FileStore, string) {
	t.Helper()
	dir := t.TempDir()
	fs, err := NewFileStore(dir, zap.NewNop())
	require.NoError(t, err)
	return fs, dir
}

func sampleState() *SessionState {
	return &SessionState{
		Authenticated: true,
		Cookies: []Cookie{
			{Name: "c_user", Value: "100001234", Domain: ".facebook.com", Path: "/", Secure: true},
			{Name: "xs", Value: "abc:def", Domain: ".facebook.com", Path: "/", HTTPOnly: true, Secure: true},
		},
		LastURL: "https://www.facebook.com/marketplace/create/rental",
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	fs, _ := newTestFileStore(t)
	ctx := context.Background()

	in := sampleState()
	require.NoError(t, fs.Save(ctx, "seller-1", in))

	out, err := fs.Load(ctx, "seller-1")
	require.NoError(t, err)
	assert.True(t, out.Authenticated)
	assert.Equal(t, in.Cookies, out.Cookies)
	assert.Equal(t, in.LastURL, out.LastURL)
	assert.False(t, out.SavedAt.IsZero(), "Save must stamp SavedAt")
}

func TestFileStoreMissingSession(t *testing.T) {
	fs, _ := newTestFileStore(t)

	_, err := fs.Load(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFileStoreLeavesNoTempFiles(t *testing.T) {
	fs, dir := newTestFileStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, fs.Save(ctx, "seller-1", sampleState()))
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasSuffix(e.Name(), ".tmp"), "leftover temp file %s", e.Name())
	}
	assert.Len(t, entries, 1)
}

func TestFileStoreOverwriteReplacesWholeSnapshot(t *testing.T) {
	fs, _ := newTestFileStore(t)
	ctx := context.Background()

	first := sampleState()
	require.NoError(t, fs.Save(ctx, "seller-1", first))

	second := &SessionState{Authenticated: false, LastURL: "https://www.facebook.com/login"}
	require.NoError(t, fs.Save(ctx, "seller-1", second))

	out, err := fs.Load(ctx, "seller-1")
	require.NoError(t, err)
	assert.False(t, out.Authenticated)
	assert.Empty(t, out.Cookies, "stale cookies must not survive an overwrite")
	assert.Equal(t, second.LastURL, out.LastURL)
}

func TestFileStoreSnapshotPermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("file modes are unix-only")
	}
	fs, dir := newTestFileStore(t)
	require.NoError(t, fs.Save(context.Background(), "seller-1", sampleState()))

	info, err := os.Stat(filepath.Join(dir, "seller-1.json"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestPushHistoryBounded(t *testing.T) {
	var s SessionState
	for i := 0; i < maxHistory+7; i++ {
		s.PushHistory("https://example.com/" + string(rune('a'+i%26)))
	}
	assert.Len(t, s.History, maxHistory)
	assert.Equal(t, s.History[len(s.History)-1], s.LastURL)
}

func TestFileStoreHonorsContextCancellation(t *testing.T) {
	fs, _ := newTestFileStore(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := fs.Save(ctx, "seller-1", sampleState())
	assert.ErrorIs(t, err, context.Canceled)

	_, err = fs.Load(ctx, "seller-1")
	assert.ErrorIs(t, err, context.Canceled)
}
