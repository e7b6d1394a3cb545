package sftpnative

import (
	"context"
	"io"
	"net"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/pkg/sftp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/houzin/scp-explorer/internal/logging"
	"github.com/houzin/scp-explorer/internal/remote"
)

// newTestBackend connects a Backend to an in-memory sftp server.
func newTestBackend(t *testing.T) *Backend {
	t.Helper()
	serverConn, clientConn := net.Pipe()

	server := sftp.NewRequestServer(serverConn, sftp.InMemHandler())
	go func() { _ = server.Serve() }()

	client, err := sftp.NewClientPipe(clientConn, clientConn)
	require.NoError(t, err)

	b := newWithClient(logging.NewNopLogger(), DefaultOptions(), client, clientConn)
	t.Cleanup(func() {
		_ = b.Disconnect()
		_ = server.Close()
	})
	return b
}

func writeFile(t *testing.T, b *Backend, p, content string) {
	t.Helper()
	w, err := b.OpenWrite(context.Background(), p)
	require.NoError(t, err)
	_, err = io.WriteString(w, content)
	require.NoError(t, err)
	require.NoError(t, w.Close())
}

func readFile(t *testing.T, b *Backend, p string) string {
	t.Helper()
	r, err := b.OpenRead(context.Background(), p)
	require.NoError(t, err)
	defer r.Close()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	return string(data)
}

func names(entries []remote.Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Name)
	}
	sort.Strings(out)
	return out
}

func TestBackend_ListMkdirWrite(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	require.NoError(t, b.Mkdir(ctx, "/docs"))
	writeFile(t, b, "/docs/readme.txt", "hello")
	writeFile(t, b, "/top.bin", "12345678")

	entries, err := b.List(ctx, "/")
	require.NoError(t, err)
	assert.Equal(t, []string{"docs", "top.bin"}, names(entries))

	for _, e := range entries {
		switch e.Name {
		case "docs":
			assert.True(t, e.IsDir)
		case "top.bin":
			assert.False(t, e.IsDir)
			assert.Equal(t, int64(8), e.Size)
			assert.NotZero(t, e.ModifyTime)
		}
	}

	assert.Equal(t, "hello", readFile(t, b, "/docs/readme.txt"))
}

func TestBackend_MkdirOverFileIsConflict(t *testing.T) {
	b := newTestBackend(t)
	writeFile(t, b, "/taken", "x")

	err := b.Mkdir(context.Background(), "/taken")
	require.Error(t, err)
	assert.True(t, remote.IsConflict(err), "expected conflict, got %v", err)
	assert.True(t, strings.HasPrefix(err.Error(), remote.WarningPrefix))
	assert.Contains(t, err.Error(), "A file with the same name already exists")
}

func TestBackend_RenameOntoExistingFails(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	writeFile(t, b, "/a.txt", "alpha")
	writeFile(t, b, "/b.txt", "bravo")

	err := b.Rename(ctx, "/a.txt", "/b.txt")
	require.Error(t, err)
	assert.True(t, remote.IsConflict(err))

	assert.Equal(t, "alpha", readFile(t, b, "/a.txt"))
	assert.Equal(t, "bravo", readFile(t, b, "/b.txt"))

	require.NoError(t, b.Rename(ctx, "/a.txt", "/c.txt"))
	_, err = b.Stat(ctx, "/a.txt")
	assert.True(t, remote.IsNotFound(err))
	assert.Equal(t, "alpha", readFile(t, b, "/c.txt"))
}

func TestBackend_StatAndUnlinkMissing(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	_, err := b.Stat(ctx, "/nope")
	assert.True(t, remote.IsNotFound(err), "stat: %v", err)

	err = b.Unlink(ctx, "/nope")
	assert.True(t, remote.IsNotFound(err), "unlink: %v", err)

	_, err = b.List(ctx, "/nope")
	assert.True(t, remote.IsNotFound(err), "list: %v", err)
}

func TestBackend_RmdirRecursive(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	require.NoError(t, b.Mkdir(ctx, "/tree"))
	require.NoError(t, b.Mkdir(ctx, "/tree/sub"))
	writeFile(t, b, "/tree/a", "1")
	writeFile(t, b, "/tree/sub/b", "2")

	require.NoError(t, b.Rmdir(ctx, "/tree"))

	_, err := b.Stat(ctx, "/tree")
	assert.True(t, remote.IsNotFound(err))
}

func TestBackend_ListOrRootFallback(t *testing.T) {
	b := newTestBackend(t)
	writeFile(t, b, "/only", "x")

	entries, actual, err := remote.ListOrRoot(context.Background(), b, "/missing/dir")
	require.NoError(t, err)
	assert.Equal(t, "/", actual)
	assert.Equal(t, []string{"only"}, names(entries))
}

func TestBackend_AbortWriteDiscardsPartialFile(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	w, err := b.OpenWrite(ctx, "/partial.bin")
	require.NoError(t, err)
	_, err = w.Write([]byte("half"))
	require.NoError(t, err)
	require.NoError(t, w.Abort())
	assert.NoError(t, w.Close(), "close after abort is a no-op")

	_, err = b.Stat(ctx, "/partial.bin")
	assert.True(t, remote.IsNotFound(err))
}

func TestBackend_DisconnectIsIdempotent(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	writeFile(t, b, "/f", "data")

	r, err := b.OpenRead(ctx, "/f")
	require.NoError(t, err)
	assert.Equal(t, 1, b.streams.Len())

	done := make(chan struct{})
	go func() {
		_ = b.Disconnect()
		_ = b.Disconnect()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("disconnect hung")
	}

	assert.Equal(t, remote.StateDisconnected, b.State())
	assert.Equal(t, 0, b.streams.Len())
	_ = r.Close()

	_, err = b.List(ctx, "/")
	assert.ErrorIs(t, err, remote.ErrNotConnected)
}

func TestBackend_ConnectRequiresCredentials(t *testing.T) {
	b := New(logging.NewNopLogger(), DefaultOptions())
	err := b.Connect(context.Background(), remote.Config{Host: "h", Username: "u", AuthType: remote.AuthPassword})
	require.Error(t, err)
	assert.Equal(t, remote.KindConfig, remote.KindOf(err))
	assert.Equal(t, remote.StateDisconnected, b.State())
}
