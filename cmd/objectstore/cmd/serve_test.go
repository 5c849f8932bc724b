package cmd

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sugarlabs/sugar-datastore/internal/daemon"
	"github.com/sugarlabs/sugar-datastore/internal/store"
)

func TestServe_PingAndCreate(t *testing.T) {
	root := t.TempDir()
	socketPath := filepath.Join(t.TempDir(), "daemon.sock")

	s, err := store.Open(root, diskFreeBytes, 0)
	require.NoError(t, err)
	defer func() { _ = s.Stop() }()

	srv, err := daemon.NewServer(socketPath)
	require.NoError(t, err)
	srv.SetHandler(&storeHandler{store: s})
	defer func() { _ = srv.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serveErrCh := make(chan error, 1)
	go func() { serveErrCh <- srv.ListenAndServe(ctx) }()

	client := daemon.NewClient(daemon.Config{SocketPath: socketPath, Timeout: 2 * time.Second})
	require.Eventually(t, client.IsRunning, time.Second, 10*time.Millisecond)

	require.NoError(t, client.Ping(ctx))

	id, err := client.Create(ctx, daemon.CreateParams{Properties: map[string]string{"title": "hello"}})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	props, err := client.GetProperties(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "hello", props["title"])

	cancel()
	select {
	case err := <-serveErrCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("server did not shut down after context cancellation")
	}
}
