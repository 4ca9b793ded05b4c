package session

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillsync/quill/internal/index"
	"github.com/quillsync/quill/internal/syncerr"
)

func writeNote(t *testing.T, root, rel, content string, mod time.Time) {
	t.Helper()
	abs := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
	require.NoError(t, os.Chtimes(abs, mod, mod))
}

func startServer(t *testing.T, root string, opts Options) (*Server, string) {
	t.Helper()
	ix := index.NewIndexer("server-dev", root)
	srv := NewServer(ix, NewPeerRegistry(), opts)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go srv.Serve(ctx, ln)

	return srv, ln.Addr().String()
}

func dialClient(t *testing.T, addr, root string, opts Options) *Client {
	t.Helper()
	ix := index.NewIndexer("client-dev", root)
	c, err := Dial(context.Background(), addr, "client", ix, opts)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestSyncConvergesBothSides(t *testing.T) {
	t.Parallel()

	serverRoot, clientRoot := t.TempDir(), t.TempDir()
	now := time.Now()
	writeNote(t, serverRoot, "server-only.md", "# server\n", now)
	writeNote(t, clientRoot, "notes/client-only.md", "# client\n", now)

	_, addr := startServer(t, serverRoot, Options{})
	c := dialClient(t, addr, clientRoot, Options{})

	require.NoError(t, c.SyncOnce(context.Background()))
	assert.Equal(t, StateIdle, c.State())

	gotOnClient, err := os.ReadFile(filepath.Join(clientRoot, "server-only.md"))
	require.NoError(t, err)
	assert.Equal(t, "# server\n", string(gotOnClient))

	gotOnServer, err := os.ReadFile(filepath.Join(serverRoot, "notes", "client-only.md"))
	require.NoError(t, err)
	assert.Equal(t, "# client\n", string(gotOnServer))

	// Transferred files commit read-only on the receiving side.
	info, err := os.Stat(filepath.Join(clientRoot, "server-only.md"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o444), info.Mode().Perm())
}

func TestNewerRemoteVersionWins(t *testing.T) {
	t.Parallel()

	serverRoot, clientRoot := t.TempDir(), t.TempDir()
	base := time.Now().Add(-time.Hour)
	writeNote(t, clientRoot, "doc.txt", "stale\n", base)
	writeNote(t, serverRoot, "doc.txt", "fresh\n", base.Add(10*time.Minute))

	_, addr := startServer(t, serverRoot, Options{})
	c := dialClient(t, addr, clientRoot, Options{})
	require.NoError(t, c.SyncOnce(context.Background()))

	got, err := os.ReadFile(filepath.Join(clientRoot, "doc.txt"))
	require.NoError(t, err)
	assert.Equal(t, "fresh\n", string(got))
}

func TestDivergentNotesMergeWithMarkers(t *testing.T) {
	t.Parallel()

	serverRoot, clientRoot := t.TempDir(), t.TempDir()
	base := time.Now().Add(-time.Hour)
	clientBody := "one\ntwo\nthree\nfour\nfive\nsix\n"
	serverBody := "uno\ndos\ntres\ncuatro\ncinco\nseis\n"
	writeNote(t, clientRoot, "shared.md", clientBody, base)
	writeNote(t, serverRoot, "shared.md", serverBody, base.Add(time.Minute))

	_, addr := startServer(t, serverRoot, Options{})
	c := dialClient(t, addr, clientRoot, Options{})
	require.NoError(t, c.SyncOnce(context.Background()))

	got, err := os.ReadFile(filepath.Join(clientRoot, "shared.md"))
	require.NoError(t, err)
	merged := string(got)
	assert.Contains(t, merged, "<<<<<<< local")
	assert.Contains(t, merged, "one\ntwo\nthree")
	assert.Contains(t, merged, "uno\ndos\ntres")

	// The merged result stays writable; it is local work in progress.
	info, err := os.Stat(filepath.Join(clientRoot, "shared.md"))
	require.NoError(t, err)
	assert.NotZero(t, info.Mode().Perm()&0o200)
}

func TestDeletionPropagatesAfterConvergence(t *testing.T) {
	t.Parallel()

	serverRoot, clientRoot := t.TempDir(), t.TempDir()
	writeNote(t, clientRoot, "ephemeral.md", "gone soon\n", time.Now())

	_, addr := startServer(t, serverRoot, Options{})
	c := dialClient(t, addr, clientRoot, Options{})

	require.NoError(t, c.SyncOnce(context.Background()))
	_, err := os.Stat(filepath.Join(serverRoot, "ephemeral.md"))
	require.NoError(t, err, "first sync copies the file over")

	require.NoError(t, c.ix.Remove("ephemeral.md"))
	require.NoError(t, c.SyncOnce(context.Background()))

	_, err = os.Stat(filepath.Join(serverRoot, "ephemeral.md"))
	assert.True(t, os.IsNotExist(err), "second sync propagates the deletion")
}

func TestHandshakeTokenRejected(t *testing.T) {
	t.Parallel()

	_, addr := startServer(t, t.TempDir(), Options{AuthToken: "s3cret"})

	ix := index.NewIndexer("client-dev", t.TempDir())
	_, err := Dial(context.Background(), addr, "client", ix, Options{AuthToken: "wrong"})
	require.Error(t, err)
	assert.Equal(t, syncerr.KindAuth, syncerr.KindOf(err))
}

func TestHandshakeTokenAccepted(t *testing.T) {
	t.Parallel()

	srv, addr := startServer(t, t.TempDir(), Options{AuthToken: "s3cret"})
	c := dialClient(t, addr, t.TempDir(), Options{AuthToken: "s3cret"})

	assert.Equal(t, "server-dev", c.PeerDevice())
	peers := srv.Peers().List()
	require.Len(t, peers, 1)
	assert.Equal(t, "client-dev", peers[0].DeviceID)
}

func TestHeartbeatEchoes(t *testing.T) {
	t.Parallel()

	_, addr := startServer(t, t.TempDir(), Options{})
	c := dialClient(t, addr, t.TempDir(), Options{})

	require.NoError(t, c.Heartbeat())
	require.NoError(t, c.Heartbeat())
	assert.Equal(t, StateIdle, c.State())
}

func TestFetchFile(t *testing.T) {
	t.Parallel()

	serverRoot := t.TempDir()
	writeNote(t, serverRoot, "docs/guide.md", "# guide\n", time.Now())

	_, addr := startServer(t, serverRoot, Options{})
	c := dialClient(t, addr, t.TempDir(), Options{})

	content, rec, err := c.FetchFile("docs/guide.md")
	require.NoError(t, err)
	assert.Equal(t, "# guide\n", string(content))
	require.NotNil(t, rec)
	assert.Equal(t, index.HashBytes(content), rec.Digest)

	_, _, err = c.FetchFile("docs/absent.md")
	require.Error(t, err)
}

func TestCompressedSession(t *testing.T) {
	t.Parallel()

	serverRoot, clientRoot := t.TempDir(), t.TempDir()
	writeNote(t, serverRoot, "big.md", strings.Repeat("compressible line\n", 4096), time.Now())

	_, addr := startServer(t, serverRoot, Options{Compress: true})
	c := dialClient(t, addr, clientRoot, Options{Compress: true})
	require.NoError(t, c.SyncOnce(context.Background()))

	got, err := os.ReadFile(filepath.Join(clientRoot, "big.md"))
	require.NoError(t, err)
	assert.Len(t, got, 18*4096)
}

func TestMachineTransitions(t *testing.T) {
	t.Parallel()

	m := NewMachine()
	assert.Equal(t, StateConnected, m.State())

	require.NoError(t, m.To(StateAuthenticated))
	require.NoError(t, m.To(StateSyncing))
	require.NoError(t, m.To(StateIdle))
	require.NoError(t, m.To(StateSyncing))
	require.NoError(t, m.To(StateIdle))

	m.Close()
	assert.Equal(t, StateClosed, m.State())
}

func TestMachineIllegalMoveAbsorbs(t *testing.T) {
	t.Parallel()

	m := NewMachine()
	// Syncing before authentication is a protocol violation.
	err := m.To(StateSyncing)
	require.Error(t, err)
	assert.Equal(t, syncerr.KindNetwork, syncerr.KindOf(err))
	assert.Equal(t, StateError, m.State())

	// Error only leads to Closed.
	require.Error(t, m.To(StateSyncing))
	m.Close()
	assert.Equal(t, StateClosed, m.State())
}
