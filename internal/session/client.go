package session

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quillsync/quill/internal/index"
	"github.com/quillsync/quill/internal/proto"
	"github.com/quillsync/quill/internal/stats"
	"github.com/quillsync/quill/internal/syncerr"
	"github.com/quillsync/quill/internal/transfer"
)

// Client is the initiating side of a session: it dials a peer, authenticates,
// and drives sync exchanges against it.
type Client struct {
	ix   *index.Indexer
	reg  *transfer.Registry
	conn *proto.Conn
	m    *Machine
	opts Options
	log  *slog.Logger

	peerDevice string
	hbSeq      atomic.Uint64

	// syncMu guards the connection's request/response discipline. TryLock
	// in SyncOnce makes overlapping sync triggers skip instead of queue.
	syncMu sync.Mutex
}

// Dial connects to addr, performs the handshake, and returns an
// authenticated client.
func Dial(ctx context.Context, addr, deviceName string, ix *index.Indexer, opts Options) (*Client, error) {
	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, syncerr.Wrap(syncerr.KindNetwork, err, "dial %s", addr)
	}

	conn, err := proto.NewConn(nc, opts.Compress)
	if err != nil {
		nc.Close()
		return nil, err
	}

	c := &Client{
		ix:   ix,
		reg:  transfer.NewRegistry(ix),
		conn: conn,
		m:    NewMachine(),
		opts: opts,
		log:  opts.logger().With("peer", addr),
	}
	if err := c.handshake(deviceName); err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

// PeerDevice returns the device id the peer presented at handshake.
func (c *Client) PeerDevice() string { return c.peerDevice }

// Stats exposes the transfer counters for everything this client received.
func (c *Client) Stats() *stats.Collector { return c.reg.Stats() }

// State returns the session's current protocol state.
func (c *Client) State() State { return c.m.State() }

func (c *Client) handshake(deviceName string) error {
	_ = c.conn.SetDeadline(time.Now().Add(c.opts.handshakeTimeout()))
	defer c.conn.SetDeadline(time.Time{})

	req := proto.HandshakeReq{
		Version:    proto.ProtocolVersion,
		DeviceID:   c.ix.DeviceID(),
		DeviceName: deviceName,
		AuthToken:  c.opts.AuthToken,
	}
	if c.opts.AuthToken == "" {
		// Digest mode: declare the root content digest as identity.
		if snap, err := c.ix.Index(); err == nil {
			req.RootDigest = snap.RootDigestBytes()
		}
	}
	if err := c.conn.Send(proto.MsgHandshakeReq, req); err != nil {
		return err
	}

	typ, payload, err := c.conn.Recv()
	if err != nil {
		return err
	}
	resp, err := proto.DecodeAs[proto.HandshakeResp](typ, proto.MsgHandshakeResp, payload)
	if err != nil {
		c.m.Fail()
		return err
	}
	if !resp.Accepted {
		c.m.Fail()
		return syncerr.New(syncerr.KindAuth, "peer rejected session: %s", resp.Message)
	}

	c.peerDevice = resp.DeviceID
	if err := c.m.To(StateAuthenticated); err != nil {
		return err
	}
	if err := c.m.To(StateIdle); err != nil {
		return err
	}
	c.log.Info("session established", "device", resp.DeviceID)
	return nil
}

// SyncOnce runs one full sync exchange. If another exchange is already in
// flight the call is skipped, not queued: the running exchange already
// carries the latest on-disk state.
func (c *Client) SyncOnce(ctx context.Context) error {
	if !c.syncMu.TryLock() {
		c.log.Debug("sync skipped, exchange in flight")
		return nil
	}
	defer c.syncMu.Unlock()

	if err := c.m.To(StateSyncing); err != nil {
		return err
	}

	if c.opts.SyncTimeout > 0 {
		_ = c.conn.SetDeadline(time.Now().Add(c.opts.SyncTimeout))
		defer c.conn.SetDeadline(time.Time{})
	} else if dl, ok := ctx.Deadline(); ok {
		_ = c.conn.SetDeadline(dl)
		defer c.conn.SetDeadline(time.Time{})
	}

	snap, err := c.ix.Index()
	if err != nil {
		return err
	}
	if err := c.conn.Send(proto.MsgSyncReq, proto.SyncReq{
		DeviceID: c.ix.DeviceID(),
		Files:    snap.Records(),
	}); err != nil {
		c.m.Fail()
		return err
	}

	typ, payload, err := c.conn.Recv()
	if err != nil {
		c.m.Fail()
		return err
	}
	resp, err := proto.DecodeAs[proto.SyncResp](typ, proto.MsgSyncResp, payload)
	if err != nil {
		c.m.Fail()
		return err
	}
	c.log.Info("sync negotiated", "ops", len(resp.Ops), "pushes", len(resp.Wants))

	applyDeletes(c.ix, resp.Ops, c.log)

	conflicts := make(map[string]bool, len(resp.Conflicts))
	for _, p := range resp.Conflicts {
		conflicts[p] = true
	}
	if err := receiveTransfers(c.conn, c.reg, c.ix, conflicts, c.log); err != nil {
		c.m.Fail()
		return err
	}

	// Push back the files where this side's version won.
	fresh, err := c.ix.Index()
	if err != nil {
		c.m.Fail()
		return err
	}
	if err := sendTransfers(c.conn, c.ix, fresh, resp.Wants, c.log); err != nil {
		c.m.Fail()
		return err
	}

	return c.m.To(StateIdle)
}

// Heartbeat sends one liveness probe and waits for its echo.
func (c *Client) Heartbeat() error {
	if !c.syncMu.TryLock() {
		// A sync exchange is active; that is liveness enough.
		return nil
	}
	defer c.syncMu.Unlock()

	seq := c.hbSeq.Add(1)
	if err := c.conn.Send(proto.MsgHeartbeat, proto.Heartbeat{Seq: seq}); err != nil {
		return err
	}
	typ, payload, err := c.conn.Recv()
	if err != nil {
		return err
	}
	hb, err := proto.DecodeAs[proto.Heartbeat](typ, proto.MsgHeartbeat, payload)
	if err != nil {
		return err
	}
	if hb.Seq != seq {
		return syncerr.New(syncerr.KindNetwork, "heartbeat echo %d, want %d", hb.Seq, seq)
	}
	return nil
}

// FetchFile retrieves one file from the peer without a sync exchange.
func (c *Client) FetchFile(path string) ([]byte, *index.FileRecord, error) {
	c.syncMu.Lock()
	defer c.syncMu.Unlock()

	if err := c.conn.Send(proto.MsgFileReq, proto.FileReq{Path: path}); err != nil {
		return nil, nil, err
	}
	typ, payload, err := c.conn.Recv()
	if err != nil {
		return nil, nil, err
	}
	resp, err := proto.DecodeAs[proto.FileResp](typ, proto.MsgFileResp, payload)
	if err != nil {
		return nil, nil, err
	}
	if !resp.Found {
		return nil, nil, syncerr.New(syncerr.KindIO, "peer has no file %q", path)
	}
	return resp.Content, resp.Record, nil
}

// Run syncs on a schedule and on demand until ctx is cancelled. Each value
// on triggers requests an immediate sync; interval paces the background
// full syncs; heartbeats fill the quiet stretches.
func (c *Client) Run(ctx context.Context, triggers <-chan struct{}, interval time.Duration) error {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	syncTick := time.NewTicker(interval)
	defer syncTick.Stop()
	hbTick := time.NewTicker(interval / 3)
	defer hbTick.Stop()

	if err := c.SyncOnce(ctx); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-triggers:
			if !ok {
				return nil
			}
			if err := c.SyncOnce(ctx); err != nil {
				return err
			}
		case <-syncTick.C:
			if err := c.SyncOnce(ctx); err != nil {
				return err
			}
		case <-hbTick.C:
			if err := c.Heartbeat(); err != nil {
				return err
			}
		}
	}
}

// Close ends the session.
func (c *Client) Close() error {
	c.m.Close()
	return c.conn.Close()
}
