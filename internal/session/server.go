package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/quillsync/quill/internal/index"
	"github.com/quillsync/quill/internal/proto"
	"github.com/quillsync/quill/internal/reconcile"
	"github.com/quillsync/quill/internal/stats"
	"github.com/quillsync/quill/internal/syncerr"
	"github.com/quillsync/quill/internal/transfer"
)

// Options configures both ends of a session.
type Options struct {
	// AuthToken, when set, must be presented verbatim by the initiator.
	// When empty the deployment runs in digest mode: the initiator's
	// declared root digest is recorded as identity, not compared.
	AuthToken string
	// Compress wraps the stream in zstd. Both peers must agree.
	Compress bool
	// HandshakeTimeout bounds the wait for the opening exchange.
	HandshakeTimeout time.Duration
	// SyncTimeout, when nonzero, bounds one whole sync exchange including
	// its transfers.
	SyncTimeout time.Duration
	Logger      *slog.Logger
}

func (o *Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

func (o *Options) handshakeTimeout() time.Duration {
	if o.HandshakeTimeout > 0 {
		return o.HandshakeTimeout
	}
	return 10 * time.Second
}

// Server accepts sync sessions for one root.
type Server struct {
	ix    *index.Indexer
	reg   *transfer.Registry
	peers *PeerRegistry
	opts  Options
	log   *slog.Logger

	// syncMu serializes sync exchanges across connections: two peers
	// syncing the same root concurrently would race the walk and the
	// commits.
	syncMu sync.Mutex
}

// NewServer creates a server over the given root.
func NewServer(ix *index.Indexer, peers *PeerRegistry, opts Options) *Server {
	return &Server{
		ix:    ix,
		reg:   transfer.NewRegistry(ix),
		peers: peers,
		opts:  opts,
		log:   opts.logger(),
	}
}

// Peers exposes the server's peer registry.
func (s *Server) Peers() *PeerRegistry { return s.peers }

// Stats exposes the transfer counters for everything this server received.
func (s *Server) Stats() *stats.Collector { return s.reg.Stats() }

// Serve accepts connections until ctx is cancelled or the listener fails.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	s.log.Info("listening", "addr", ln.Addr().String(), "root", s.ix.Root())
	for {
		nc, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return syncerr.Wrap(syncerr.KindNetwork, err, "accept")
		}
		go s.handle(ctx, nc)
	}
}

func (s *Server) handle(ctx context.Context, nc net.Conn) {
	log := s.log.With("peer", nc.RemoteAddr().String())

	conn, err := proto.NewConn(nc, s.opts.Compress)
	if err != nil {
		log.Error("conn setup failed", "error", err)
		nc.Close()
		return
	}
	defer conn.Close()

	m := NewMachine()
	defer m.Close()

	peerID, err := s.handshake(conn, m, nc.RemoteAddr().String())
	if err != nil {
		log.Warn("handshake failed", "error", err)
		return
	}
	log = log.With("device", peerID)
	log.Info("session established")
	if err := m.To(StateIdle); err != nil {
		return
	}

	for {
		if ctx.Err() != nil {
			return
		}
		typ, payload, err := conn.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				log.Debug("peer closed session")
			} else {
				log.Warn("session read failed", "error", err)
			}
			return
		}

		switch typ {
		case proto.MsgHeartbeat:
			hb, err := proto.DecodeAs[proto.Heartbeat](typ, proto.MsgHeartbeat, payload)
			if err != nil {
				m.Fail()
				log.Warn("bad heartbeat", "error", err)
				return
			}
			if err := conn.Send(proto.MsgHeartbeat, hb); err != nil {
				return
			}

		case proto.MsgSyncReq:
			req, err := proto.DecodeAs[proto.SyncReq](typ, proto.MsgSyncReq, payload)
			if err != nil {
				m.Fail()
				log.Warn("bad sync request", "error", err)
				return
			}
			if err := s.handleSync(conn, m, req, log); err != nil {
				m.Fail()
				log.Warn("sync failed", "error", err, "kind", syncerr.KindOf(err))
				return
			}

		case proto.MsgFileReq:
			req, err := proto.DecodeAs[proto.FileReq](typ, proto.MsgFileReq, payload)
			if err != nil {
				m.Fail()
				log.Warn("bad file request", "error", err)
				return
			}
			if err := s.handleFileReq(conn, req, log); err != nil {
				log.Warn("file request failed", "path", req.Path, "error", err)
				return
			}

		default:
			// Not valid in Idle. Log and drop the connection.
			m.Fail()
			log.Warn("protocol violation", "envelope", proto.MsgName(typ), "state", m.State())
			return
		}
	}
}

// handshake validates the opening exchange and registers the peer.
func (s *Server) handshake(conn *proto.Conn, m *Machine, addr string) (string, error) {
	_ = conn.SetDeadline(time.Now().Add(s.opts.handshakeTimeout()))
	defer conn.SetDeadline(time.Time{})

	typ, payload, err := conn.Recv()
	if err != nil {
		return "", err
	}
	req, err := proto.DecodeAs[proto.HandshakeReq](typ, proto.MsgHandshakeReq, payload)
	if err != nil {
		m.Fail()
		return "", err
	}

	if req.Version != proto.ProtocolVersion {
		_ = conn.Send(proto.MsgHandshakeResp, proto.HandshakeResp{
			Accepted: false,
			Message:  "protocol version mismatch",
			DeviceID: s.ix.DeviceID(),
		})
		m.Fail()
		return "", syncerr.New(syncerr.KindNetwork, "peer speaks protocol v%d, want v%d", req.Version, proto.ProtocolVersion)
	}
	if s.opts.AuthToken != "" && req.AuthToken != s.opts.AuthToken {
		_ = conn.Send(proto.MsgHandshakeResp, proto.HandshakeResp{
			Accepted: false,
			Message:  "invalid token",
			DeviceID: s.ix.DeviceID(),
		})
		m.Fail()
		return "", syncerr.New(syncerr.KindAuth, "token rejected for %s", req.DeviceID)
	}

	s.peers.Upsert(req.DeviceID, req.DeviceName, addr)
	if len(req.RootDigest) > 0 {
		s.log.Debug("peer declared root digest", "device", req.DeviceID, "digest", fmt.Sprintf("%x", req.RootDigest))
	}
	if err := conn.Send(proto.MsgHandshakeResp, proto.HandshakeResp{
		Accepted: true,
		DeviceID: s.ix.DeviceID(),
	}); err != nil {
		return "", err
	}
	if err := m.To(StateAuthenticated); err != nil {
		return "", err
	}
	return req.DeviceID, nil
}

// handleSync runs one full sync exchange: negotiate, push the requester's
// operations and their payloads, then drain the requester's pushes for the
// files this side wants.
func (s *Server) handleSync(conn *proto.Conn, m *Machine, req proto.SyncReq, log *slog.Logger) error {
	if err := m.To(StateSyncing); err != nil {
		return err
	}

	s.syncMu.Lock()
	defer s.syncMu.Unlock()

	if s.opts.SyncTimeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(s.opts.SyncTimeout))
		defer conn.SetDeadline(time.Time{})
	}

	local, err := s.ix.Index()
	if err != nil {
		return err
	}
	remote := index.SnapshotFromRecords(req.DeviceID, req.Files)
	ancestor := s.peers.Ancestor(req.DeviceID)

	localOps, remoteOps := reconcile.Reconcile(local, remote, ancestor)
	conflicts := reconcile.Conflicts(local, remote, ancestor)

	var wants []string
	for _, op := range localOps {
		if op.Kind == index.OpAdd || op.Kind == index.OpUpdate {
			wants = append(wants, op.Path)
		}
	}
	log.Info("sync negotiated",
		"to_peer", len(remoteOps),
		"wanted", len(wants),
		"conflicts", len(conflicts))

	if err := conn.Send(proto.MsgSyncResp, proto.SyncResp{
		Ops:       remoteOps,
		Wants:     wants,
		Conflicts: conflicts,
	}); err != nil {
		return err
	}

	var outbound []string
	for _, op := range remoteOps {
		if op.Kind == index.OpAdd || op.Kind == index.OpUpdate {
			outbound = append(outbound, op.Path)
		}
	}
	if err := sendTransfers(conn, s.ix, local, outbound, log); err != nil {
		return err
	}

	conflictSet := make(map[string]bool, len(conflicts))
	for _, p := range conflicts {
		conflictSet[p] = true
	}
	if err := receiveTransfers(conn, s.reg, s.ix, conflictSet, log); err != nil {
		return err
	}

	applyDeletes(s.ix, localOps, log)

	if converged, err := s.ix.Index(); err == nil {
		s.peers.SetAncestor(req.DeviceID, converged)
	}

	return m.To(StateIdle)
}

// handleFileReq answers a single-file fetch.
func (s *Server) handleFileReq(conn *proto.Conn, req proto.FileReq, log *slog.Logger) error {
	content, err := s.ix.ReadFile(req.Path)
	if err != nil {
		if syncerr.KindOf(err) == syncerr.KindPathResolution {
			return err
		}
		log.Debug("file request miss", "path", req.Path)
		return conn.Send(proto.MsgFileResp, proto.FileResp{Path: req.Path, Found: false})
	}

	rec := index.FileRecord{
		Path:     req.Path,
		Digest:   index.HashBytes(content),
		Size:     int64(len(content)),
		DeviceID: s.ix.DeviceID(),
	}
	return conn.Send(proto.MsgFileResp, proto.FileResp{
		Path:    req.Path,
		Found:   true,
		Content: content,
		Record:  &rec,
	})
}
