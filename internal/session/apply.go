package session

import (
	"log/slog"

	"github.com/quillsync/quill/internal/index"
	"github.com/quillsync/quill/internal/proto"
	"github.com/quillsync/quill/internal/reconcile"
	"github.com/quillsync/quill/internal/transfer"
)

// applyDeletes removes every OpDelete path from the root. Deletes are applied
// before transfers arrive; they carry no payload and need no ordering against
// the adds.
func applyDeletes(ix *index.Indexer, ops []index.Op, log *slog.Logger) {
	for _, op := range ops {
		if op.Kind != index.OpDelete {
			continue
		}
		if err := ix.Remove(op.Path); err != nil {
			log.Warn("delete failed", "path", op.Path, "error", err)
			continue
		}
		log.Info("deleted", "path", op.Path)
	}
}

// receiveTransfers consumes sequential transfer exchanges from conn until
// the peer signals sync-done. For a path in conflicts the incoming content is
// structurally merged with the local copy instead of overwriting it: the
// merged result is written back writable, so the next sync carries it to the
// peer.
func receiveTransfers(conn *proto.Conn, reg *transfer.Registry, ix *index.Indexer, conflicts map[string]bool, log *slog.Logger) error {
	for {
		typ, payload, err := conn.Recv()
		if err != nil {
			return err
		}
		if typ == proto.MsgSyncDone {
			return nil
		}
		start, err := proto.DecodeAs[proto.TransferStart](typ, proto.MsgTransferStart, payload)
		if err != nil {
			return err
		}

		var localBefore []byte
		merge := conflicts[start.Path] && index.IsNote(start.Path)
		if merge {
			localBefore, err = ix.ReadFile(start.Path)
			if err != nil {
				merge = false
			}
		}

		rec, err := transfer.ReceiveFile(conn, reg, start)
		if err != nil {
			return err
		}
		log.Info("applied", "path", rec.Path, "size", rec.Size)

		if !merge {
			continue
		}
		remote, err := ix.ReadFile(start.Path)
		if err != nil {
			return err
		}
		res := reconcile.Merge(string(localBefore), string(remote), "")
		if res.Content == string(remote) {
			continue
		}
		if err := ix.Rewrite(start.Path, []byte(res.Content)); err != nil {
			return err
		}
		log.Info("merged", "path", start.Path, "conflicted", res.Conflicted)
	}
}

// sendTransfers pushes the content for every path in paths over conn, one
// full transfer exchange each. A path that vanished since negotiation is
// skipped with a warning; the next sync reconciles it.
func sendTransfers(conn *proto.Conn, ix *index.Indexer, snap *index.Snapshot, paths []string, log *slog.Logger) error {
	for _, path := range paths {
		content, err := ix.ReadFile(path)
		if err != nil {
			log.Warn("push skipped", "path", path, "error", err)
			continue
		}
		rec, ok := snap.Files[path]
		if !ok {
			rec = index.FileRecord{Path: path, Digest: index.HashBytes(content), Size: int64(len(content))}
		}
		if err := transfer.SendFile(conn, rec, content); err != nil {
			return err
		}
	}
	return conn.Send(proto.MsgSyncDone, proto.SyncDone{})
}
