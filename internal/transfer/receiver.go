package transfer

import (
	"log/slog"

	"github.com/dustin/go-humanize"

	"github.com/quillsync/quill/internal/index"
	"github.com/quillsync/quill/internal/proto"
	"github.com/quillsync/quill/internal/syncerr"
)

// ReceiveFile drives one inbound transfer whose TransferStart has already
// been read from conn: it acks each verified chunk, aborts on verification
// failure, and commits on TransferComplete. On success it returns the
// committed file's record.
func ReceiveFile(conn *proto.Conn, reg *Registry, start proto.TransferStart) (index.FileRecord, error) {
	if err := reg.Start(start); err != nil {
		return index.FileRecord{}, err
	}

	for {
		typ, payload, err := conn.Recv()
		if err != nil {
			reg.Abandon(start.TransferID)
			return index.FileRecord{}, err
		}

		switch typ {
		case proto.MsgChunk:
			ck, err := proto.DecodeAs[proto.Chunk](typ, proto.MsgChunk, payload)
			if err != nil {
				reg.Abandon(start.TransferID)
				return index.FileRecord{}, err
			}
			if err := reg.Append(ck); err != nil {
				// Append already dropped the transfer state; tell the
				// sender which chunk failed before giving up.
				_ = conn.Send(proto.MsgTransferError, proto.TransferError{
					TransferID: ck.TransferID,
					ChunkIndex: ck.Index,
					Message:    err.Error(),
				})
				return index.FileRecord{}, err
			}
			if err := conn.Send(proto.MsgChunkAck, proto.ChunkAck{
				TransferID: ck.TransferID,
				Index:      ck.Index,
			}); err != nil {
				reg.Abandon(start.TransferID)
				return index.FileRecord{}, err
			}

		case proto.MsgTransferComplete:
			tc, err := proto.DecodeAs[proto.TransferComplete](typ, proto.MsgTransferComplete, payload)
			if err != nil {
				reg.Abandon(start.TransferID)
				return index.FileRecord{}, err
			}
			if tc.TransferID != start.TransferID {
				reg.Abandon(start.TransferID)
				return index.FileRecord{}, syncerr.New(syncerr.KindNetwork,
					"complete for %s during transfer %s", tc.TransferID, start.TransferID)
			}
			rec, err := reg.Complete(tc.TransferID)
			if err != nil {
				return index.FileRecord{}, err
			}
			slog.Debug("received file",
				"path", rec.Path,
				"size", humanize.Bytes(uint64(start.Size)),
				"chunks", start.Chunks)
			return rec, nil

		case proto.MsgTransferError:
			te, err := proto.DecodeAs[proto.TransferError](typ, proto.MsgTransferError, payload)
			reg.Abandon(start.TransferID)
			if err != nil {
				return index.FileRecord{}, err
			}
			return index.FileRecord{}, syncerr.New(syncerr.KindNetwork,
				"sender aborted %s: %s", start.Path, te.Message)

		default:
			reg.Abandon(start.TransferID)
			return index.FileRecord{}, syncerr.New(syncerr.KindNetwork,
				"unexpected %s during transfer of %s", proto.MsgName(typ), start.Path)
		}
	}
}
