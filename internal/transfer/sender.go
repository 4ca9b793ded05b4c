// Package transfer moves whole files between peers as acknowledged chunk
// sequences. The protocol is stop-and-wait: one chunk in flight, one ack per
// chunk, in order. Throughput is bounded by round-trip latency, which is an
// accepted trade for a receiver that never reorders or buffers out-of-order
// data.
package transfer

import (
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/quillsync/quill/internal/index"
	"github.com/quillsync/quill/internal/proto"
	"github.com/quillsync/quill/internal/syncerr"
)

// ChunkSize is the fixed chunk payload size. The final chunk of a file may be
// smaller; every other chunk is exactly this long.
const ChunkSize = 64 * 1024

// chunkCount returns the number of chunks needed for size bytes. An empty
// file still takes one (empty) chunk so the receiver sees a uniform protocol.
func chunkCount(size int64) uint32 {
	if size == 0 {
		return 1
	}
	return uint32((size + ChunkSize - 1) / ChunkSize)
}

// SendFile pushes one file over conn: TransferStart, then each chunk followed
// by a blocking wait for its ack, then TransferComplete. A TransferError from
// the receiver aborts the exchange; the sender does not retry.
func SendFile(conn *proto.Conn, rec index.FileRecord, content []byte) error {
	start := time.Now()
	id := uuid.NewString()
	chunks := chunkCount(int64(len(content)))

	if err := conn.Send(proto.MsgTransferStart, proto.TransferStart{
		TransferID: id,
		Path:       rec.Path,
		Size:       int64(len(content)),
		Chunks:     chunks,
		Record:     rec,
	}); err != nil {
		return err
	}

	for i := uint32(0); i < chunks; i++ {
		lo := int(i) * ChunkSize
		hi := min(lo+ChunkSize, len(content))
		data := content[lo:hi]

		if err := conn.Send(proto.MsgChunk, proto.Chunk{
			TransferID: id,
			Index:      i,
			Data:       data,
			Digest:     index.HashBytes(data),
		}); err != nil {
			return err
		}

		if err := awaitAck(conn, id, i); err != nil {
			return err
		}
	}

	if err := conn.Send(proto.MsgTransferComplete, proto.TransferComplete{TransferID: id}); err != nil {
		return err
	}

	slog.Debug("sent file",
		"path", rec.Path,
		"size", humanize.Bytes(uint64(len(content))),
		"chunks", chunks,
		"took", time.Since(start).Round(time.Millisecond))
	return nil
}

// awaitAck blocks for the ack of one specific chunk. Anything else on the
// wire at this point is a protocol violation, except a TransferError, which
// carries the receiver's reason.
func awaitAck(conn *proto.Conn, id string, idx uint32) error {
	typ, payload, err := conn.Recv()
	if err != nil {
		return err
	}
	switch typ {
	case proto.MsgChunkAck:
		ack, err := proto.DecodeAs[proto.ChunkAck](typ, proto.MsgChunkAck, payload)
		if err != nil {
			return err
		}
		if ack.TransferID != id || ack.Index != idx {
			return syncerr.New(syncerr.KindNetwork,
				"ack for %s[%d], expected %s[%d]", ack.TransferID, ack.Index, id, idx)
		}
		return nil
	case proto.MsgTransferError:
		te, err := proto.DecodeAs[proto.TransferError](typ, proto.MsgTransferError, payload)
		if err != nil {
			return err
		}
		return syncerr.New(syncerr.KindChecksum, "peer aborted transfer at chunk %d: %s", te.ChunkIndex, te.Message)
	default:
		return syncerr.New(syncerr.KindNetwork, "expected chunk-ack, got %s", proto.MsgName(typ))
	}
}
