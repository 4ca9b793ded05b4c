// Package proto defines the quill wire protocol: self-describing envelopes
// carried as length-prefixed frames over a reliable byte stream. Control and
// data envelopes interleave on one connection; no separate multiplexing layer
// exists or is needed.
package proto

import (
	"github.com/quillsync/quill/internal/index"
)

// ProtocolVersion is bumped only on breaking wire changes.
const ProtocolVersion = 1

// Envelope type constants. Every message carries its own variant tag so a
// single byte stream can interleave control and data messages.
const (
	// Session control.
	MsgHandshakeReq  byte = 0x01
	MsgHandshakeResp byte = 0x02
	MsgHeartbeat     byte = 0x03

	// Sync negotiation.
	MsgSyncReq  byte = 0x10
	MsgSyncResp byte = 0x11
	MsgFileReq  byte = 0x12
	MsgFileResp byte = 0x13
	MsgSyncDone byte = 0x14

	// Chunked file transfer.
	MsgTransferStart    byte = 0x20
	MsgChunk            byte = 0x21
	MsgChunkAck         byte = 0x22
	MsgTransferComplete byte = 0x23
	MsgTransferError    byte = 0x24
)

// MsgName returns a short name for an envelope type, for logs.
func MsgName(t byte) string {
	switch t {
	case MsgHandshakeReq:
		return "handshake-req"
	case MsgHandshakeResp:
		return "handshake-resp"
	case MsgHeartbeat:
		return "heartbeat"
	case MsgSyncReq:
		return "sync-req"
	case MsgSyncResp:
		return "sync-resp"
	case MsgFileReq:
		return "file-req"
	case MsgFileResp:
		return "file-resp"
	case MsgSyncDone:
		return "sync-done"
	case MsgTransferStart:
		return "transfer-start"
	case MsgChunk:
		return "chunk"
	case MsgChunkAck:
		return "chunk-ack"
	case MsgTransferComplete:
		return "transfer-complete"
	case MsgTransferError:
		return "transfer-error"
	default:
		return "unknown"
	}
}

// HandshakeReq opens a session. Exactly one credential is presented: a bearer
// token in token deployments, or the sender's root-content digest in
// digest-mode deployments (the digest is never used as a secret, only as a
// same-tree assertion).
type HandshakeReq struct {
	Version    int    `json:"version"`
	DeviceID   string `json:"device_id"`
	DeviceName string `json:"device_name"`
	AuthToken  string `json:"auth_token,omitempty"`
	RootDigest []byte `json:"root_digest,omitempty"`
}

// HandshakeResp accepts or rejects a session. A rejection closes the
// connection; the protocol layer never retries.
type HandshakeResp struct {
	Accepted bool   `json:"accepted"`
	Message  string `json:"message,omitempty"`
	DeviceID string `json:"device_id"`
}

// Heartbeat is a liveness signal, answered in kind. It never changes session
// state.
type Heartbeat struct {
	Seq uint64 `json:"seq"`
}

// SyncReq carries the requester's full current file-record list.
type SyncReq struct {
	DeviceID string             `json:"device_id"`
	Files    []index.FileRecord `json:"files"`
}

// SyncResp carries the operation list the requester should apply, plus the
// paths the responder wants pushed back (files where the requester's version
// won reconciliation). Each Add/Update in Ops is followed on the same
// connection by a full transfer exchange; the requester then pushes every
// path in Wants the same way.
type SyncResp struct {
	Ops   []index.Op `json:"ops"`
	Wants []string   `json:"wants,omitempty"`
	// Conflicts lists note paths whose Update must be applied through the
	// structural merge instead of a plain overwrite.
	Conflicts []string `json:"conflicts,omitempty"`
}

// SyncDone terminates a sequence of transfer exchanges. Each side of a sync
// sends it after its last push so the peer never has to count transfers in
// advance.
type SyncDone struct{}

// FileReq asks for one file's full content by relative path.
type FileReq struct {
	Path string `json:"path"`
}

// FileResp answers a FileReq.
type FileResp struct {
	Path    string            `json:"path"`
	Found   bool              `json:"found"`
	Content []byte            `json:"content,omitempty"`
	Record  *index.FileRecord `json:"record,omitempty"`
}

// TransferStart declares an incoming file: destination path, size, chunk
// count, the metadata to apply on completion, and a fresh transfer id.
type TransferStart struct {
	TransferID string           `json:"transfer_id"`
	Path       string           `json:"path"`
	Size       int64            `json:"size"`
	Chunks     uint32           `json:"chunks"`
	Record     index.FileRecord `json:"record"`
}

// Chunk is one fixed-size piece of file content with its integrity digest.
type Chunk struct {
	TransferID string `json:"transfer_id"`
	Index      uint32 `json:"index"`
	Data       []byte `json:"data"`
	Digest     string `json:"digest"`
}

// ChunkAck acknowledges exactly one (transfer, index) pair. The sender blocks
// on it before the next chunk: the transfer protocol is stop-and-wait.
type ChunkAck struct {
	TransferID string `json:"transfer_id"`
	Index      uint32 `json:"index"`
}

// TransferComplete asserts that all declared chunks were sent.
type TransferComplete struct {
	TransferID string `json:"transfer_id"`
}

// TransferError aborts a transfer, naming the offending chunk when known.
type TransferError struct {
	TransferID string `json:"transfer_id"`
	ChunkIndex uint32 `json:"chunk_index"`
	Message    string `json:"message"`
}
