package transfer

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/quillsync/quill/internal/index"
	"github.com/quillsync/quill/internal/proto"
	"github.com/quillsync/quill/internal/stats"
	"github.com/quillsync/quill/internal/syncerr"
)

// stagingSuffix marks in-flight files. A failed transfer leaves its partial
// staging file on disk for inspection; only a later successful transfer of
// the same path overwrites it.
const stagingSuffix = ".tmp"

// inbound is one in-flight incoming transfer.
type inbound struct {
	start proto.TransferStart
	file  *os.File
	tmp   string
	next  uint32
}

// Registry tracks in-flight inbound transfers and stages their content. A
// file becomes visible at its final path only through Complete's atomic
// rename; readers never observe a half-written file.
type Registry struct {
	ix    *index.Indexer
	stats *stats.Collector

	mu       sync.Mutex
	inflight map[string]*inbound
}

// NewRegistry creates a registry staging files under the indexer's root.
func NewRegistry(ix *index.Indexer) *Registry {
	return &Registry{
		ix:       ix,
		stats:    stats.NewCollector(),
		inflight: make(map[string]*inbound),
	}
}

// Stats exposes the registry's transfer counters.
func (r *Registry) Stats() *stats.Collector { return r.stats }

// Start opens staging for a declared transfer.
func (r *Registry) Start(ts proto.TransferStart) error {
	abs, err := r.ix.Resolve(ts.Path)
	if err != nil {
		return err
	}
	tmp := abs + stagingSuffix
	if err := os.MkdirAll(filepath.Dir(tmp), 0o755); err != nil {
		return syncerr.Wrap(syncerr.KindIO, err, "mkdir for %s", ts.Path)
	}
	f, err := os.Create(tmp)
	if err != nil {
		return syncerr.Wrap(syncerr.KindIO, err, "stage %s", ts.Path)
	}
	println("DBG start", ts.TransferID, tmp)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.inflight[ts.TransferID]; dup {
		f.Close()
		return syncerr.New(syncerr.KindNetwork, "duplicate transfer id %s", ts.TransferID)
	}
	r.inflight[ts.TransferID] = &inbound{start: ts, file: f, tmp: tmp}
	return nil
}

// Append verifies and stages one chunk. Chunks must arrive in index order; a
// digest mismatch or out-of-order index drops the transfer's state and leaves
// the partial staging file behind.
func (r *Registry) Append(ck proto.Chunk) error {
	r.mu.Lock()
	in, ok := r.inflight[ck.TransferID]
	r.mu.Unlock()
	if !ok {
		return syncerr.New(syncerr.KindNetwork, "chunk for unknown transfer %s", ck.TransferID)
	}

	if ck.Index != in.next {
		r.drop(ck.TransferID)
		return syncerr.New(syncerr.KindNetwork,
			"chunk %d out of order for %s, expected %d", ck.Index, in.start.Path, in.next)
	}
	if got := index.HashBytes(ck.Data); got != ck.Digest {
		r.drop(ck.TransferID)
		r.stats.AddChecksumFailure()
		r.stats.AddTransferFailure()
		return syncerr.New(syncerr.KindChecksum,
			"chunk %d of %s failed verification", ck.Index, in.start.Path)
	}

	if _, err := in.file.Write(ck.Data); err != nil {
		r.drop(ck.TransferID)
		return syncerr.Wrap(syncerr.KindIO, err, "stage chunk %d of %s", ck.Index, in.start.Path)
	}
	in.next++
	println("DBG append", ck.TransferID, in.tmp, len(ck.Data))
	r.stats.AddChunkReceived()
	r.stats.AddBytesReceived(int64(len(ck.Data)))
	return nil
}

// Complete commits a transfer: every declared chunk must have arrived, after
// which the staging file is renamed into place in one atomic step and marked
// read-only. Local edits to synchronized files go through a future sync, not
// in-place writes.
func (r *Registry) Complete(id string) (index.FileRecord, error) {
	r.mu.Lock()
	in, ok := r.inflight[id]
	r.mu.Unlock()
	if !ok {
		return index.FileRecord{}, syncerr.New(syncerr.KindNetwork, "complete for unknown transfer %s", id)
	}

	if in.next != in.start.Chunks {
		r.drop(id)
		r.stats.AddTransferFailure()
		return index.FileRecord{}, syncerr.New(syncerr.KindIncompleteTransfer,
			"%s: %d of %d chunks received", in.start.Path, in.next, in.start.Chunks)
	}

	if err := in.file.Close(); err != nil {
		r.drop(id)
		return index.FileRecord{}, syncerr.Wrap(syncerr.KindIO, err, "close staging for %s", in.start.Path)
	}

	final, err := r.ix.Resolve(in.start.Path)
	if err != nil {
		r.drop(id)
		return index.FileRecord{}, err
	}
	// A previous sync may have left the destination read-only.
	_ = os.Chmod(final, 0o644)
	if _, serr := os.Stat(in.tmp); serr != nil {
		println("DBG tmp-missing", id, in.tmp, serr.Error())
		ents, _ := os.ReadDir(filepath.Dir(in.tmp))
		for _, e := range ents { println("DBG dirent", e.Name()) }
	} else { println("DBG tmp-present", id, in.tmp) }
	if err := os.Rename(in.tmp, final); err != nil {
		r.drop(id)
		return index.FileRecord{}, syncerr.Wrap(syncerr.KindIO, err, "commit %s", in.start.Path)
	}
	_ = os.Chmod(final, 0o444)

	r.mu.Lock()
	delete(r.inflight, id)
	r.mu.Unlock()
	r.stats.AddFileReceived()
	return in.start.Record, nil
}

// Abandon drops all state for a transfer, leaving any staged bytes on disk.
// Used when the peer aborts or the connection dies mid-transfer.
func (r *Registry) Abandon(id string) {
	r.drop(id)
}

// Inflight reports the number of open transfers.
func (r *Registry) Inflight() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.inflight)
}

func (r *Registry) drop(id string) {
	r.mu.Lock()
	in, ok := r.inflight[id]
	delete(r.inflight, id)
	r.mu.Unlock()
	if ok {
		in.file.Close()
	}
}
