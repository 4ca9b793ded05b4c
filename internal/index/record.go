// Package index builds immutable snapshots of a sync root: which files are
// tracked, their content digests, and the metadata the sync protocol exchanges.
package index

import (
	"encoding/binary"
	"sort"
	"time"

	"github.com/cespare/xxhash/v2"
)

// FileRecord describes one tracked file at a point in time. Records are
// immutable: a change to the file yields a new record, never a mutation.
type FileRecord struct {
	// Path is relative to the snapshot root, slash-separated.
	Path string `json:"path"`
	// Digest is the hex BLAKE3 hash of the full file content.
	Digest string `json:"digest"`
	// Size in bytes.
	Size int64 `json:"size"`
	// Modified and Created are the filesystem timestamps at index time.
	Modified time.Time `json:"modified"`
	Created  time.Time `json:"created"`
	// Version is the unix-seconds value of Modified, used as a monotonic
	// per-file version number.
	Version uint64 `json:"version"`
	// DeviceID identifies the device that produced this record.
	DeviceID string `json:"device_id"`
}

// Snapshot is a complete inventory of tracked files under one root, keyed by
// relative path. A snapshot is never partially updated: every index pass
// produces a full replacement.
type Snapshot struct {
	Files    map[string]FileRecord `json:"files"`
	DeviceID string                `json:"device_id"`
	Root     string                `json:"root"`
}

// NewSnapshot creates an empty snapshot for the given device and root.
func NewSnapshot(deviceID, root string) *Snapshot {
	return &Snapshot{
		Files:    make(map[string]FileRecord),
		DeviceID: deviceID,
		Root:     root,
	}
}

// Records returns the snapshot's file records in path order.
func (s *Snapshot) Records() []FileRecord {
	paths := make([]string, 0, len(s.Files))
	for p := range s.Files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	recs := make([]FileRecord, len(paths))
	for i, p := range paths {
		recs[i] = s.Files[p]
	}
	return recs
}

// SnapshotFromRecords builds a snapshot from a flat record list, as received
// in a sync request.
func SnapshotFromRecords(deviceID string, recs []FileRecord) *Snapshot {
	s := NewSnapshot(deviceID, "")
	for _, r := range recs {
		s.Files[r.Path] = r
	}
	return s
}

// RootDigest returns a fingerprint of the whole tree, computed over the
// sorted (path, digest) pairs. Two snapshots with identical content produce
// identical root digests regardless of insertion order.
func (s *Snapshot) RootDigest() uint64 {
	paths := make([]string, 0, len(s.Files))
	for p := range s.Files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	h := xxhash.New()
	var sep [1]byte
	for _, p := range paths {
		_, _ = h.WriteString(p)
		_, _ = h.Write(sep[:])
		_, _ = h.WriteString(s.Files[p].Digest)
		_, _ = h.Write(sep[:])
	}
	return h.Sum64()
}

// RootDigestBytes returns RootDigest as 8 big-endian bytes, for inclusion in
// handshake envelopes.
func (s *Snapshot) RootDigestBytes() []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], s.RootDigest())
	return b[:]
}
