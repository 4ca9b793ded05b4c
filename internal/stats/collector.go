// Package stats tracks transfer activity with lock-free atomic counters, so
// hot paths never contend on a mutex to count a chunk.
package stats

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
)

// Collector accumulates transfer counters for one registry's lifetime.
type Collector struct {
	filesReceived   atomic.Int64
	bytesReceived   atomic.Int64
	chunksReceived  atomic.Int64
	checksumFailed  atomic.Int64
	transfersFailed atomic.Int64
	startTime       time.Time
}

// NewCollector creates a Collector with its start time set to now.
func NewCollector() *Collector {
	return &Collector{startTime: time.Now()}
}

func (c *Collector) AddFileReceived()         { c.filesReceived.Add(1) }
func (c *Collector) AddBytesReceived(n int64) { c.bytesReceived.Add(n) }
func (c *Collector) AddChunkReceived()        { c.chunksReceived.Add(1) }
func (c *Collector) AddChecksumFailure()      { c.checksumFailed.Add(1) }
func (c *Collector) AddTransferFailure()      { c.transfersFailed.Add(1) }

// Snapshot is a point-in-time read of all counters.
type Snapshot struct {
	FilesReceived   int64
	BytesReceived   int64
	ChunksReceived  int64
	ChecksumFailed  int64
	TransfersFailed int64
	Elapsed         time.Duration
}

// Snapshot returns a consistent point-in-time read of all counters.
func (c *Collector) Snapshot() Snapshot {
	return Snapshot{
		FilesReceived:   c.filesReceived.Load(),
		BytesReceived:   c.bytesReceived.Load(),
		ChunksReceived:  c.chunksReceived.Load(),
		ChecksumFailed:  c.checksumFailed.Load(),
		TransfersFailed: c.transfersFailed.Load(),
		Elapsed:         time.Since(c.startTime),
	}
}

// String renders a one-line human summary.
func (s Snapshot) String() string {
	return fmt.Sprintf("%d files, %s in %s (%d chunks, %d checksum failures)",
		s.FilesReceived,
		humanize.Bytes(uint64(s.BytesReceived)),
		s.Elapsed.Round(time.Millisecond),
		s.ChunksReceived,
		s.ChecksumFailed)
}
