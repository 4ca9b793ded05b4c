package stats

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCollectorConcurrentCounting(t *testing.T) {
	t.Parallel()

	c := NewCollector()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.AddChunkReceived()
				c.AddBytesReceived(64)
			}
			c.AddFileReceived()
		}()
	}
	wg.Wait()

	s := c.Snapshot()
	assert.Equal(t, int64(8), s.FilesReceived)
	assert.Equal(t, int64(800), s.ChunksReceived)
	assert.Equal(t, int64(800*64), s.BytesReceived)
	assert.Zero(t, s.ChecksumFailed)
}

func TestSnapshotString(t *testing.T) {
	t.Parallel()

	c := NewCollector()
	c.AddFileReceived()
	c.AddBytesReceived(2048)
	c.AddChunkReceived()

	out := c.Snapshot().String()
	assert.Contains(t, out, "1 files")
	assert.Contains(t, out, "1 chunks")
}
