package proto

import (
	"bufio"
	"io"
	"net"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/quillsync/quill/internal/syncerr"
)

// Conn frames envelopes over a single reliable stream. Writes are serialized
// and flushed per message so a blocked reader on the far side never sees a
// torn frame. With compression enabled both ends wrap the stream in zstd;
// the choice is part of peer configuration, not negotiated on the wire.
type Conn struct {
	raw io.ReadWriteCloser

	mu sync.Mutex
	br *bufio.Reader
	bw *bufio.Writer

	zw *zstd.Encoder
	zr *zstd.Decoder
}

// NewConn wraps rw. When compress is true, every frame crosses the stream
// zstd-compressed.
func NewConn(rw io.ReadWriteCloser, compress bool) (*Conn, error) {
	c := &Conn{raw: rw}
	if compress {
		zw, err := zstd.NewWriter(rw, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, syncerr.Wrap(syncerr.KindNetwork, err, "init compressor")
		}
		zr, err := zstd.NewReader(rw)
		if err != nil {
			zw.Close()
			return nil, syncerr.Wrap(syncerr.KindNetwork, err, "init decompressor")
		}
		c.zw, c.zr = zw, zr
		c.br = bufio.NewReader(zr)
		c.bw = bufio.NewWriter(zw)
	} else {
		c.br = bufio.NewReader(rw)
		c.bw = bufio.NewWriter(rw)
	}
	return c, nil
}

// Send writes one envelope and flushes it to the peer.
func (c *Conn) Send(typ byte, v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := WriteFrame(c.bw, typ, v); err != nil {
		return err
	}
	if err := c.bw.Flush(); err != nil {
		return syncerr.Wrap(syncerr.KindNetwork, err, "flush %s", MsgName(typ))
	}
	if c.zw != nil {
		if err := c.zw.Flush(); err != nil {
			return syncerr.Wrap(syncerr.KindNetwork, err, "flush compressed %s", MsgName(typ))
		}
	}
	return nil
}

// Recv blocks for the next envelope and returns its type and raw payload.
func (c *Conn) Recv() (byte, []byte, error) {
	return ReadFrame(c.br)
}

// SetDeadline bounds the next read and write when the underlying stream is a
// net.Conn; otherwise it is a no-op.
func (c *Conn) SetDeadline(t time.Time) error {
	if nc, ok := c.raw.(net.Conn); ok {
		return nc.SetDeadline(t)
	}
	return nil
}

// RemoteAddr reports the peer address when the underlying stream is a
// net.Conn.
func (c *Conn) RemoteAddr() string {
	if nc, ok := c.raw.(net.Conn); ok {
		return nc.RemoteAddr().String()
	}
	return "pipe"
}

// Close tears down the compression state, then the stream.
func (c *Conn) Close() error {
	if c.zw != nil {
		c.zw.Close()
	}
	if c.zr != nil {
		c.zr.Close()
	}
	return c.raw.Close()
}
