package proto

import (
	"bytes"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillsync/quill/internal/index"
	"github.com/quillsync/quill/internal/syncerr"
)

func TestFrameRoundTrip(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	in := HandshakeReq{
		Version:    ProtocolVersion,
		DeviceID:   "dev-a",
		DeviceName: "laptop",
		AuthToken:  "secret",
	}
	require.NoError(t, WriteFrame(&buf, MsgHandshakeReq, in))

	typ, payload, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, MsgHandshakeReq, typ)

	out, err := DecodeAs[HandshakeReq](typ, MsgHandshakeReq, payload)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestFrameInterleavedTypes(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, MsgHeartbeat, Heartbeat{Seq: 1}))
	require.NoError(t, WriteFrame(&buf, MsgChunk, Chunk{
		TransferID: "t1",
		Index:      4,
		Data:       bytes.Repeat([]byte{0xAB}, 512),
		Digest:     "deadbeef",
	}))
	require.NoError(t, WriteFrame(&buf, MsgHeartbeat, Heartbeat{Seq: 2}))

	typ, _, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, MsgHeartbeat, typ)

	typ, payload, err := ReadFrame(&buf)
	require.NoError(t, err)
	ck, err := DecodeAs[Chunk](typ, MsgChunk, payload)
	require.NoError(t, err)
	assert.Equal(t, uint32(4), ck.Index)
	assert.Len(t, ck.Data, 512)

	typ, payload, err = ReadFrame(&buf)
	require.NoError(t, err)
	hb, err := DecodeAs[Heartbeat](typ, MsgHeartbeat, payload)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), hb.Seq)
}

func TestReadFrameRejectsOversize(t *testing.T) {
	t.Parallel()

	var hdr [headerSize]byte
	binary.BigEndian.PutUint32(hdr[:4], MaxFrameSize+1)
	hdr[4] = MsgChunk

	_, _, err := ReadFrame(bytes.NewReader(hdr[:]))
	require.Error(t, err)
	assert.Equal(t, syncerr.KindNetwork, syncerr.KindOf(err))
}

func TestDecodeAsTypeMismatch(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, MsgHeartbeat, Heartbeat{Seq: 9}))

	typ, payload, err := ReadFrame(&buf)
	require.NoError(t, err)

	_, err = DecodeAs[SyncReq](typ, MsgSyncReq, payload)
	require.Error(t, err)
	assert.Equal(t, syncerr.KindNetwork, syncerr.KindOf(err))
	assert.Contains(t, err.Error(), "expected sync-req")
}

func TestDecodeCorruptPayload(t *testing.T) {
	t.Parallel()

	err := Decode([]byte("{not json"), &SyncReq{})
	require.Error(t, err)
	assert.Equal(t, syncerr.KindSerialization, syncerr.KindOf(err))
}

func testConnPair(t *testing.T, compress bool) (*Conn, *Conn) {
	t.Helper()
	a, b := net.Pipe()
	ca, err := NewConn(a, compress)
	require.NoError(t, err)
	cb, err := NewConn(b, compress)
	require.NoError(t, err)
	t.Cleanup(func() {
		ca.Close()
		cb.Close()
	})
	return ca, cb
}

func TestConnSendRecv(t *testing.T) {
	t.Parallel()

	for _, compress := range []bool{false, true} {
		compress := compress
		name := "plain"
		if compress {
			name = "zstd"
		}
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			ca, cb := testConnPair(t, compress)

			want := SyncResp{
				Ops: []index.Op{
					index.AddOp(index.FileRecord{Path: "notes/a.md", Digest: "d1", Size: 12}),
				},
				Wants: []string{"notes/b.md"},
			}

			errCh := make(chan error, 1)
			go func() {
				errCh <- ca.Send(MsgSyncResp, want)
			}()

			typ, payload, err := cb.Recv()
			require.NoError(t, err)
			require.NoError(t, <-errCh)

			got, err := DecodeAs[SyncResp](typ, MsgSyncResp, payload)
			require.NoError(t, err)
			assert.Equal(t, want.Wants, got.Wants)
			require.Len(t, got.Ops, 1)
			assert.Equal(t, "notes/a.md", got.Ops[0].Record.Path)
		})
	}
}

func TestConnDeadlineExpires(t *testing.T) {
	t.Parallel()

	_, cb := testConnPair(t, false)
	require.NoError(t, cb.SetDeadline(time.Now().Add(20*time.Millisecond)))

	_, _, err := cb.Recv()
	require.Error(t, err)
}
