package nfs

import (
	"encoding/binary"
	"net/netip"
	"testing"
	"time"

	"firestige.xyz/chronicle/internal/core"
	"firestige.xyz/chronicle/internal/flow"
	"firestige.xyz/chronicle/internal/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const hdrLen = 54

func be32(b []byte, vs ...uint32) []byte {
	for _, v := range vs {
		b = binary.BigEndian.AppendUint32(b, v)
	}
	return b
}

func be64(b []byte, v uint64) []byte {
	return binary.BigEndian.AppendUint64(b, v)
}

func handle(n int) []byte {
	fh := make([]byte, n)
	for i := range fh {
		fh[i] = byte(0x10 + i)
	}
	return fh
}

func opaque(b, data []byte) []byte {
	b = be32(b, uint32(len(data)))
	b = append(b, data...)
	for n := len(data); n%4 != 0; n++ {
		b = append(b, 0)
	}
	return b
}

// fattr3 of a regular file.
func fattr(b []byte) []byte {
	b = be32(b, TypeReg, 0o100644, 1, 1000, 100)
	b = be64(b, 5000)
	b = be64(b, 8192)
	b = be32(b, 0, 0)
	b = be64(b, 7)
	b = be64(b, 42)
	b = be32(b, 1700000000, 0)
	b = be32(b, 1700000100, 5)
	return be32(b, 1700000200, 0)
}

// span queues the program bytes of a message as consecutive segments and
// wraps them into a complete PDU.
func span(t *testing.T, a *flow.Arena, msgType, proc uint32, parts ...[]byte) *rpc.PDU {
	t.Helper()
	key := flow.Key{
		SrcIP:   netip.MustParseAddr("10.1.0.7"),
		DstIP:   netip.MustParseAddr("10.1.0.2"),
		SrcPort: 871,
		DstPort: rpc.NFSPort,
	}
	d := flow.NewDescriptor(key, a)
	seq := uint32(1000)
	var first, last flow.Handle
	for _, part := range parts {
		data := append(make([]byte, hdrLen), part...)
		h := a.Alloc(flow.Packet{
			Data:          data,
			CapLen:        len(data),
			Seq:           seq,
			PayloadOffset: hdrLen,
			PayloadLen:    uint32(len(part)),
			ToParse:       hdrLen,
		})
		ok, _ := d.Insert(h)
		require.True(t, ok)
		if first == flow.Nil {
			first = h
		}
		last = h
		seq += uint32(len(part))
	}
	return &rpc.PDU{
		Verdict:    core.VerdictComplete,
		Key:        key,
		First:      first,
		ProgFirst:  first,
		Last:       last,
		MsgType:    msgType,
		Program:    rpc.NFSProgram,
		Version:    rpc.NFSVersion3,
		Procedure:  proc,
		ProgOffset: hdrLen,
		ProgEnd:    a.Get(last).CapLen - 1,
		Payload:    rpc.Payload{Family: rpc.FamilyNFSv3},
	}
}

func TestGetattrCallYieldsFileHandle(t *testing.T) {
	a := flow.NewArena()
	p := NewParser(a)
	pdu := span(t, a, rpc.MsgCall, ProcGetattr, opaque(nil, handle(32)))

	p.Parse(pdu)
	v := pdu.Payload.NFSv3
	require.NotNil(t, v)
	assert.True(t, v.Parsable)
	assert.Equal(t, "GETATTR", v.ProcName)
	assert.Equal(t, handle(32), v.FileHandle)

	c := p.Counts()
	assert.Equal(t, uint64(1), c.Op(ProcGetattr))
	assert.Equal(t, uint64(1), c.Parsable)
}

func TestReadCallAcrossPackets(t *testing.T) {
	a := flow.NewArena()
	p := NewParser(a)
	args := opaque(nil, handle(28))
	args = be64(args, 1<<32+512)
	args = be32(args, 4096)
	pdu := span(t, a, rpc.MsgCall, ProcRead, args[:17], args[17:37], args[37:])

	p.Parse(pdu)
	v := pdu.Payload.NFSv3
	require.True(t, v.Parsable)
	assert.Equal(t, handle(28), v.FileHandle)
	assert.Equal(t, uint64(1<<32+512), v.Offset)
	assert.Equal(t, uint32(4096), v.Count)
}

func TestExchangeSharesFields(t *testing.T) {
	a := flow.NewArena()
	p := NewParser(a)
	call := span(t, a, rpc.MsgCall, ProcGetattr, opaque(nil, handle(32)))
	call.Next = span(t, a, rpc.MsgReply, ProcGetattr, fattr(be32(nil, StatusOK)))

	p.Parse(call)
	v := call.Payload.NFSv3
	require.Same(t, v, call.Next.Payload.NFSv3)
	assert.True(t, v.Parsable)
	assert.True(t, v.AttrFollows)
	assert.Equal(t, TypeReg, v.FileType)
	assert.Equal(t, uint32(0o644), v.Mode)
	assert.Equal(t, uint32(1000), v.UID)
	assert.Equal(t, uint32(100), v.GID)
	assert.Equal(t, uint64(5000), v.Size)
	assert.Equal(t, uint64(8192), v.Used)
	assert.Equal(t, uint64(7), v.FSID)
	assert.Equal(t, uint64(42), v.FileID)
	assert.Equal(t, time.Unix(1700000100, 5).UTC(), v.MTime)
	assert.Equal(t, uint64(2), p.Counts().Parsable)
	counts := p.Counts()
	assert.Equal(t, uint64(1), counts.Op(ProcGetattr))
}

func TestLookupNamesAndNewHandle(t *testing.T) {
	a := flow.NewArena()
	p := NewParser(a)
	call := span(t, a, rpc.MsgCall, ProcLookup, opaque(opaque(nil, handle(32)), []byte("hello.txt")))
	reply := opaque(be32(nil, StatusOK), handle(16))
	reply = be32(reply, 0, 0)
	call.Next = span(t, a, rpc.MsgReply, ProcLookup, reply)

	p.Parse(call)
	v := call.Payload.NFSv3
	assert.True(t, v.Parsable)
	assert.Equal(t, "hello.txt", v.Name)
	assert.Equal(t, handle(16), v.ReplyHandle)
	assert.False(t, v.AttrFollows)
}

func TestWriteCallAndReply(t *testing.T) {
	a := flow.NewArena()
	p := NewParser(a)
	args := be64(opaque(nil, handle(32)), 8192)
	args = be32(args, 3, 2)
	args = opaque(args, []byte("abc"))
	call := span(t, a, rpc.MsgCall, ProcWrite, args)

	reply := be32(nil, StatusOK, 0, 0, 3, 2)
	reply = be64(reply, 0xfeed)
	call.Next = span(t, a, rpc.MsgReply, ProcWrite, reply)

	p.Parse(call)
	v := call.Payload.NFSv3
	require.True(t, v.Parsable)
	assert.Equal(t, uint64(8192), v.Offset)
	assert.Equal(t, uint32(3), v.Count)
	assert.Equal(t, uint32(2), v.Stable)
	assert.Equal(t, uint32(3), v.DataLength)
	assert.Equal(t, uint32(3), v.ReplyCount)
	assert.Equal(t, uint32(2), v.Committed)
}

func TestNotParsable(t *testing.T) {
	tests := []struct {
		name   string
		build  func(t *testing.T, a *flow.Arena) *rpc.PDU
		failed uint64
	}{
		{
			name: "complete header",
			build: func(t *testing.T, a *flow.Arena) *rpc.PDU {
				pdu := span(t, a, rpc.MsgCall, ProcGetattr, opaque(nil, handle(32)))
				pdu.Verdict = core.VerdictCompleteHeader
				return pdu
			},
		},
		{
			name: "rpc not accepted",
			build: func(t *testing.T, a *flow.Arena) *rpc.PDU {
				pdu := span(t, a, rpc.MsgReply, ProcGetattr, be32(nil, StatusOK))
				pdu.AcceptState = 1
				return pdu
			},
			failed: 1,
		},
		{
			name: "truncated arguments",
			build: func(t *testing.T, a *flow.Arena) *rpc.PDU {
				args := be64(opaque(nil, handle(32)), 0)
				return span(t, a, rpc.MsgCall, ProcRead, args)
			},
		},
		{
			name: "oversized handle",
			build: func(t *testing.T, a *flow.Arena) *rpc.PDU {
				return span(t, a, rpc.MsgCall, ProcGetattr, opaque(nil, handle(68)))
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := flow.NewArena()
			p := NewParser(a)
			pdu := tt.build(t, a)
			p.Parse(pdu)
			require.NotNil(t, pdu.Payload.NFSv3)
			assert.False(t, pdu.Payload.NFSv3.Parsable)
			assert.Equal(t, uint64(1), p.Counts().Unparsable)
			assert.Equal(t, tt.failed, p.Counts().Failed)
		})
	}
}

func TestBadPDUIsLeftAlone(t *testing.T) {
	a := flow.NewArena()
	p := NewParser(a)
	pdu := span(t, a, rpc.MsgCall, ProcGetattr, opaque(nil, handle(8)))
	pdu.Verdict = core.VerdictBad
	pdu.Payload = rpc.Payload{}

	p.Parse(pdu)
	assert.Nil(t, pdu.Payload.NFSv3)
	assert.Equal(t, Counts{}, p.Counts())
}

func TestProcName(t *testing.T) {
	assert.Equal(t, "NULL", ProcName(ProcNull))
	assert.Equal(t, "READDIRPLUS", ProcName(ProcReaddirplus))
	assert.Equal(t, "COMMIT", ProcName(ProcCommit))
	assert.Equal(t, "UNKNOWN", ProcName(22))
}
