package pipeline

import (
	"log/slog"
	"strconv"
	"sync"
	"time"

	"firestige.xyz/chronicle/internal/core"
	"firestige.xyz/chronicle/internal/decoder"
	"firestige.xyz/chronicle/internal/flow"
	"firestige.xyz/chronicle/internal/metrics"
	"firestige.xyz/chronicle/internal/nfs"
	"firestige.xyz/chronicle/internal/pool"
	"firestige.xyz/chronicle/internal/rpc"
)

// statsInterval is how often a shard publishes its parser counters.
const statsInterval = time.Second

// item is one decoded frame on its way to a shard.
type item struct {
	buf     *pool.Buffer
	hdr     decoder.Header
	ts      time.Time
	wireLen uint32
}

// shardStats is the last published view of a shard's single-threaded state.
type shardStats struct {
	rpc   rpc.Stats
	nfs   nfs.Counts
	table flow.TableStats
}

// shard owns one arena and one RPC parser. Everything below in is touched by
// the shard goroutine only.
type shard struct {
	id    int
	label string
	in    chan item
	out   chan<- *core.Record

	arena *flow.Arena
	rpc   *rpc.Parser
	nfs   *nfs.Parser

	mu   sync.Mutex
	snap shardStats
	sent shardStats // values already added to the prometheus counters
}

func newShard(id int, cfg rpc.Config, queueSize int, out chan<- *core.Record) *shard {
	s := &shard{
		id:    id,
		label: strconv.Itoa(id),
		in:    make(chan item, queueSize),
		out:   out,
		arena: flow.NewArena(),
	}
	s.rpc = rpc.NewParser(cfg, s.arena, rpc.EmitterFunc(s.emit))
	s.nfs = nfs.NewParser(s.arena)
	return s
}

// run processes frames until in is closed, then drains the parser.
func (s *shard) run() error {
	slog.Debug("shard started", "shard", s.id)
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case it, ok := <-s.in:
			if !ok {
				s.rpc.Shutdown()
				s.publish()
				slog.Debug("shard drained", "shard", s.id, "live_packets", s.arena.Live())
				return nil
			}
			s.process(it)
		case <-ticker.C:
			s.publish()
		}
	}
}

func (s *shard) process(it item) {
	h := s.arena.Alloc(flow.Packet{
		Buf:           it.buf,
		Data:          it.buf.Bytes(),
		Timestamp:     it.ts,
		WireLen:       it.wireLen,
		CapLen:        it.hdr.PayloadOffset + int(it.hdr.PayloadLen),
		SrcIP:         it.hdr.SrcIP,
		DstIP:         it.hdr.DstIP,
		SrcPort:       it.hdr.SrcPort,
		DstPort:       it.hdr.DstPort,
		Seq:           it.hdr.Seq,
		Ack:           it.hdr.Ack,
		PayloadOffset: it.hdr.PayloadOffset,
		PayloadLen:    it.hdr.PayloadLen,
		ToParse:       it.hdr.PayloadOffset,
	})
	metrics.ShardPacketsTotal.WithLabelValues(s.label).Inc()
	s.rpc.Process(h)
}

// emit turns a batch of ready PDUs into records. The NFS fields are decoded
// while the packets are still held by the arena.
func (s *shard) emit(batch []*rpc.PDU) {
	for _, pdu := range batch {
		s.nfs.Parse(pdu)
		rec := s.record(pdu)
		rpc.Release(s.arena, pdu)
		s.out <- rec
	}
}

func (s *shard) record(pdu *rpc.PDU) *core.Record {
	var bufs []flow.Buffer
	kind := core.KindUnmatchedCall
	switch {
	case pdu.Verdict == core.VerdictBad:
		kind = core.KindBad
	case pdu.Next != nil:
		kind = core.KindExchange
	}
	rec := core.NewRecord(s.id, kind, func() {
		for _, b := range bufs {
			b.Release()
		}
	})

	for q := pdu; q != nil; q = q.Next {
		msg := &core.Message{
			Verdict:     q.Verdict,
			Direction:   q.Direction(),
			Timestamp:   q.Timestamp,
			SrcIP:       q.Key.SrcIP,
			DstIP:       q.Key.DstIP,
			SrcPort:     q.Key.SrcPort,
			DstPort:     q.Key.DstPort,
			XID:         q.XID,
			Program:     q.Program,
			Version:     q.Version,
			Procedure:   q.Procedure,
			AcceptState: q.AcceptState,
			Length:      q.Length,
		}
		for _, h := range q.Packets(s.arena) {
			p := s.arena.Get(h)
			data := p.Data
			if p.Buf != nil {
				p.Buf.Retain()
				bufs = append(bufs, p.Buf)
				data = p.Buf.Bytes()
			}
			msg.Frames = append(msg.Frames, core.Frame{Data: data, Timestamp: p.Timestamp, OrigLen: p.WireLen})
		}
		if msg.Direction == core.DirectionReply {
			rec.Reply = msg
		} else {
			rec.Call = msg
		}
		metrics.PDUsTotal.WithLabelValues(s.label, q.Verdict.String(), msg.Direction.String()).Inc()
	}
	if pdu.Payload.Family == rpc.FamilyNFSv3 && pdu.Payload.NFSv3.Parsable {
		rec.NFS = pdu.Payload.NFSv3
	}
	return rec
}

// publish refreshes the stats snapshot and feeds the deltas since the last
// call to the prometheus counters.
func (s *shard) publish() {
	cur := shardStats{rpc: s.rpc.Stats(), nfs: s.nfs.Counts(), table: s.rpc.TableStats()}
	prev := s.sent

	add := func(c interface{ Add(float64) }, now, before uint64) {
		if now > before {
			c.Add(float64(now - before))
		}
	}
	add(metrics.UnmatchedTotal.WithLabelValues(s.label, "call"), cur.rpc.UnmatchedCalls, prev.rpc.UnmatchedCalls)
	add(metrics.UnmatchedTotal.WithLabelValues(s.label, "reply"), cur.rpc.UnmatchedReplies, prev.rpc.UnmatchedReplies)
	add(metrics.ScannedHeadersTotal.WithLabelValues(s.label, "call"), cur.rpc.ScannedCallHeaders, prev.rpc.ScannedCallHeaders)
	add(metrics.ScannedHeadersTotal.WithLabelValues(s.label, "reply"), cur.rpc.ScannedReplyHeaders, prev.rpc.ScannedReplyHeaders)
	add(metrics.ForcedGCTotal.WithLabelValues(s.label), cur.rpc.ForcedGC, prev.rpc.ForcedGC)
	for proc := range cur.nfs.Calls {
		add(metrics.NFSOpsTotal.WithLabelValues(nfs.ProcName(uint32(proc))), cur.nfs.Calls[proc], prev.nfs.Calls[proc])
	}
	metrics.FlowTableSize.WithLabelValues(s.label).Set(float64(cur.table.Flows))
	s.sent = cur

	s.mu.Lock()
	s.snap = cur
	s.mu.Unlock()
}

func (s *shard) stats() shardStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}
