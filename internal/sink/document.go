// Package sink holds the record representation shared by the output sinks.
// The sinks themselves live in the sub-packages.
package sink

import (
	"encoding/hex"
	"fmt"
	"strconv"

	"firestige.xyz/chronicle/internal/core"
)

// Document is the JSON form of a record.
type Document struct {
	Pipeline int      `json:"pipeline"`
	Kind     string   `json:"kind"`
	Call     *Message `json:"call,omitempty"`
	Reply    *Message `json:"reply,omitempty"`
	NFS      *NFSv3   `json:"nfs,omitempty"`
	Latency  float64  `json:"latency_ms,omitempty"`
}

// Message is the JSON form of one RPC message.
type Message struct {
	Verdict     string `json:"verdict"`
	Timestamp   int64  `json:"timestamp"` // unix milliseconds
	SrcIP       string `json:"src_ip"`
	DstIP       string `json:"dst_ip"`
	SrcPort     uint16 `json:"src_port"`
	DstPort     uint16 `json:"dst_port"`
	XID         uint32 `json:"xid"`
	Program     uint32 `json:"program,omitempty"`
	Version     uint32 `json:"version,omitempty"`
	Procedure   uint32 `json:"procedure"`
	AcceptState uint32 `json:"accept_state,omitempty"`
	Length      uint32 `json:"length"`
	Frames      int    `json:"frames"`
}

// NFSv3 is the JSON form of the extracted NFSv3 fields.
type NFSv3 struct {
	Proc        string `json:"proc"`
	Status      uint32 `json:"status"`
	FileHandle  string `json:"fh,omitempty"`
	Name        string `json:"name,omitempty"`
	NewName     string `json:"new_name,omitempty"`
	Offset      uint64 `json:"offset,omitempty"`
	Count       uint32 `json:"count,omitempty"`
	ReplyCount  uint32 `json:"reply_count,omitempty"`
	FileID      uint64 `json:"fileid,omitempty"`
	Size        uint64 `json:"size,omitempty"`
	Mode        uint32 `json:"mode,omitempty"`
	UID         uint32 `json:"uid,omitempty"`
	GID         uint32 `json:"gid,omitempty"`
	ReplyHandle string `json:"new_fh,omitempty"`
}

// NewDocument converts rec. It copies everything it needs, so the record may
// be released afterwards.
func NewDocument(rec *core.Record) *Document {
	doc := &Document{
		Pipeline: rec.Pipeline,
		Kind:     rec.Kind.String(),
		Call:     newMessage(rec.Call),
		Reply:    newMessage(rec.Reply),
	}
	if rec.Call != nil && rec.Reply != nil {
		doc.Latency = float64(rec.Reply.Timestamp.Sub(rec.Call.Timestamp).Microseconds()) / 1000
	}
	if v := rec.NFS; v != nil {
		doc.NFS = &NFSv3{
			Proc:        v.ProcName,
			Status:      v.Status,
			FileHandle:  hex.EncodeToString(v.FileHandle),
			Name:        v.Name,
			NewName:     v.NewName,
			Offset:      v.Offset,
			Count:       v.Count,
			ReplyCount:  v.ReplyCount,
			FileID:      v.FileID,
			Size:        v.Size,
			Mode:        v.Mode,
			UID:         v.UID,
			GID:         v.GID,
			ReplyHandle: hex.EncodeToString(v.ReplyHandle),
		}
	}
	return doc
}

func newMessage(m *core.Message) *Message {
	if m == nil {
		return nil
	}
	return &Message{
		Verdict:     m.Verdict.String(),
		Timestamp:   m.Timestamp.UnixMilli(),
		SrcIP:       m.SrcIP.String(),
		DstIP:       m.DstIP.String(),
		SrcPort:     m.SrcPort,
		DstPort:     m.DstPort,
		XID:         m.XID,
		Program:     m.Program,
		Version:     m.Version,
		Procedure:   m.Procedure,
		AcceptState: m.AcceptState,
		Length:      m.Length,
		Frames:      len(m.Frames),
	}
}

// Labels returns the label set of rec, keyed by the core label names.
func Labels(rec *core.Record) core.Labels {
	labels := core.Labels{core.LabelRPCKind: rec.Kind.String()}
	m := rec.Primary()
	if m == nil {
		return labels
	}
	labels[core.LabelRPCVerdict] = m.Verdict.String()
	if rec.Kind == core.KindBad {
		return labels
	}
	labels[core.LabelRPCXID] = strconv.FormatUint(uint64(m.XID), 10)
	labels[core.LabelRPCProgram] = strconv.FormatUint(uint64(m.Program), 10)
	labels[core.LabelRPCVersion] = strconv.FormatUint(uint64(m.Version), 10)
	labels[core.LabelRPCProcedure] = strconv.FormatUint(uint64(m.Procedure), 10)
	if v := rec.NFS; v != nil {
		labels[core.LabelNFSProc] = v.ProcName
		labels[core.LabelNFSStatus] = strconv.FormatUint(uint64(v.Status), 10)
		if len(v.FileHandle) > 0 {
			labels[core.LabelNFSFH] = hex.EncodeToString(v.FileHandle)
		}
	}
	return labels
}

// FlowKey renders the endpoints of rec's primary message as "src:port-dst:port".
func FlowKey(rec *core.Record) string {
	m := rec.Primary()
	if m == nil {
		return ""
	}
	return fmt.Sprintf("%s:%d-%s:%d", m.SrcIP, m.SrcPort, m.DstIP, m.DstPort)
}
