// Package core defines core types with zero external dependencies.
package core

import "time"

// Verdict is the completeness tag of a reconstructed PDU.
type Verdict uint8

const (
	VerdictComplete       Verdict = iota + 1 // every byte of the PDU was captured
	VerdictCompleteHeader                    // header parsed, body severed by garbage collection
	VerdictBad                               // unparseable span, no RPC semantics
)

func (v Verdict) String() string {
	switch v {
	case VerdictComplete:
		return "complete"
	case VerdictCompleteHeader:
		return "complete_header"
	case VerdictBad:
		return "bad"
	default:
		return "unknown"
	}
}

// Direction distinguishes RPC calls from replies.
type Direction uint8

const (
	DirectionCall Direction = iota
	DirectionReply
)

func (d Direction) String() string {
	if d == DirectionReply {
		return "reply"
	}
	return "call"
}

// RecordKind describes what an emitted record carries.
type RecordKind uint8

const (
	KindExchange      RecordKind = iota + 1 // call paired with its reply
	KindUnmatchedCall                       // call evicted or drained without a reply
	KindBad                                 // packets released without RPC semantics
)

func (k RecordKind) String() string {
	switch k {
	case KindExchange:
		return "exchange"
	case KindUnmatchedCall:
		return "unmatched_call"
	case KindBad:
		return "bad"
	default:
		return "unknown"
	}
}

// NFSv3 holds the fields extracted from an NFSv3 call and its reply.
// Zero values mean the field is absent for the procedure.
type NFSv3 struct {
	Procedure uint32
	ProcName  string
	Parsable  bool

	// call side
	FileHandle []byte
	Name       string
	NewName    string
	Offset     uint64
	Count      uint32
	Stable     uint32
	Access     uint32
	DirCount   uint32
	MaxCount   uint32
	FileType   uint32 // MKNOD type or fattr3 type

	// reply side
	Status      uint32
	AttrFollows bool
	Mode        uint32
	UID         uint32
	GID         uint32
	Size        uint64
	Used        uint64
	FSID        uint64
	FileID      uint64
	MTime       time.Time
	ReplyCount  uint32 // READ and WRITE byte count
	ReplyAccess uint32
	Committed   uint32 // WRITE stable_how
	ReplyHandle []byte // new object of LOOKUP, CREATE, MKDIR, SYMLINK, MKNOD
	DataLength  uint32 // opaque data length of READ replies and WRITE calls
	EOF         bool
}
