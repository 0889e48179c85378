package nfs

import "firestige.xyz/chronicle/internal/core"

type decodeFunc func(d *decoder, v *core.NFSv3)

// procedure holds the argument and result decoders of one procedure. A nil
// decoder means the message has no body worth reading.
type procedure struct {
	call  decodeFunc
	reply decodeFunc
}

var procedures = [ProcCount]procedure{
	ProcNull:        {},
	ProcGetattr:     {call: handleArgs, reply: getattrReply},
	ProcSetattr:     {call: setattrCall, reply: wccReply},
	ProcLookup:      {call: dirOpArgs, reply: lookupReply},
	ProcAccess:      {call: accessCall, reply: accessReply},
	ProcReadlink:    {call: handleArgs, reply: attrReply},
	ProcRead:        {call: readCall, reply: readReply},
	ProcWrite:       {call: writeCall, reply: writeReply},
	ProcCreate:      {call: createCall, reply: newObjectReply},
	ProcMkdir:       {call: mkdirCall, reply: newObjectReply},
	ProcSymlink:     {call: symlinkCall, reply: newObjectReply},
	ProcMknod:       {call: mknodCall, reply: newObjectReply},
	ProcRemove:      {call: dirOpArgs, reply: wccReply},
	ProcRmdir:       {call: dirOpArgs, reply: wccReply},
	ProcRename:      {call: renameCall, reply: statusReply},
	ProcLink:        {call: linkCall, reply: attrReply},
	ProcReaddir:     {call: readdirCall, reply: readdirReply},
	ProcReaddirplus: {call: readdirplusCall, reply: readdirReply},
	ProcFsstat:      {call: handleArgs, reply: attrReply},
	ProcFsinfo:      {call: handleArgs, reply: attrReply},
	ProcPathconf:    {call: handleArgs, reply: attrReply},
	ProcCommit:      {call: commitCall, reply: commitReply},
}

// ─── Calls ───

func handleArgs(d *decoder, v *core.NFSv3) {
	v.FileHandle = d.handle()
}

func dirOpArgs(d *decoder, v *core.NFSv3) {
	v.FileHandle = d.handle()
	v.Name = d.name()
}

func setattrCall(d *decoder, v *core.NFSv3) {
	v.FileHandle = d.handle()
	d.sattr(v)
}

func accessCall(d *decoder, v *core.NFSv3) {
	v.FileHandle = d.handle()
	v.Access = d.u32()
}

func readCall(d *decoder, v *core.NFSv3) {
	v.FileHandle = d.handle()
	v.Offset = d.u64()
	v.Count = d.u32()
}

func writeCall(d *decoder, v *core.NFSv3) {
	v.FileHandle = d.handle()
	v.Offset = d.u64()
	v.Count = d.u32()
	v.Stable = d.u32()
	v.DataLength = d.u32()
}

// createCall reads the how union: attributes for UNCHECKED and GUARDED, a
// verifier for EXCLUSIVE.
func createCall(d *decoder, v *core.NFSv3) {
	dirOpArgs(d, v)
	if d.u32() < 2 {
		d.sattr(v)
	}
}

func mkdirCall(d *decoder, v *core.NFSv3) {
	dirOpArgs(d, v)
	d.sattr(v)
}

func symlinkCall(d *decoder, v *core.NFSv3) {
	dirOpArgs(d, v)
	d.sattr(v)
	v.NewName = d.path()
}

func mknodCall(d *decoder, v *core.NFSv3) {
	dirOpArgs(d, v)
	v.FileType = d.u32()
	switch v.FileType {
	case TypeChr, TypeBlk:
		d.sattr(v)
		d.skip(8) // specdata3
	case TypeSock, TypeFifo:
		d.sattr(v)
	}
}

func renameCall(d *decoder, v *core.NFSv3) {
	dirOpArgs(d, v)
	d.handle()
	v.NewName = d.name()
}

func linkCall(d *decoder, v *core.NFSv3) {
	v.FileHandle = d.handle()
	d.handle()
	v.Name = d.name()
}

func readdirCall(d *decoder, v *core.NFSv3) {
	v.FileHandle = d.handle()
	d.skip(8 + cookieVerfSize)
	v.Count = d.u32()
}

func readdirplusCall(d *decoder, v *core.NFSv3) {
	v.FileHandle = d.handle()
	d.skip(8 + cookieVerfSize)
	v.DirCount = d.u32()
	v.MaxCount = d.u32()
}

func commitCall(d *decoder, v *core.NFSv3) {
	v.FileHandle = d.handle()
	v.Offset = d.u64()
	v.Count = d.u32()
}

// ─── Replies ───

func statusReply(d *decoder, v *core.NFSv3) {
	v.Status = d.u32()
}

func attrReply(d *decoder, v *core.NFSv3) {
	v.Status = d.u32()
	d.postOpAttr(v)
}

func wccReply(d *decoder, v *core.NFSv3) {
	v.Status = d.u32()
	d.wcc(v)
}

func getattrReply(d *decoder, v *core.NFSv3) {
	if v.Status = d.u32(); v.Status == StatusOK {
		d.fattr(v)
	}
}

func lookupReply(d *decoder, v *core.NFSv3) {
	if v.Status = d.u32(); v.Status == StatusOK {
		v.ReplyHandle = d.handle()
	}
	d.postOpAttr(v)
}

func accessReply(d *decoder, v *core.NFSv3) {
	v.Status = d.u32()
	d.postOpAttr(v)
	if v.Status == StatusOK {
		v.ReplyAccess = d.u32()
	}
}

func readReply(d *decoder, v *core.NFSv3) {
	v.Status = d.u32()
	d.postOpAttr(v)
	if v.Status == StatusOK {
		v.ReplyCount = d.u32()
		v.EOF = d.flag()
		v.DataLength = d.u32()
	}
}

func writeReply(d *decoder, v *core.NFSv3) {
	v.Status = d.u32()
	d.wcc(v)
	if v.Status == StatusOK {
		v.ReplyCount = d.u32()
		v.Committed = d.u32()
	}
}

func newObjectReply(d *decoder, v *core.NFSv3) {
	if v.Status = d.u32(); v.Status == StatusOK {
		d.postOpHandle(v)
		d.postOpAttr(v)
	}
}

func readdirReply(d *decoder, v *core.NFSv3) {
	v.Status = d.u32()
	d.postOpAttr(v)
	if v.Status == StatusOK {
		d.skip(cookieVerfSize)
	}
}

func commitReply(d *decoder, v *core.NFSv3) {
	if v.Status = d.u32(); v.Status == StatusOK {
		d.wcc(v)
	}
}
