package nfs

import (
	"time"

	"firestige.xyz/chronicle/internal/core"
	"firestige.xyz/chronicle/internal/rpc"
)

// decoder reads XDR items from a PDU. The first failed read sticks: every
// later read returns a zero value and ok stays false.
type decoder struct {
	r  *rpc.Reader
	ok bool
}

func (d *decoder) u32() uint32 {
	if !d.ok {
		return 0
	}
	v, ok := d.r.Uint32()
	d.ok = ok
	return v
}

func (d *decoder) u64() uint64 {
	if !d.ok {
		return 0
	}
	v, ok := d.r.Uint64()
	d.ok = ok
	return v
}

func (d *decoder) flag() bool { return d.u32() == 1 }

func (d *decoder) skip(n uint64) {
	if d.ok {
		d.ok = d.r.Skip(n)
	}
}

func (d *decoder) opaque(max uint32) []byte {
	if !d.ok {
		return nil
	}
	b, ok := d.r.Opaque(max)
	d.ok = ok
	return b
}

func (d *decoder) handle() []byte { return d.opaque(maxHandleSize) }

func (d *decoder) name() string { return string(d.opaque(maxNameLen)) }

func (d *decoder) path() string { return string(d.opaque(maxPathLen)) }

func (d *decoder) time() time.Time {
	sec, nsec := d.u32(), d.u32()
	if !d.ok {
		return time.Time{}
	}
	return time.Unix(int64(sec), int64(nsec)).UTC()
}

// fattr reads a fattr3.
func (d *decoder) fattr(v *core.NFSv3) {
	v.FileType = d.u32()
	v.Mode = d.u32() & modeMask
	d.skip(4) // nlink
	v.UID = d.u32()
	v.GID = d.u32()
	v.Size = d.u64()
	v.Used = d.u64()
	d.skip(8) // rdev
	v.FSID = d.u64()
	v.FileID = d.u64()
	d.skip(8) // atime
	v.MTime = d.time()
	d.skip(8) // ctime
	v.AttrFollows = d.ok
}

func (d *decoder) postOpAttr(v *core.NFSv3) {
	if d.flag() {
		d.fattr(v)
	}
}

// wcc reads wcc_data, keeping only the post-operation attributes.
func (d *decoder) wcc(v *core.NFSv3) {
	if d.flag() {
		d.skip(preOpAttrSize)
	}
	d.postOpAttr(v)
}

func (d *decoder) postOpHandle(v *core.NFSv3) {
	if d.flag() {
		v.ReplyHandle = d.handle()
	}
}

// sattr reads a sattr3 into the attribute fields.
func (d *decoder) sattr(v *core.NFSv3) {
	if d.flag() {
		v.Mode = d.u32() & modeMask
	}
	if d.flag() {
		v.UID = d.u32()
	}
	if d.flag() {
		v.GID = d.u32()
	}
	if d.flag() {
		v.Size = d.u64()
	}
	if d.u32() == setToClientTime {
		d.skip(8) // atime
	}
	if d.u32() == setToClientTime {
		v.MTime = d.time()
	}
}
