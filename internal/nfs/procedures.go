// Package nfs extracts NFS version 3 fields from reconstructed RPC PDUs.
package nfs

// NFSv3 procedure numbers.
const (
	ProcNull uint32 = iota
	ProcGetattr
	ProcSetattr
	ProcLookup
	ProcAccess
	ProcReadlink
	ProcRead
	ProcWrite
	ProcCreate
	ProcMkdir
	ProcSymlink
	ProcMknod
	ProcRemove
	ProcRmdir
	ProcRename
	ProcLink
	ProcReaddir
	ProcReaddirplus
	ProcFsstat
	ProcFsinfo
	ProcPathconf
	ProcCommit

	ProcCount = int(ProcCommit) + 1
)

// StatusOK is NFS3_OK.
const StatusOK uint32 = 0

// ftype3 values.
const (
	TypeReg uint32 = iota + 1
	TypeDir
	TypeBlk
	TypeChr
	TypeLnk
	TypeSock
	TypeFifo
)

const (
	maxHandleSize   = 64
	maxNameLen      = 255
	maxPathLen      = 1024
	cookieVerfSize  = 8
	preOpAttrSize   = 24
	setToClientTime = 2
	modeMask        = 0xfff
)

var procNames = [ProcCount]string{
	"NULL", "GETATTR", "SETATTR", "LOOKUP", "ACCESS", "READLINK", "READ",
	"WRITE", "CREATE", "MKDIR", "SYMLINK", "MKNOD", "REMOVE", "RMDIR",
	"RENAME", "LINK", "READDIR", "READDIRPLUS", "FSSTAT", "FSINFO",
	"PATHCONF", "COMMIT",
}

// ProcName returns the upper-case name of an NFSv3 procedure, or "UNKNOWN".
func ProcName(proc uint32) string {
	if int(proc) < ProcCount {
		return procNames[proc]
	}
	return "UNKNOWN"
}
