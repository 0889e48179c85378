// Package core defines core types.
package core

// Labels represents key-value metadata sinks attach to exported records.
type Labels map[string]string

// Label naming constants following {protocol}.{field} convention.
const (
	LabelRPCXID       = "rpc.xid"
	LabelRPCProgram   = "rpc.program"
	LabelRPCVersion   = "rpc.version"
	LabelRPCProcedure = "rpc.procedure"
	LabelRPCVerdict   = "rpc.verdict"
	LabelRPCKind      = "rpc.kind"

	LabelNFSProc   = "nfs.proc"
	LabelNFSStatus = "nfs.status"
	LabelNFSFH     = "nfs.fh" // hex-encoded file handle
)
