package rpc

// Well-known ports and ONC RPC constants.
const (
	NFSPort    uint16 = 2049
	SunRPCPort uint16 = 111

	MsgCall  uint32 = 0
	MsgReply uint32 = 1

	RPCVersion uint32 = 2

	PortmapProgram uint32 = 100000
	NFSProgram     uint32 = 100003
	MountProgram   uint32 = 100005

	NFSVersion3 uint32 = 3

	// BadMarker replaces program, version and procedure of a PDU that was
	// demoted to bad after it had been parsed.
	BadMarker uint32 = 666

	lastFragment uint32 = 0x80000000
	// NFSv3 defines procedures NULL (0) through COMMIT (21).
	nfs3MaxProcedure uint32 = 21
)

// IsRPCConnection reports whether a segment between the two ports belongs to
// an NFS connection. Only the fixed NFS port is recognised.
func IsRPCConnection(srcPort, dstPort uint16) bool {
	return srcPort == NFSPort || dstPort == NFSPort
}

func xdrPad(n uint32) uint64 {
	return (uint64(n) + 3) &^ 3
}
