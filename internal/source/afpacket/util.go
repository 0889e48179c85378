package afpacket

import (
	"fmt"
)

const (
	tpacketAlignment = 16 // TPACKET_ALIGNMENT
	tpacketHdrLen    = 52 // TPACKET3_HDRLEN, approximately
	maxBlockSize     = 4 * 1024 * 1024
)

// recomputeSize derives a PACKET_MMAP ring layout from a memory budget and a
// snapshot length. The result satisfies the kernel's alignment rules:
//
//   - frameSize is a multiple of TPACKET_ALIGNMENT and holds snapLen plus the header
//   - blockSize is a multiple of both pageSize and frameSize, at most 4MB
//     unless a single frame is larger
//   - blockSize * numBlocks approximates ringBufferSizeMB
func recomputeSize(ringBufferSizeMB, snapLen, pageSize int) (frameSize, blockSize, numBlocks int, err error) {
	if ringBufferSizeMB <= 0 {
		return 0, 0, 0, fmt.Errorf("ringBufferSizeMB must be positive, got %d", ringBufferSizeMB)
	}
	if snapLen <= 0 {
		return 0, 0, 0, fmt.Errorf("snapLen must be positive, got %d", snapLen)
	}
	if pageSize <= 0 || pageSize%tpacketAlignment != 0 {
		return 0, 0, 0, fmt.Errorf("pageSize must be positive and multiple of %d, got %d", tpacketAlignment, pageSize)
	}

	frameSize = align(tpacketHdrLen+snapLen, tpacketAlignment)
	blockSize = lcm(pageSize, frameSize)
	if blockSize > maxBlockSize {
		// a power-of-two frame divides or is divided by the page size
		frameSize = nextPow2(frameSize)
		blockSize = max(frameSize, pageSize)
	}
	if blockSize < maxBlockSize {
		blockSize *= maxBlockSize / blockSize
	}

	numBlocks = max(ringBufferSizeMB*1024*1024/blockSize, 1)
	return frameSize, blockSize, numBlocks, nil
}

func align(n, to int) int {
	return (n + to - 1) / to * to
}

func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// gcd computes the greatest common divisor of two integers
func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

// lcm computes the least common multiple of two integers
func lcm(a, b int) int {
	if a == 0 || b == 0 {
		return 0
	}
	return (a * b) / gcd(a, b)
}
