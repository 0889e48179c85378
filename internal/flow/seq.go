package flow

// SeqAhead reports whether a lies after b, modulo 2^32, by at most
// MaxRecvWindow.
func SeqAhead(a, b uint32) bool {
	d := a - b
	return d != 0 && d <= MaxRecvWindow
}

// SeqAtOrBefore reports whether a equals b or lies before it within the window.
func SeqAtOrBefore(a, b uint32) bool {
	return a == b || SeqAhead(b, a)
}

// seqWithin reports whether seq falls in [start, start+n).
func seqWithin(seq, start, n uint32) bool {
	return seq-start < n
}

// crossedZero reports whether moving forward from b to a passed 2^32.
func crossedZero(a, b uint32) bool {
	return a < b
}
