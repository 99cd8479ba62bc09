package guppy

import (
	"bytes"
	"math"
	"strconv"
)

// MinChunkSeq is the smallest header number that denotes a chunk sequence;
// lower values are status codes on the first recognized header.
const MinChunkSeq = 6

// Status codes carried by the first recognized header. Any other value is
// success and streaming begins.
const (
	CodeMalformed     = 0
	CodeInputRequired = 1
	CodeRedirect      = 3
	CodeFailure       = 4
	CodeRejected      = 5
)

// seqMax saturates sequence numbers too large to represent. A saturated
// value never becomes a watermark and never extends the body.
const seqMax = math.MaxInt

var crlf = []byte("\r\n")

// splitLine cuts data at the first CRLF. The payload is every byte after
// the terminator, however many remain in this read.
func splitLine(data []byte) (header, payload []byte, ok bool) {
	i := bytes.Index(data, crlf)
	if i < 0 {
		return nil, nil, false
	}
	return data[:i], data[i+2:], true
}

// parseHeader matches a header line against the leading-digits form and
// returns the numeric value plus the free text after it. Values beyond the
// int range still match and saturate at seqMax.
func parseHeader(line []byte) (seq int, meta string, ok bool) {
	n := 0
	for n < len(line) && line[n] >= '0' && line[n] <= '9' {
		n++
	}
	if n == 0 {
		return 0, "", false
	}
	seq, err := strconv.Atoi(string(line[:n]))
	if err != nil {
		seq = seqMax
	}
	return seq, string(line[n:]), true
}

// appendSeq renders a sequence number as an ack line body.
func appendSeq(dst []byte, seq int) []byte {
	return strconv.AppendInt(dst, int64(seq), 10)
}
