package resp

import "strconv"

// EncodeSimpleString renders s as a RESP Simple String (`+s\r\n`).
func EncodeSimpleString(s string) []byte {
	b := make([]byte, 0, len(s)+3)
	b = append(b, '+')
	b = append(b, s...)
	return append(b, '\r', '\n')
}

// EncodeError renders msg as a RESP Simple Error (`-msg\r\n`).
func EncodeError(msg string) []byte {
	b := make([]byte, 0, len(msg)+3)
	b = append(b, '-')
	b = append(b, msg...)
	return append(b, '\r', '\n')
}

// EncodeInteger renders n as a RESP Integer (`:n\r\n`).
func EncodeInteger(n int64) []byte {
	b := append([]byte{':'}, strconv.FormatInt(n, 10)...)
	return append(b, '\r', '\n')
}

// EncodeBulkString renders s as a RESP Bulk String (`$len\r\ns\r\n`).
func EncodeBulkString(s string) []byte {
	lenStr := strconv.Itoa(len(s))
	b := make([]byte, 0, len(lenStr)+len(s)+5)
	b = append(b, '$')
	b = append(b, lenStr...)
	b = append(b, '\r', '\n')
	b = append(b, s...)
	return append(b, '\r', '\n')
}

// EncodeNullBulk renders the null bulk string, `$-1\r\n` - the encoding
// for "absent value".
func EncodeNullBulk() []byte {
	return []byte("$-1\r\n")
}

// EncodeNullArray renders the null array, `*-1\r\n`.
func EncodeNullArray() []byte {
	return []byte("*-1\r\n")
}

// EncodeArray frames a pre-encoded list of items as a RESP Array.
func EncodeArray(items [][]byte) []byte {
	total := 0
	for _, it := range items {
		total += len(it)
	}
	countStr := strconv.Itoa(len(items))
	out := make([]byte, 0, total+len(countStr)+3)
	out = append(out, '*')
	out = append(out, countStr...)
	out = append(out, '\r', '\n')
	for _, it := range items {
		out = append(out, it...)
	}
	return out
}

// EncodeBulkStringArray is a convenience wrapper that bulk-encodes a
// slice of native strings and frames them as an Array - the common shape
// for KEYS, HMGET-style replies, and the stream field/value lists.
func EncodeBulkStringArray(items []string) []byte {
	encoded := make([][]byte, len(items))
	for i, s := range items {
		encoded[i] = EncodeBulkString(s)
	}
	return EncodeArray(encoded)
}

// EncodeText renders s as a Simple String when it is one of the short
// textual constants the wire format special-cases (PONG, OK, string,
// integer, list, hash, stream, none), and as a Bulk String otherwise.
// Command handlers that know their reply's shape in advance should call
// EncodeSimpleString/EncodeBulkString directly instead - this helper
// exists only for code that genuinely works with a generic native text
// shape and needs the encoder's auto-detection.
func EncodeText(s string) []byte {
	if IsShortConstant(s) {
		return EncodeSimpleString(s)
	}
	return EncodeBulkString(s)
}
