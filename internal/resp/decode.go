package resp

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ErrNeedMore is returned by Decode and DecodeCommand when buf holds a
// partial frame: the caller must accumulate more bytes and retry rather
// than discard what it already has. Decode never scans ahead for framing
// markers — length prefixes are authoritative, per the codec's design.
var ErrNeedMore = errors.New("resp: need more data")

// ErrUnknownType is returned when a frame's leading byte doesn't match
// any known RESP type.
var ErrUnknownType = errors.New("resp: unknown frame type")

const crlf = "\r\n"

// Decode parses a single RESP frame starting at buf[0]. It returns the
// decoded value and the number of bytes consumed. If buf holds less than
// a full frame, it returns ErrNeedMore and consumes nothing — the caller
// must not discard buf's already-buffered bytes.
func Decode(buf []byte) (Value, int, error) {
	if len(buf) == 0 {
		return Value{}, 0, ErrNeedMore
	}

	switch buf[0] {
	case '+':
		return decodeLine(buf, SimpleString)
	case '-':
		return decodeLine(buf, Error)
	case ':':
		return decodeInteger(buf)
	case '$':
		return decodeBulk(buf)
	case '*':
		return decodeArray(buf)
	default:
		return Value{}, 0, errors.Wrapf(ErrUnknownType, "leading byte %q", buf[0])
	}
}

// findCRLF returns the index of the next "\r\n" in buf, or -1.
func findCRLF(buf []byte) int {
	return bytes.Index(buf, []byte(crlf))
}

func decodeLine(buf []byte, kind Kind) (Value, int, error) {
	idx := findCRLF(buf)
	if idx < 0 {
		return Value{}, 0, ErrNeedMore
	}
	return Value{Kind: kind, Str: string(buf[1:idx])}, idx + 2, nil
}

func decodeInteger(buf []byte) (Value, int, error) {
	idx := findCRLF(buf)
	if idx < 0 {
		return Value{}, 0, ErrNeedMore
	}
	n, err := strconv.ParseInt(string(buf[1:idx]), 10, 64)
	if err != nil {
		return Value{}, 0, errors.Wrap(err, "resp: invalid integer frame")
	}
	return Value{Kind: Integer, Int: n}, idx + 2, nil
}

func decodeBulk(buf []byte) (Value, int, error) {
	idx := findCRLF(buf)
	if idx < 0 {
		return Value{}, 0, ErrNeedMore
	}
	length, err := strconv.Atoi(string(buf[1:idx]))
	if err != nil {
		return Value{}, 0, errors.Wrap(err, "resp: invalid bulk string length")
	}
	if length < 0 {
		// $-1\r\n - the null bulk string.
		return Value{Kind: NullBulk}, idx + 2, nil
	}

	start := idx + 2
	end := start + length
	// Exactly `length` body bytes are consumed regardless of embedded
	// CRLF sequences - the length prefix is authoritative, never a scan.
	if len(buf) < end+2 {
		return Value{}, 0, ErrNeedMore
	}
	if buf[end] != '\r' || buf[end+1] != '\n' {
		return Value{}, 0, errors.New("resp: bulk string missing trailing CRLF")
	}
	return Value{Kind: Bulk, Str: string(buf[start:end])}, end + 2, nil
}

func decodeArray(buf []byte) (Value, int, error) {
	idx := findCRLF(buf)
	if idx < 0 {
		return Value{}, 0, ErrNeedMore
	}
	count, err := strconv.Atoi(string(buf[1:idx]))
	if err != nil {
		return Value{}, 0, errors.Wrap(err, "resp: invalid array length")
	}
	consumed := idx + 2
	if count < 0 {
		return Value{Kind: NullArray}, consumed, nil
	}

	items := make([]Value, 0, count)
	for i := 0; i < count; i++ {
		if consumed >= len(buf) {
			return Value{}, 0, ErrNeedMore
		}
		v, n, err := Decode(buf[consumed:])
		if err != nil {
			return Value{}, 0, err
		}
		items = append(items, v)
		consumed += n
	}
	return Value{Kind: Array, Items: items}, consumed, nil
}

// DecodeCommand parses one client-facing command frame: the canonical
// form is a RESP Array of Bulk Strings, but an inline command - a bare
// line of whitespace-separated words terminated by "\n" - is also
// accepted, matching the reference implementations this server is
// grounded on. It returns the command's arguments, the number of raw
// wire bytes the frame occupied (needed for replication offset
// accounting and propagation), and the same ErrNeedMore/error contract
// as Decode.
func DecodeCommand(buf []byte) (args []string, n int, err error) {
	if len(buf) == 0 {
		return nil, 0, ErrNeedMore
	}

	if buf[0] != '*' {
		return decodeInline(buf)
	}

	v, consumed, err := decodeArray(buf)
	if err != nil {
		return nil, 0, err
	}
	if v.Kind == NullArray {
		return nil, consumed, errors.New("resp: null array is not a valid command")
	}

	args = make([]string, len(v.Items))
	for i, item := range v.Items {
		if item.Kind != Bulk && item.Kind != SimpleString {
			return nil, 0, errors.New("resp: command arguments must be strings")
		}
		args[i] = item.Str
	}
	return args, consumed, nil
}

func decodeInline(buf []byte) ([]string, int, error) {
	idx := bytes.IndexByte(buf, '\n')
	if idx < 0 {
		return nil, 0, ErrNeedMore
	}
	line := strings.TrimRight(string(buf[:idx]), "\r\n")
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil, 0, errors.New("resp: empty inline command")
	}
	return fields, idx + 1, nil
}
