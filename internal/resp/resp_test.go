package resp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeCommandSimple(t *testing.T) {
	args, n, err := DecodeCommand([]byte("*1\r\n$4\r\nPING\r\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"PING"}, args)
	assert.Equal(t, 14, n)
}

func TestDecodeCommandPipelined(t *testing.T) {
	buf := []byte("*1\r\n$4\r\nPING\r\n*1\r\n$4\r\nPING\r\n")
	args, n, err := DecodeCommand(buf)
	require.NoError(t, err)
	assert.Equal(t, []string{"PING"}, args)

	args2, n2, err := DecodeCommand(buf[n:])
	require.NoError(t, err)
	assert.Equal(t, []string{"PING"}, args2)
	assert.Equal(t, n, n2)
}

func TestDecodeCommandPartialFrameNeedsMore(t *testing.T) {
	// Missing the trailing CRLF and part of the value.
	_, _, err := DecodeCommand([]byte("*2\r\n$3\r\nSET\r\n$3\r\nfo"))
	assert.ErrorIs(t, err, ErrNeedMore)
}

func TestDecodeCommandBulkLengthAuthoritative(t *testing.T) {
	// An embedded CRLF inside the bulk payload must not truncate it -
	// the length prefix, not a scan, decides where the body ends.
	args, n, err := DecodeCommand([]byte("*1\r\n$6\r\nfoo\r\nb\r\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"foo\r\nb"}, args)
	assert.Equal(t, len("*1\r\n$6\r\nfoo\r\nb\r\n"), n)
}

func TestDecodeCommandInline(t *testing.T) {
	args, n, err := DecodeCommand([]byte("PING\r\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"PING"}, args)
	assert.Equal(t, 6, n)
}

func TestDecodeCommandUnknownLeadingByte(t *testing.T) {
	_, _, err := DecodeCommand([]byte("*1\r\n#4\r\nPING\r\n"))
	assert.Error(t, err)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	encoded := EncodeArray([][]byte{
		EncodeBulkString("SET"),
		EncodeBulkString("foo"),
		EncodeBulkString("bar"),
	})

	v, n, err := Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, len(encoded), n)
	require.Equal(t, Array, v.Kind)
	require.Len(t, v.Items, 3)
	assert.Equal(t, "SET", v.Items[0].Str)
	assert.Equal(t, "foo", v.Items[1].Str)
	assert.Equal(t, "bar", v.Items[2].Str)
}

func TestEncodeTextShortConstants(t *testing.T) {
	assert.Equal(t, []byte("+PONG\r\n"), EncodeText("PONG"))
	assert.Equal(t, []byte("+OK\r\n"), EncodeText("OK"))
	assert.Equal(t, []byte("$5\r\nhello\r\n"), EncodeText("hello"))
}

func TestEncodeNullBulk(t *testing.T) {
	v, n, err := Decode(EncodeNullBulk())
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, NullBulk, v.Kind)
}
