package command

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"redisd/internal/logging"
	"redisd/internal/replication"
	"redisd/internal/store"
)

func newTestDispatcher() *Dispatcher {
	return New(
		store.NewKV(),
		store.NewStreams(),
		replication.New(replication.RoleMaster, logging.New()),
		&Config{Dir: ".", DBFilename: "dump.rdb", Port: 6379},
		logging.New(),
	)
}

func TestPingPong(t *testing.T) {
	d := newTestDispatcher()
	out := d.Dispatch([]string{"PING"}, nil)
	assert.Equal(t, "+PONG\r\n", string(out))
}

func TestSetGet(t *testing.T) {
	d := newTestDispatcher()
	out := d.Dispatch([]string{"SET", "k", "v"}, nil)
	assert.Equal(t, "+OK\r\n", string(out))

	out = d.Dispatch([]string{"GET", "k"}, nil)
	assert.Equal(t, "$1\r\nv\r\n", string(out))
}

func TestGetMissingIsNullBulk(t *testing.T) {
	d := newTestDispatcher()
	out := d.Dispatch([]string{"GET", "nope"}, nil)
	assert.Equal(t, "$-1\r\n", string(out))
}

func TestIncr(t *testing.T) {
	d := newTestDispatcher()
	out := d.Dispatch([]string{"INCR", "c"}, nil)
	assert.Equal(t, ":1\r\n", string(out))
	out = d.Dispatch([]string{"INCRBY", "c", "9"}, nil)
	assert.Equal(t, ":10\r\n", string(out))
}

func TestUnknownCommand(t *testing.T) {
	d := newTestDispatcher()
	out := d.Dispatch([]string{"NOPE"}, nil)
	assert.Contains(t, string(out), "unknown command")
}

func TestXAddAndXRange(t *testing.T) {
	d := newTestDispatcher()
	out := d.Dispatch([]string{"XADD", "s", "1-1", "field", "value"}, nil)
	assert.Equal(t, "$3\r\n1-1\r\n", string(out))

	out = d.Dispatch([]string{"XRANGE", "s", "-", "+"}, nil)
	assert.Contains(t, string(out), "1-1")
	assert.Contains(t, string(out), "field")
}

func TestXAddRejectsBackwardsID(t *testing.T) {
	d := newTestDispatcher()
	d.Dispatch([]string{"XADD", "s", "5-5", "f", "v"}, nil)
	out := d.Dispatch([]string{"XADD", "s", "1-1", "f", "v"}, nil)
	assert.Contains(t, string(out), "equal or smaller")
}

func TestTypeReportsHashAndStream(t *testing.T) {
	d := newTestDispatcher()
	d.Dispatch([]string{"HSET", "h", "f", "v"}, nil)
	out := d.Dispatch([]string{"TYPE", "h"}, nil)
	assert.Equal(t, "+hash\r\n", string(out))

	d.Dispatch([]string{"XADD", "strm", "1-1", "f", "v"}, nil)
	out = d.Dispatch([]string{"TYPE", "strm"}, nil)
	assert.Equal(t, "+stream\r\n", string(out))

	out = d.Dispatch([]string{"TYPE", "missing"}, nil)
	assert.Equal(t, "+none\r\n", string(out))
}

func TestConfigGetKnownAndUnknown(t *testing.T) {
	d := newTestDispatcher()
	out := d.Dispatch([]string{"CONFIG", "GET", "dir"}, nil)
	assert.Contains(t, string(out), "dir")
	assert.Contains(t, string(out), ".")

	out = d.Dispatch([]string{"CONFIG", "GET", "nosuchkey"}, nil)
	assert.Equal(t, "*0\r\n", string(out))
}

func TestWaitWithNoReplicasReturnsZero(t *testing.T) {
	d := newTestDispatcher()
	d.Dispatch([]string{"SET", "x", "1"}, nil)
	out := d.Dispatch([]string{"WAIT", "0", "50"}, nil)
	assert.Equal(t, ":0\r\n", string(out))
}

func TestMSetNXAllOrNothing(t *testing.T) {
	d := newTestDispatcher()
	d.Dispatch([]string{"SET", "a", "1"}, nil)
	out := d.Dispatch([]string{"MSETNX", "a", "2", "b", "2"}, nil)
	assert.Equal(t, ":0\r\n", string(out))

	out = d.Dispatch([]string{"EXISTS", "b"}, nil)
	assert.Equal(t, ":0\r\n", string(out))
}

func TestIsWriteCommandSet(t *testing.T) {
	require.True(t, IsWrite("set"))
	require.True(t, IsWrite("HSET"))
	require.False(t, IsWrite("XADD"))
	require.False(t, IsWrite("GET"))
	require.False(t, IsWrite("PING"))
}
