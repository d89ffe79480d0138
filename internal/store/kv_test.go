package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetGetRoundTrip(t *testing.T) {
	kv := NewKV()
	ok := kv.Set("foo", "bar", SetOptions{})
	require.True(t, ok)

	v, ok := kv.Get("foo")
	require.True(t, ok)
	assert.Equal(t, "bar", v)
}

func TestSetNXFailsWhenLive(t *testing.T) {
	kv := NewKV()
	kv.Set("foo", "bar", SetOptions{})
	ok := kv.Set("foo", "baz", SetOptions{NX: true})
	assert.False(t, ok)

	v, _ := kv.Get("foo")
	assert.Equal(t, "bar", v)
}

func TestSetXXFailsWhenAbsent(t *testing.T) {
	kv := NewKV()
	ok := kv.Set("missing", "baz", SetOptions{XX: true})
	assert.False(t, ok)
	_, ok = kv.Get("missing")
	assert.False(t, ok)
}

func TestExpiryIsLazilyEnforced(t *testing.T) {
	kv := NewKV()
	kv.Set("foo", "bar", SetOptions{HasExpiry: true, ExpireAt: time.Now().Add(10 * time.Millisecond)})

	_, ok := kv.Get("foo")
	require.True(t, ok)

	time.Sleep(30 * time.Millisecond)
	_, ok = kv.Get("foo")
	assert.False(t, ok, "expired key must not be returned")
}

func TestIncrDecr(t *testing.T) {
	kv := NewKV()
	n, err := kv.Incr("counter")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	n, err = kv.IncrBy("counter", 9)
	require.NoError(t, err)
	assert.EqualValues(t, 10, n)

	n, err = kv.Decr("counter")
	require.NoError(t, err)
	assert.EqualValues(t, 9, n)
}

func TestAppend(t *testing.T) {
	kv := NewKV()
	n, err := kv.Append("s", "hello")
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	n, err = kv.Append("s", " world")
	require.NoError(t, err)
	assert.Equal(t, 11, n)

	v, _ := kv.Get("s")
	assert.Equal(t, "hello world", v)
}

func TestMSetNXAllOrNothing(t *testing.T) {
	kv := NewKV()
	kv.Set("a", "1", SetOptions{})

	ok := kv.MSetNX(map[string]string{"a": "2", "b": "2"})
	assert.False(t, ok)
	_, exists := kv.Get("b")
	assert.False(t, exists, "MSETNX must not partially apply")

	ok = kv.MSetNX(map[string]string{"b": "2", "c": "3"})
	assert.True(t, ok)
}

func TestHSetAndType(t *testing.T) {
	kv := NewKV()
	created, err := kv.HSet("h", map[string]string{"f1": "v1"})
	require.NoError(t, err)
	assert.Equal(t, 1, created)
	assert.Equal(t, "hash", kv.TypeOf("h"))

	v, ok := kv.HGet("h", "f1")
	require.True(t, ok)
	assert.Equal(t, "v1", v)
}

func TestHSetNX(t *testing.T) {
	kv := NewKV()
	set, err := kv.HSetNX("h", "f", "v1")
	require.NoError(t, err)
	assert.True(t, set)

	set, err = kv.HSetNX("h", "f", "v2")
	require.NoError(t, err)
	assert.False(t, set)

	v, _ := kv.HGet("h", "f")
	assert.Equal(t, "v1", v)
}

func TestTypeOfNone(t *testing.T) {
	kv := NewKV()
	assert.Equal(t, "none", kv.TypeOf("nope"))
}

func TestKeysStar(t *testing.T) {
	kv := NewKV()
	kv.Set("a", "1", SetOptions{})
	kv.Set("b", "2", SetOptions{})
	keys := kv.Keys("*")
	assert.ElementsMatch(t, []string{"a", "b"}, keys)
}

func TestParseSetArgsRejectsNXAndXX(t *testing.T) {
	_, err := ParseSetArgs([]string{"NX", "XX"})
	assert.Error(t, err)
}

func TestParseSetArgsPX(t *testing.T) {
	opts, err := ParseSetArgs([]string{"PX", "100"})
	require.NoError(t, err)
	assert.True(t, opts.HasExpiry)
	assert.True(t, opts.ExpireAt.After(time.Now()))
}
