package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestXAddExplicitIDOrdering(t *testing.T) {
	s := NewStreams()
	id, err := s.XAdd("stream", "1-1", []string{"k", "v"})
	require.NoError(t, err)
	assert.Equal(t, "1-1", id.String())

	_, err = s.XAdd("stream", "1-1", []string{"k", "v"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "equal or smaller than the target stream top item")
}

func TestXAddRejectsZeroZero(t *testing.T) {
	s := NewStreams()
	_, err := s.XAdd("stream", "0-0", []string{"k", "v"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "greater than 0-0")
}

func TestXAddAutoSeq(t *testing.T) {
	s := NewStreams()
	id1, err := s.XAdd("s", "5-*", nil)
	require.NoError(t, err)
	assert.Equal(t, StreamID{5, 0}, id1)

	id2, err := s.XAdd("s", "5-*", nil)
	require.NoError(t, err)
	assert.Equal(t, StreamID{5, 1}, id2)
}

func TestXAddAutoSeqZeroMsStartsAtOne(t *testing.T) {
	s := NewStreams()
	id, err := s.XAdd("s", "0-*", nil)
	require.NoError(t, err)
	assert.Equal(t, StreamID{0, 1}, id)
}

func TestXAddFullAutoNeverGoesBackwards(t *testing.T) {
	s := NewStreams()
	id1, err := s.XAdd("s", "*", nil)
	require.NoError(t, err)
	id2, err := s.XAdd("s", "*", nil)
	require.NoError(t, err)
	assert.True(t, id1.Less(id2) || id1 == id2 && false, "second * id must be strictly greater")
	assert.True(t, id1.Less(id2))
}

func TestXRangeInclusiveBounds(t *testing.T) {
	s := NewStreams()
	s.XAdd("s", "1-1", []string{"a", "1"})
	s.XAdd("s", "1-2", []string{"a", "2"})
	s.XAdd("s", "2-1", []string{"a", "3"})

	entries := s.XRange("s", StreamID{1, 1}, StreamID{1, 2})
	require.Len(t, entries, 2)
	assert.Equal(t, "1-1", entries[0].ID.String())
	assert.Equal(t, "1-2", entries[1].ID.String())
}

func TestXReadNonBlockingReturnsNewerThanCursor(t *testing.T) {
	s := NewStreams()
	s.XAdd("s", "1-1", []string{"a", "1"})
	s.XAdd("s", "1-2", []string{"a", "2"})

	results, err := s.XRead([]string{"s"}, []StreamID{{1, 1}}, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Len(t, results[0].Entries, 1)
	assert.Equal(t, "1-2", results[0].Entries[0].ID.String())
}

func TestXReadBlockWakesOnXAdd(t *testing.T) {
	s := NewStreams()
	block := 2 * time.Second

	done := make(chan []XReadResult, 1)
	go func() {
		results, err := s.XRead([]string{"s"}, []StreamID{{0, 0}}, &block)
		require.NoError(t, err)
		done <- results
	}()

	time.Sleep(20 * time.Millisecond)
	_, err := s.XAdd("s", "1-1", []string{"k", "v"})
	require.NoError(t, err)

	select {
	case results := <-done:
		require.Len(t, results, 1)
		assert.Equal(t, "1-1", results[0].Entries[0].ID.String())
	case <-time.After(time.Second):
		t.Fatal("XRead did not wake on XAdd")
	}
}

func TestXReadBlockTimesOut(t *testing.T) {
	s := NewStreams()
	block := 30 * time.Millisecond
	results, err := s.XRead([]string{"s"}, []StreamID{{0, 0}}, &block)
	require.NoError(t, err)
	assert.Nil(t, results)
}

func TestXReadNonBlockingWithNoNewDataReturnsEmptyPerKey(t *testing.T) {
	s := NewStreams()
	s.XAdd("s", "1-1", []string{"a", "1"})

	results, err := s.XRead([]string{"s"}, []StreamID{{1, 1}}, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "s", results[0].Key)
	assert.Empty(t, results[0].Entries)
}
