package pty

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type readResult struct {
	data string
	err  error
}

// scriptedReader returns one scripted result per Read call.
type scriptedReader struct {
	results []readResult
	reads   int
}

func (r *scriptedReader) Read(p []byte) (int, error) {
	r.reads++
	if r.reads > len(r.results) {
		return 0, io.EOF
	}
	res := r.results[r.reads-1]
	n := copy(p, res.data)
	return n, res.err
}

type collected struct {
	ids    []string
	chunks []string
}

func (c *collected) sink(id, data string) {
	c.ids = append(c.ids, id)
	c.chunks = append(c.chunks, data)
}

func TestRelay_DeliversChunksInOrder(t *testing.T) {
	r := &scriptedReader{results: []readResult{
		{data: "first "},
		{data: "second "},
		{data: "third"},
	}}
	var got collected

	relay("s1", r, got.sink, discardLogger)

	assert.Equal(t, []string{"first ", "second ", "third"}, got.chunks)
	assert.Equal(t, []string{"s1", "s1", "s1"}, got.ids)
	assert.Equal(t, 4, r.reads, "relay should stop on the EOF read")
}

func TestRelay_StopsOnZeroRead(t *testing.T) {
	r := &scriptedReader{results: []readResult{
		{data: "a"},
		{data: ""},
		{data: "never"},
	}}
	var got collected

	relay("s1", r, got.sink, discardLogger)

	assert.Equal(t, []string{"a"}, got.chunks)
	assert.Equal(t, 2, r.reads)
}

func TestRelay_StopsOnError(t *testing.T) {
	r := &scriptedReader{results: []readResult{
		{data: "before"},
		{err: errors.New("input/output error")},
		{data: "after"},
	}}
	var got collected

	relay("s1", r, got.sink, discardLogger)

	assert.Equal(t, []string{"before"}, got.chunks)
}

func TestRelay_DeliversBytesReturnedWithError(t *testing.T) {
	r := &scriptedReader{results: []readResult{
		{data: "tail", err: io.EOF},
	}}
	var got collected

	relay("s1", r, got.sink, discardLogger)

	assert.Equal(t, []string{"tail"}, got.chunks)
}

func TestRelay_DeliversBytesReturnedWithReadFailure(t *testing.T) {
	r := &scriptedReader{results: []readResult{
		{data: "last words", err: errors.New("input/output error")},
		{data: "never"},
	}}
	var got collected

	relay("s1", r, got.sink, discardLogger)

	assert.Equal(t, []string{"last words"}, got.chunks)
	assert.Equal(t, 1, r.reads)
}

func TestRelay_ChunkSizeLimit(t *testing.T) {
	payload := strings.Repeat("x", RelayBufferSize*2+10)
	var got collected

	relay("s1", bytes.NewReader([]byte(payload)), got.sink, discardLogger)

	require.Len(t, got.chunks, 3)
	for _, c := range got.chunks {
		assert.LessOrEqual(t, len(c), RelayBufferSize)
	}
	assert.Equal(t, payload, strings.Join(got.chunks, ""))
}

func TestDecodeChunk(t *testing.T) {
	assert.Equal(t, "hello\r\n", decodeChunk([]byte("hello\r\n")))
	assert.Equal(t, "\x1b[31mred\x1b[0m", decodeChunk([]byte("\x1b[31mred\x1b[0m")))
	assert.Equal(t, "héllo", decodeChunk([]byte("héllo")))

	got := decodeChunk([]byte{'a', 0xff, 'b'})
	assert.Equal(t, "a\uFFFDb", got)
}

func TestDecodeChunk_SplitRune(t *testing.T) {
	euro := []byte("€") // three bytes
	require.Len(t, euro, 3)

	first := decodeChunk(euro[:2])
	second := decodeChunk(euro[2:])

	assert.NotContains(t, first+second, "€")
	assert.Contains(t, first, "\uFFFD")
	assert.Contains(t, second, "\uFFFD")
}
