package sse

import (
	"errors"
	"math/rand"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/meshchat/internal/testutil"
)

var eventCmp = cmp.AllowUnexported(Structured{}, Raw{})

func sampleStream() []byte {
	return testutil.NewStreamBuilder().
		Comment("keep-alive").
		Thinking("starting").
		Progress("search", "", "run", "running", "x").
		Progress("search", "", "run", "completed", "y").
		Message("héllo wörld ").
		Delta("δέλτα").
		Data("not json at all").
		RawLine("event: custom_kind").
		RawLine("data: {\"k\":1}").
		RawLine("").
		RawLine("event: done\r").
		RawLine("data: {\"content\":\"final\"}\r").
		RawLine("\r").
		Bytes()
}

func TestDecoder_Framing(t *testing.T) {
	events, err := DecodeAll(strings.NewReader(string(sampleStream())))
	require.NoError(t, err)

	kinds := make([]Kind, 0, len(events))
	for _, ev := range events {
		kinds = append(kinds, ev.Kind)
	}
	assert.Equal(t, []Kind{
		KindThinking, KindProgress, KindProgress, KindMessage, KindContent,
		KindMessage, KindUnknown, KindDone,
	}, kinds)

	assert.Equal(t, "custom_kind", events[6].Name)
	assert.Equal(t, "message", events[5].Name)

	raw, ok := events[5].Payload.(Raw)
	require.True(t, ok)
	assert.Equal(t, "not json at all", raw.Text())

	done, ok := events[7].Payload.(Structured)
	require.True(t, ok)
	assert.Equal(t, "final", done.String("content"))
}

func TestDecoder_ChunkingInvariance(t *testing.T) {
	data := sampleStream()
	want, err := DecodeAll(strings.NewReader(string(data)))
	require.NoError(t, err)

	splits := [][]int{{1}, {2}, {3}, {5, 1, 8}, {7}, {64}, {len(data)}}
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 20; i++ {
		sizes := make([]int, 1+rng.Intn(8))
		for j := range sizes {
			sizes[j] = 1 + rng.Intn(17)
		}
		splits = append(splits, sizes)
	}

	for _, sizes := range splits {
		got, err := DecodeAll(testutil.SplitReader(data, sizes...))
		require.NoError(t, err)
		if diff := cmp.Diff(want, got, eventCmp); diff != "" {
			t.Fatalf("split %v changed the event sequence (-want +got):\n%s", sizes, diff)
		}
	}
}

func TestDecoder_KindResetsAfterData(t *testing.T) {
	stream := "event: thinking\ndata: {\"status\":\"queued\"}\ndata: {\"content\":\"a\"}\n\n"
	events, err := DecodeAll(strings.NewReader(stream))
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, KindThinking, events[0].Kind)
	assert.Equal(t, KindMessage, events[1].Kind)
}

func TestDecoder_TrailingPartialLineDropped(t *testing.T) {
	stream := "data: {\"content\":\"a\"}\n\ndata: {\"content\":\"b\"}"
	events, err := DecodeAll(strings.NewReader(stream))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "a", events[0].Payload.(Structured).String("content"))
}

func TestDecoder_IgnoresOtherFields(t *testing.T) {
	stream := "id: 7\nretry: 1000\n:comment\n\n\ndata: x\n"
	events, err := DecodeAll(strings.NewReader(stream))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "x", events[0].Payload.Text())
}

func TestDecoder_EmptyEventNameIsUnknown(t *testing.T) {
	events, err := DecodeAll(strings.NewReader("event:\ndata: {}\n"))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, KindUnknown, events[0].Kind)
	assert.Equal(t, "", events[0].Name)
}

func TestDecoder_ReadError(t *testing.T) {
	dec := NewDecoder(testutil.FailingReader([]byte("data: a\n\ndata: partial")))
	require.True(t, dec.Next())
	assert.Equal(t, "a", dec.Event().Payload.Text())
	assert.False(t, dec.Next())
	assert.True(t, errors.Is(dec.Err(), testutil.ErrInjected))
	assert.False(t, dec.Next(), "decoder is not restartable")
}

func TestDecoder_EmptyStream(t *testing.T) {
	dec := NewDecoder(strings.NewReader(""))
	assert.False(t, dec.Next())
	assert.NoError(t, dec.Err())
}
