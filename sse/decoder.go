package sse

import (
	"bufio"
	"errors"
	"io"
	"strings"
)

// Event is one decoded frame.
type Event struct {
	// Kind is the parsed event kind, KindUnknown for unrecognised names.
	Kind Kind
	// Name is the event name as sent, "message" when the frame had none.
	Name string
	// Payload is the data line, Structured or Raw.
	Payload Payload
}

// Decoder turns an arbitrarily chunked byte stream into a lazy, finite,
// non-restartable sequence of events. It is not safe for concurrent use.
type Decoder struct {
	r       *bufio.Reader
	pending string
	event   Event
	err     error
	done    bool
}

// NewDecoder creates a Decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r), pending: DefaultEventName}
}

// Next advances to the next event. It returns false at the end of the stream
// or on a read error; Err distinguishes the two. A trailing line without a
// newline at the end of the stream is incomplete and discarded.
func (d *Decoder) Next() bool {
	if d.done {
		return false
	}
	for {
		line, err := d.r.ReadString('\n')
		if err != nil {
			d.done = true
			if !errors.Is(err, io.EOF) {
				d.err = err
			}
			return false
		}
		if ev, ok := d.processLine(line); ok {
			d.event = ev
			return true
		}
	}
}

func (d *Decoder) processLine(line string) (Event, bool) {
	line = strings.TrimSuffix(line, "\n")
	line = strings.TrimSuffix(line, "\r")

	if strings.TrimSpace(line) == "" || strings.HasPrefix(line, ":") {
		return Event{}, false
	}

	switch {
	case strings.HasPrefix(line, "event:"):
		d.pending = strings.TrimSpace(line[len("event:"):])
		return Event{}, false
	case strings.HasPrefix(line, "data:"):
		data := strings.TrimSpace(line[len("data:"):])
		ev := Event{Kind: ParseKind(d.pending), Name: d.pending, Payload: ParsePayload(data)}
		d.pending = DefaultEventName
		return ev, true
	default:
		// id:, retry: and unknown fields carry nothing this client uses.
		return Event{}, false
	}
}

// Event returns the event produced by the last successful call to Next.
func (d *Decoder) Event() Event { return d.event }

// Err returns the first non-EOF read error encountered.
func (d *Decoder) Err() error { return d.err }

// DecodeAll drains r and returns every event. Convenience for tests and
// non-streaming callers.
func DecodeAll(r io.Reader) ([]Event, error) {
	dec := NewDecoder(r)
	var events []Event
	for dec.Next() {
		events = append(events, dec.Event())
	}
	return events, dec.Err()
}
