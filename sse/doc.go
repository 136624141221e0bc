// Package sse decodes the event-framed text protocol spoken by meshchat
// agents.
//
// A stream is a sequence of lines. A line prefixed "event:" sets the pending
// event name, a line prefixed "data:" dispatches one Event carrying that name
// and resets the pending name to "message". Blank lines and lines starting
// with ":" are keep-alives and comments. Decoding is independent of how the
// underlying reads fragment the bytes.
//
// Usage:
//
//	dec := sse.NewDecoder(resp.Body)
//	for dec.Next() {
//	    ev := dec.Event()
//	    switch p := ev.Payload.(type) {
//	    case sse.Structured:
//	        fmt.Println(ev.Kind, p.String("content"))
//	    case sse.Raw:
//	        fmt.Println(ev.Kind, p.Text())
//	    }
//	}
//	if err := dec.Err(); err != nil { ... }
package sse
