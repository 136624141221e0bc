package sse

// DefaultEventName is the event name used when a frame has no "event:" line.
const DefaultEventName = "message"

// Kind is the closed set of event kinds understood by the consumer.
// KindUnknown is the explicit fallback for names this client does not know.
type Kind int

// Event kinds, named after their wire event names.
const (
	KindUnknown Kind = iota
	KindMessage
	KindContent
	KindThinking
	KindProgress
	KindDone
	KindAgentStart
	KindAgentProgress
	KindAgentDone
	KindAllDone
	KindError
)

var kindNames = map[Kind]string{
	KindMessage:       "message",
	KindContent:       "content",
	KindThinking:      "thinking",
	KindProgress:      "progress",
	KindDone:          "done",
	KindAgentStart:    "agent_start",
	KindAgentProgress: "agent_progress",
	KindAgentDone:     "agent_done",
	KindAllDone:       "all_done",
	KindError:         "error",
}

var kindsByName = func() map[string]Kind {
	m := make(map[string]Kind, len(kindNames))
	for k, name := range kindNames {
		m[name] = k
	}
	return m
}()

// ParseKind maps a wire event name to a Kind.
func ParseKind(name string) Kind {
	if k, ok := kindsByName[name]; ok {
		return k
	}
	return KindUnknown
}

// String returns the wire name of the kind, or "unknown".
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}
