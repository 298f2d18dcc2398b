package events

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

var buffer = NewRingBuffer(256)

var (
	outMu sync.Mutex
	out   io.Writer = os.Stdout

	total atomic.Int64
)

// SetOutput redirects the JSON log line written for every event.
// A nil writer disables log output.
func SetOutput(w io.Writer) {
	outMu.Lock()
	out = w
	outMu.Unlock()
}

type Event struct {
	Timestamp string                 `json:"ts"`
	Level     string                 `json:"level"`
	Name      string                 `json:"event"`
	Message   string                 `json:"msg,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// Emit records an allowlisted event, writes it as a JSON log line and
// fans it out to subscribers.
func Emit(level, name, msg string, fields map[string]interface{}) ([]byte, error) {
	if err := Validate(name); err != nil {
		return nil, err
	}

	e := Event{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Level:     level,
		Name:      name,
		Message:   msg,
		Fields:    fields,
	}

	buffer.Add(e)
	total.Add(1)

	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}

	outMu.Lock()
	if out != nil {
		_, _ = out.Write(append(b, '\n'))
	}
	outMu.Unlock()

	broadcast(e)
	return b, nil
}

// Notify emits a transient on-screen warning for the operator.
func Notify(msg string, fields map[string]interface{}) {
	Emit("warning", "notice.shown", msg, fields)
}

func Snapshot() []Event {
	return buffer.Snapshot()
}

// TotalCount returns the number of events emitted since startup.
func TotalCount() int64 {
	return total.Load()
}

// Clear resets the event buffer. Used for testing.
func Clear() {
	buffer.Clear()
}
