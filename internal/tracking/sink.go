package tracking

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
)

// PixelSink is channel A: the in-browser pixel. Track only enqueues into
// the ad platform's own script and must not block on the network.
type PixelSink interface {
	Track(eventName string, customData CustomData, eventID string)
}

// PixelCall is one recorded channel A invocation.
type PixelCall struct {
	EventName  string
	CustomData CustomData
	EventID    string
	At         time.Time
}

// RecordingSink is the deterministic PixelSink used in tests and by the
// server when it only needs the event ids it would have fired.
type RecordingSink struct {
	mu    sync.Mutex
	calls []PixelCall
	now   func() time.Time
}

func NewRecordingSink() *RecordingSink { return &RecordingSink{now: time.Now} }

func (s *RecordingSink) Track(eventName string, customData CustomData, eventID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, PixelCall{EventName: eventName, CustomData: customData, EventID: eventID, At: s.now()})
}

// Calls returns a copy of everything recorded so far.
func (s *RecordingSink) Calls() []PixelCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]PixelCall(nil), s.calls...)
}

// ScriptSink renders fbq() calls for a server-rendered page. Each call
// carries the event id in the platform's eventID option.
type ScriptSink struct {
	mu    sync.Mutex
	lines []string
}

func (s *ScriptSink) Track(eventName string, customData CustomData, eventID string) {
	method := "track"
	if !IsStandardEvent(eventName) {
		method = "trackCustom"
	}
	data := customData
	if data == nil {
		data = CustomData{}
	}
	payload, err := json.Marshal(data)
	if err != nil {
		payload = []byte("{}")
	}
	name, _ := json.Marshal(eventName)
	id, _ := json.Marshal(eventID)
	line := fmt.Sprintf("fbq(%q,%s,%s,{eventID:%s});", method, name, payload, id)

	s.mu.Lock()
	s.lines = append(s.lines, line)
	s.mu.Unlock()
}

// Script returns the accumulated calls, one per line, with "</" escaped so
// the output is safe inside a <script> element.
func (s *ScriptSink) Script() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return strings.ReplaceAll(strings.Join(s.lines, "\n"), "</", `<\/`)
}
