package telemetry

import (
	"fmt"
	"strings"
	"sync"
)

// Level is the severity a Recorder stores an event under.
type Level string

const (
	LevelBroken  Level = "broken"
	LevelWarning Level = "warning"
	LevelInfo    Level = "info"
	LevelDebug   Level = "debug"
	LevelCount   Level = "count"
)

// Event is a single report captured by a Recorder.
type Event struct {
	Level  Level
	Id     string
	Params []any
	Count  int64
}

// Recorder is an API that keeps every report in memory so that tests can
// assert on what a component reported.
type Recorder struct {
	mutex  sync.Mutex
	events []Event
}

func (r *Recorder) record(e Event) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.events = append(r.events, e)
}

func (r *Recorder) ReportBroken(id string, params ...any) {
	r.record(Event{Level: LevelBroken, Id: id, Params: params})
}

func (r *Recorder) ReportWarning(id string, params ...any) {
	r.record(Event{Level: LevelWarning, Id: id, Params: params})
}

func (r *Recorder) ReportInfo(msg string, params ...any) {
	r.record(Event{Level: LevelInfo, Id: msg, Params: params})
}

func (r *Recorder) ReportDebug(msg string, params ...any) {
	r.record(Event{Level: LevelDebug, Id: msg, Params: params})
}

func (r *Recorder) ReportCount(id string, count int64) {
	r.record(Event{Level: LevelCount, Id: id, Count: count})
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Find returns the recorded events at the given level whose id contains
// substr.
func (r *Recorder) Find(level Level, substr string) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Level == level && strings.Contains(e.Id, substr) {
			out = append(out, e)
		}
	}
	return out
}

func (e Event) String() string {
	return fmt.Sprintf("[%s] %s %v", e.Level, e.Id, e.Params)
}
