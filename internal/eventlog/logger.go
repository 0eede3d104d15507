// Package eventlog records meter lifecycle and level alert events in a JSON
// lines file.
package eventlog

import (
	"bufio"
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strconv"
	"sync"
	"time"
)

// EventType names what happened.
type EventType string

// Meter event types.
const (
	MeterStarted  EventType = "meter_started"
	MeterStopped  EventType = "meter_stopped"
	TargetChanged EventType = "target_changed"
)

// Level event types.
const (
	LevelHigh      EventType = "level_high"
	LevelRecovered EventType = "level_recovered"
)

// Event is one line of the log. Details holds *MeterDetails or *LevelDetails
// when written; read back it is the decoded JSON object.
type Event struct {
	Timestamp time.Time `json:"ts"`
	Type      EventType `json:"type"`
	Message   string    `json:"msg,omitempty"`
	Details   any       `json:"details,omitempty"`
}

// MeterDetails describes a start, stop or target change.
type MeterDetails struct {
	Backend  string  `json:"backend,omitempty"`
	TargetDB float64 `json:"target_db"`
	Readings uint64  `json:"readings,omitempty"`
	Error    string  `json:"error,omitempty"`
}

// LevelDetails describes the start or end of an above-target episode.
type LevelDetails struct {
	LevelDB    float64 `json:"level_db"`
	TargetDB   float64 `json:"target_db"`
	DurationMs int64   `json:"duration_ms,omitempty"`
}

// Logger appends events to a JSON lines file. A nil Logger discards events,
// so callers need not check whether event logging is enabled.
type Logger struct {
	path string

	mu  sync.Mutex
	f   *os.File
	enc *json.Encoder
}

// DefaultLogPath returns where the meter on port keeps its events when no
// path is configured. The port keeps several meters on one host apart.
func DefaultLogPath(port int) string {
	dir := "/var/log/levelmeter"
	if runtime.GOOS == "windows" {
		dir = filepath.Join(cmp.Or(os.Getenv("PROGRAMDATA"), `C:\ProgramData`), "levelmeter", "logs")
	}
	return filepath.Join(dir, strconv.Itoa(port), "events.jsonl")
}

// NewLogger opens path for appending, creating it and its directory.
func NewLogger(path string) (*Logger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create event log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	return &Logger{path: path, f: f, enc: json.NewEncoder(f)}, nil
}

// Log appends event, stamping it with the current time if it has none.
func (l *Logger) Log(event *Event) error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.f == nil {
		return errors.New("event log is closed")
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	return l.enc.Encode(event)
}

// LogMeter logs a meter lifecycle event.
func (l *Logger) LogMeter(eventType EventType, message string, details MeterDetails) error {
	return l.Log(&Event{
		Type:    eventType,
		Message: message,
		Details: &details,
	})
}

// LogLevel logs a level alert transition.
func (l *Logger) LogLevel(eventType EventType, levelDB, targetDB float64, durationMs int64) error {
	return l.Log(&Event{
		Type: eventType,
		Details: &LevelDetails{
			LevelDB:    levelDB,
			TargetDB:   targetDB,
			DurationMs: durationMs,
		},
	})
}

// Close closes the file. Later Log calls fail.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}

// Path returns the file the logger writes to, or "" for a nil Logger.
func (l *Logger) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// TypeFilter selects a group of event types for ReadLast.
type TypeFilter string

// Event groups accepted by ReadLast and the events API.
const (
	FilterAll   TypeFilter = ""
	FilterMeter TypeFilter = "meter"
	FilterLevel TypeFilter = "level"
)

// MaxReadLimit caps the page size of ReadLast.
const MaxReadLimit = 500

// maxLineSize bounds one event line. A longer line fails the read.
const maxLineSize = 64 << 10

// ReadLast returns one page of events matching filter, newest first: up to n
// events after skipping the offset newest ones. hasMore reports whether older
// matching events exist. A missing file reads as empty, and malformed lines
// are skipped.
func ReadLast(path string, n, offset int, filter TypeFilter) (events []Event, hasMore bool, err error) {
	n = min(n, MaxReadLimit)
	offset = max(offset, 0)
	if n <= 0 {
		return []Event{}, false, nil
	}

	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return []Event{}, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	defer func() { _ = f.Close() }()

	// Only the newest offset+n+1 matches can affect the page.
	keep := offset + n + 1
	var window []Event

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 4096), maxLineSize)
	for sc.Scan() {
		var ev Event
		if json.Unmarshal(sc.Bytes(), &ev) != nil || !filter.matches(ev.Type) {
			continue
		}
		window = append(window, ev)
		if len(window) > keep {
			window = window[len(window)-keep:]
		}
	}
	if err := sc.Err(); err != nil {
		return nil, false, fmt.Errorf("read event log: %w", err)
	}

	slices.Reverse(window)
	if offset >= len(window) {
		return []Event{}, false, nil
	}
	end := min(offset+n, len(window))
	return window[offset:end], len(window) > end, nil
}

// matches reports whether t passes the filter.
func (f TypeFilter) matches(t EventType) bool {
	switch f {
	case FilterMeter:
		return IsMeterEvent(t)
	case FilterLevel:
		return IsLevelEvent(t)
	default:
		return true
	}
}

// IsMeterEvent returns true if the event type is a meter lifecycle event.
func IsMeterEvent(t EventType) bool {
	return t == MeterStarted || t == MeterStopped || t == TargetChanged
}

// IsLevelEvent returns true if the event type is a level alert event.
func IsLevelEvent(t EventType) bool {
	return t == LevelHigh || t == LevelRecovered
}
