// Package logging implements the runner's two-sink structured logger
// (screen + file) plus the parallel NDJSON event stream. Determinism
// requires the logger never inject timestamps of its own; callers
// supply them when they matter.
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// Severity is the level of a single log emission.
type Severity string

const (
	SeverityDebug   Severity = "DEBUG"
	SeverityInfo    Severity = "INFO"
	SeverityWarning Severity = "WARNING"
	SeverityError   Severity = "ERROR"
)

// Channel separates the always-relevant narrative (CORE) from verbose
// supporting detail (DETAIL, e.g. captured subprocess output).
type Channel string

const (
	ChannelCore   Channel = "CORE"
	ChannelDetail Channel = "DETAIL"
)

// Level is a screen/file sink's verbosity threshold.
type Level string

const (
	LevelQuiet   Level = "quiet"
	LevelNormal  Level = "normal"
	LevelWarning Level = "warning"
	LevelVerbose Level = "verbose"
	LevelDebug   Level = "debug"
)

// Entry is a single structured emission.
type Entry struct {
	Severity Severity
	Channel  Channel
	Message  string
	Kind     string
	Summary  bool
}

// allowed reports whether an entry is admitted at the given level.
func allowed(level Level, e Entry) bool {
	if e.Summary {
		return true
	}
	switch level {
	case LevelQuiet:
		return e.Channel == ChannelCore && e.Severity == SeverityError
	case LevelNormal:
		return e.Channel == ChannelCore && (e.Severity == SeverityInfo || e.Severity == SeverityError)
	case LevelWarning:
		return e.Channel == ChannelCore
	case LevelVerbose:
		return true
	case LevelDebug:
		return true
	default:
		return e.Channel == ChannelCore && e.Severity == SeverityError
	}
}

// Sink renders admitted entries verbatim to an underlying writer.
type Sink struct {
	level Level
	w     io.Writer
	mu    *sync.Mutex
}

// NewSink builds a Sink writing to w at the given level.
func NewSink(w io.Writer, level Level) *Sink {
	return &Sink{level: level, w: w, mu: &sync.Mutex{}}
}

func (s *Sink) emit(e Entry) {
	if !allowed(s.level, e) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintln(s.w, e.Message)
}

// Logger fans every emission out to the screen and file sinks, and
// captures every subprocess invocation as a DETAIL entry.
type Logger struct {
	Screen *Sink
	File   *Sink
	events *EventSink
}

// New builds a Logger over the given screen/file sinks. events may be nil
// to disable the NDJSON stream.
func New(screen, file *Sink, events *EventSink) *Logger {
	return &Logger{Screen: screen, File: file, events: events}
}

func (l *Logger) log(sev Severity, ch Channel, summary bool, format string, args ...interface{}) {
	e := Entry{Severity: sev, Channel: ch, Message: fmt.Sprintf(format, args...), Summary: summary}
	if l.Screen != nil {
		l.Screen.emit(e)
	}
	if l.File != nil {
		l.File.emit(e)
	}
}

func (l *Logger) Debugf(format string, args ...interface{}) {
	l.log(SeverityDebug, ChannelDetail, false, format, args...)
}

func (l *Logger) Infof(format string, args ...interface{}) {
	l.log(SeverityInfo, ChannelCore, false, format, args...)
}

func (l *Logger) DetailInfof(format string, args ...interface{}) {
	l.log(SeverityInfo, ChannelDetail, false, format, args...)
}

func (l *Logger) Warnf(format string, args ...interface{}) {
	l.log(SeverityWarning, ChannelCore, false, format, args...)
}

func (l *Logger) Errorf(format string, args ...interface{}) {
	l.log(SeverityError, ChannelCore, false, format, args...)
}

// Summary emits a line that bypasses level filtering entirely: both
// sinks always carry the final RESULT/STAGE/REASON surface.
func (l *Logger) Summary(format string, args ...interface{}) {
	l.log(SeverityInfo, ChannelCore, true, format, args...)
}

// LogCommand records a subprocess invocation and its outcome as DETAIL.
func (l *Logger) LogCommand(dir string, args []string, exitCode int, stdout, stderr string) {
	l.DetailInfof("exec dir=%s args=%v exit=%d", dir, args, exitCode)
	if stdout != "" {
		l.DetailInfof("stdout: %s", stdout)
	}
	if stderr != "" {
		l.DetailInfof("stderr: %s", stderr)
	}
}

// Events returns the NDJSON event sink, or nil if disabled.
func (l *Logger) Events() *EventSink { return l.events }

// EventSink writes one JSON object per line to a run-scoped NDJSON file.
// It is the authoritative machine-readable surface for a run's outcome.
type EventSink struct {
	w  io.Writer
	mu sync.Mutex
}

// NewEventSink wraps w as an NDJSON event sink.
func NewEventSink(w io.Writer) *EventSink {
	return &EventSink{w: w}
}

// Emit writes v as a single JSON line. v is typically a map or small
// struct; Emit never re-orders or buffers across calls.
func (s *EventSink) Emit(v interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	enc := json.NewEncoder(s.w)
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

// Hello is the first NDJSON record of every run.
type Hello struct {
	Type    string `json:"type"`
	Mode    string `json:"mode"`
	IssueID string `json:"issue_id,omitempty"`
	RunID   string `json:"run_id"`
}

// PhaseEvent records a phase boundary.
type PhaseEvent struct {
	Type  string `json:"type"`
	Phase string `json:"phase"`
	OK    *bool  `json:"ok,omitempty"`
}

// GateEvent records per-gate progress.
type GateEvent struct {
	Type string `json:"type"`
	Gate string `json:"gate"`
	OK   bool   `json:"ok"`
}

// FailEvent is emitted once when a run fails, carrying the primary
// failure's fingerprint, just ahead of the terminal result record.
type FailEvent struct {
	Type     string `json:"type"`
	Stage    string `json:"stage"`
	Category string `json:"category"`
	Message  string `json:"message"`
}

// ResultEvent is the terminating NDJSON record of every run.
type ResultEvent struct {
	Type      string   `json:"type"`
	OK        bool     `json:"ok"`
	ExitCode  int      `json:"exit_code"`
	CommitSHA string   `json:"commit_sha,omitempty"`
	FailStage string   `json:"fail_stage,omitempty"`
	LogPath   string   `json:"log_path"`
}
