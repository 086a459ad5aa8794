// Package notice carries short user-facing messages (toasts) from the core
// to whatever is rendering it. Sinks are fire-and-forget.
package notice

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

type Level string

const (
	LevelSuccess Level = "success"
	LevelError   Level = "error"
	LevelInfo    Level = "info"
)

type Notice struct {
	Level    Level         `json:"level"`
	Message  string        `json:"message"`
	Icon     string        `json:"icon,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
}

type Sink interface {
	Success(message string, opts ...Option)
	Error(message string, opts ...Option)
	Info(message string, opts ...Option)
}

type Option func(*Notice)

func WithIcon(icon string) Option {
	return func(n *Notice) { n.Icon = icon }
}

func WithDuration(d time.Duration) Option {
	return func(n *Notice) { n.Duration = d }
}

// Recorder keeps every notice in memory until drained.
type Recorder struct {
	mu      sync.Mutex
	notices []Notice
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Success(message string, opts ...Option) {
	r.add(build(LevelSuccess, message, opts))
}

func (r *Recorder) Error(message string, opts ...Option) {
	r.add(build(LevelError, message, opts))
}

func (r *Recorder) Info(message string, opts ...Option) {
	r.add(build(LevelInfo, message, opts))
}

func (r *Recorder) add(n Notice) {
	r.mu.Lock()
	r.notices = append(r.notices, n)
	r.mu.Unlock()
}

func build(level Level, message string, opts []Option) Notice {
	n := Notice{Level: level, Message: message}
	for _, opt := range opts {
		opt(&n)
	}
	return n
}

// All returns a copy of the recorded notices without clearing them.
func (r *Recorder) All() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Notice, len(r.notices))
	copy(out, r.notices)
	return out
}

// Drain returns and clears the recorded notices.
func (r *Recorder) Drain() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.notices
	r.notices = nil
	return out
}

func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.notices)
}

// LogSink writes notices to a zap logger.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger.Named("notice")}
}

func (s *LogSink) Success(message string, opts ...Option) {
	s.write(build(LevelSuccess, message, opts))
}

func (s *LogSink) Error(message string, opts ...Option) {
	s.write(build(LevelError, message, opts))
}

func (s *LogSink) Info(message string, opts ...Option) {
	s.write(build(LevelInfo, message, opts))
}

func (s *LogSink) write(n Notice) {
	fields := []zap.Field{zap.String("level", string(n.Level))}
	if n.Icon != "" {
		fields = append(fields, zap.String("icon", n.Icon))
	}
	if n.Duration > 0 {
		fields = append(fields, zap.Duration("duration", n.Duration))
	}
	if n.Level == LevelError {
		s.logger.Warn(n.Message, fields...)
		return
	}
	s.logger.Info(n.Message, fields...)
}

type multi []Sink

// Multi fans every notice out to all sinks.
func Multi(sinks ...Sink) Sink {
	return multi(sinks)
}

func (m multi) Success(message string, opts ...Option) {
	for _, s := range m {
		s.Success(message, opts...)
	}
}

func (m multi) Error(message string, opts ...Option) {
	for _, s := range m {
		s.Error(message, opts...)
	}
}

func (m multi) Info(message string, opts ...Option) {
	for _, s := range m {
		s.Info(message, opts...)
	}
}

// Discard drops every notice.
var Discard Sink = multi(nil)
