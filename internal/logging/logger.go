package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"
)

// Level represents the severity of a log message.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

var levelNames = map[Level]string{
	LevelDebug: "debug",
	LevelInfo:  "info",
	LevelWarn:  "warn",
	LevelError: "error",
	LevelFatal: "fatal",
}

// ParseLevel converts a level name into a Level. Unknown names map to info.
func ParseLevel(name string) Level {
	for lvl, n := range levelNames {
		if n == name {
			return lvl
		}
	}
	return LevelInfo
}

// Logger writes structured JSON log lines with correlation ID support.
// Token material must be passed through Redact before being logged.
type Logger struct {
	mu      sync.Mutex
	out     io.Writer
	level   Level
	service string
	base    map[string]interface{}
}

// Option configures a Logger.
type Option func(*Logger)

// WithOutput sets the destination writer.
func WithOutput(w io.Writer) Option {
	return func(l *Logger) { l.out = w }
}

// WithLevel sets the minimum level that is emitted.
func WithLevel(level Level) Option {
	return func(l *Logger) { l.level = level }
}

// WithService sets the service name attached to every entry.
func WithService(service string) Option {
	return func(l *Logger) { l.service = service }
}

// New creates a Logger writing to stdout at info level unless overridden.
func New(opts ...Option) *Logger {
	l := &Logger{
		out:     os.Stdout,
		level:   LevelInfo,
		service: "valorwatch",
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// With returns a child logger that attaches the given key/value pairs to
// every entry it emits. The parent is not modified.
func (l *Logger) With(kv ...interface{}) *Logger {
	child := &Logger{
		out:     l.out,
		level:   l.level,
		service: l.service,
		base:    make(map[string]interface{}, len(l.base)+len(kv)/2),
	}
	for k, v := range l.base {
		child.base[k] = v
	}
	_, extra := splitFields(kv)
	for k, v := range extra {
		child.base[k] = v
	}
	return child
}

// SetLevel changes the minimum emitted level. Safe for concurrent use;
// used by the config hot-reload path.
func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	l.level = level
	l.mu.Unlock()
}

type entry struct {
	Timestamp     string                 `json:"timestamp"`
	Level         string                 `json:"level"`
	Service       string                 `json:"service"`
	Message       string                 `json:"message"`
	CorrelationID string                 `json:"correlation_id,omitempty"`
	Fields        map[string]interface{} `json:"fields,omitempty"`
}

func (l *Logger) emit(level Level, msg, correlationID string, fields map[string]interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if level < l.level {
		return
	}

	if len(l.base) > 0 {
		if fields == nil {
			fields = make(map[string]interface{}, len(l.base))
		}
		for k, v := range l.base {
			if _, ok := fields[k]; !ok {
				fields[k] = v
			}
		}
	}

	e := entry{
		Timestamp:     time.Now().UTC().Format(time.RFC3339Nano),
		Level:         levelNames[level],
		Service:       l.service,
		Message:       msg,
		CorrelationID: correlationID,
		Fields:        fields,
	}

	data, err := json.Marshal(e)
	if err != nil {
		log.Printf("failed to marshal log entry: %v", err)
		return
	}
	fmt.Fprintln(l.out, string(data))

	if level == LevelFatal {
		os.Exit(1)
	}
}

// Debug logs at debug level. Fields are alternating key/value pairs.
func (l *Logger) Debug(msg string, kv ...interface{}) {
	cid, fields := splitFields(kv)
	l.emit(LevelDebug, msg, cid, fields)
}

// Info logs at info level.
func (l *Logger) Info(msg string, kv ...interface{}) {
	cid, fields := splitFields(kv)
	l.emit(LevelInfo, msg, cid, fields)
}

// Warn logs at warn level.
func (l *Logger) Warn(msg string, kv ...interface{}) {
	cid, fields := splitFields(kv)
	l.emit(LevelWarn, msg, cid, fields)
}

// Error logs at error level.
func (l *Logger) Error(msg string, kv ...interface{}) {
	cid, fields := splitFields(kv)
	l.emit(LevelError, msg, cid, fields)
}

// Fatal logs at fatal level and exits the process.
func (l *Logger) Fatal(msg string, kv ...interface{}) {
	cid, fields := splitFields(kv)
	l.emit(LevelFatal, msg, cid, fields)
}

// InfoCtx logs at info level with the correlation ID from ctx.
func (l *Logger) InfoCtx(ctx context.Context, msg string, kv ...interface{}) {
	_, fields := splitFields(kv)
	l.emit(LevelInfo, msg, CorrelationID(ctx), fields)
}

// WarnCtx logs at warn level with the correlation ID from ctx.
func (l *Logger) WarnCtx(ctx context.Context, msg string, kv ...interface{}) {
	_, fields := splitFields(kv)
	l.emit(LevelWarn, msg, CorrelationID(ctx), fields)
}

// ErrorCtx logs at error level with the correlation ID from ctx.
func (l *Logger) ErrorCtx(ctx context.Context, msg string, kv ...interface{}) {
	_, fields := splitFields(kv)
	l.emit(LevelError, msg, CorrelationID(ctx), fields)
}

// splitFields turns alternating key/value pairs into a field map, pulling
// out the correlation_id key when present. Non-string keys are skipped.
func splitFields(kv []interface{}) (string, map[string]interface{}) {
	if len(kv) == 0 {
		return "", nil
	}

	cid := ""
	fields := make(map[string]interface{}, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		if key == "correlation_id" {
			if id, ok := kv[i+1].(string); ok {
				cid = id
			}
			continue
		}
		fields[key] = kv[i+1]
	}
	if len(fields) == 0 {
		fields = nil
	}
	return cid, fields
}
