package invite

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"
)

// Field is one structured logging key/value pair.
type Field struct {
	Key   string
	Value interface{}
}

func F(key string, value interface{}) Field { return Field{Key: key, Value: value} }

// Logger is the structured logging interface used throughout the core.
// Components never log to stdout directly; they hold a Logger obtained via
// WithComponent so every line carries which subsystem emitted it.
type Logger interface {
	Trace(ctx context.Context, msg string, fields ...Field)
	Debug(ctx context.Context, msg string, fields ...Field)
	Info(ctx context.Context, msg string, fields ...Field)
	Warn(ctx context.Context, msg string, fields ...Field)
	Error(ctx context.Context, msg string, fields ...Field)

	WithComponent(component string) Logger
	WithCallID(callID string) Logger
}

// noopLogger is the default when no Logger is configured.
type noopLogger struct{}

func NewNoopLogger() Logger                                        { return noopLogger{} }
func (noopLogger) Trace(context.Context, string, ...Field)         {}
func (noopLogger) Debug(context.Context, string, ...Field)         {}
func (noopLogger) Info(context.Context, string, ...Field)          {}
func (noopLogger) Warn(context.Context, string, ...Field)          {}
func (noopLogger) Error(context.Context, string, ...Field)         {}
func (l noopLogger) WithComponent(string) Logger                   { return l }
func (l noopLogger) WithCallID(string) Logger                      { return l }

// jsonSink is the shared, mutex-guarded writer underlying every JSONLogger
// derived from the same NewJSONLogger call via WithComponent/WithCallID.
type jsonSink struct {
	mu       sync.Mutex
	w        io.Writer
	minLevel int
}

// JSONLogger writes one JSON object per line to its sink. Safe for
// concurrent use; WithComponent/WithCallID return a new value sharing the
// same sink rather than copying it, so the mutex is never duplicated.
type JSONLogger struct {
	sink      *jsonSink
	component string
	callID    string
}

var levelRank = map[string]int{"TRACE": 0, "DEBUG": 1, "INFO": 2, "WARN": 3, "ERROR": 4}

// NewJSONLogger writes lines of level minLevel and above to w.
func NewJSONLogger(w io.Writer, minLevel string) *JSONLogger {
	return &JSONLogger{sink: &jsonSink{w: w, minLevel: levelRank[minLevel]}}
}

func (l *JSONLogger) log(level string) func(ctx context.Context, msg string, extra ...Field) {
	return func(ctx context.Context, msg string, extra ...Field) {
		if levelRank[level] < l.sink.minLevel {
			return
		}
		entry := map[string]interface{}{
			"ts":        time.Now().UTC().Format(time.RFC3339Nano),
			"level":     level,
			"msg":       msg,
			"component": l.component,
		}
		if l.callID != "" {
			entry["call_id"] = l.callID
		}
		for _, f := range extra {
			entry[f.Key] = f.Value
		}
		b, err := json.Marshal(entry)
		if err != nil {
			b = []byte(fmt.Sprintf(`{"level":"ERROR","msg":"log marshal failed: %v"}`, err))
		}
		l.sink.mu.Lock()
		l.sink.w.Write(append(b, '\n'))
		l.sink.mu.Unlock()
	}
}

func (l *JSONLogger) Trace(ctx context.Context, msg string, f ...Field) { l.log("TRACE")(ctx, msg, f...) }
func (l *JSONLogger) Debug(ctx context.Context, msg string, f ...Field) { l.log("DEBUG")(ctx, msg, f...) }
func (l *JSONLogger) Info(ctx context.Context, msg string, f ...Field)  { l.log("INFO")(ctx, msg, f...) }
func (l *JSONLogger) Warn(ctx context.Context, msg string, f ...Field)  { l.log("WARN")(ctx, msg, f...) }
func (l *JSONLogger) Error(ctx context.Context, msg string, f ...Field) { l.log("ERROR")(ctx, msg, f...) }

func (l *JSONLogger) WithComponent(component string) Logger {
	return &JSONLogger{sink: l.sink, component: component, callID: l.callID}
}

func (l *JSONLogger) WithCallID(callID string) Logger {
	return &JSONLogger{sink: l.sink, component: l.component, callID: callID}
}
