package logger

import (
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"
)

// Logger writes one JSON object per line. A nil *Logger discards everything.
type Logger struct {
	mu     sync.Mutex
	out    io.Writer
	level  string
	hooks  []func(entry map[string]any)
	fields map[string]any
	root   *Logger
}

func New(level string) *Logger {
	if level == "" {
		level = "info"
	}
	return &Logger{
		out:   os.Stdout,
		level: level,
	}
}

// SetOutput redirects the logger and all loggers derived from it.
func (l *Logger) SetOutput(w io.Writer) {
	if l == nil {
		return
	}
	r := l.base()
	r.mu.Lock()
	r.out = w
	r.mu.Unlock()
}

// With returns a child logger that adds fields to every entry.
func (l *Logger) With(fields map[string]any) *Logger {
	if l == nil {
		return nil
	}
	merged := make(map[string]any, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &Logger{level: l.level, fields: merged, root: l.base()}
}

// AddHook registers fn to receive a copy of every emitted entry.
func (l *Logger) AddHook(fn func(entry map[string]any)) {
	if l == nil || fn == nil {
		return
	}
	r := l.base()
	r.mu.Lock()
	r.hooks = append(r.hooks, fn)
	r.mu.Unlock()
}

func (l *Logger) Debug(msg string, fields map[string]any) {
	l.log("debug", msg, fields)
}

func (l *Logger) Info(msg string, fields map[string]any) {
	l.log("info", msg, fields)
}

func (l *Logger) Warn(msg string, fields map[string]any) {
	l.log("warn", msg, fields)
}

func (l *Logger) Error(msg string, fields map[string]any) {
	l.log("error", msg, fields)
}

func (l *Logger) base() *Logger {
	if l.root != nil {
		return l.root
	}
	return l
}

func (l *Logger) log(level string, msg string, fields map[string]any) {
	if l == nil || !shouldLog(level, l.level) {
		return
	}

	entry := map[string]any{
		"ts":    time.Now().Format(time.RFC3339),
		"level": level,
		"msg":   msg,
	}
	for k, v := range l.fields {
		entry[k] = v
	}
	for k, v := range fields {
		entry[k] = v
	}

	b, err := json.Marshal(entry)
	if err != nil {
		return
	}

	r := l.base()
	r.mu.Lock()
	_, _ = r.out.Write(append(b, '\n'))
	hooks := append([]func(map[string]any){}, r.hooks...)
	r.mu.Unlock()

	for _, hook := range hooks {
		cp := make(map[string]any, len(entry))
		for k, v := range entry {
			cp[k] = v
		}
		hook(cp)
	}
}

func shouldLog(level string, current string) bool {
	order := map[string]int{
		"debug": 0,
		"info":  1,
		"warn":  2,
		"error": 3,
	}
	return order[level] >= order[current]
}
