// Package logger wraps zerolog with context-carried fields so request, driver
// and assignment identifiers follow a call through every layer.
package logger

import (
	"context"
	"errors"
	"io"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/angelmondragon/freightlane-backend/pkg/env"
)

// Field names shared by every freightlane binary.
const (
	FieldRequestID    = "request_id"
	FieldUserID       = "user_id"
	FieldActorRole    = "actor_role"
	FieldOrderID      = "freight_order_id"
	FieldAssignmentID = "assignment_id"
	FieldDriverID     = "driver_id"
)

// Options configures the structured logger.
type Options struct {
	ServiceName string
	Level       zerolog.Level
	WarnStack   bool
	Output      io.Writer
	// Format is "json" or "console"; empty reads LOG_FORMAT.
	Format string
}

type Logger struct {
	zl        zerolog.Logger
	warnStack bool
}

type fieldsKey struct{}

// fields is an append-only key/value list; each WithField copies before
// appending so sibling contexts never share a backing array.
type fields []any

func New(opts Options) *Logger {
	level := opts.Level
	if level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	format := opts.Format
	if format == "" {
		format = env.Get("LOG_FORMAT", "json")
	}
	if strings.EqualFold(format, "console") {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}
	}

	zerolog.TimeFieldFormat = time.RFC3339Nano
	zl := zerolog.New(out).Level(level).With().Timestamp().Str("service", opts.ServiceName).Logger()
	return &Logger{zl: zl, warnStack: opts.WarnStack}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

// ParseLevel maps a config string to a level, defaulting to info.
func ParseLevel(value string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(value)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

func fieldsFrom(ctx context.Context) fields {
	if ctx == nil {
		return nil
	}
	f, _ := ctx.Value(fieldsKey{}).(fields)
	return f
}

func (l *Logger) WithField(ctx context.Context, key string, value any) context.Context {
	return l.WithFields(ctx, map[string]any{key: value})
}

func (l *Logger) WithFields(ctx context.Context, kv map[string]any) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	prev := fieldsFrom(ctx)
	next := make(fields, len(prev), len(prev)+2*len(kv))
	copy(next, prev)
	for k, v := range kv {
		next = append(next, k, v)
	}
	return context.WithValue(ctx, fieldsKey{}, next)
}

func (l *Logger) WithRequestID(ctx context.Context, id string) context.Context {
	return l.WithField(ctx, FieldRequestID, id)
}

func (l *Logger) WithUserID(ctx context.Context, id string) context.Context {
	return l.WithField(ctx, FieldUserID, id)
}

func (l *Logger) WithActorRole(ctx context.Context, role string) context.Context {
	return l.WithField(ctx, FieldActorRole, role)
}

func (l *Logger) WithOrderID(ctx context.Context, id string) context.Context {
	return l.WithField(ctx, FieldOrderID, id)
}

func (l *Logger) WithAssignmentID(ctx context.Context, id string) context.Context {
	return l.WithField(ctx, FieldAssignmentID, id)
}

func (l *Logger) WithDriverID(ctx context.Context, id string) context.Context {
	return l.WithField(ctx, FieldDriverID, id)
}

func (l *Logger) emit(ctx context.Context, event *zerolog.Event, msg string) {
	if f := fieldsFrom(ctx); len(f) > 0 {
		event = event.Fields([]any(f))
	}
	event.Msg(msg)
}

func (l *Logger) Debug(ctx context.Context, msg string) { l.emit(ctx, l.zl.Debug(), msg) }

func (l *Logger) Info(ctx context.Context, msg string) { l.emit(ctx, l.zl.Info(), msg) }

func (l *Logger) Warn(ctx context.Context, msg string) {
	event := l.zl.Warn()
	if l.warnStack {
		event = event.Str("stack", stack())
	}
	l.emit(ctx, event, msg)
}

// Error logs at error level with a stack, except for cancellations which are
// not faults of this process.
func (l *Logger) Error(ctx context.Context, msg string, err error) {
	event := l.zl.Error()
	if err != nil {
		event = event.Err(err)
	}
	if !errors.Is(err, context.Canceled) {
		event = event.Str("stack", stack())
	}
	l.emit(ctx, event, msg)
}

func stack() string {
	return strings.TrimSpace(string(debug.Stack()))
}
