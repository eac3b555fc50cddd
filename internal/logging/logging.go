// Package logging wraps logrus with request-scoped fields.
package logging

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

type ctxKey string

const (
	requestIDKey ctxKey = "request_id"
	entryKey     ctxKey = "log_entry"
)

// New builds the process logger. format is "json" or "text".
func New(level, format string) *logrus.Logger {
	return newWithOutput(level, format, os.Stdout)
}

func newWithOutput(level, format string, out io.Writer) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(out)
	if strings.EqualFold(format, "text") {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		l.SetFormatter(&logrus.JSONFormatter{})
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)
	return l
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

func RequestID(ctx context.Context) string {
	v, _ := ctx.Value(requestIDKey).(string)
	return v
}

// WithEntry stores a request-scoped entry; FromContext returns it.
func WithEntry(ctx context.Context, e *logrus.Entry) context.Context {
	return context.WithValue(ctx, entryKey, e)
}

// FromContext returns the request entry, or a bare entry on the standard
// logger when none was attached.
func FromContext(ctx context.Context) *logrus.Entry {
	if e, ok := ctx.Value(entryKey).(*logrus.Entry); ok {
		return e
	}
	e := logrus.NewEntry(logrus.StandardLogger())
	if id := RequestID(ctx); id != "" {
		e = e.WithField("request_id", id)
	}
	return e
}
