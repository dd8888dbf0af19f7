package logging

import (
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
)

// EntryLogger is an EntryLoggerAdapter whose derived entries are again
// EntryLoggers.
type EntryLogger interface {
	EntryLoggerAdapter[EntryLogger]
}

// EntryLoggerAdapter describes entry style loggers such as logrus.Entry.
// T is the type returned by WithError and WithField, which lets loggers
// returning their own concrete type be used without wrappers.
type EntryLoggerAdapter[T any] interface {
	Error(args ...any)
	Info(args ...any)
	Debug(args ...any)
	Trace(args ...any)
	WithError(err error) T
	WithField(key string, value any) T
}

var slogLevels = map[slog.Level]slog.Level{
	watermill.LevelTrace: watermill.LevelTrace,
	slog.LevelDebug:      slog.LevelDebug,
	slog.LevelInfo:       slog.LevelInfo,
	slog.LevelWarn:       slog.LevelWarn,
	slog.LevelError:      slog.LevelError,
}

// NewSlogServiceLogger logs to log through Watermill's slog adapter.
func NewSlogServiceLogger(log *slog.Logger) ServiceLogger {
	if log == nil {
		panic("evalflow: slog logger cannot be nil")
	}
	return NewWatermillServiceLogger(watermill.NewSlogLoggerWithLevelMapping(log, slogLevels))
}

// NewWatermillServiceLogger wraps a Watermill LoggerAdapter.
func NewWatermillServiceLogger(logger watermill.LoggerAdapter) ServiceLogger {
	if logger == nil {
		panic("evalflow: watermill logger cannot be nil")
	}
	return &watermillServiceLogger{inner: logger}
}

// NewEntryServiceLogger wraps an entry style logger.
func NewEntryServiceLogger[T EntryLoggerAdapter[T]](entry T) ServiceLogger {
	if any(entry) == nil {
		panic("evalflow: entry logger cannot be nil")
	}
	return &entryServiceLogger[T]{entry: entry}
}

// NewWatermillAdapter lets the Watermill router and its middlewares log
// through log.
func NewWatermillAdapter(log ServiceLogger) watermill.LoggerAdapter {
	if log == nil {
		panic("evalflow: ServiceLogger cannot be nil")
	}
	return &routerLogger{base: log}
}

type watermillServiceLogger struct {
	inner watermill.LoggerAdapter
}

func (w *watermillServiceLogger) With(fields LogFields) ServiceLogger {
	return &watermillServiceLogger{inner: w.inner.With(toWatermillFields(fields))}
}

func (w *watermillServiceLogger) Debug(msg string, fields LogFields) {
	w.inner.Debug(msg, toWatermillFields(fields))
}

func (w *watermillServiceLogger) Info(msg string, fields LogFields) {
	w.inner.Info(msg, toWatermillFields(fields))
}

func (w *watermillServiceLogger) Error(msg string, err error, fields LogFields) {
	w.inner.Error(msg, err, toWatermillFields(fields))
}

func (w *watermillServiceLogger) Trace(msg string, fields LogFields) {
	w.inner.Trace(msg, toWatermillFields(fields))
}

type entryServiceLogger[T EntryLoggerAdapter[T]] struct {
	entry T
}

func (e *entryServiceLogger[T]) With(fields LogFields) ServiceLogger {
	if len(fields) == 0 {
		return e
	}
	return &entryServiceLogger[T]{entry: applyEntryFields(e.entry, fields)}
}

func (e *entryServiceLogger[T]) Debug(msg string, fields LogFields) {
	applyEntryFields(e.entry, fields).Debug(msg)
}

func (e *entryServiceLogger[T]) Info(msg string, fields LogFields) {
	applyEntryFields(e.entry, fields).Info(msg)
}

func (e *entryServiceLogger[T]) Error(msg string, err error, fields LogFields) {
	logger := applyEntryFields(e.entry, fields)
	if err != nil {
		logger = logger.WithError(err)
	}
	logger.Error(msg)
}

func (e *entryServiceLogger[T]) Trace(msg string, fields LogFields) {
	applyEntryFields(e.entry, fields).Trace(msg)
}

type routerLogger struct {
	base ServiceLogger
}

func (r *routerLogger) Error(msg string, err error, fields watermill.LogFields) {
	r.base.Error(msg, err, fromWatermillFields(fields))
}

func (r *routerLogger) Info(msg string, fields watermill.LogFields) {
	r.base.Info(msg, fromWatermillFields(fields))
}

func (r *routerLogger) Debug(msg string, fields watermill.LogFields) {
	r.base.Debug(msg, fromWatermillFields(fields))
}

func (r *routerLogger) Trace(msg string, fields watermill.LogFields) {
	r.base.Trace(msg, fromWatermillFields(fields))
}

func (r *routerLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &routerLogger{base: r.base.With(fromWatermillFields(fields))}
}

func toWatermillFields(fields LogFields) watermill.LogFields {
	if len(fields) == 0 {
		return nil
	}
	return watermill.LogFields(fields)
}

func fromWatermillFields(fields watermill.LogFields) LogFields {
	if len(fields) == 0 {
		return nil
	}
	return LogFields(fields)
}

func applyEntryFields[T EntryLoggerAdapter[T]](entry T, fields LogFields) T {
	if len(fields) == 0 || any(entry) == nil {
		return entry
	}
	for key, value := range fields {
		entry = entry.WithField(key, value)
	}
	return entry
}
