package logging

import "github.com/rs/zerolog"

// DispatcherLogger satisfies dispatcher.Logger on top of zerolog. Entries
// carry component=dispatcher.
type DispatcherLogger struct {
	logger zerolog.Logger
}

// NewDispatcherLogger wraps logger.
func NewDispatcherLogger(logger zerolog.Logger) *DispatcherLogger {
	return &DispatcherLogger{logger: logger.With().Str("component", "dispatcher").Logger()}
}

func (l *DispatcherLogger) Debug(msg string, keysAndValues ...any) {
	emit(l.logger.Debug(), msg, keysAndValues)
}

func (l *DispatcherLogger) Info(msg string, keysAndValues ...any) {
	emit(l.logger.Info(), msg, keysAndValues)
}

func (l *DispatcherLogger) Error(msg string, keysAndValues ...any) {
	emit(l.logger.Error(), msg, keysAndValues)
}

// emit writes slog style pairs. A trailing key without value is dropped,
// and an "error" pair goes through Err.
func emit(e *zerolog.Event, msg string, kv []any) {
	if e == nil {
		return
	}
	pairs := make([]any, 0, len(kv))
	for i := 0; i+1 < len(kv); i += 2 {
		if err, ok := kv[i+1].(error); ok && kv[i] == zerolog.ErrorFieldName {
			e = e.Err(err)
			continue
		}
		pairs = append(pairs, kv[i], kv[i+1])
	}
	e.Fields(pairs).Msg(msg)
}
