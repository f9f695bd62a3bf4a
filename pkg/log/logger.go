package log

// Logger receives protocol events. Implementations must be safe for
// concurrent use and should not block: events are emitted on the
// transport's read and write paths.
type Logger interface {
	Log(event Event)
}

// NoopLogger discards all events. The zero value is ready to use.
type NoopLogger struct{}

// Log discards the event.
func (NoopLogger) Log(Event) {}

// LoggerFunc adapts a function to a Logger.
type LoggerFunc func(Event)

// Log calls f(event).
func (f LoggerFunc) Log(event Event) { f(event) }

// Tee returns a Logger that forwards every event to each of loggers in
// order. Nil and NoopLogger entries are dropped; with none left the result
// is a NoopLogger, with one left it is that logger itself.
func Tee(loggers ...Logger) Logger {
	var out tee
	for _, l := range loggers {
		switch l.(type) {
		case nil, NoopLogger, *NoopLogger:
			continue
		}
		out = append(out, l)
	}
	switch len(out) {
	case 0:
		return NoopLogger{}
	case 1:
		return out[0]
	}
	return out
}

type tee []Logger

func (t tee) Log(event Event) {
	for _, l := range t {
		l.Log(event)
	}
}
