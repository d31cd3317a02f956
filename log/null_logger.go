package log

// NullLogger discards every message. The zero value is ready to use, and
// test loggers embed it to pick up the levels they do not record.
type NullLogger struct{}

var _ Logger = NullLogger{}

// NewNullLogger returns a logger that discards everything.
func NewNullLogger() NullLogger {
	return NullLogger{}
}

func (NullLogger) Debug(string, ...any) {}
func (NullLogger) Info(string, ...any)  {}
func (NullLogger) Warn(string, ...any)  {}
func (NullLogger) Error(string, ...any) {}

// With returns the same discarding logger; attributes are dropped.
func (l NullLogger) With(...any) Logger { return l }
