package core

// Logger is any leveled application logger.
// args may carry errors and extra context values; implementations decide
// what to do with them (eg. report stack traces, attach the acting user).
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
	Fatal(msg string, args ...interface{})
}
