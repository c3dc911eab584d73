// Package logger provides the structured logging used across the segmentation
// pipeline. Library packages accept the Logger interface so callers can plug
// in the zerolog console logger or silence output entirely with Nop.
package logger

// Logger provides structured logging with a component name and free-form fields.
type Logger interface {
	Info(component, message string, fields map[string]interface{})
	Error(component string, err error, fields map[string]interface{})
	Warning(component, message string, fields map[string]interface{})
	Debug(component, message string, fields map[string]interface{})
}

type nopLogger struct{}

// Nop returns a Logger that discards everything.
func Nop() Logger { return nopLogger{} }

func (nopLogger) Info(string, string, map[string]interface{})    {}
func (nopLogger) Error(string, error, map[string]interface{})    {}
func (nopLogger) Warning(string, string, map[string]interface{}) {}
func (nopLogger) Debug(string, string, map[string]interface{})   {}

// OrNop returns l, or a Nop logger when l is nil.
func OrNop(l Logger) Logger {
	if l == nil {
		return Nop()
	}
	return l
}
