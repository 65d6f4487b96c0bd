package logging

import "github.com/charmbracelet/log"

// Component adapts a charmbracelet logger to the string-typed structured
// logging interfaces the internal packages declare (Debug/Info/Warn/Error
// with a string message). charmbracelet/log takes interface{} messages, so
// *log.Logger does not satisfy those interfaces directly.
type Component struct {
	l *log.Logger
}

// Wrap returns a Component logger with the given prefix. Call Setup first
// so the underlying logger inherits the right level and formatter.
func Wrap(component string) *Component {
	return &Component{l: New(component)}
}

// WrapLogger adapts an existing logger (useful in tests with a custom
// output or level).
func WrapLogger(l *log.Logger) *Component {
	return &Component{l: l}
}

func (c *Component) Debug(msg string, keyvals ...interface{}) { c.l.Debug(msg, keyvals...) }
func (c *Component) Info(msg string, keyvals ...interface{})  { c.l.Info(msg, keyvals...) }
func (c *Component) Warn(msg string, keyvals ...interface{})  { c.l.Warn(msg, keyvals...) }
func (c *Component) Error(msg string, keyvals ...interface{}) { c.l.Error(msg, keyvals...) }
