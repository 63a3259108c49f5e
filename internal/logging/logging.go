// Package logging hands out the loggers every component is constructed with.
package logging

import (
	"fmt"
	"sync"

	"github.com/tliron/commonlog"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
)

// Logger is the subset of commonlog.Logger the server relies on.
type Logger interface {
	Debugf(format string, values ...any)
	Infof(format string, values ...any)
	Warningf(format string, values ...any)
	Errorf(format string, values ...any)
}

// Sink selects where messages end up.
type Sink int

const (
	// Console writes through commonlog only (stderr or --logfile).
	Console Sink = iota
	// Client additionally forwards messages to the editor via window/logMessage.
	Client
)

// Configure sets up commonlog once for the process. An empty logfile keeps
// the default stderr output.
func Configure(verbosity int, logfile string) {
	if logfile == "" {
		commonlog.Configure(verbosity, nil)
		return
	}
	commonlog.Configure(verbosity, &logfile)
}

// New returns the logger for one component.
func New(sink Sink, name string) Logger {
	base := commonlog.GetLogger("dts-lsp." + name)
	if sink == Console {
		return base
	}
	return &clientLogger{base: base, forwarder: defaultForwarder}
}

// Attach makes every Client logger forward to notify from now on.
func Attach(notify glsp.NotifyFunc) {
	defaultForwarder.attach(notify)
}

// Detach stops forwarding, typically at shutdown.
func Detach() {
	defaultForwarder.attach(nil)
}

var defaultForwarder = &forwarder{}

type forwarder struct {
	mu     sync.RWMutex
	notify glsp.NotifyFunc
}

func (f *forwarder) attach(notify glsp.NotifyFunc) {
	f.mu.Lock()
	f.notify = notify
	f.mu.Unlock()
}

func (f *forwarder) send(kind protocol.MessageType, msg string) {
	f.mu.RLock()
	notify := f.notify
	f.mu.RUnlock()
	if notify == nil {
		return
	}
	notify(protocol.ServerWindowLogMessage, protocol.LogMessageParams{
		Type:    kind,
		Message: msg,
	})
}

type clientLogger struct {
	base      Logger
	forwarder *forwarder
}

func (l *clientLogger) Debugf(format string, values ...any) {
	l.base.Debugf(format, values...)
}

func (l *clientLogger) Infof(format string, values ...any) {
	l.base.Infof(format, values...)
	l.forwarder.send(protocol.MessageTypeInfo, fmt.Sprintf(format, values...))
}

func (l *clientLogger) Warningf(format string, values ...any) {
	l.base.Warningf(format, values...)
	l.forwarder.send(protocol.MessageTypeWarning, fmt.Sprintf(format, values...))
}

func (l *clientLogger) Errorf(format string, values ...any) {
	l.base.Errorf(format, values...)
	l.forwarder.send(protocol.MessageTypeError, fmt.Sprintf(format, values...))
}

// Discard returns a logger that drops everything.
func Discard() Logger {
	return discard{}
}

type discard struct{}

func (discard) Debugf(string, ...any)   {}
func (discard) Infof(string, ...any)    {}
func (discard) Warningf(string, ...any) {}
func (discard) Errorf(string, ...any)   {}
