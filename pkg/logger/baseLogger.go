package logger

import (
	"fmt"
	"io"
	"log"
	"sync"
)

const (
	levelInfo  = ""
	levelWarn  = "WARN "
	levelError = "ERROR "
)

type BaseLogger struct {
	mu      *sync.Mutex
	prefix  string
	writer  io.Writer
	console bool
}

// NewLogger пишет в writer и дублирует сообщения в консоль.
func NewLogger(writer io.Writer, prefix string) *BaseLogger {
	return &BaseLogger{
		mu:      &sync.Mutex{},
		writer:  writer,
		prefix:  prefix,
		console: true,
	}
}

// Discard returns a logger that drops everything. Used by tests and dry runs.
func Discard() *BaseLogger {
	return &BaseLogger{mu: &sync.Mutex{}, writer: io.Discard}
}

func (l *BaseLogger) Log(format string, v ...interface{}) {
	l.write(levelInfo, format, v...)
}

func (l *BaseLogger) Warn(format string, v ...interface{}) {
	l.write(levelWarn, format, v...)
}

func (l *BaseLogger) Error(format string, v ...interface{}) {
	l.write(levelError, format, v...)
}

func (l *BaseLogger) write(level, format string, v ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	message := level + l.prefix + " " + fmt.Sprintf(format, v...)
	if l.writer != nil {
		fmt.Fprintln(l.writer, message)
	}
	if l.console {
		log.Print(message)
	}
}

// WithPrefix shares the writer and the lock with the parent logger.
func (l *BaseLogger) WithPrefix(extraPrefix string) Logger {
	prefix := extraPrefix
	if l.prefix != "" {
		prefix = l.prefix + " " + extraPrefix
	}
	return &BaseLogger{
		mu:      l.mu,
		writer:  l.writer,
		prefix:  prefix,
		console: l.console,
	}
}

func (l *BaseLogger) SetWriter(writer io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.writer = writer
}

// SetConsole turns mirroring to the std log package on or off.
func (l *BaseLogger) SetConsole(on bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.console = on
}
