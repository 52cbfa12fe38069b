package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// FileName is the diagnostic log inside the logs directory.
const FileName = "opsflow.log"

// Logger appends structured JSON lines to .opsflow/logs/opsflow.log so users
// can inspect failures after the dashboard closes. It never writes to the
// terminal, which belongs to the TUI.
type Logger struct {
	base   *zap.Logger
	sugar  *zap.SugaredLogger
	closer io.Closer
}

// New creates (or reuses) the rotated log file under logDir.
func New(logDir string) (*Logger, error) {
	if err := os.MkdirAll(logDir, 0o700); err != nil {
		return nil, fmt.Errorf("logging: ensure log dir: %w", err)
	}
	rotator := &lumberjack.Logger{
		Filename:   filepath.Join(logDir, FileName),
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     14, // days
		Compress:   true,
	}
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.AddSync(rotator), zap.DebugLevel)
	l := NewWithCore(core)
	l.closer = rotator
	return l, nil
}

// NewWithCore wraps an existing zap core. Tests pass an observer core.
func NewWithCore(core zapcore.Core) *Logger {
	base := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
	return &Logger{base: base, sugar: base.Sugar()}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return NewWithCore(zapcore.NewNopCore())
}

// Named returns a child logger tagged with a component name.
func (l *Logger) Named(component string) *Logger {
	if l == nil || l.base == nil {
		return Nop()
	}
	child := l.base.Named(component)
	return &Logger{base: child, sugar: child.Sugar()}
}

// Close flushes buffered entries and releases the file handle.
func (l *Logger) Close() error {
	if l == nil || l.base == nil {
		return nil
	}
	_ = l.base.Sync()
	if l.closer != nil {
		return l.closer.Close()
	}
	return nil
}

// Printf writes a single line. Lines that read as failures are recorded at
// warn level so they stand out when filtering the JSON log.
func (l *Logger) Printf(format string, args ...any) {
	if l == nil || l.sugar == nil {
		return
	}
	line := strings.TrimRight(fmt.Sprintf(format, args...), "\n")
	if looksLikeFailure(line) {
		l.sugar.Warn(line)
		return
	}
	l.sugar.Info(line)
}

// Errorf records an error-level line.
func (l *Logger) Errorf(format string, args ...any) {
	if l == nil || l.sugar == nil {
		return
	}
	l.sugar.Error(strings.TrimRight(fmt.Sprintf(format, args...), "\n"))
}

func looksLikeFailure(line string) bool {
	lower := strings.ToLower(line)
	for _, marker := range []string{"failed", "error", "panicked", "rejected"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
