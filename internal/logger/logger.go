// Package logger provides leveled structured logging.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// FileOptions configures rotating file output.
type FileOptions struct {
	Path       string
	MaxSizeMB  int
	MaxAgeDays int
	MaxBackups int
	Compress   bool
}

var defaultLogger atomic.Pointer[logrus.Logger]

func init() {
	l := logrus.New()
	l.SetOutput(io.Discard)
	defaultLogger.Store(l)
}

// Init initializes the default logger with the specified level and format.
// Unknown levels fall back to info; format is "json" or "text".
func Init(level string, format string) {
	l := logrus.New()
	l.SetOutput(os.Stderr)

	lvl, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)

	if strings.ToLower(format) == "text" {
		l.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339,
		})
	} else {
		l.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime: "timestamp",
				logrus.FieldKeyMsg:  "message",
			},
		})
	}
	defaultLogger.Store(l)
}

// SetFile additionally writes logs to a size-rotated file.
func SetFile(opts FileOptions) error {
	if opts.Path == "" {
		return fmt.Errorf("log file path is empty")
	}
	if opts.MaxSizeMB <= 0 {
		opts.MaxSizeMB = 100
	}
	l := defaultLogger.Load()
	l.SetOutput(io.MultiWriter(os.Stderr, &lumberjack.Logger{
		Filename:   opts.Path,
		MaxSize:    opts.MaxSizeMB,
		MaxAge:     opts.MaxAgeDays,
		MaxBackups: opts.MaxBackups,
		Compress:   opts.Compress,
	}))
	return nil
}

// SetOutput redirects the default logger, mainly for tests.
func SetOutput(w io.Writer) {
	defaultLogger.Load().SetOutput(w)
}

func Debug(format string, args ...interface{}) {
	defaultLogger.Load().Debugf(format, args...)
}

func Info(format string, args ...interface{}) {
	defaultLogger.Load().Infof(format, args...)
}

func Warn(format string, args ...interface{}) {
	defaultLogger.Load().Warnf(format, args...)
}

func Error(format string, args ...interface{}) {
	defaultLogger.Load().Errorf(format, args...)
}

func Fatal(format string, args ...interface{}) {
	defaultLogger.Load().Fatalf(format, args...)
}
