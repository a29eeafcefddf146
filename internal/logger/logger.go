// Package logger configures the process-wide zerolog logger.
package logger

import (
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"
)

var (
	mu   sync.Mutex
	file *os.File
)

// ParseLevel maps the config names to zerolog levels. Unknown names mean debug.
func ParseLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.DebugLevel
	}
}

// Init initializes the global logger. Console output goes to stderr so it
// never mixes with the transcript on stdout; colors only on a terminal.
// When logFile is set, JSON lines are appended to it as well.
func Init(level string, logFile string) error {
	console := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: "15:04:05",
		NoColor:    !term.IsTerminal(int(os.Stderr.Fd())),
	}
	return initWith(level, console, logFile)
}

func initWith(level string, console io.Writer, logFile string) error {
	mu.Lock()
	defer mu.Unlock()

	writers := []io.Writer{console}
	var f *os.File
	if logFile != "" {
		var err error
		f, err = os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return err
		}
		writers = append(writers, f)
	}
	if file != nil {
		file.Close()
	}
	file = f

	zerolog.SetGlobalLevel(ParseLevel(level))
	log.Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).With().Timestamp().Logger()
	return nil
}

// Close releases the log file, if any.
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if file == nil {
		return nil
	}
	err := file.Close()
	file = nil
	return err
}
