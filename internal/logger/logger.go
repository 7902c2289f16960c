package logger

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the process-wide structured logger. It is zerolog underneath so
// call sites use the event-chain style directly.
type Logger = zerolog.Logger

// New builds a logger writing JSON lines to stderr at the given level.
// Unknown levels fall back to info.
func New(level string) *Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.TimeFieldFormat = time.RFC3339Nano
	l := zerolog.New(os.Stderr).Level(lvl).With().Timestamp().Logger()
	return &l
}
