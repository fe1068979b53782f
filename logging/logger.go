package logging

import (
	"io"

	"github.com/phuslu/log"
)

func CreateDebugLogger() *log.Logger {
	return &log.Logger{
		Level:  log.DebugLevel,
		Caller: 0,
		Writer: &log.ConsoleWriter{
			ColorOutput:    false,
			EndWithMessage: true,
		},
	}
}

// CreateSilentLogger swallows all output. Used by tests that exercise
// failure paths on purpose and do not want the noise.
func CreateSilentLogger() *log.Logger {
	return &log.Logger{
		Level:  log.PanicLevel,
		Writer: &log.IOWriter{Writer: io.Discard},
	}
}
