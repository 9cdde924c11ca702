package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init configures the global zerolog logger. Production gets JSON on stdout,
// everything else a colorized console writer on stderr.
func Init(environment string) {
	Configure(environment, nil)
}

// Configure is Init with an explicit output, mostly for tests.
func Configure(environment string, out io.Writer) {
	level := zerolog.InfoLevel
	if environment == "production" {
		if out == nil {
			out = os.Stdout
		}
		log.Logger = zerolog.New(out).With().Timestamp().Logger()
	} else {
		if out == nil {
			out = os.Stderr
		}
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339})
		level = zerolog.DebugLevel
	}

	zerolog.SetGlobalLevel(level)

	// Add a hook to include the caller's file and line number
	log.Logger = log.With().Caller().Logger()
}
