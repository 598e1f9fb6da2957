package zerolog

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// New builds a core.Logger backed by zerolog. With jsonFormat the logger
// emits machine-readable JSON lines; otherwise a console writer.
func New(level, dateTimeLayout string, jsonFormat bool) (*ZerologAdapter, error) {
	logMode, err := zerolog.ParseLevel(level)
	if err != nil {
		return nil, err
	}

	zerolog.SetGlobalLevel(logMode)

	logger := log.Logger
	if !jsonFormat {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: dateTimeLayout,
		}
		logger = log.Output(output)
	}

	logger = logger.With().Timestamp().Logger()

	return &ZerologAdapter{&logger}, nil
}
