package observability

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger returns the process logger. Dev mode gets a console writer and debug level.
func NewLogger(env string) zerolog.Logger {
	dev := strings.EqualFold(env, "dev")
	level := zerolog.InfoLevel
	if dev {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano
	if dev {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).With().Timestamp().Str("svc", "farmrealm").Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Str("svc", "farmrealm").Logger()
}

// RoomLogger scopes a logger to one room actor.
func RoomLogger(base zerolog.Logger, roomID string) zerolog.Logger {
	return base.With().Str("room", roomID).Logger()
}
