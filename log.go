// Structured logging for store lifecycle events (open, recovery,
// reorganization, defrag) that an embedder would want in an operational log
// even though the hot path (Get/Set/Remove) stays silent.
//
// Per-store rather than global: a HashStore logs through whatever
// zerolog.Logger was passed in HashStoreOptions.Logger (zerolog.Nop() if
// left unset), matching cuemby-warren's pkg/log convention of a
// Str("component", ...) child logger per subsystem, but without this
// package ever touching process-wide logging state itself.
package corvus

import (
	"os"

	"github.com/rs/zerolog"
)

// NewStderrLogger builds the conventional human-readable logger embedders
// reach for during local development.
func NewStderrLogger(level zerolog.Level) zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()
}
