package core

import (
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"golang.org/x/term"
)

// SetupLogging configures the default slog logger. Verbosity maps
// repeated -v flags to levels: 0 = info, 1+ = debug.
func SetupLogging(verbose int) {
	level := slog.LevelInfo
	if verbose > 0 {
		level = slog.LevelDebug
	}

	handler := tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.DateTime,
		NoColor:    !term.IsTerminal(int(os.Stderr.Fd())),
	})

	slog.SetDefault(slog.New(handler))
}
