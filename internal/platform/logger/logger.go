package logger

import (
	"log/slog"
	"os"
)

// New returns the process logger: JSON to stdout so log aggregation can parse
// attributes without transformation.
func New() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, nil))
}
