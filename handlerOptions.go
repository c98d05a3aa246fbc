package forward

import (
	"log/slog"
	"time"
)

// HandlerOptions are used to customize the forward slog.Handler.
//
// NB: The struct pointer options approach is used to be consistent with the
// `HandlerOptions` used by log/slog.
type HandlerOptions struct {

	// Level reports the minimum record level that will be logged. The handler
	// discards records with lower levels. If Level is nil, the handler
	// assumes LevelInfo. The handler calls Level.Level for each record
	// processed; to adjust the minimum level dynamically, use a LevelVar.
	Level slog.Leveler

	// TimeFormat controls how time values inside log content are rendered.
	// This does not affect the entry timestamp itself, whose representation
	// is fixed by the forward protocol. The default is time.RFC3339Nano.
	TimeFormat string

	// AddSource causes the handler to compute the source code position of the
	// log statement and add a SourceKey field to the record.
	AddSource bool
}

const defaultTimeFormat = time.RFC3339Nano

// DefaultHandlerOptions returns *HandlerOptions with all default values.
func DefaultHandlerOptions() *HandlerOptions {
	return &HandlerOptions{
		Level:      slog.LevelInfo,
		TimeFormat: defaultTimeFormat,
	}
}

// resolve ensures that all options have valid values.
func (o *HandlerOptions) resolve() {
	if o.Level == nil {
		o.Level = slog.LevelInfo
	}
	if len(o.TimeFormat) == 0 {
		o.TimeFormat = defaultTimeFormat
	}
}
