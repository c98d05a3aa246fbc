package forward

import (
	"log"
	"os"
	"sync/atomic"
)

var internalLogger atomic.Value

func init() {
	internalLogger.Store(log.New(os.Stderr, "[forward] ", log.LstdFlags))
}

// InternalLogger returns the Logger used for the library's own diagnostics,
// such as the line emitted for each send retry. Replacing or silencing it
// never affects delivery behavior.
func InternalLogger() *log.Logger { return internalLogger.Load().(*log.Logger) }

// SetInternalLogger makes l the internal logger.
func SetInternalLogger(l *log.Logger) {
	internalLogger.Store(l)
}
