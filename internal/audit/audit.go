package audit

import (
	"os"
	"sync/atomic"

	"go.uber.org/zap"
)

var enabled atomic.Bool

func init() {
	RefreshFromEnv()
}

// Set toggles audit output.
func Set(on bool) {
	enabled.Store(on)
}

// Enabled reports whether audit output is on.
func Enabled() bool {
	return enabled.Load()
}

// RefreshFromEnv re-reads SMSBRIDGE_DEBUG; "1" turns auditing on.
func RefreshFromEnv() {
	Set(os.Getenv("SMSBRIDGE_DEBUG") == "1")
}

// Log writes an audit entry through the global zap logger when enabled.
func Log(msg string, fields ...zap.Field) {
	if !Enabled() {
		return
	}
	zap.L().Named("audit").Info(msg, fields...)
}
