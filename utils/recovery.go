package utils

import (
	"runtime/debug"
)

// RecoverFromPanic recovers from panics and logs them
func RecoverFromPanic(logger *Logger, context string) {
	if r := recover(); r != nil {
		logger.Error("panic recovered",
			"context", context,
			"panic", r,
			"stack", string(debug.Stack()),
		)
	}
}

// SafeGoWithError runs a goroutine with panic recovery and error handling
func SafeGoWithError(logger *Logger, context string, fn func() error, onError func(error)) {
	go func() {
		defer RecoverFromPanic(logger, context)
		if err := fn(); err != nil {
			logger.Error("background task failed", "context", context, "error", err)
			if onError != nil {
				onError(err)
			}
		}
	}()
}
