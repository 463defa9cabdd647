package utils

import (
	"context"
	"time"
)

// DefaultTimeout bounds single database round trips made by request handlers.
const DefaultTimeout = 10 * time.Second

// WithTimeout creates a context with the default timeout
func WithTimeout(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, DefaultTimeout)
}
