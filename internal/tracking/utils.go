package tracking

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// extractErrorType returns the error.type attribute value, or "" for nil.
func extractErrorType(err error) string {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, context.Canceled):
		return "context.Canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "context.DeadlineExceeded"
	default:
		return fmt.Sprintf("%T", err)
	}
}

// refreshResult buckets a refresh outcome.
func refreshResult(err error) string {
	if err == nil {
		return "success"
	}
	return "failure"
}

// durationToSeconds converts d to float seconds as OTel expects.
func durationToSeconds(d time.Duration) float64 {
	return float64(d.Nanoseconds()) / 1e9
}
