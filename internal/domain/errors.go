package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrUsageNotFound   = errors.New("usage record not found")

	// Provider error categories. Callers match with errors.Is; the
	// concrete provider message stays attached via wrapping.
	ErrResourceExhausted = errors.New("model quota exhausted")
	ErrSafetyViolation   = errors.New("content blocked by safety filters")
	ErrInvalidArgument   = errors.New("invalid request")
	ErrNetwork           = errors.New("network failure")
	ErrInternal          = errors.New("internal provider error")
)

// QuotaExceededError is raised before a provider call when the user's
// daily token budget is spent. It is user-facing and actionable.
type QuotaExceededError struct {
	Tier        Tier
	Limit       int64
	Used        int64
	UpgradeHint string
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("daily token quota exceeded: used %d of %d (%s tier). %s",
		e.Used, e.Limit, e.Tier, e.UpgradeHint)
}

// ToolExecutionError wraps a failure inside a tool implementation. The
// engine never propagates it to the caller; it is serialized back into
// the conversation so the model can recover.
type ToolExecutionError struct {
	Tool string
	Err  error
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("tool %q failed: %v", e.Tool, e.Err)
}

func (e *ToolExecutionError) Unwrap() error { return e.Err }

// ClassifyProviderError buckets a raw provider error into one of the
// categories above by substring, since provider SDKs do not expose
// stable error codes across backends. Unrecognized errors land in
// ErrInternal.
func ClassifyProviderError(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "quota", "resource_exhausted", "resource exhausted", "429", "rate limit"):
		return fmt.Errorf("%w: %v", ErrResourceExhausted, err)
	case containsAny(msg, "safety", "blocked", "prohibited content"):
		return fmt.Errorf("%w: %v", ErrSafetyViolation, err)
	case containsAny(msg, "invalid_argument", "invalid argument", "400", "malformed"):
		return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	case containsAny(msg, "connection refused", "connection reset", "timeout", "deadline exceeded", "unavailable", "503", "no such host"):
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	default:
		return fmt.Errorf("%w: %v", ErrInternal, err)
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
