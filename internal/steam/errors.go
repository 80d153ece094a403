package steam

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotFound     = errors.New("not found")
	ErrRateLimited  = errors.New("rate limited")
	ErrTransient    = errors.New("transient failure")
	ErrMalformed    = errors.New("malformed response")
)

// Wrap builds an error message that names the endpoint and operation while
// tagging it with marker for errors.Is classification. The marker should be
// one of the exported sentinels above.
func Wrap(marker error, endpoint, operation string, err error) error {
	detail := buildDetail(endpoint, operation)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Retryable reports whether a later attempt may succeed.
func Retryable(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrRateLimited)
}

func buildDetail(endpoint, operation string) string {
	parts := make([]string, 0, 2)
	if endpoint = strings.TrimSpace(endpoint); endpoint != "" {
		parts = append(parts, endpoint)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if len(parts) == 0 {
		return "steam request"
	}
	return strings.Join(parts, ": ")
}
