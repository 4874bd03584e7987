package server

import (
	"errors"
	"strconv"
	"strings"
)

// parseLimit reads an optional positive page size. Zero means the service
// default; the service clamps large values.
func parseLimit(value string) (int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, nil
	}
	parsed, err := strconv.Atoi(trimmed)
	if err != nil {
		return 0, err
	}
	if parsed <= 0 {
		return 0, errors.New("invalid_limit")
	}
	return parsed, nil
}
