package coordinator

import (
	"errors"
	"strconv"
)

var (
	errIdempotencyKeyRequired = errors.New("Idempotency-Key header is required")
	errInvalidBotID           = errors.New("bot id must be a uuid")
	errInvalidJobID           = errors.New("job id must be a uuid")
	errAdminQueryNotSelect    = errors.New("admin query must be a single SELECT statement")
)

func parsePositiveInt(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, errors.New("expected a non-negative integer")
	}
	return n, nil
}
