package models

import (
	"errors"
)

var (
	ErrNotRetryable = errors.New("job is not in a retryable state")
)
