package job

import "errors"

var (
	ErrInvalidRequest   = errors.New("invalid request")
	ErrQueueUnavailable = errors.New("queue unavailable")
	ErrImageFetch       = errors.New("image fetch failed")
	ErrInference        = errors.New("inference failed")
	ErrPersistence      = errors.New("persistence failed")
	ErrNotFound         = errors.New("not found")
)
