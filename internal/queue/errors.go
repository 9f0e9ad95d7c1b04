package queue

import "errors"

var (
	ErrQueueClosed        = errors.New("queue: closed")
	ErrItemNotFound       = errors.New("queue: no such item")
	ErrMaxRetriesExceeded = errors.New("queue: retries exhausted")
)
