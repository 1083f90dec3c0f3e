package smartrack

import "errors"

var (
	ErrInvalidInput   = errors.New("invalid input")
	ErrNotImplemented = errors.New("not implemented")
	ErrQueueStale     = errors.New("pending queue changed since drain")
	ErrLinkNotFound   = errors.New("link not found")
)
