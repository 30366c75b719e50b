package domain

import "errors"

var (
	ErrRoleConflict       = errors.New("another user is currently acting as customer, try again later")
	ErrNoBroadcaster      = errors.New("no active customer, try again later")
	ErrServiceUnavailable = errors.New("media service unavailable")
	ErrProtocol           = errors.New("invalid message")
	ErrCandidateQueueFull = errors.New("ice candidate queue is full")
)
