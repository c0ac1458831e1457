package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound        = errors.New("entity not found")
	ErrAlreadyExists   = errors.New("entity already exists")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrOperationFailed = errors.New("operation failed")
	ErrReadDatabaseRow = errors.New("failed to read database row")

	// Chat
	ErrChatNotActive = errors.New("chat is not active")
	ErrEmptyReply    = errors.New("model returned an empty reply")
	ErrChatBusy      = errors.New("another chat operation is in progress")

	// Token accounting
	ErrUnknownModel = errors.New("unknown model")
	ErrRateLimited  = errors.New("rate limit exceeded")
	ErrUnauthorized = errors.New("unauthorized")
)
