package service

import "errors"

var (
	ErrInvalidInput   = errors.New("invalid input")
	ErrBatchTooLarge  = errors.New("batch exceeds maximum size")
	ErrUnparsedLine   = errors.New("log line did not match any pattern")
	ErrEventNotFound  = errors.New("event not found")
)

// MaxBatchSize bounds one batch submission.
const MaxBatchSize = 100
