package blocking

import "errors"

var (
	// ErrAlreadyBlocked is returned when a manual block targets an IP
	// that already has an active block.
	ErrAlreadyBlocked = errors.New("ip already has an active block")

	// ErrNotBlocked is returned when an unblock targets an IP with no
	// active block.
	ErrNotBlocked = errors.New("ip has no active block")
)
