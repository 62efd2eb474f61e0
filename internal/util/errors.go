package util

import "errors"

var (
	ErrUserNotFound     = errors.New("user not found")
	ErrAttemptNotFound  = errors.New("attempt not found")
	ErrNoActiveSession  = errors.New("no active exam session")
	ErrAttemptNotScored = errors.New("attempt has no result yet")
	ErrPermissionDenied = errors.New("permission denied")
)
