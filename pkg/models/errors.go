package models

import "errors"

var (
	// ErrNotFound is returned when a video, key, task or file does not exist
	ErrNotFound = errors.New("not found")

	// ErrAccessDenied is returned when the caller neither owns the video nor holds a live grant
	ErrAccessDenied = errors.New("access denied")

	// ErrInvalidParameter is returned for bad codec, resolution or quality values
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrStorage wraps backend I/O failures not otherwise classified
	ErrStorage = errors.New("storage error")

	// ErrTaskNotClaimed is returned when completing or failing a task that is not processing
	ErrTaskNotClaimed = errors.New("task is not in processing state")
)
