package recorder

import "errors"

var (
	ErrAlreadyRecording = errors.New("recording already active")
	ErrNotRecording     = errors.New("recording not active")
	ErrNoSession        = errors.New("no finished session")
)
