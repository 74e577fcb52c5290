package service

import "errors"

var (
	// ErrSourceMissing means the input file was gone before the encoder
	// was ever started. Fatal, never retried.
	ErrSourceMissing = errors.New("source file missing")
	// ErrEncodeFailed means the encoder exited non-zero. The wrapped
	// message carries the tail of its stderr.
	ErrEncodeFailed = errors.New("encode failed")
	// ErrCancelled means the encoder process was terminated before
	// producing an exit status, either by operator cancel or an external
	// kill.
	ErrCancelled = errors.New("transcode cancelled")

	ErrMediaNotFound    = errors.New("media item not found")
	ErrAlreadyConverted = errors.New("media item already converted")
	ErrJobAlreadyActive = errors.New("a transcode job is already active for this media item")
	ErrJobNotFound      = errors.New("job not found")
	ErrJobNotActive     = errors.New("job is not active")
	ErrNotMp4           = errors.New("source must be an mp4 file")
)
