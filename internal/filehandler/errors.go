package filehandler

import "errors"

// IOError reports that an attached image could not be read or encoded.
type IOError struct {
	Op    string
	Cause error
}

func (e *IOError) Error() string {
	if e.Cause != nil {
		return "failed to read image: " + e.Op + ": " + e.Cause.Error()
	}
	return "failed to read image: " + e.Op
}

func (e *IOError) Unwrap() error { return e.Cause }

// RescaleError reports that an image could not be decoded or redrawn at a new size.
type RescaleError struct {
	Op    string
	Cause error
}

func (e *RescaleError) Error() string {
	if e.Cause != nil {
		return "failed to rescale image: " + e.Op + ": " + e.Cause.Error()
	}
	return "failed to rescale image: " + e.Op
}

func (e *RescaleError) Unwrap() error { return e.Cause }

// IsIOError reports whether err is or wraps an *IOError.
func IsIOError(err error) bool {
	var e *IOError
	return errors.As(err, &e)
}

// IsRescaleError reports whether err is or wraps a *RescaleError.
func IsRescaleError(err error) bool {
	var e *RescaleError
	return errors.As(err, &e)
}
