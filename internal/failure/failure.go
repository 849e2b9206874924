// Package failure classifies pipeline errors so retry and abort decisions
// are made from one place.
package failure

import (
	"errors"
	"fmt"
)

// Class groups errors by how the pipeline must react to them.
type Class int

const (
	// Transient errors may succeed on another attempt: 5xx responses,
	// network drops, per-call timeouts, ffmpeg crashes.
	Transient Class = iota
	// Config errors are caused by the deployment or environment: missing
	// credentials, rejected API keys, exhausted quota, a full disk.
	Config
	// Input errors are caused by the request: malformed locators, missing or
	// private sources, invalid ranges.
	Input
	// Quality errors mean the model answered but the answer was unusable,
	// such as zero extracted hands. Retryable.
	Quality
	// Partial marks a recoverable defect inside an otherwise good result,
	// such as individual hands dropped during repair. Never escalated.
	Partial
)

func (c Class) String() string {
	switch c {
	case Transient:
		return "transient"
	case Config:
		return "config"
	case Input:
		return "input"
	case Quality:
		return "quality"
	case Partial:
		return "partial"
	}
	return fmt.Sprintf("class(%d)", int(c))
}

// Retryable reports whether another attempt could change the outcome.
func (c Class) Retryable() bool {
	return c == Transient || c == Quality
}

// ErrEmptyResult is returned when a model call succeeded but no valid hands
// survived repair.
var ErrEmptyResult = errors.New("extraction returned zero hands")

// Error is a classified error raised at a pipeline stage.
type Error struct {
	Class Class
	Stage string
	Err   error
}

func (e *Error) Error() string {
	if e.Stage == "" {
		return fmt.Sprintf("%s: %v", e.Class, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Stage, e.Class, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with an explicit class. A nil err yields nil.
func New(class Class, stage string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Class: class, Stage: stage, Err: err}
}

// Permanentf builds an Input-class error from a format string.
func Permanentf(stage, format string, args ...any) error {
	return &Error{Class: Input, Stage: stage, Err: fmt.Errorf(format, args...)}
}

// Transientf builds a Transient-class error from a format string.
func Transientf(stage, format string, args ...any) error {
	return &Error{Class: Transient, Stage: stage, Err: fmt.Errorf(format, args...)}
}

// Configf builds a Config-class error from a format string.
func Configf(stage, format string, args ...any) error {
	return &Error{Class: Config, Stage: stage, Err: fmt.Errorf(format, args...)}
}

// Wrap classifies err with Classify and tags it with stage. Already
// classified errors keep their class.
func Wrap(stage string, err error) error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		if fe.Stage == "" {
			fe.Stage = stage
		}
		return err
	}
	return &Error{Class: Classify(err), Stage: stage, Err: err}
}

// StageOf returns the stage recorded on the outermost classified error.
func StageOf(err error) string {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Stage
	}
	return ""
}
