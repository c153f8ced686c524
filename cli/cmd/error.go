package cmd

import "github.com/ardnew/tagscript/lang"

// Error is the engine's error type; command sentinels usually wrap engine
// errors.
type Error = lang.Error

// NewError returns a sentinel command error.
func NewError(msg string) *Error { return lang.NewError(msg) }

var (
	ErrRender      = NewError("render template")
	ErrCheck       = NewError("template check failed")
	ErrWriteOutput = NewError("write output")
	ErrYAMLMarshal = NewError("marshal YAML")
	ErrWriteConfig = NewError("write configuration file")
	ErrFileExists  = NewError("file exists (use --force to overwrite)")
)
