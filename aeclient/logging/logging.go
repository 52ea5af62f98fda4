package logging

import (
	"io"

	internal "go-aeclient/aeclient/internal/logging"
)

// Re-export Logger and helpers for external packages and the CLI

type Logger = internal.Logger
type LogLevel = internal.LogLevel
type LogField = internal.LogField
type SinkConfig = internal.SinkConfig

var (
	String     = internal.String
	Int        = internal.Int
	Int64      = internal.Int64
	Bool       = internal.Bool
	Duration   = internal.Duration
	ErrorField = internal.ErrorField
	Any        = internal.Any
)

const (
	Silent LogLevel = internal.Silent
	Error  LogLevel = internal.Error
	Warn   LogLevel = internal.Warn
	Info   LogLevel = internal.Info
)

func NewLogger(w io.Writer, cfg SinkConfig) Logger { return internal.NewLogger(w, cfg) }
func NewNopLogger() Logger                         { return internal.NewNopLogger() }
