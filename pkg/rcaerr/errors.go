// Package rcaerr defines the error kinds surfaced by the attribution pipeline.
//
// Every failure is fatal for the run that produced it: callers receive one of
// the sentinels below wrapped with context and test for it with errors.Is.
package rcaerr

import (
	"errors"
	"fmt"
)

var (
	// ErrConfig reports an unknown method, policy or invalid parameter.
	ErrConfig = errors.New("config error")
	// ErrData reports malformed or degenerate input tables.
	ErrData = errors.New("data error")
	// ErrGraph reports a cyclic graph or a graph/table mismatch.
	ErrGraph = errors.New("graph error")
	// ErrShape reports a target node or frame layout that does not line up with the graph.
	ErrShape = errors.New("shape error")
	// ErrInsufficientData reports a subsample that would contain no rows.
	ErrInsufficientData = errors.New("insufficient data")
)

func wrap(kind error, format string, args []any) error {
	return fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...))
}

// Configf returns an ErrConfig with a formatted message.
func Configf(format string, args ...any) error { return wrap(ErrConfig, format, args) }

// Dataf returns an ErrData with a formatted message.
func Dataf(format string, args ...any) error { return wrap(ErrData, format, args) }

// Graphf returns an ErrGraph with a formatted message.
func Graphf(format string, args ...any) error { return wrap(ErrGraph, format, args) }

// Shapef returns an ErrShape with a formatted message.
func Shapef(format string, args ...any) error { return wrap(ErrShape, format, args) }

// Insufficientf returns an ErrInsufficientData with a formatted message.
func Insufficientf(format string, args ...any) error {
	return wrap(ErrInsufficientData, format, args)
}

// Kind returns the short name of the taxonomy error wrapped by err, or
// "internal" when err carries none of them.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrConfig):
		return "config"
	case errors.Is(err, ErrData):
		return "data"
	case errors.Is(err, ErrGraph):
		return "graph"
	case errors.Is(err, ErrShape):
		return "shape"
	case errors.Is(err, ErrInsufficientData):
		return "insufficient_data"
	default:
		return "internal"
	}
}
