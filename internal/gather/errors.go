package gather

import (
	"errors"
	"fmt"
)

// ErrInvalidPlan is returned when the manifest cannot be turned into a safe
// set of artifacts.
var ErrInvalidPlan = errors.New("invalid gather plan")

// SourceReadError reports a matched read file that could not be listed,
// opened or read.
type SourceReadError struct {
	Group    string
	Barcode  int
	SampleID string
	Path     string
	Err      error
}

func (e *SourceReadError) Error() string {
	return fmt.Sprintf("read %s for sample %s (group %s, barcode %d): %v",
		e.Path, e.SampleID, e.Group, e.Barcode, e.Err)
}

func (e *SourceReadError) Unwrap() error { return e.Err }

// OutputWriteError reports an artifact that could not be created, written
// or finalized.
type OutputWriteError struct {
	Group    string
	Barcode  int
	SampleID string
	Key      string
	Err      error
}

func (e *OutputWriteError) Error() string {
	return fmt.Sprintf("write %s for sample %s (group %s, barcode %d): %v",
		e.Key, e.SampleID, e.Group, e.Barcode, e.Err)
}

func (e *OutputWriteError) Unwrap() error { return e.Err }
