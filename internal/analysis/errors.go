package analysis

import (
	"errors"
	"fmt"

	"github.com/MGASALUCAS/deepxray/internal/model"
)

// Category tags a failure with the diagnosis label it maps to. Keeping the
// category on the error value lets the orchestrator pick the label without
// caring which pipeline stage raised it.
type Category int

const (
	// CategoryProcessing covers image decode errors and loader exhaustion.
	CategoryProcessing Category = iota
	// CategoryModelMissing means the model artifact is absent on disk.
	CategoryModelMissing
	// CategoryRuntime means the inference runtime itself is unavailable.
	CategoryRuntime
	// CategoryUnknown covers anything not classified above.
	CategoryUnknown
)

func (c Category) String() string {
	switch c {
	case CategoryProcessing:
		return "processing"
	case CategoryModelMissing:
		return "model-missing"
	case CategoryRuntime:
		return "runtime"
	default:
		return "unknown"
	}
}

// Diagnosis returns the result label for this failure category.
func (c Category) Diagnosis() string {
	switch c {
	case CategoryProcessing:
		return DiagnosisFailed
	case CategoryModelMissing:
		return DiagnosisModelMissing
	case CategoryRuntime:
		return DiagnosisUnavailable
	default:
		return DiagnosisError
	}
}

// CategoryError carries a failure category alongside its cause.
type CategoryError struct {
	Category Category
	Err      error
}

func (e *CategoryError) Error() string {
	return fmt.Sprintf("%s: %v", e.Category, e.Err)
}

func (e *CategoryError) Unwrap() error { return e.Err }

func categorize(c Category, err error) *CategoryError {
	return &CategoryError{Category: c, Err: err}
}

// Classify maps an arbitrary pipeline error to its failure category. Tagged
// errors keep their category; runtime-unavailable sentinels from the model
// package map to CategoryRuntime; everything else is a processing failure.
func Classify(err error) Category {
	var ce *CategoryError
	if errors.As(err, &ce) {
		return ce.Category
	}
	if errors.Is(err, model.ErrRuntimeUnavailable) {
		return CategoryRuntime
	}
	return CategoryProcessing
}
