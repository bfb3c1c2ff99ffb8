package session

import (
	"errors"
	"fmt"

	"github.com/johbar/ocr-workbench/pkg/tesswrap"
)

// Errors returned by a Controller. Every error returned by its methods wraps exactly one of them;
// the underlying engine error, if any, is wrapped as well.
var (
	// ErrEngineInit means the engine handle could not be created
	ErrEngineInit = errors.New("engine could not be initialized")
	// ErrPrecondition means the operation is not allowed in the current state
	ErrPrecondition = errors.New("operation not allowed")
	// ErrLanguageLoad means the requested language model is not available
	ErrLanguageLoad = errors.New("language could not be loaded")
	// ErrEngineRuntime means the engine rejected the input or failed while recognizing
	ErrEngineRuntime = errors.New("recognition failed")
)

func preconditionf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrPrecondition, fmt.Sprintf(format, args...))
}

// classify maps an engine error of one recognition step to the session's errors
func classify(phase Phase, err error) error {
	if errors.Is(err, tesswrap.ErrLanguageUnavailable) {
		return fmt.Errorf("%w: %s: %w", ErrLanguageLoad, phase, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrEngineRuntime, phase, err)
}
