package detection

import (
	"errors"
	"fmt"
)

// Sentinel errors for detection operations.
var (
	ErrModelNotFound = errors.New("detection: model file not found")
	ErrModelLoad     = errors.New("detection: failed to load model")
	ErrEmptyFrame    = errors.New("detection: empty frame")
	ErrShape         = errors.New("detection: unexpected output shape")
)

// DecodeError describes a single malformed row in the model output.
// Decoding skips such rows; the error is only surfaced for logging.
type DecodeError struct {
	Row    int
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("detection: row %d: %s", e.Row, e.Reason)
}
