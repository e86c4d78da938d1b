package vectordb

import (
	"errors"
	"fmt"
)

// ErrRequestFailed is returned when the vector store cannot be reached, does
// not answer 200, or answers with a body that is not a valid envelope.
var ErrRequestFailed = errors.New("request vector db failed")

// ErrInvalidInput is returned when a request fails local validation.
var ErrInvalidInput = errors.New("invalid vector db input")

// Status codes carried in the response envelope.
const (
	StatusSuccess         = 2000
	StatusInternalError   = 3140
	StatusDataError       = 3160
	StatusDataDuplication = 3161
)

// Error is a well-formed response with a non-success code.
type Error struct {
	Code   int
	Detail string
}

func (e *Error) Error() string {
	return fmt.Sprintf("vector db error %d: %s", e.Code, e.Detail)
}

// StatusText returns a short name for a status code.
func StatusText(code int) string {
	switch code {
	case StatusSuccess:
		return "success"
	case StatusInternalError:
		return "internal error"
	case StatusDataError:
		return "data error"
	case StatusDataDuplication:
		return "data duplication"
	default:
		return "unknown"
	}
}
