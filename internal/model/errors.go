package model

import (
	"errors"
	"fmt"
)

var (
	// ErrNoForward is returned by Backward without a preceding labelled training Forward.
	ErrNoForward = errors.New("model: backward without a labelled training forward")
	// ErrEmptyInput is returned by Forward for a batch with no sequences.
	ErrEmptyInput = errors.New("model: empty input")
)

// ShapeError reports a parameter snapshot that does not fit the model.
type ShapeError struct {
	Name string
	Want []int
	Got  []int
}

func (e *ShapeError) Error() string {
	if e.Got == nil {
		return fmt.Sprintf("model: parameter %s missing, want shape %v", e.Name, e.Want)
	}
	return fmt.Sprintf("model: parameter %s has shape %v, want %v", e.Name, e.Got, e.Want)
}
