package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrElementNotFound signals that a page element id did not resolve.
	ErrElementNotFound = errors.New("element not found")
	// ErrOptionNotFound signals that a select control has no option with the requested text.
	ErrOptionNotFound = errors.New("option not found")
	// ErrNoSVGElement signals that extracted markup contains no <svg> element.
	ErrNoSVGElement = errors.New("markup contains no svg element")
	// ErrGateClosed signals that the admission gate no longer admits sessions.
	ErrGateClosed = errors.New("admission gate closed")
	// ErrSessionClosed signals use of a session after teardown.
	ErrSessionClosed = errors.New("browser session closed")
	// ErrRenderIncomplete signals that the drawing never settled within the wait bound.
	ErrRenderIncomplete = errors.New("render did not complete")
)

// Stage names one step of the per-request pipeline.
type Stage string

const (
	StageAdmit     Stage = "admit"
	StageBootstrap Stage = "bootstrap"
	StageConfigure Stage = "configure"
	StageRender    Stage = "render"
	StageExtract   Stage = "extract"
	StageTeardown  Stage = "teardown"
)

// StageError is the single failure type returned by the render pipeline.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// StageOf returns the stage of the first StageError in err's chain.
func StageOf(err error) (Stage, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage, true
	}
	return "", false
}
