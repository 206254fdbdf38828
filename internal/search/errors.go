package search

import (
	"errors"
	"strings"
)

var (
	// ErrValidation is matched by every [*ValidationError].
	ErrValidation = errors.New("search: invalid criteria")

	// ErrService marks a request whose product search call failed.
	ErrService = errors.New("search: service unavailable")

	// ErrEmptyResult marks a request whose product search returned nothing
	// and whose results were replaced by synthesized ones.
	ErrEmptyResult = errors.New("search: empty result")

	// ErrClosed is returned by Submit after Close.
	ErrClosed = errors.New("search: orchestrator closed")
)

// Validation reasons.
const (
	ReasonEmptyQuery = "query is empty"
	ReasonNoSources  = "no sources selected"
)

// ValidationError lists every reason the criteria cannot be searched.
// errors.Is(err, ErrValidation) reports true for it.
type ValidationError struct {
	Reasons []string
}

func (e *ValidationError) Error() string {
	return "search: invalid criteria: " + strings.Join(e.Reasons, "; ")
}

// Is makes ValidationError match [ErrValidation].
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}
