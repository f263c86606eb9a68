package automation

import "errors"

// Domain errors for the automation package.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, automation.ErrUnknownAction) {
//	    // intent built by hand with a bad action
//	}
var (
	// ErrUnknownAction is returned for an intent whose action the engine
	// cannot execute.
	ErrUnknownAction = errors.New("automation: unknown action")
)
