// ABOUTME: Sentinel errors shared by the model resolution and provider adapters.

package model

import "errors"

var (
	// ErrNoModel is returned when no model string is given and
	// DEFAULT_MODEL_STRING is unset.
	ErrNoModel = errors.New("no model string configured")

	// ErrMissingAPIKey is returned when the resolved provider has no API key
	// in the environment.
	ErrMissingAPIKey = errors.New("missing provider API key")

	// ErrUnknownProvider is returned for an unrecognized model string prefix.
	ErrUnknownProvider = errors.New("unknown model provider")
)
