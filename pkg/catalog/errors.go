package catalog

import (
	"errors"
	"fmt"
)

// ErrUnknownSpacecraft is wrapped by the ConfigurationError returned when an
// identifier matches no catalog entry.
var ErrUnknownSpacecraft = errors.New("unknown spacecraft")

// ConfigurationError reports a catalog problem that must stop the run before
// any network activity: an unknown spacecraft, an invalid overlay or a row
// that cannot be turned into a fetch specification.
type ConfigurationError struct {
	Spacecraft string
	Source     string
	Reason     string
	Wrapped    error
}

func (e *ConfigurationError) Error() string {
	msg := "configuration error"
	if e.Source != "" {
		msg += " in " + e.Source
	}
	if e.Spacecraft != "" {
		msg += fmt.Sprintf(" for spacecraft %q", e.Spacecraft)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Wrapped != nil {
		msg += ": " + e.Wrapped.Error()
	}
	return msg
}

func (e *ConfigurationError) Unwrap() error {
	return e.Wrapped
}

// IsConfigurationError reports whether err is or wraps a ConfigurationError.
func IsConfigurationError(err error) bool {
	var target *ConfigurationError
	return errors.As(err, &target)
}
