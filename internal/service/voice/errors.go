// Package voice wraps speech recognition and synthesis engines in small
// state machines. Engines are optional; when one is missing the matching
// adapter degrades to reporting that it is unsupported.
package voice

import "errors"

// ErrUnsupported is returned by engine factories that cannot run here.
var ErrUnsupported = errors.New("capability not supported")

// UnsupportedCapabilityError names the missing capability.
type UnsupportedCapabilityError struct {
	Capability string
}

func (e *UnsupportedCapabilityError) Error() string {
	return e.Capability + " is not supported in this environment"
}

func (e *UnsupportedCapabilityError) Is(target error) bool {
	return target == ErrUnsupported
}
