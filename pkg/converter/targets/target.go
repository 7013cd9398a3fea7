// Package targets provides the MakeCode platform emitters
package targets

import (
	"errors"
	"fmt"
	"strings"

	"github.com/james-see/midi2makecode/pkg/converter"
)

// ErrUnknownTarget is returned for target names that have no emitter
var ErrUnknownTarget = errors.New("unknown target")

// ParseID parses a target name, accepting the aliases used by editor query strings
func ParseID(name string) (converter.TargetID, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "microbit", "micro:bit", "pxt-microbit":
		return converter.TargetMicrobit, nil
	case "adafruit", "cpx", "pxt-adafruit":
		return converter.TargetAdafruit, nil
	case "arcade", "mixer", "pxt-arcade":
		return converter.TargetArcade, nil
	case "json":
		return converter.TargetJSON, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownTarget, name)
	}
}

// New returns the emitter for a target
func New(id converter.TargetID) (converter.Target, error) {
	switch id {
	case converter.TargetMicrobit:
		return NewMicrobit(), nil
	case converter.TargetAdafruit:
		return NewAdafruit(), nil
	case converter.TargetArcade:
		return NewArcade(), nil
	case converter.TargetJSON:
		return NewJSON(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTarget, id)
	}
}

// Lookup parses a target name and returns its emitter
func Lookup(name string) (converter.Target, error) {
	id, err := ParseID(name)
	if err != nil {
		return nil, err
	}
	return New(id)
}

// All returns every available target in menu order
func All() []converter.Target {
	return []converter.Target{
		NewMicrobit(),
		NewAdafruit(),
		NewArcade(),
		NewJSON(),
	}
}
