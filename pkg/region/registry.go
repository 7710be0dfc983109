package region

import (
	"errors"
	"fmt"
)

// ErrUnknownRegion is returned by FromName for unrecognised region names.
var ErrUnknownRegion = errors.New("region: unknown region")

var registry = map[string]func() *Plan{
	"EU868":   NewEU868,
	"AS923":   NewAS923_1,
	"AS923-1": NewAS923_1,
	"AS923-2": NewAS923_2,
	"AS923-3": NewAS923_3,
	"AS923-4": NewAS923_4,
}

// FromName builds a fresh channel plan for a region name, as configured.
// "AS923" is an alias for the group 1 variant.
func FromName(name string) (*Plan, error) {
	ctor, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRegion, name)
	}
	return ctor(), nil
}
