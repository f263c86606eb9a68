package device

import (
	"fmt"
	"sort"
	"strings"
)

// presets are the colour names built into the firmware.
var presets = map[string]RGB{
	"red":    {R: 255, G: 0, B: 0},
	"green":  {R: 0, G: 255, B: 0},
	"blue":   {R: 0, G: 0, B: 255},
	"white":  {R: 255, G: 255, B: 255},
	"yellow": {R: 255, G: 255, B: 0},
	"cyan":   {R: 0, G: 255, B: 255},
	"purple": {R: 128, G: 0, B: 128},
}

// LookupPreset returns the colour for a preset name, ignoring case.
//
// Returns:
//   - string: The canonical (lower-case) preset name
//   - RGB: The colour the firmware shows for it
//   - error: ErrUnknownPreset if the firmware has no such preset
func LookupPreset(name string) (string, RGB, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	rgb, ok := presets[key]
	if !ok {
		return "", RGB{}, fmt.Errorf("%w: %q", ErrUnknownPreset, name)
	}
	return key, rgb, nil
}

// Presets returns the preset names in alphabetical order.
func Presets() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
