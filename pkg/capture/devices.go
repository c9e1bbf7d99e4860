package capture

import (
	"fmt"
	"strings"
)

// UniqueNames suffixes " (2)", " (3)", ... onto repeated display names so
// every device can be addressed by name. The slice is modified in place.
func UniqueNames(devs []DeviceDescriptor) []DeviceDescriptor {
	taken := make(map[string]bool, len(devs))
	seen := make(map[string]int, len(devs))
	for i := range devs {
		base := devs[i].Name
		seen[base]++
		name := base
		for n := seen[base]; taken[name]; n++ {
			name = fmt.Sprintf("%s (%d)", base, n)
			seen[base] = n
		}
		taken[name] = true
		devs[i].Name = name
	}
	return devs
}

// Match records how ResolveDevice found its answer.
type Match int

const (
	MatchNone Match = iota
	MatchExact
	MatchSubstring
	MatchPath
	MatchFirstAvailable
)

func (m Match) String() string {
	switch m {
	case MatchExact:
		return "exact"
	case MatchSubstring:
		return "substring"
	case MatchPath:
		return "path"
	case MatchFirstAvailable:
		return "first-available"
	}
	return "none"
}

// ResolveDevice picks a device for a loosely specified name. It tries an
// exact name, then a case-insensitive substring in enumeration order, then
// nameOrPath as a literal device path, and finally the first enumerated
// device. MatchFirstAvailable may open a camera the caller did not mean;
// callers should log it.
func ResolveDevice(devs []DeviceDescriptor, nameOrPath string, pathExists func(string) bool) (DeviceDescriptor, Match, error) {
	for _, d := range devs {
		if d.Name == nameOrPath {
			return d, MatchExact, nil
		}
	}

	if nameOrPath != "" {
		needle := strings.ToLower(nameOrPath)
		for _, d := range devs {
			if strings.Contains(strings.ToLower(d.Name), needle) {
				return d, MatchSubstring, nil
			}
		}

		for _, d := range devs {
			if d.ID == nameOrPath {
				return d, MatchPath, nil
			}
		}
		if pathExists != nil && pathExists(nameOrPath) {
			return DeviceDescriptor{ID: nameOrPath, Name: nameOrPath}, MatchPath, nil
		}
	}

	if len(devs) > 0 {
		return devs[0], MatchFirstAvailable, nil
	}
	return DeviceDescriptor{}, MatchNone, fmt.Errorf("%w: %q", ErrDeviceNotFound, nameOrPath)
}
