// Package identifier validates user-supplied run names before they are used
// to build filesystem paths or passed to subprocesses.
package identifier

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// MaxLength is the longest accepted run name.
const MaxLength = 50

// ErrInvalid is wrapped by every rejection so callers can branch on the kind.
var ErrInvalid = errors.New("invalid run name")

var allowed = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Shell metacharacters are rejected independently of the allow-list so the
// check survives if the allow-list is ever loosened.
const metacharacters = "$`;|&<>(){}[]*?!~#'\"\\ \t\n"

// Windows device names are reserved even on other platforms so a run created
// on one machine stays portable.
var reservedNames = map[string]struct{}{
	".": {}, "..": {},
	"CON": {}, "PRN": {}, "AUX": {}, "NUL": {},
	"COM1": {}, "COM2": {}, "COM3": {}, "COM4": {}, "COM5": {},
	"COM6": {}, "COM7": {}, "COM8": {}, "COM9": {},
	"LPT1": {}, "LPT2": {}, "LPT3": {}, "LPT4": {}, "LPT5": {},
	"LPT6": {}, "LPT7": {}, "LPT8": {}, "LPT9": {},
}

// scopePrefix marks names that redundantly encode the runs/ directory layout.
const scopePrefix = "run-"

// Validate checks a raw run name and returns it unchanged when acceptable.
func Validate(raw string) (string, error) {
	return ValidateStripped(raw, "")
}

// ValidateStripped removes a single leading occurrence of prefix, then
// validates the remainder. Only the first occurrence is removed: stripping
// "spec_" from "spec_spec_x" yields "spec_x". A replace-all here would corrupt
// names that legitimately contain the prefix substring elsewhere.
func ValidateStripped(raw, prefix string) (string, error) {
	name := raw
	if prefix != "" && strings.HasPrefix(name, prefix) {
		name = name[len(prefix):]
	}

	if name == "" {
		return "", fmt.Errorf("%w: empty after prefix strip", ErrInvalid)
	}
	if strings.Contains(name, "..") || strings.ContainsAny(name, "/\\") {
		return "", fmt.Errorf("%w: %q contains a path traversal or separator sequence", ErrInvalid, raw)
	}
	if !allowed.MatchString(name) {
		return "", fmt.Errorf("%w: %q contains characters outside [A-Za-z0-9_-]", ErrInvalid, raw)
	}
	if len(name) > MaxLength {
		return "", fmt.Errorf("%w: %q exceeds %d characters", ErrInvalid, raw, MaxLength)
	}
	if strings.ContainsAny(name, metacharacters) {
		return "", fmt.Errorf("%w: %q contains a shell metacharacter", ErrInvalid, raw)
	}
	if strings.HasPrefix(name, scopePrefix) {
		return "", fmt.Errorf("%w: %q starts with the reserved %q prefix", ErrInvalid, raw, scopePrefix)
	}
	if _, ok := reservedNames[strings.ToUpper(name)]; ok {
		return "", fmt.Errorf("%w: %q is a reserved name", ErrInvalid, raw)
	}

	return name, nil
}
