package identifier

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateAccepts(t *testing.T) {
	cases := []string{
		"feature_x",
		"Feature-123",
		"a",
		"x_y-z_0",
		strings.Repeat("a", MaxLength),
	}
	for _, raw := range cases {
		got, err := Validate(raw)
		if err != nil {
			t.Errorf("Validate(%q) returned error: %v", raw, err)
			continue
		}
		if got != raw {
			t.Errorf("Validate(%q) = %q, want input unchanged", raw, got)
		}
	}
}

func TestValidateRejects(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"traversal", "../../etc/passwd"},
		{"separator", "a/b"},
		{"backslash", `a\b`},
		{"dotdot embedded", "a..b"},
		{"space", "feature x"},
		{"semicolon", "x;rm"},
		{"dollar", "x$HOME"},
		{"backtick", "x`id`"},
		{"pipe", "a|b"},
		{"too long", strings.Repeat("a", MaxLength+1)},
		{"empty", ""},
		{"dot", "."},
		{"dotdot", ".."},
		{"device upper", "NUL"},
		{"device lower", "con"},
		{"device com", "COM3"},
		{"redundant scope", "run-feature"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Validate(tc.raw); !errors.Is(err, ErrInvalid) {
				t.Errorf("Validate(%q) = %v, want ErrInvalid", tc.raw, err)
			}
		})
	}
}

func TestValidateStrippedSingleOccurrence(t *testing.T) {
	cases := []struct {
		raw, prefix, want string
	}{
		{"spec_feature", "spec_", "feature"},
		{"spec_spec_feature", "spec_", "spec_feature"},
		{"feature", "spec_", "feature"},
		{"feature_spec_x", "spec_", "feature_spec_x"},
		{"feature", "", "feature"},
	}
	for _, tc := range cases {
		got, err := ValidateStripped(tc.raw, tc.prefix)
		if err != nil {
			t.Errorf("ValidateStripped(%q, %q) returned error: %v", tc.raw, tc.prefix, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ValidateStripped(%q, %q) = %q, want %q", tc.raw, tc.prefix, got, tc.want)
		}
	}
}

func TestValidateStrippedEmptyRemainder(t *testing.T) {
	if _, err := ValidateStripped("spec_", "spec_"); !errors.Is(err, ErrInvalid) {
		t.Errorf("stripping the whole name should fail, got %v", err)
	}
}
