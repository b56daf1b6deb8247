/*
Copyright © 2026 3 Leaps <info@3leaps.net>
*/
package exitcode

import (
	"testing"
)

func TestString(t *testing.T) {
	tests := []struct {
		code     int
		expected string
	}{
		{Success, "Success"},
		{GeneralError, "General error"},
		{ConfigError, "Configuration error"},
		{ValidationError, "Validation error"},
		{FileSystemError, "File system error"},
		{NetworkError, "Network error"},
		{Canceled, "Canceled"},
		{999, "Unknown error"},
	}

	for _, test := range tests {
		if result := String(test.code); result != test.expected {
			t.Errorf("String(%d) = %v, expected %v", test.code, result, test.expected)
		}
	}
}

func TestCodesAreDistinct(t *testing.T) {
	seen := make(map[int]bool)
	for _, code := range []int{Success, GeneralError, ConfigError, ValidationError, FileSystemError, NetworkError, Canceled} {
		if seen[code] {
			t.Errorf("exit code %d defined twice", code)
		}
		seen[code] = true
	}
}
