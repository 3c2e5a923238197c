package utils

import (
	"fmt"
	"strings"
)

// Values converts a typed string enum into ent enum values.
func Values[T ~string](vs []T) []string {
	out := make([]string, len(vs))
	for i, v := range vs {
		out[i] = string(v)
	}
	return out
}

// NotBlank rejects strings that are empty after trimming.
func NotBlank(name string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s must not be blank", name)
		}
		return nil
	}
}
