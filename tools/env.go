// Package tools holds small helpers shared across commands.
package tools

import "os"

// GetenvDefault returns the value of the environment variable key, or def
// when the variable is unset or empty.
func GetenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
