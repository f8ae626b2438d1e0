// Package env abstracts environment variable access so that code reading
// the environment can be tested with injected values.
package env

import "os"

// Reader reads environment variables.
type Reader interface {
	// Getenv returns the value of the named environment variable,
	// or the empty string if it is not set.
	Getenv(key string) string
}

// OSReader reads environment variables from the process environment.
type OSReader struct{}

// Getenv returns the value of the named environment variable.
func (*OSReader) Getenv(key string) string {
	return os.Getenv(key)
}

// MapReader reads environment variables from a fixed map. Intended for tests.
type MapReader struct {
	Values map[string]string
}

// Getenv returns the mapped value for key, or the empty string.
func (r *MapReader) Getenv(key string) string {
	return r.Values[key]
}
