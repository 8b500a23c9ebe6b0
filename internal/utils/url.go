package utils

import "strings"

// NormalizeEndpointURL joins an upstream base URL and a route path with
// exactly one slash between them. The scheme separator is left alone.
func NormalizeEndpointURL(base, path string) string {
	if path == "" {
		return base
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}
