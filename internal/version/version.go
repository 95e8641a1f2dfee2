// Package version exposes the release recorded in the VERSION file.
package version

import (
	_ "embed"
	"strings"
)

//go:embed VERSION
var record string

// String returns the version record without its trailing newline.
func String() string {
	return strings.TrimRight(record, "\r\n")
}
