// Package build carries version information stamped at link time.
package build

// Version is the release version, overridden via ldflags.
var Version = "0.0.0"
