package version

import (
	"fmt"
	"io"
	"runtime"
)

// Set at build time via -ldflags "-X .../internal/version.Version=...".
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// GoVersion returns the Go runtime version string.
func GoVersion() string { return runtime.Version() }

// Print writes the build information for service to w.
func Print(w io.Writer, service string) {
	fmt.Fprintf(w, "%s %s\n", service, Version)
	fmt.Fprintf(w, "  commit:     %s\n", GitCommit)
	fmt.Fprintf(w, "  built:      %s\n", BuildTime)
	fmt.Fprintf(w, "  go version: %s\n", GoVersion())
}
