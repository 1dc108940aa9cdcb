// Package version contains the castbench version, set at build time.
package version

// Version is the castbench version. Its value is set by the build via
// -ldflags "-X github.com/castbench/castbench/pkg/version.Version=v1.2.3".
var Version string
