// Package version provides build version information for Caplet,
// alongside the wire-format versions a running binary speaks: the
// sandbox ABI plugins are compiled against and the checkpoint schema
// workflow persistence writes. Both change independently of the
// binary's own semantic version, so front-ends that load plugins or
// resume checkpoints need them to decide compatibility before either
// operation fails deep inside the isolation host or the workflow
// engine.
package version

import (
	"runtime"
	"strconv"

	"github.com/caplet-dev/caplet/internal/isolation"
	"github.com/caplet-dev/caplet/internal/workflow"
)

var (
	// Version is the semantic version (set by build flags)
	Version = "dev"
	// Commit is the git commit hash (set by build flags)
	Commit = "unknown"
	// BuildDate is the build date (set by build flags)
	BuildDate = "unknown"
)

// Info contains version and build information
type Info struct {
	Version   string
	Commit    string
	BuildDate string
	GoVersion string
	Platform  string

	// SandboxABI is the byte-buffer ABI contract compiled plugins must
	// target; CheckpointSchema is the persisted checkpoint layout.
	SandboxABI       int
	CheckpointSchema int
}

// Get returns the version information
func Get() Info {
	return Info{
		Version:          Version,
		Commit:           Commit,
		BuildDate:        BuildDate,
		GoVersion:        runtime.Version(),
		Platform:         runtime.GOOS + "/" + runtime.GOARCH,
		SandboxABI:       isolation.ABIVersion,
		CheckpointSchema: workflow.CheckpointSchemaVersion,
	}
}

// String returns a formatted version string
func (i Info) String() string {
	return i.Version
}

// Full returns a detailed version string with all build information
func (i Info) Full() string {
	return i.Version + " (" + i.Commit + ") built " + i.BuildDate + " " + i.GoVersion + " " + i.Platform +
		" abi/" + strconv.Itoa(i.SandboxABI) + " checkpoint/" + strconv.Itoa(i.CheckpointSchema)
}
