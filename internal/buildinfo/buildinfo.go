// Package buildinfo carries the ldflags-settable build identity,
// following the teacher's buildinfo package (BuildID/CommitHash/BuildTime
// set via -X at link time, falling back to a "canary" string).
package buildinfo

import (
	"fmt"
	"runtime"
)

// These are set at build time via -ldflags "-X ...=...".
var (
	BuildID    string
	CommitHash string
	BuildTime  string
)

// VersionString reports the running binary's version, or a "canary"
// placeholder when built without the version ldflags.
func VersionString() string {
	if BuildID == "" {
		return "canary " + runtime.Version()
	}
	return fmt.Sprintf("%s (%s; %s) %s", BuildID, CommitHash, BuildTime, runtime.Version())
}
