// Package version holds build metadata injected with -ldflags, for example
//
//	-X github.com/dl-alexandre/gsyncfs/pkg/version.Version=v0.3.0
//
// Binaries built with plain `go install` fall back to the module version and
// VCS revision recorded by the toolchain.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"

	"github.com/dl-alexandre/gsyncfs/internal/utils"
)

var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// Info describes the running binary and the formats it reads and writes
type Info struct {
	Version       string `json:"version"`
	GitCommit     string `json:"gitCommit"`
	BuildTime     string `json:"buildTime"`
	GoVersion     string `json:"goVersion"`
	Platform      string `json:"platform"`
	OutputSchema  string `json:"outputSchema"`
	DriveAPI      string `json:"driveApi"`
	ModifiedBuild bool   `json:"modifiedBuild,omitempty"`
}

// Get returns the build metadata of the running binary
func Get() *Info {
	info := &Info{
		Version:      Version,
		GitCommit:    GitCommit,
		BuildTime:    BuildTime,
		GoVersion:    runtime.Version(),
		Platform:     runtime.GOOS + "/" + runtime.GOARCH,
		OutputSchema: utils.SchemaVersion,
		DriveAPI:     "v2",
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		info.fill(bi)
	}
	return info
}

// fill completes fields the linker flags left at their defaults
func (i *Info) fill(bi *debug.BuildInfo) {
	if i.Version == "dev" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		i.Version = bi.Main.Version
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if i.GitCommit == "unknown" && s.Value != "" {
				i.GitCommit = s.Value
				if len(i.GitCommit) > 12 {
					i.GitCommit = i.GitCommit[:12]
				}
			}
		case "vcs.time":
			if i.BuildTime == "unknown" && s.Value != "" {
				i.BuildTime = s.Value
			}
		case "vcs.modified":
			i.ModifiedBuild = s.Value == "true"
		}
	}
}

func (i *Info) String() string {
	commit := i.GitCommit
	if i.ModifiedBuild {
		commit += "+dirty"
	}
	return fmt.Sprintf("gsyncfs %s (%s) built %s, %s %s, drive %s, output schema %s",
		i.Version, commit, i.BuildTime, i.GoVersion, i.Platform, i.DriveAPI, i.OutputSchema)
}
